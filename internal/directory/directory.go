// Package directory holds the specialist directory the assistant consults
// when a client asks for a human psychologist: profiles, bookable slots, and
// the referral requests recorded against them.
//
// A [Directory] is immutable once built. The default directory is embedded in
// the binary and can be replaced by a YAML file with the same layout.
package directory

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed fixture.yaml
var defaultFixture []byte

// Slot is one bookable appointment slot.
type Slot struct {
	ID   string `yaml:"id"   json:"id"`
	Date string `yaml:"date" json:"date"`
	Time string `yaml:"time" json:"time"`
}

// Profile describes a specialist.
type Profile struct {
	Name      string  `yaml:"name"      json:"name"`
	Title     string  `yaml:"title"     json:"title"`
	Specialty string  `yaml:"specialty" json:"specialty"`
	Bio       string  `yaml:"bio"       json:"bio"`
	Avatar    string  `yaml:"avatar"    json:"avatar"`
	Rating    float64 `yaml:"rating"    json:"rating"`
}

// Specialist is a profile together with its slots, the unit a directory file
// is made of.
type Specialist struct {
	Profile `yaml:",inline"`
	Slots   []Slot `yaml:"slots"`
}

// Availability is the answer to an availability query: slots and profiles,
// both keyed by specialist name.
type Availability struct {
	Availability map[string][]Slot  `json:"availability"`
	Profiles     map[string]Profile `json:"profiles"`
}

type file struct {
	Specialists []Specialist `yaml:"specialists"`
}

// Directory is a read-only set of specialists. All methods are safe for
// concurrent use.
type Directory struct {
	specialists []Specialist
	byName      map[string]int
	matcher     *nameMatcher
}

// New builds a directory from specialists. Names must be non-empty and
// unique (case-insensitively), and slot IDs unique across the directory.
func New(specialists []Specialist) (*Directory, error) {
	var errs []error
	d := &Directory{
		specialists: make([]Specialist, 0, len(specialists)),
		byName:      make(map[string]int, len(specialists)),
		matcher:     newNameMatcher(),
	}
	slotIDs := make(map[string]string)
	for i, s := range specialists {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("directory: specialists[%d]: name must not be empty", i))
			continue
		}
		key := strings.ToLower(name)
		if _, dup := d.byName[key]; dup {
			errs = append(errs, fmt.Errorf("directory: duplicate specialist %q", name))
			continue
		}
		for j, slot := range s.Slots {
			if slot.ID == "" {
				errs = append(errs, fmt.Errorf("directory: %s: slots[%d]: id must not be empty", name, j))
				continue
			}
			if owner, dup := slotIDs[slot.ID]; dup {
				errs = append(errs, fmt.Errorf("directory: slot id %q used by both %q and %q", slot.ID, owner, name))
				continue
			}
			slotIDs[slot.ID] = name
		}
		s.Name = name
		s.Slots = append([]Slot(nil), s.Slots...)
		d.byName[key] = len(d.specialists)
		d.specialists = append(d.specialists, s)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return d, nil
}

// Default returns the built-in directory.
func Default() *Directory {
	d, err := Parse(bytes.NewReader(defaultFixture))
	if err != nil {
		panic(fmt.Sprintf("directory: embedded fixture: %v", err))
	}
	return d
}

// Load reads a directory file from path.
func Load(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("directory: open %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes a YAML directory document.
func Parse(r io.Reader) (*Directory, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc file
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("directory: decode: %w", err)
	}
	return New(doc.Specialists)
}

// Len returns the number of specialists.
func (d *Directory) Len() int { return len(d.specialists) }

// Names returns specialist names in directory order.
func (d *Directory) Names() []string {
	names := make([]string, len(d.specialists))
	for i, s := range d.specialists {
		names[i] = s.Name
	}
	return names
}

// Profiles returns every profile in directory order.
func (d *Directory) Profiles() []Profile {
	out := make([]Profile, len(d.specialists))
	for i, s := range d.specialists {
		out[i] = s.Profile
	}
	return out
}

// Availability returns a fresh copy of all slots and profiles.
func (d *Directory) Availability() Availability {
	a := Availability{
		Availability: make(map[string][]Slot, len(d.specialists)),
		Profiles:     make(map[string]Profile, len(d.specialists)),
	}
	for _, s := range d.specialists {
		a.Availability[s.Name] = append([]Slot{}, s.Slots...)
		a.Profiles[s.Name] = s.Profile
	}
	return a
}

// Slots returns the slots of the named specialist (exact name, any case).
func (d *Directory) Slots(name string) ([]Slot, bool) {
	i, ok := d.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return append([]Slot{}, d.specialists[i].Slots...), true
}

// Lookup finds a profile by name. An exact, case-insensitive match wins;
// otherwise honorifics are ignored and the closest spoken-name match above
// the matcher's thresholds is returned. Names arrive from speech
// recognition, so "doctor sara chen" finds "Dr. Sarah Chen".
func (d *Directory) Lookup(name string) (Profile, bool) {
	if i, ok := d.byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return d.specialists[i].Profile, true
	}
	best, ok := d.matcher.match(name, d.Names())
	if !ok {
		return Profile{}, false
	}
	return d.specialists[d.byName[strings.ToLower(best)]].Profile, true
}
