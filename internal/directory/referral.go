package directory

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Referral is a structured intake request for a human psychologist.
type Referral struct {
	UserName              string `json:"userName"`
	Location              string `json:"location"`
	Concern               string `json:"concern"`
	SpecialistType        string `json:"specialistType"`
	PreferredPsychologist string `json:"preferredPsychologist"`
	AppointmentDate       string `json:"appointmentDate"`
	AppointmentTime       string `json:"appointmentTime"`
}

// Validate reports every empty field.
func (r Referral) Validate() error {
	fields := []struct{ name, value string }{
		{"userName", r.UserName},
		{"location", r.Location},
		{"concern", r.Concern},
		{"specialistType", r.SpecialistType},
		{"preferredPsychologist", r.PreferredPsychologist},
		{"appointmentDate", r.AppointmentDate},
		{"appointmentTime", r.AppointmentTime},
	}
	var errs []error
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("directory: referral: %s must not be empty", f.name))
		}
	}
	return errors.Join(errs...)
}

// Confirmation acknowledges a recorded referral.
type Confirmation struct {
	ID         string    `json:"id"`
	Code       string    `json:"confirmationCode"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Record is a persisted referral with its confirmation.
type Record struct {
	Referral
	Confirmation
}

// ReferralStore persists referrals. Implementations must be safe for
// concurrent use.
type ReferralStore interface {
	// Record validates and stores r.
	Record(ctx context.Context, r Referral) (Confirmation, error)

	// List returns stored referrals, oldest first.
	List(ctx context.Context) ([]Record, error)
}

// NewConfirmationCode returns a code of the form MB-NNNN with NNNN in
// [1000, 9999]. Codes are for humans reading them back over the phone and are
// not unique; Confirmation.ID is.
func NewConfirmationCode() string {
	return fmt.Sprintf("MB-%d", 1000+rand.IntN(9000))
}

func newConfirmation(now time.Time) Confirmation {
	return Confirmation{
		ID:         uuid.NewString(),
		Code:       NewConfirmationCode(),
		RecordedAt: now.UTC(),
	}
}

// MemStore is an in-process [ReferralStore].
type MemStore struct {
	mu      sync.Mutex
	records []Record
	now     func() time.Time
}

var _ ReferralStore = (*MemStore)(nil)

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{now: time.Now}
}

// Record implements [ReferralStore].
func (s *MemStore) Record(_ context.Context, r Referral) (Confirmation, error) {
	if err := r.Validate(); err != nil {
		return Confirmation{}, err
	}
	c := newConfirmation(s.now())

	s.mu.Lock()
	s.records = append(s.records, Record{Referral: r, Confirmation: c})
	s.mu.Unlock()
	return c, nil
}

// List implements [ReferralStore].
func (s *MemStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.records), nil
}
