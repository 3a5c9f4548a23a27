package directory

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// honorifics are dropped before comparing names.
var honorifics = map[string]struct{}{
	"dr": {}, "doctor": {}, "mr": {}, "mrs": {}, "ms": {}, "miss": {}, "prof": {}, "professor": {},
}

// nameMatcher matches a spoken name against known specialist names. Double
// Metaphone codes select phonetic candidates, Jaro-Winkler ranks them. When
// nothing sounds alike, a stricter pure Jaro-Winkler pass is tried.
type nameMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newNameMatcher() *nameMatcher {
	return &nameMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// match returns the best matching name from names.
func (m *nameMatcher) match(spoken string, names []string) (string, bool) {
	spokenTokens := nameTokens(spoken)
	if len(spokenTokens) == 0 {
		return "", false
	}
	spokenFull := strings.Join(spokenTokens, " ")
	spokenCodes := codesForTokens(spokenTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, name := range names {
		tokens := nameTokens(name)
		if len(tokens) == 0 {
			continue
		}
		score := bestJWScore(spokenTokens, tokens, spokenFull, strings.Join(tokens, " "))

		if codesOverlap(spokenCodes, codesForTokens(tokens)) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = name, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = name, score
		}
	}
	return best, best != ""
}

// nameTokens lowercases s, strips punctuation and drops honorifics.
func nameTokens(s string) []string {
	var out []string
	for f := range strings.FieldsSeq(strings.ToLower(s)) {
		f = strings.Trim(f, ".,;:!?'\"")
		if f == "" {
			continue
		}
		if _, ok := honorifics[f]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings, and every token pair.
func bestJWScore(spokenTokens, nameTokens []string, spokenFull, nameFull string) float64 {
	score := matchr.JaroWinkler(spokenFull, nameFull, false)

	if len(spokenTokens) > 1 || len(nameTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(spokenTokens, ""), strings.Join(nameTokens, ""), false); s > score {
			score = s
		}
	}

	for _, a := range spokenTokens {
		for _, b := range nameTokens {
			if s := matchr.JaroWinkler(a, b, false); s > score {
				score = s
			}
		}
	}
	return score
}
