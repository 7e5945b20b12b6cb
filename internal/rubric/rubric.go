// Package rubric describes the scripted questions a call is graded against:
// their canonical phrasing, loose-match synonyms and the named evidence
// heuristic, if any, that decides them instead of phrasing.
//
// A *Rubric is read-only after construction and safe for concurrent use.
package rubric

import (
	"errors"
	"fmt"
	"strings"

	"call-grader-go/internal/transcript"
)

// Heuristic names an evidence detector from the fixed catalog.
type Heuristic string

const (
	HeuristicNone Heuristic = ""
	// SpelledToken: the caller spells a word letter by letter (B-R-O-M-P-T-O-N).
	SpelledToken Heuristic = "spelled_token"
	// DigitRun: 7 to 12 digits with optional separators anywhere in the call.
	DigitRun Heuristic = "digit_run"
	// NumberLocality: the caller says a house number next to a city, state or street word.
	NumberLocality Heuristic = "number_locality"
	// AddressVerification is SpelledToken or NumberLocality.
	AddressVerification Heuristic = "address_verification"
	// NotDerivable marks an item that transcript text cannot decide; it is
	// always graded Not Asked.
	NotDerivable Heuristic = "not_derivable"
)

// ErrUnknownHeuristic is wrapped by errors reporting a heuristic name that is
// not in the catalog.
var ErrUnknownHeuristic = errors.New("rubric: unknown evidence heuristic")

// Catalog lists every supported heuristic.
func Catalog() []Heuristic {
	return []Heuristic{SpelledToken, DigitRun, NumberLocality, AddressVerification, NotDerivable}
}

// ParseHeuristic resolves a configured heuristic name. Matching ignores case
// and treats '-' and ' ' like '_'.
func ParseHeuristic(name string) (Heuristic, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer("-", "_", " ", "_").Replace(n)
	if n == "" || n == "none" {
		return HeuristicNone, nil
	}
	for _, h := range Catalog() {
		if string(h) == n {
			return h, nil
		}
	}
	return HeuristicNone, fmt.Errorf("%w: %q", ErrUnknownHeuristic, name)
}

// Item is one scripted question.
type Item struct {
	ID            string    `json:"id"`
	CanonicalText string    `json:"canonical_text"`
	Synonyms      []string  `json:"synonyms,omitempty"`
	Evidence      Heuristic `json:"evidence_rule,omitempty"`
}

// Vocabulary holds the word lists used by the address heuristics.
type Vocabulary struct {
	CityState   []string `json:"city_state" yaml:"city_state"`
	StreetHints []string `json:"street_hints" yaml:"street_hints"`
}

// Rubric is an ordered set of items plus the vocabulary and speaker roles
// the detectors need.
type Rubric struct {
	items []Item
	index map[string]int
	vocab Vocabulary
	roles transcript.Roles
}

// New builds a rubric. Item IDs must be non-empty and unique. An empty role
// list is taken from transcript.DefaultRoles.
func New(items []Item, vocab Vocabulary, roles transcript.Roles) (*Rubric, error) {
	r := &Rubric{
		items: make([]Item, 0, len(items)),
		index: make(map[string]int, len(items)),
		vocab: Vocabulary{
			CityState:   append([]string(nil), vocab.CityState...),
			StreetHints: append([]string(nil), vocab.StreetHints...),
		},
		roles: roles.Fill(transcript.DefaultRoles()),
	}
	for _, it := range items {
		id := strings.TrimSpace(it.ID)
		if id == "" {
			return nil, errors.New("rubric: item with empty id")
		}
		if _, dup := r.index[id]; dup {
			return nil, fmt.Errorf("rubric: duplicate item id %q", id)
		}
		it.ID = id
		it.Synonyms = append([]string(nil), it.Synonyms...)
		r.index[id] = len(r.items)
		r.items = append(r.items, it)
	}
	return r, nil
}

// Items returns the items in configuration order.
func (r *Rubric) Items() []Item {
	out := make([]Item, len(r.items))
	for i, it := range r.items {
		it.Synonyms = append([]string(nil), it.Synonyms...)
		out[i] = it
	}
	return out
}

// Item looks an item up by ID.
func (r *Rubric) Item(id string) (Item, bool) {
	i, ok := r.index[id]
	if !ok {
		return Item{}, false
	}
	return r.items[i], true
}

func (r *Rubric) Len() int { return len(r.items) }

func (r *Rubric) Vocabulary() Vocabulary { return r.vocab }

func (r *Rubric) Roles() transcript.Roles { return r.roles }

// WithRoles returns a copy of r that uses roles for speaker attribution. An
// empty list in roles keeps r's list for that role.
func (r *Rubric) WithRoles(roles transcript.Roles) *Rubric {
	cp, _ := New(r.items, r.vocab, roles.Fill(r.roles))
	return cp
}
