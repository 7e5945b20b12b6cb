package dataset

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"

	"call-grader-go/internal/rubric"
)

// ResolveThreshold is the minimum Jaro-Winkler similarity for a loosely
// spelled nature code to resolve.
const ResolveThreshold = 0.85

// Catalog holds protocol questions keyed by nature code. It is read-only
// after loading.
type Catalog struct {
	questions []Question
	byCode    map[string][]Question
	codes     []string
}

func newCatalog(qs []Question) *Catalog {
	c := &Catalog{questions: qs, byCode: map[string][]Question{}}
	for _, q := range qs {
		if q.IsCaseEntry() {
			continue
		}
		if _, ok := c.byCode[q.NatureCode]; !ok {
			c.codes = append(c.codes, q.NatureCode)
		}
		c.byCode[q.NatureCode] = append(c.byCode[q.NatureCode], q)
	}
	sort.Strings(c.codes)
	return c
}

// Len is the number of questions.
func (c *Catalog) Len() int { return len(c.questions) }

// CaseEntry returns the questions asked on every call.
func (c *Catalog) CaseEntry() []Question {
	var out []Question
	for _, q := range c.questions {
		if q.IsCaseEntry() {
			out = append(out, q)
		}
	}
	return out
}

// ForNatureCode returns the questions of one nature code, matched exactly.
func (c *Catalog) ForNatureCode(name string) []Question {
	if name == CaseEntry {
		return c.CaseEntry()
	}
	return append([]Question(nil), c.byCode[name]...)
}

// NatureCodes lists the nature codes other than Case Entry, sorted.
func (c *Catalog) NatureCodes() []string {
	return append([]string(nil), c.codes...)
}

// Resolve maps a caller supplied nature code to a known one: exact match
// first, then case-insensitive, then the closest Jaro-Winkler match at or
// above ResolveThreshold.
func (c *Catalog) Resolve(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}
	if strings.EqualFold(name, CaseEntry) {
		return CaseEntry, true
	}
	if _, ok := c.byCode[name]; ok {
		return name, true
	}
	lower := strings.ToLower(name)
	best, score := "", 0.0
	for _, code := range c.codes {
		cl := strings.ToLower(code)
		if cl == lower {
			return code, true
		}
		if s := matchr.JaroWinkler(lower, cl, false); s > score {
			best, score = code, s
		}
	}
	if score >= ResolveThreshold {
		return best, true
	}
	return "", false
}

// Labels returns Case Entry questions followed by the questions of each
// nature code, as rubric labels. A later question with an id already seen
// replaces its text at the original position.
func (c *Catalog) Labels(natureCodes ...string) []rubric.Label {
	var out []rubric.Label
	pos := map[string]int{}
	add := func(qs []Question) {
		for _, q := range qs {
			if i, ok := pos[q.ID]; ok {
				out[i].Text = q.Text
				continue
			}
			pos[q.ID] = len(out)
			out = append(out, rubric.Label{ID: q.ID, Text: q.Text})
		}
	}
	add(c.CaseEntry())
	for _, nc := range natureCodes {
		if nc == CaseEntry {
			continue
		}
		add(c.byCode[nc])
	}
	return out
}
