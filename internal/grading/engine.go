// Package grading assigns a grade code to every rubric item of a call by
// searching its transcript segments.
//
// Each item is decided by the first rule that applies:
//
//  1. a reviewer supplied override (WithOverrides);
//  2. the not_derivable policy, which always yields Not Asked;
//  3. its evidence heuristic, if configured: Asked Correctly when the
//     heuristic finds corroborating content, otherwise Not Asked;
//  4. an asker segment equal to the canonical text: Asked Correctly;
//  5. an asker segment containing a synonym phrase: Not As Scripted;
//  6. otherwise Not Asked.
//
// Within a rule the earliest segment wins. Grading does no I/O and holds no
// mutable state, so an Engine may be shared between goroutines.
package grading

import (
	"fmt"

	"call-grader-go/internal/rubric"
	"call-grader-go/internal/transcript"
)

type options struct {
	evidence  bool
	overrides map[string]Code
}

// Option configures a single Grade call.
type Option func(*options)

// WithEvidence attaches the justifying segment to each grade.
func WithEvidence(on bool) Option { return func(o *options) { o.evidence = on } }

// WithOverrides fixes the code of the given items, typically N/A, Obvious or
// Recorded Correctly decided by a reviewer. Invalid codes are ignored.
func WithOverrides(codes map[string]Code) Option {
	return func(o *options) {
		if o.overrides == nil {
			o.overrides = make(map[string]Code, len(codes))
		}
		for id, c := range codes {
			if c.Valid() {
				o.overrides[id] = c
			}
		}
	}
}

type rule struct {
	item      rubric.Item
	canonical string
	synonyms  []string
	policy    bool
	evidence  *heuristic
}

// Engine is a rubric compiled for matching.
type Engine struct {
	rubric *rubric.Rubric
	roles  transcript.Roles
	vocab  *vocabulary
	rules  []rule
}

// NewEngine precomputes the normalized phrasing of every item in r.
func NewEngine(r *rubric.Rubric) *Engine {
	e := &Engine{
		rubric: r,
		roles:  r.Roles(),
		vocab:  newVocabulary(r.Vocabulary()),
	}
	for _, it := range r.Items() {
		ru := rule{item: it, canonical: transcript.Normalize(it.CanonicalText)}
		for _, s := range it.Synonyms {
			if n := transcript.Normalize(s); n != "" {
				ru.synonyms = append(ru.synonyms, n)
			}
		}
		switch it.Evidence {
		case rubric.HeuristicNone:
		case rubric.NotDerivable:
			ru.policy = true
		default:
			if h, ok := heuristics[it.Evidence]; ok {
				ru.evidence = &h
			}
		}
		e.rules = append(e.rules, ru)
	}
	return e
}

func (e *Engine) Rubric() *rubric.Rubric { return e.rubric }

// Grade evaluates every rubric item against segments. An empty or nil
// segment slice grades every derivable item Not Asked.
func (e *Engine) Grade(segments []transcript.Segment, opts ...Option) Report {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	views := make([]segmentView, len(segments))
	for i, s := range segments {
		views[i] = segmentView{index: i, seg: s, norm: transcript.Normalize(s.Text)}
	}

	report := Report{Items: make([]ItemGrade, 0, len(e.rules))}
	for _, ru := range e.rules {
		code, hit, found := e.decide(ru, views, o.overrides)
		g := ItemGrade{
			ID:     ru.item.ID,
			Code:   code,
			Label:  ru.item.CanonicalText,
			Status: code.Status(),
		}
		if o.evidence && found {
			g.Evidence = &Evidence{SegmentIndex: hit.index, Text: hit.seg.Text}
		}
		report.Items = append(report.Items, g)
	}
	return report
}

func (e *Engine) decide(ru rule, views []segmentView, overrides map[string]Code) (Code, segmentView, bool) {
	if c, ok := overrides[ru.item.ID]; ok {
		return c, segmentView{}, false
	}
	if ru.policy {
		return CodeNotAsked, segmentView{}, false
	}
	if ru.evidence != nil {
		if v, ok := firstEvidence(views, e.roles, *ru.evidence, e.vocab); ok {
			return CodeAskedCorrectly, v, true
		}
		return CodeNotAsked, segmentView{}, false
	}
	if v, ok := firstExact(views, e.roles, ru.canonical); ok {
		return CodeAskedCorrectly, v, true
	}
	if v, ok := firstContaining(views, e.roles, ru.synonyms); ok {
		return CodeNotAsScripted, v, true
	}
	return CodeNotAsked, segmentView{}, false
}

// Grade compiles r and grades segments in one call.
func Grade(segments []transcript.Segment, r *rubric.Rubric, opts ...Option) Report {
	return NewEngine(r).Grade(segments, opts...)
}

// ParseOverrides validates reviewer supplied codes keyed by item id.
func ParseOverrides(raw map[string]string) (map[string]Code, error) {
	out := make(map[string]Code, len(raw))
	for id, s := range raw {
		c, err := ParseCode(s)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", id, err)
		}
		out[id] = c
	}
	return out, nil
}
