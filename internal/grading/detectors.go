package grading

import (
	"regexp"
	"strings"

	"call-grader-go/internal/rubric"
	"call-grader-go/internal/transcript"
)

var (
	// three or more single letters separated by hyphens or spaces: "B-R-O-M-P-T-O-N", "m a i n"
	spelledRE = regexp.MustCompile(`(?i)\b[a-z](?:\s*[-\s]\s*[a-z]){2,}\b`)

	houseNumberRE = regexp.MustCompile(`\b\d{1,5}\b`)

	// 7-12 digits, each pair separated by at most two of: space - . , ( )
	digitRunRE = regexp.MustCompile(`\b\d(?:[\s\-.,()]{0,2}\d){6,11}\b`)
)

// segmentView is a segment with its normalized text computed once per run.
type segmentView struct {
	index int
	seg   transcript.Segment
	norm  string
}

// heuristic scans the call for corroborating content. match is evaluated
// against each in-scope segment in transcript order; the first hit wins.
type heuristic struct {
	scope transcript.Role
	match func(v segmentView, vocab *vocabulary) bool
}

var heuristics = map[rubric.Heuristic]heuristic{
	rubric.SpelledToken: {
		scope: transcript.RoleResponder,
		match: func(v segmentView, _ *vocabulary) bool { return spelledRE.MatchString(v.seg.Text) },
	},
	rubric.DigitRun: {
		scope: transcript.RoleOther,
		match: func(v segmentView, _ *vocabulary) bool { return digitRunRE.MatchString(v.seg.Text) },
	},
	rubric.NumberLocality: {
		scope: transcript.RoleResponder,
		match: numberWithLocality,
	},
	rubric.AddressVerification: {
		scope: transcript.RoleResponder,
		match: func(v segmentView, vocab *vocabulary) bool {
			return spelledRE.MatchString(v.seg.Text) || numberWithLocality(v, vocab)
		},
	},
}

func numberWithLocality(v segmentView, vocab *vocabulary) bool {
	return houseNumberRE.MatchString(v.seg.Text) && vocab.mentions(v.norm)
}

// vocabulary is the normalized locality word list.
type vocabulary struct {
	words []string
}

func newVocabulary(v rubric.Vocabulary) *vocabulary {
	seen := map[string]bool{}
	out := &vocabulary{}
	for _, list := range [][]string{v.CityState, v.StreetHints} {
		for _, w := range list {
			n := transcript.Normalize(w)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out.words = append(out.words, n)
		}
	}
	return out
}

// mentions reports whether norm contains a vocabulary entry as whole words.
func (v *vocabulary) mentions(norm string) bool {
	if norm == "" {
		return false
	}
	padded := " " + norm + " "
	for _, w := range v.words {
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}

// firstExact returns the first asker segment equal to target.
func firstExact(views []segmentView, roles transcript.Roles, target string) (segmentView, bool) {
	if target == "" {
		return segmentView{}, false
	}
	for _, v := range views {
		if roles.Matches(v.seg.Speaker, transcript.RoleAsker) && v.norm == target {
			return v, true
		}
	}
	return segmentView{}, false
}

// firstContaining returns the first asker segment containing any phrase.
func firstContaining(views []segmentView, roles transcript.Roles, phrases []string) (segmentView, bool) {
	if len(phrases) == 0 {
		return segmentView{}, false
	}
	for _, v := range views {
		if !roles.Matches(v.seg.Speaker, transcript.RoleAsker) {
			continue
		}
		for _, p := range phrases {
			if strings.Contains(v.norm, p) {
				return v, true
			}
		}
	}
	return segmentView{}, false
}

func firstEvidence(views []segmentView, roles transcript.Roles, h heuristic, vocab *vocabulary) (segmentView, bool) {
	for _, v := range views {
		if roles.Matches(v.seg.Speaker, h.scope) && h.match(v, vocab) {
			return v, true
		}
	}
	return segmentView{}, false
}
