package aggregator

import (
	"math"
	"sort"

	"call-grader-go/internal/grading"
)

// Policy controls how codes are weighted.
type Policy struct {
	// PartialCredit gives Not As Scripted half credit instead of none.
	PartialCredit bool
}

// DefaultPolicy grants partial credit.
func DefaultPolicy() Policy { return Policy{PartialCredit: true} }

// Weight returns the credit for c and whether c counts toward the
// denominator at all.
func (p Policy) Weight(c grading.Code) (float64, bool) {
	switch c {
	case grading.CodeNotApplicable, grading.CodeRecordedCorrectly:
		return 0, false
	case grading.CodeAskedCorrectly, grading.CodeObvious:
		return 1, true
	case grading.CodeNotAsScripted:
		if p.PartialCredit {
			return 0.5, true
		}
		return 0, true
	default:
		return 0, true
	}
}

// Percentage is 100 * credit / counted items, rounded to one decimal, and
// 0 when nothing counts.
func Percentage(r grading.Report, p Policy) float64 {
	return Summarize(r, p).Percentage
}

// Summary is the scored view of one report.
type Summary struct {
	Percentage     float64 `json:"grade_percentage"`
	Total          int     `json:"total_questions"`
	Counted        int     `json:"counted_questions"`
	Excluded       int     `json:"excluded_questions"`
	AskedCorrectly int     `json:"questions_asked_correctly"`
	NotAsScripted  int     `json:"questions_not_as_scripted"`
	Missed         int     `json:"questions_missed"`
	Credit         float64 `json:"credit"`
	PartialCredit  bool    `json:"partial_credit"`
}

// Summarize scores r under p.
func Summarize(r grading.Report, p Policy) Summary {
	s := Summary{Total: len(r.Items), PartialCredit: p.PartialCredit}
	for _, g := range r.Items {
		w, counted := p.Weight(g.Code)
		if !counted {
			s.Excluded++
			continue
		}
		s.Counted++
		s.Credit += w
		switch g.Code {
		case grading.CodeAskedCorrectly, grading.CodeObvious:
			s.AskedCorrectly++
		case grading.CodeNotAsScripted:
			s.NotAsScripted++
		case grading.CodeNotAsked:
			s.Missed++
		}
	}
	if s.Counted > 0 {
		s.Percentage = round1(100 * s.Credit / float64(s.Counted))
	}
	return s
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Insight is the reduction of many graded calls.
type Insight struct {
	Calls          int                       `json:"calls"`
	MeanPercentage float64                   `json:"mean_percentage"`
	MissRate       map[string]float64        `json:"miss_rate_by_question"`
	CodeCounts     map[grading.Code]int      `json:"code_counts"`
	Labels         map[string]string         `json:"labels"`
	ByQuestion     map[string]map[string]int `json:"codes_by_question,omitempty"`
}

// Aggregate computes per-question miss rates over reports. A question's rate
// is Not Asked grades over the calls where the question counted.
func Aggregate(reports []grading.Report, p Policy) Insight {
	counted := map[string]int{}
	missed := map[string]int{}
	ins := Insight{
		Calls:      len(reports),
		MissRate:   map[string]float64{},
		CodeCounts: map[grading.Code]int{},
		Labels:     map[string]string{},
		ByQuestion: map[string]map[string]int{},
	}
	total := 0.0
	for _, r := range reports {
		total += Percentage(r, p)
		for _, g := range r.Items {
			ins.CodeCounts[g.Code]++
			if _, ok := ins.Labels[g.ID]; !ok {
				ins.Labels[g.ID] = g.Label
			}
			if ins.ByQuestion[g.ID] == nil {
				ins.ByQuestion[g.ID] = map[string]int{}
			}
			ins.ByQuestion[g.ID][string(g.Code)]++
			if _, ok := p.Weight(g.Code); !ok {
				continue
			}
			counted[g.ID]++
			if g.Code == grading.CodeNotAsked {
				missed[g.ID]++
			}
		}
	}
	for id, n := range counted {
		if n > 0 {
			ins.MissRate[id] = float64(missed[id]) / float64(n)
		} else {
			ins.MissRate[id] = 0
		}
	}
	if len(reports) > 0 {
		ins.MeanPercentage = round1(total / float64(len(reports)))
	}
	return ins
}

// WorstQuestion returns the question with the highest miss rate; ties go to
// the smaller id so the result is stable.
func (ins Insight) WorstQuestion() (string, float64) {
	ids := make([]string, 0, len(ins.MissRate))
	for id := range ins.MissRate {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	worst, highest := "", 0.0
	for _, id := range ids {
		if v := ins.MissRate[id]; v > highest {
			worst, highest = id, v
		}
	}
	return worst, highest
}

// Agreement compares two reports over the items of a. It returns the share
// of items with the same code, as a percentage rounded to one decimal, and
// the ids that differ in a's order.
func Agreement(a, b grading.Report) (float64, []string) {
	if len(a.Items) == 0 {
		return 0, nil
	}
	other := b.Codes()
	same := 0
	var differ []string
	for _, g := range a.Items {
		if c, ok := other[g.ID]; ok && c == g.Code {
			same++
			continue
		}
		differ = append(differ, g.ID)
	}
	return round1(100 * float64(same) / float64(len(a.Items))), differ
}
