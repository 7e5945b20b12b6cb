package actionable

import (
	"fmt"

	"call-grader-go/internal/aggregator"
	"call-grader-go/internal/grading"
)

// MissThreshold is the miss rate at which a question needs coaching.
const MissThreshold = 0.35

type ActionCard struct {
	Insight string `json:"insight"`
	Action  string `json:"action"`
	Impact  string `json:"impact"`
}

// Generate turns batch statistics into a coaching card for the call-takers.
func Generate(ins aggregator.Insight) ActionCard {
	worst, highest := ins.WorstQuestion()
	if highest >= MissThreshold && worst != "" {
		return ActionCard{
			Insight: fmt.Sprintf("Question %s (%s) missed in %.0f%% of calls", worst, ins.Labels[worst], highest*100),
			Action:  "Review the scripted wording of this question with call-takers; add it to the next QA calibration",
			Impact:  "Raise protocol compliance scores across the center",
		}
	}
	return ActionCard{
		Insight: "No question is consistently missed",
		Action:  "Keep sampling calls for review",
		Impact:  "Low immediate intervention",
	}
}

// ForReport builds a card for a single graded call.
func ForReport(r grading.Report, s aggregator.Summary) ActionCard {
	var missed []string
	for _, g := range r.Items {
		if g.Code == grading.CodeNotAsked {
			missed = append(missed, g.ID)
		}
	}
	if len(missed) == 0 {
		return ActionCard{
			Insight: fmt.Sprintf("All derivable questions covered (%.1f%%)", s.Percentage),
			Action:  "No follow-up required",
			Impact:  "Call meets protocol",
		}
	}
	return ActionCard{
		Insight: fmt.Sprintf("%d of %d questions not asked: %v", len(missed), s.Counted, missed),
		Action:  "Walk through the missed questions with the call-taker",
		Impact:  fmt.Sprintf("Up to %.1f points recoverable", recoverable(s)),
	}
}

func recoverable(s aggregator.Summary) float64 {
	if s.Counted == 0 {
		return 0
	}
	return 100 - s.Percentage
}
