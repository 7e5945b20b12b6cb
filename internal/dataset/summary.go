package dataset

import (
	"sort"

	"call-grader-go/internal/logger"
)

type NatureCodeCount struct {
	NatureCode string `json:"nature_code"`
	Questions  int    `json:"questions"`
}

type CatalogSummary struct {
	TotalQuestions     int               `json:"total_questions"`
	CaseEntryQuestions int               `json:"case_entry_questions"`
	NatureCodes        []NatureCodeCount `json:"nature_codes"`
}

// Summary counts questions per nature code, largest first.
func (c *Catalog) Summary() CatalogSummary {
	s := CatalogSummary{
		TotalQuestions:     len(c.questions),
		CaseEntryQuestions: len(c.CaseEntry()),
		NatureCodes:        make([]NatureCodeCount, 0, len(c.codes)),
	}
	for _, code := range c.codes {
		s.NatureCodes = append(s.NatureCodes, NatureCodeCount{NatureCode: code, Questions: len(c.byCode[code])})
	}
	sort.SliceStable(s.NatureCodes, func(i, j int) bool {
		return s.NatureCodes[i].Questions > s.NatureCodes[j].Questions
	})
	return s
}

// LoadAndSummarize loads the protocol sheet and logs its shape.
func LoadAndSummarize(path string) (*Catalog, CatalogSummary, error) {
	log := logger.New().WithField("component", "dataset.summary").WithField("path", path)
	log.Info("opening protocol questions")
	c, err := Load(path)
	if err != nil {
		log.WithError(err).Error("load failed")
		return nil, CatalogSummary{}, err
	}
	s := c.Summary()
	log.WithFields(map[string]interface{}{
		"total_questions":      s.TotalQuestions,
		"case_entry_questions": s.CaseEntryQuestions,
		"nature_codes":         len(s.NatureCodes),
	}).Info("protocol questions loaded")
	return c, s, nil
}
