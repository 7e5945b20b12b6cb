package pipeline

import (
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"call-grader-go/internal/aggregator"
)

const (
	gradesSheet  = "Grades"
	summarySheet = "Summary"
)

// WriteXLSX writes one row per call with its code for every question, and a
// summary sheet with per-question miss rates.
func WriteXLSX(path string, results []Result, policy aggregator.Policy) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", gradesSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return err
	}

	questions := questionOrder(results)
	header := []interface{}{"Call", "Grade %", "Nature Code", "Error"}
	for _, q := range questions {
		header = append(header, q)
	}
	if err := setRow(f, gradesSheet, 1, header); err != nil {
		return err
	}
	for i, r := range results {
		row := []interface{}{r.Name}
		if r.Err != nil {
			row = append(row, "", "", r.Err.Error())
		} else {
			row = append(row, r.Response.GradePercentage, r.Response.Metadata.NatureCode, "")
			codes := r.Response.Grades.Codes()
			for _, q := range questions {
				row = append(row, string(codes[q]))
			}
		}
		if err := setRow(f, gradesSheet, i+2, row); err != nil {
			return err
		}
	}

	ins := Insight(results, policy)
	ids := make([]string, 0, len(ins.MissRate))
	for id := range ins.MissRate {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sort.SliceStable(ids, func(i, j int) bool { return ins.MissRate[ids[i]] > ins.MissRate[ids[j]] })
	if err := setRow(f, summarySheet, 1, []interface{}{"Question", "Label", "Miss Rate"}); err != nil {
		return err
	}
	for i, id := range ids {
		if err := setRow(f, summarySheet, i+2, []interface{}{id, ins.Labels[id], ins.MissRate[id]}); err != nil {
			return err
		}
	}
	last := len(ids) + 3
	if err := setRow(f, summarySheet, last, []interface{}{"Calls", ins.Calls}); err != nil {
		return err
	}
	if err := setRow(f, summarySheet, last+1, []interface{}{"Mean Grade %", ins.MeanPercentage}); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// questionOrder lists question ids in first-seen order across results.
func questionOrder(results []Result) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		for _, g := range r.Response.Grades.Items {
			if !seen[g.ID] {
				seen[g.ID] = true
				out = append(out, g.ID)
			}
		}
	}
	return out
}
