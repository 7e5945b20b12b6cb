package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"call-grader-go/internal/logger"
)

// CaseEntry is the nature code whose questions apply to every call.
const CaseEntry = "Case Entry"

// Question is one protocol question row.
type Question struct {
	NatureCodeID int    `json:"nc_id"`
	NatureCode   string `json:"nature_code"`
	ID           string `json:"question_id"`
	Text         string `json:"question_text"`
}

// IsCaseEntry reports whether q belongs to the always-asked set.
func (q Question) IsCaseEntry() bool { return q.NatureCodeID == 0 }

// Load reads a protocol sheet. .xlsx/.xlsm files are read with excelize,
// everything else as CSV.
func Load(path string) (*Catalog, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return loadXLSX(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open file: %w", err)
		}
		defer f.Close()
		return ReadCSV(f)
	}
}

func loadXLSX(path string) (*Catalog, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return FromRows(rows)
}

// ReadCSV reads a protocol sheet in CSV form.
func ReadCSV(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return FromRows(rows)
}

type columns struct {
	ncID, natureCode, questionID, questionText int
}

// detectColumns finds the four protocol columns by header heuristics and
// falls back to the NC_ID, NatureCode, Question_ID, Question_Text layout.
func detectColumns(header []string) columns {
	c := columns{-1, -1, -1, -1}
	for i, h := range header {
		l := squash(h)
		switch {
		case l == "ncid" || l == "naturecodeid" || l == "ncode":
			if c.ncID == -1 {
				c.ncID = i
			}
		case strings.Contains(l, "nature"):
			if c.natureCode == -1 {
				c.natureCode = i
			}
		case l == "questionid" || l == "qid" || l == "questionno" || l == "questionnumber":
			if c.questionID == -1 {
				c.questionID = i
			}
		case strings.Contains(l, "question") || l == "text":
			if c.questionText == -1 {
				c.questionText = i
			}
		}
	}
	if c.ncID == -1 && c.natureCode == -1 && c.questionID == -1 && c.questionText == -1 && len(header) >= 4 {
		c = columns{0, 1, 2, 3}
	}
	return c
}

func squash(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FromRows builds a catalog from a header row followed by data rows. Rows
// without a question id are skipped, as are rows whose NC_ID is not numeric.
func FromRows(rows [][]string) (*Catalog, error) {
	log := logger.New().WithField("component", "dataset.loader")
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}
	cols := detectColumns(rows[0])
	log.WithFields(map[string]interface{}{
		"ncIdx":           cols.ncID,
		"natureCodeIdx":   cols.natureCode,
		"questionIDIdx":   cols.questionID,
		"questionTextIdx": cols.questionText,
	}).Debug("detected protocol column indices")
	if cols.ncID == -1 || cols.questionID == -1 || cols.questionText == -1 {
		return nil, errors.New("missing NC_ID, Question_ID or Question_Text column")
	}

	var out []Question
	skipped := 0
	for i, r := range rows {
		if i == 0 {
			continue
		}
		q := Question{
			ID:         strings.TrimSpace(cell(r, cols.questionID)),
			Text:       strings.TrimSpace(cell(r, cols.questionText)),
			NatureCode: strings.TrimSpace(cell(r, cols.natureCode)),
		}
		nc, err := parseID(cell(r, cols.ncID))
		if err != nil || q.ID == "" || strings.EqualFold(q.ID, "nan") {
			skipped++
			continue
		}
		q.NatureCodeID = nc
		q.ID = trimFloat(q.ID)
		if q.NatureCode == "" && q.IsCaseEntry() {
			q.NatureCode = CaseEntry
		}
		out = append(out, q)
	}
	if skipped > 0 {
		log.WithField("skipped", skipped).Debug("skipped protocol rows without ids")
	}
	return newCatalog(out), nil
}

func cell(r []string, idx int) string {
	if idx < 0 || idx >= len(r) {
		return ""
	}
	return r[idx]
}

// parseID accepts "0" as well as spreadsheet renderings like "0.0".
func parseID(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// trimFloat turns ids like "3.0" back into "3".
func trimFloat(id string) string {
	if before, ok := strings.CutSuffix(id, ".0"); ok {
		if _, err := strconv.Atoi(before); err == nil {
			return before
		}
	}
	return id
}
