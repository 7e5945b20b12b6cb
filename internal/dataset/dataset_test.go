package dataset

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"call-grader-go/internal/rubric"
)

const emsqa = `NC_ID,NatureCode,Question_ID,Question_Text
0,Case Entry,1,What's the location of the emergency?
0,Case Entry,2,What's the phone number you're calling from?
0,Case Entry,,orphan row
12,Falls,3,Is the patient breathing?
12,Falls,4,How far did they fall?
6,Breathing Problems,3,Is the patient completely alert?
6,Breathing Problems,5,Does the patient have asthma?
x,Broken,6,bad nc id
`

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := ReadCSV(strings.NewReader(emsqa))
	require.NoError(t, err)
	return c
}

func TestReadCSV(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, 6, c.Len())
	assert.Equal(t, []string{"Breathing Problems", "Falls"}, c.NatureCodes())
	require.Len(t, c.CaseEntry(), 2)
	assert.Equal(t, "1", c.CaseEntry()[0].ID)
	assert.Len(t, c.ForNatureCode("Falls"), 2)
	assert.Equal(t, c.CaseEntry(), c.ForNatureCode(CaseEntry))
	assert.Empty(t, c.ForNatureCode("falls"))
}

func TestLabelsUnionKeepsFirstPosition(t *testing.T) {
	c := testCatalog(t)
	assert.Equal(t, []rubric.Label{
		{ID: "1", Text: "What's the location of the emergency?"},
		{ID: "2", Text: "What's the phone number you're calling from?"},
		{ID: "3", Text: "Is the patient completely alert?"},
		{ID: "4", Text: "How far did they fall?"},
		{ID: "5", Text: "Does the patient have asthma?"},
	}, c.Labels("Falls", CaseEntry, "Breathing Problems"))

	assert.Len(t, c.Labels(), 2)
	assert.Len(t, c.Labels("Unknown"), 2)
}

func TestResolve(t *testing.T) {
	c := testCatalog(t)
	cases := map[string]string{
		"Falls":             "Falls",
		"falls":             "Falls",
		" Fals ":            "Falls",
		"breathing problem": "Breathing Problems",
		"case entry":        CaseEntry,
	}
	for in, want := range cases {
		got, ok := c.Resolve(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "Stab Wound"} {
		_, ok := c.Resolve(in)
		assert.False(t, ok, in)
	}
}

func TestSummary(t *testing.T) {
	s := testCatalog(t).Summary()
	assert.Equal(t, 6, s.TotalQuestions)
	assert.Equal(t, 2, s.CaseEntryQuestions)
	assert.Equal(t, []NatureCodeCount{
		{NatureCode: "Breathing Problems", Questions: 2},
		{NatureCode: "Falls", Questions: 2},
	}, s.NatureCodes)
}

func TestDetectColumnsByHeader(t *testing.T) {
	rows := [][]string{
		{"Question Text", "Question ID", "Nature Code", "NC ID"},
		{"Where is the patient?", "7.0", "Falls", "12.0"},
		{"Address?", "1", "", "0"},
	}
	c, err := FromRows(rows)
	require.NoError(t, err)
	assert.Equal(t, []Question{{NatureCodeID: 0, NatureCode: CaseEntry, ID: "1", Text: "Address?"}}, c.CaseEntry())
	assert.Equal(t, []Question{{NatureCodeID: 12, NatureCode: "Falls", ID: "7", Text: "Where is the patient?"}}, c.ForNatureCode("Falls"))
}

func TestFromRowsErrors(t *testing.T) {
	_, err := FromRows([][]string{{"NC_ID", "NatureCode", "Question_ID", "Question_Text"}})
	assert.Error(t, err)
	_, err = FromRows([][]string{{"a", "b"}, {"1", "2"}})
	assert.Error(t, err)
}

func TestLoadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "EMSQA.xlsx")
	f := excelize.NewFile()
	rows := [][]interface{}{
		{"NC_ID", "NatureCode", "Question_ID", "Question_Text"},
		{0, "Case Entry", "1", "What's the location of the emergency?"},
		{12, "Falls", "3", "Is the patient breathing?"},
	}
	for i, r := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cellRef, &r))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	c, s, err := LoadAndSummarize(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 1, s.CaseEntryQuestions)
	assert.Equal(t, []string{"Falls"}, c.NatureCodes())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
