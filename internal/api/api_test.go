package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-grader-go/internal/aggregator"
	"call-grader-go/internal/dataset"
	"call-grader-go/internal/logger"
	"call-grader-go/internal/observe"
	"call-grader-go/internal/processor"
	"call-grader-go/internal/store"
	"call-grader-go/internal/types"
)

const callJSON = `{
  "language": "en",
  "segments": [
    {"start": 0, "end": 3, "speaker": "SPEAKER_01", "text": "Norman 911, what's the location of the emergency?"},
    {"start": 3, "end": 6, "speaker": "SPEAKER_00", "text": "1200 Brompton Street"},
    {"start": 6, "end": 9, "speaker": "SPEAKER_01", "text": "What's the phone number you're calling from?"},
    {"start": 9, "end": 12, "speaker": "SPEAKER_00", "text": "405 555 1234"},
    {"start": 12, "end": 15, "speaker": "SPEAKER_01", "text": "How far did they fall?"}
  ]
}`

type fixture struct {
	srv   *httptest.Server
	store *store.Store
}

func newFixture(t *testing.T, cat *dataset.Catalog) fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	proc, err := processor.New(processor.Options{
		Catalog: cat,
		Policy:  aggregator.DefaultPolicy(),
		Metrics: observe.MustNewMetrics(reg),
	})
	require.NoError(t, err)

	st, err := store.Open(context.Background(), store.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "grader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	s := New(Options{
		Processor:   proc,
		Store:       st,
		Gatherer:    reg,
		CORSOrigins: []string{"*"},
		Logger:      logger.NewWithOutput(io.Discard),
	})
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return fixture{srv: srv, store: st}
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/api/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(logger.RequestIDHeader))

	var h types.HealthResponse
	decode(t, resp, &h)
	assert.Equal(t, types.HealthResponse{Status: "healthy", Service: serviceName, Version: "1.0.0"}, h)
}

func TestGradeRule(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{"/api/grade", "/api/grade/rule"} {
		resp, err := http.Post(f.srv.URL+path+"?show_evidence=true", "application/json", strings.NewReader(callJSON))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode, path)

		var out struct {
			GraderType      string  `json:"grader_type"`
			GradePercentage float64 `json:"grade_percentage"`
			Grades          map[string]struct {
				Code     string          `json:"code"`
				Evidence json.RawMessage `json:"evidence"`
			} `json:"grades"`
		}
		decode(t, resp, &out)
		assert.Equal(t, "rule_based", out.GraderType)
		assert.Equal(t, 70.0, out.GradePercentage)
		assert.Equal(t, "2", out.Grades["1b"].Code)
		assert.NotEmpty(t, out.Grades["2a"].Evidence)
	}
}

func TestGradeRuleOverrides(t *testing.T) {
	f := newFixture(t, nil)
	body := strings.Replace(callJSON, `"language": "en",`, `"language": "en", "overrides": {"1b": "RC"},`, 1)
	resp, err := http.Post(f.srv.URL+"/api/grade", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var out types.GradeResponse
	decode(t, resp, &out)
	// (0.5 + 1 + 1 + 1) / 4
	assert.Equal(t, 87.5, out.GradePercentage)
	assert.Equal(t, 1, out.Summary.Excluded)
}

func TestGradeNumericOverride(t *testing.T) {
	f := newFixture(t, nil)
	body := strings.Replace(callJSON, `"language": "en",`, `"language": "en", "overrides": {"1b": 5},`, 1)
	resp, err := http.Post(f.srv.URL+"/api/grade", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out types.GradeResponse
	decode(t, resp, &out)
	g, ok := out.Grades.Get("1b")
	require.True(t, ok)
	assert.Equal(t, "5", string(g.Code))
	assert.Equal(t, 87.5, out.GradePercentage)
}

func TestGradeNamesTheBadField(t *testing.T) {
	f := newFixture(t, nil)
	cases := map[string]string{
		`"nature_code": 12,`:         "nature_code",
		`"overrides": {"1b": true},`: `"1b"`,
		`"overrides": ["RC"],`:       "overrides",
	}
	for field, want := range cases {
		body := strings.Replace(callJSON, `"language": "en",`, `"language": "en", `+field, 1)
		resp, err := http.Post(f.srv.URL+"/api/grade", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, field)
		var e types.ErrorResponse
		decode(t, resp, &e)
		assert.Contains(t, e.Error, want, field)
		assert.NotContains(t, e.Error, "JSON transcript", field)
	}
}

func TestGradeRejectsBadBodies(t *testing.T) {
	f := newFixture(t, nil)
	cases := map[string]string{
		"not json":        "segments please",
		"no segments":     `{"language": "en"}`,
		"bad override":    `{"segments": [], "overrides": {"1": "9"}}`,
		"segments object": `{"segments": {}}`,
	}
	for name, body := range cases {
		resp, err := http.Post(f.srv.URL+"/api/grade", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, name)
		var e types.ErrorResponse
		decode(t, resp, &e)
		assert.NotEmpty(t, e.Error, name)
	}
}

func TestAIRoutesWithoutGateway(t *testing.T) {
	f := newFixture(t, nil)
	for _, path := range []string{"/api/grade/ai", "/api/grade/all"} {
		resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(callJSON))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotImplemented, resp.StatusCode, path)
		resp.Body.Close()
	}
}

func multipartBody(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadPersistsRecord(t *testing.T) {
	f := newFixture(t, nil)
	body, ct := multipartBody(t, "call.json", callJSON, nil)
	resp, err := http.Post(f.srv.URL+"/api/upload", ct, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var up types.UploadResponse
	decode(t, resp, &up)
	require.NotEmpty(t, up.ID)
	assert.Equal(t, "call.json", up.Filename)
	assert.Equal(t, 70.0, up.GradePercentage)
	assert.Equal(t, 5, up.TotalQuestions)
	assert.Equal(t, 1, up.QuestionsMissed)
	assert.Equal(t, "1 of 5 questions not asked: [1b]", up.Coaching.Insight)

	resp, err = http.Get(f.srv.URL + "/api/records/" + up.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rec store.Record
	decode(t, resp, &rec)
	assert.Equal(t, "call.json", rec.Filename)
	assert.Equal(t, 70.0, rec.Percentage)
	assert.Len(t, rec.Grades.Items, 5)

	resp, err = http.Get(f.srv.URL + "/api/records?limit=10")
	require.NoError(t, err)
	var list struct {
		Records []store.Record `json:"records"`
		Count   int            `json:"count"`
	}
	decode(t, resp, &list)
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, up.ID, list.Records[0].ID)
}

func TestUploadTextTranscript(t *testing.T) {
	f := newFixture(t, nil)
	text := "[00:00.0–00:03.0] SPEAKER_01: What's the location of the emergency?\n" +
		"[00:03.0–00:06.0] SPEAKER_00: 1200 Brompton Street\n"
	body, ct := multipartBody(t, "call.txt", text, nil)
	resp, err := http.Post(f.srv.URL+"/api/upload", ct, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var up types.UploadResponse
	decode(t, resp, &up)
	assert.Equal(t, 2, up.Metadata.SegmentCount)
}

func TestUploadErrors(t *testing.T) {
	f := newFixture(t, nil)

	body, ct := multipartBody(t, "", "", map[string]string{"nature_code": "Falls"})
	resp, err := http.Post(f.srv.URL+"/api/upload", ct, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	body, ct = multipartBody(t, "call.json", `{"language": "en"}`, nil)
	resp, err = http.Post(f.srv.URL+"/api/upload", ct, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	body, ct = multipartBody(t, "call.json", callJSON, map[string]string{"grader_type": "ai"})
	resp, err = http.Post(f.srv.URL+"/api/upload", ct, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
	resp.Body.Close()
}

func TestRecordNotFound(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/api/records/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestNatureCodes(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/api/questions/nature-codes")
	require.NoError(t, err)
	var empty dataset.CatalogSummary
	decode(t, resp, &empty)
	assert.Zero(t, empty.TotalQuestions)
	assert.Empty(t, empty.NatureCodes)

	cat, err := dataset.ReadCSV(strings.NewReader("NC_ID,NatureCode,Question_ID,Question_Text\n" +
		"0,Case Entry,1,What's the location of the emergency?\n" +
		"12,Falls,3,How far did they fall?\n"))
	require.NoError(t, err)
	f = newFixture(t, cat)
	resp, err = http.Get(f.srv.URL + "/api/questions/nature-codes")
	require.NoError(t, err)
	var s dataset.CatalogSummary
	decode(t, resp, &s)
	assert.Equal(t, 2, s.TotalQuestions)
	assert.Equal(t, []dataset.NatureCodeCount{{NatureCode: "Falls", Questions: 1}}, s.NatureCodes)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Post(f.srv.URL+"/api/grade", "application/json", strings.NewReader(callJSON))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), `call_grader_grades_total{code="2",grader="rule_based",question="1b"} 1`)
}
