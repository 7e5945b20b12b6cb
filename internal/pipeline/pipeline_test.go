package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"call-grader-go/internal/aggregator"
	"call-grader-go/internal/observe"
	"call-grader-go/internal/processor"
	"call-grader-go/internal/transcript"
)

func writeCalls(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"a.json": `{"language":"en","segments":[
			{"start":0,"end":3,"speaker":"SPEAKER_01","text":"What's the location of the emergency?"},
			{"start":3,"end":6,"speaker":"SPEAKER_00","text":"405-555-1234"}]}`,
		"b.txt":    "[00:00.0–00:03.0] SPEAKER_01: What's the phone number you're calling from?\n",
		"c.json":   `{"language":"en"}`,
		"notes.md": "ignored",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))
	return dir
}

func newPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	proc, err := processor.New(processor.Options{Policy: aggregator.DefaultPolicy()})
	require.NoError(t, err)
	return New(proc, opts...)
}

func TestRunKeepsOrderAndIsolatesFailures(t *testing.T) {
	sources, err := DirSources(writeCalls(t))
	require.NoError(t, err)
	require.Len(t, sources, 3)

	p := newPipeline(t, WithConcurrency(2), WithMetrics(observe.MustNewMetrics(prometheus.NewRegistry())))
	results, err := p.Run(context.Background(), sources)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a.json", results[0].Name)
	require.NoError(t, results[0].Err)
	assert.Equal(t, "1", string(results[0].Response.Grades.Codes()["1"]))
	assert.Equal(t, "1", string(results[0].Response.Grades.Codes()["2a"]))

	require.NoError(t, results[1].Err)
	assert.Equal(t, "1", string(results[1].Response.Grades.Codes()["2"]))

	assert.ErrorIs(t, results[2].Err, transcript.ErrNoSegments)

	ins := Insight(results, aggregator.DefaultPolicy())
	assert.Equal(t, 2, ins.Calls)
	assert.Equal(t, 1.0, ins.MissRate["1b"])
	assert.Equal(t, 0.5, ins.MissRate["1"])
}

func TestRunTimesOutSlowSources(t *testing.T) {
	slow := Source{Name: "slow", Fetch: func(ctx context.Context) (transcript.Document, error) {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return transcript.Document{}, ctx.Err()
	}}
	results, err := newPipeline(t, WithTimeout(50*time.Millisecond)).Run(context.Background(), []Source{slow})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newPipeline(t).Run(ctx, []Source{{Name: "x", Fetch: func(ctx context.Context) (transcript.Document, error) {
		return transcript.Document{}, ctx.Err()
	}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNatureCodeDefault(t *testing.T) {
	src := Source{Name: "x", Fetch: func(context.Context) (transcript.Document, error) {
		return transcript.Document{Segments: []transcript.Segment{{Speaker: "SPEAKER_01", Text: "hello"}}}, nil
	}}
	results, err := newPipeline(t, WithNatureCode("Falls")).Run(context.Background(), []Source{src})
	require.NoError(t, err)
	assert.Equal(t, "Falls", results[0].Response.Metadata.NatureCode)
}

func TestWriteXLSX(t *testing.T) {
	sources, err := DirSources(writeCalls(t))
	require.NoError(t, err)
	results, err := newPipeline(t).Run(context.Background(), sources)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "grades.xlsx")
	require.NoError(t, WriteXLSX(path, results, aggregator.DefaultPolicy()))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(gradesSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"Call", "Grade %", "Nature Code", "Error", "1", "1a", "1b", "2", "2a"}, rows[0])
	assert.Equal(t, "a.json", rows[1][0])
	assert.Equal(t, "1", rows[1][4])
	assert.Contains(t, rows[3][3], "segments")

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Question", "Label", "Miss Rate"}, summary[0])
	assert.Equal(t, "1a", summary[1][0])
}
