// Package pipeline grades many calls concurrently and exports the results.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"call-grader-go/internal/aggregator"
	"call-grader-go/internal/grading"
	"call-grader-go/internal/logger"
	"call-grader-go/internal/observe"
	"call-grader-go/internal/processor"
	"call-grader-go/internal/transcript"
	"call-grader-go/internal/transcription"
	"call-grader-go/internal/types"
)

// Source produces one transcript.
type Source struct {
	Name       string
	NatureCode string
	Fetch      func(ctx context.Context) (transcript.Document, error)
}

// FileSource reads a JSON or rendered text transcript from disk.
func FileSource(path string) Source {
	return Source{
		Name: filepath.Base(path),
		Fetch: func(context.Context) (transcript.Document, error) {
			return transcript.ReadFile(path)
		},
	}
}

// URLSource downloads a JSON transcript.
func URLSource(c *transcription.Client, url string) Source {
	return Source{
		Name: url,
		Fetch: func(ctx context.Context) (transcript.Document, error) {
			return c.Fetch(ctx, url)
		},
	}
}

// DirSources lists the .json and .txt transcripts in dir, sorted by name.
func DirSources(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []Source
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".txt":
			out = append(out, FileSource(filepath.Join(dir, e.Name())))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Result is the outcome for one source. Err is set when the transcript could
// not be read; Response is zero then.
type Result struct {
	Name     string
	Response types.GradeResponse
	Err      error
}

type Pipeline struct {
	proc        *processor.Processor
	concurrency int
	timeout     time.Duration
	evidence    bool
	natureCode  string
	metrics     *observe.Metrics
}

type Option func(*Pipeline)

func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithTimeout bounds fetching one transcript.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithEvidence(on bool) Option { return func(p *Pipeline) { p.evidence = on } }

// WithNatureCode applies to sources that carry none.
func WithNatureCode(nc string) Option { return func(p *Pipeline) { p.natureCode = nc } }

func WithMetrics(m *observe.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

func New(proc *processor.Processor, opts ...Option) *Pipeline {
	p := &Pipeline{proc: proc, concurrency: 4, timeout: 30 * time.Second}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run grades every source, at most concurrency at a time. A failing source
// is reported in its Result and does not stop the batch; Run only fails when
// ctx ends first. Results keep the order of sources.
func (p *Pipeline) Run(ctx context.Context, sources []Source) ([]Result, error) {
	log := logger.New().WithField("component", "pipeline")
	results := make([]Result, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, src := range sources {
		g.Go(func() error {
			done := p.metrics.TrackBatchCall()
			defer done()
			results[i] = p.one(gctx, src)
			if err := results[i].Err; err != nil {
				log.WithError(err).WithField("source", src.Name).Warn("call skipped")
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return results, err
	}
	log.WithField("calls", len(sources)).Info("batch graded")
	return results, nil
}

func (p *Pipeline) one(ctx context.Context, src Source) Result {
	res := Result{Name: src.Name}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type fetched struct {
		doc transcript.Document
		err error
	}
	ch := make(chan fetched, 1)
	go func() {
		doc, err := src.Fetch(ctx)
		ch <- fetched{doc, err}
	}()

	select {
	case <-ctx.Done():
		res.Err = fmt.Errorf("%s: timeout during fetch: %w", src.Name, ctx.Err())
		p.metrics.IncFailure(string(types.GraderRule), "timeout")
	case f := <-ch:
		if f.err != nil {
			res.Err = fmt.Errorf("%s: %w", src.Name, f.err)
			p.metrics.IncFailure(string(types.GraderRule), "read")
			return res
		}
		nc := src.NatureCode
		if nc == "" {
			nc = p.natureCode
		}
		res.Response = p.proc.Grade(processor.Request{
			Document:     f.doc,
			NatureCode:   nc,
			ShowEvidence: p.evidence,
		})
	}
	return res
}

// Reports returns the reports of the successful results.
func Reports(results []Result) []grading.Report {
	var out []grading.Report
	for _, r := range results {
		if r.Err == nil {
			out = append(out, r.Response.Grades)
		}
	}
	return out
}

// Insight aggregates the successful results.
func Insight(results []Result, policy aggregator.Policy) aggregator.Insight {
	return aggregator.Aggregate(Reports(results), policy)
}
