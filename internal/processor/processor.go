// Package processor grades one call end to end: it picks the question set,
// runs the rule engine or the AI grader, scores the result and builds the
// response envelope.
package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"call-grader-go/internal/actionable"
	"call-grader-go/internal/aggregator"
	"call-grader-go/internal/aigrader"
	"call-grader-go/internal/dataset"
	"call-grader-go/internal/grading"
	"call-grader-go/internal/logger"
	"call-grader-go/internal/observe"
	"call-grader-go/internal/rubric"
	"call-grader-go/internal/transcript"
	"call-grader-go/internal/types"
)

const (
	SourceRubric  = "rubric_config"
	SourceCatalog = "protocol_catalog"

	DetectionSupplied   = "supplied"
	DetectionResolved   = "resolved"
	DetectionUnresolved = "unresolved"
	DetectionNone       = "none"
)

type Options struct {
	// Rubric supplies the rules, and the labels when no catalog is set.
	// Without labels the built-in rubric is used.
	Rubric  rubric.Config
	Catalog *dataset.Catalog
	Roles   transcript.Roles
	Policy  aggregator.Policy
	// AI is optional; without it the AI operations return
	// aigrader.ErrNotConfigured.
	AI      *aigrader.Grader
	Metrics *observe.Metrics
	// Now defaults to time.Now.
	Now func() time.Time
}

// Request is one call to grade.
type Request struct {
	Document     transcript.Document
	NatureCode   string
	ShowEvidence bool
	Overrides    map[string]grading.Code
}

// QuestionSet describes the rubric a call was graded against.
type QuestionSet struct {
	Rubric              *rubric.Rubric
	Engine              *grading.Engine
	Source              string
	NatureCode          string
	Detection           string
	CaseEntryQuestions  int
	NatureCodeQuestions int
}

type Processor struct {
	opts Options
	base QuestionSet
	log  *logrus.Entry

	mu    sync.Mutex
	cache map[string]QuestionSet
}

// New builds the base rubric from opts.Rubric. Unknown heuristic names are
// logged and the affected items fall back to phrase matching.
func New(opts Options) (*Processor, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.Rubric.Labels) == 0 {
		opts.Rubric = rubric.LoadConfig(rubric.Options{})
	}
	p := &Processor{
		opts:  opts,
		log:   logger.New().WithField("component", "processor"),
		cache: map[string]QuestionSet{},
	}
	r, err := p.build(opts.Rubric)
	if r == nil {
		return nil, err
	}
	if err != nil {
		p.log.WithError(err).Warn("rubric loaded with unknown heuristics")
	}
	p.base = QuestionSet{
		Rubric:             r,
		Engine:             grading.NewEngine(r),
		Source:             SourceRubric,
		Detection:          DetectionNone,
		CaseEntryQuestions: r.Len(),
	}
	return p, nil
}

func (p *Processor) build(cfg rubric.Config) (*rubric.Rubric, error) {
	r, err := cfg.Build()
	if r != nil && !p.opts.Roles.IsZero() {
		r = r.WithRoles(p.opts.Roles)
	}
	return r, err
}

// Catalog returns the protocol catalog, or nil.
func (p *Processor) Catalog() *dataset.Catalog { return p.opts.Catalog }

func (p *Processor) Policy() aggregator.Policy { return p.opts.Policy }

// Questions returns the question set for a nature code. Without a catalog
// the configured rubric is used for every call. With one, Case Entry
// questions are always included and the nature code's questions are added
// when it resolves.
func (p *Processor) Questions(natureCode string) QuestionSet {
	cat := p.opts.Catalog
	if cat == nil || (len(cat.CaseEntry()) == 0 && natureCode == "") {
		qs := p.base
		qs.NatureCode = natureCode
		if natureCode != "" {
			qs.Detection = DetectionSupplied
		}
		return qs
	}

	resolved, ok := cat.Resolve(natureCode)
	detection := DetectionNone
	switch {
	case natureCode == "":
	case !ok:
		detection = DetectionUnresolved
	case resolved == natureCode:
		detection = DetectionSupplied
	default:
		detection = DetectionResolved
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if qs, ok := p.cache[resolved]; ok {
		qs.Detection = detection
		return qs
	}

	var codes []string
	if resolved != "" && resolved != dataset.CaseEntry {
		codes = append(codes, resolved)
	}
	labels := cat.Labels(codes...)
	if len(labels) == 0 {
		qs := p.base
		qs.NatureCode, qs.Detection = resolved, detection
		return qs
	}
	r, err := p.build(p.opts.Rubric.WithLabels(labels))
	if r == nil {
		p.log.WithError(err).WithField("nature_code", resolved).Error("question set rejected, using configured rubric")
		qs := p.base
		qs.NatureCode, qs.Detection = resolved, detection
		return qs
	}
	qs := QuestionSet{
		Rubric:              r,
		Engine:              grading.NewEngine(r),
		Source:              SourceCatalog,
		NatureCode:          resolved,
		CaseEntryQuestions:  len(cat.CaseEntry()),
		NatureCodeQuestions: len(cat.ForNatureCode(resolved)),
	}
	if resolved == "" || resolved == dataset.CaseEntry {
		qs.NatureCodeQuestions = 0
	}
	p.cache[resolved] = qs
	qs.Detection = detection
	return qs
}

// Grade runs the rule engine.
func (p *Processor) Grade(req Request) types.GradeResponse {
	start := time.Now()
	qs := p.Questions(req.NatureCode)
	opts := []grading.Option{grading.WithEvidence(req.ShowEvidence)}
	if len(req.Overrides) > 0 {
		opts = append(opts, grading.WithOverrides(req.Overrides))
	}
	report := qs.Engine.Grade(req.Document.Segments, opts...)
	resp := p.envelope(types.GraderRule, req, qs, report, start)
	p.opts.Metrics.ObserveReport(string(types.GraderRule), report, resp.GradePercentage, time.Since(start))
	p.log.WithFields(logrus.Fields{
		"segments":         len(req.Document.Segments),
		"questions":        len(report.Items),
		"grade_percentage": resp.GradePercentage,
		"duration_ms":      resp.DurationMs,
	}).Debug("call graded")
	return resp
}

// GradeAI runs the AI grader against the same question set.
func (p *Processor) GradeAI(ctx context.Context, req Request) (types.GradeResponse, error) {
	if p.opts.AI == nil {
		p.opts.Metrics.IncFailure(string(types.GraderAI), "not_configured")
		return types.GradeResponse{}, aigrader.ErrNotConfigured
	}
	start := time.Now()
	qs := p.Questions(req.NatureCode)
	report, err := p.opts.AI.Grade(ctx, req.Document.Segments, qs.Rubric)
	if err != nil {
		reason := "gateway"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			reason = "timeout"
		}
		p.opts.Metrics.IncFailure(string(types.GraderAI), reason)
		return types.GradeResponse{}, err
	}
	resp := p.envelope(types.GraderAI, req, qs, report, start)
	resp.Metadata.Model = p.opts.AI.Model()
	p.opts.Metrics.ObserveReport(string(types.GraderAI), report, resp.GradePercentage, time.Since(start))
	return resp, nil
}

// Compare grades with both graders and reports where they disagree.
func (p *Processor) Compare(ctx context.Context, req Request) (types.CompareResponse, error) {
	ai, err := p.GradeAI(ctx, req)
	if err != nil {
		return types.CompareResponse{}, err
	}
	rule := p.Grade(req)
	rate, differ := aggregator.Agreement(rule.Grades, ai.Grades)
	if differ == nil {
		differ = []string{}
	}
	return types.CompareResponse{
		GraderType:    types.GraderBoth,
		Timestamp:     p.timestamp(),
		RuleBased:     rule,
		AIBased:       ai,
		AgreementRate: rate,
		Disagreements: differ,
	}, nil
}

func (p *Processor) envelope(kind types.GraderType, req Request, qs QuestionSet, report grading.Report, start time.Time) types.GradeResponse {
	summary := aggregator.Summarize(report, p.opts.Policy)
	return types.GradeResponse{
		GraderType:      kind,
		Timestamp:       p.timestamp(),
		Grades:          report,
		GradePercentage: summary.Percentage,
		Summary:         summary,
		Metadata: types.GradeMetadata{
			Language:            req.Document.Language,
			SegmentCount:        len(req.Document.Segments),
			GraderVersion:       types.GraderVersion,
			QuestionsSource:     qs.Source,
			NatureCode:          qs.NatureCode,
			NatureCodeDetection: qs.Detection,
			CaseEntryQuestions:  qs.CaseEntryQuestions,
			NatureCodeQuestions: qs.NatureCodeQuestions,
		},
		DurationMs: time.Since(start).Milliseconds(),
	}
}

func (p *Processor) timestamp() string {
	return p.opts.Now().UTC().Format(time.RFC3339)
}

// Upload flattens a grade response into the frontend envelope.
func Upload(filename, id string, resp types.GradeResponse) types.UploadResponse {
	return types.UploadResponse{
		ID:                      id,
		Filename:                filename,
		GraderType:              resp.GraderType,
		GradePercentage:         resp.GradePercentage,
		DetectedNatureCode:      resp.Metadata.NatureCode,
		TotalQuestions:          resp.Summary.Total,
		CaseEntryQuestions:      resp.Metadata.CaseEntryQuestions,
		NatureCodeQuestions:     resp.Metadata.NatureCodeQuestions,
		QuestionsAskedCorrectly: resp.Summary.AskedCorrectly,
		QuestionsMissed:         resp.Summary.Missed,
		Timestamp:               resp.Timestamp,
		Grades:                  resp.Grades,
		Metadata:                resp.Metadata,
		Coaching:                actionable.ForReport(resp.Grades, resp.Summary),
	}
}
