// Package api serves the grading HTTP API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"call-grader-go/internal/logger"
	"call-grader-go/internal/observe"
	"call-grader-go/internal/processor"
	"call-grader-go/internal/store"
)

const serviceName = "EMS Call Analysis API"

// RecordStore persists graded calls.
type RecordStore interface {
	Save(ctx context.Context, rec store.Record) (store.Record, error)
	Get(ctx context.Context, id string) (store.Record, error)
	List(ctx context.Context, limit int) ([]store.Record, error)
}

type Options struct {
	Processor *processor.Processor
	// Store is optional; without it uploads are not persisted.
	Store       RecordStore
	Gatherer    prometheus.Gatherer
	CORSOrigins []string
	Logger      *logger.Logger
	// MaxUpload caps multipart uploads, default 32 MiB.
	MaxUpload int64
}

type Server struct {
	opts Options
	log  *logger.Logger
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logger.New()
	}
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 32 << 20
	}
	return &Server{opts: opts, log: opts.Logger}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, s.requestLogger, middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", logger.RequestIDHeader},
		ExposedHeaders:   []string{"Content-Length", logger.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api", func(ar chi.Router) {
		ar.Get("/health", s.health)
		ar.Post("/grade", s.gradeRule)
		ar.Post("/grade/rule", s.gradeRule)
		ar.Post("/grade/ai", s.gradeAI)
		ar.Post("/grade/all", s.gradeAll)
		ar.Post("/upload", s.upload)
		ar.Get("/records", s.listRecords)
		ar.Get("/records/{id}", s.getRecord)
		ar.Get("/questions/nature-codes", s.natureCodes)
	})
	if s.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", observe.Handler(s.opts.Gatherer))
	}
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := logger.RequestID(r)
		r.Header.Set(logger.RequestIDHeader, id)
		w.Header().Set(logger.RequestIDHeader, id)
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithRequest(r).WithField("status", ww.Status()).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Info("request served")
	})
}
