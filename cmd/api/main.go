package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"call-grader-go/internal/aigrader"
	"call-grader-go/internal/api"
	"call-grader-go/internal/config"
	"call-grader-go/internal/dataset"
	"call-grader-go/internal/logger"
	"call-grader-go/internal/observe"
	"call-grader-go/internal/processor"
	"call-grader-go/internal/rubric"
	"call-grader-go/internal/store"
)

func main() {
	log := logger.New()

	cfg, err := config.Load(config.Options{ConfigFile: os.Getenv("GRADER_CONFIG")})
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	log.Logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	log.WithField("service", "call-grader-go").WithField("environment", cfg.Environment).Info("starting service")

	var catalog *dataset.Catalog
	if cfg.QuestionsPath != "" {
		c, summary, err := dataset.LoadAndSummarize(cfg.QuestionsPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load protocol questions")
		}
		catalog = c
		log.WithField("nature_codes", len(summary.NatureCodes)).Info("protocol catalog ready")
	}

	ai, err := aigrader.New(cfg.AIGrader())
	switch {
	case errors.Is(err, aigrader.ErrNotConfigured):
		log.Info("llm gateway not configured, ai grading disabled")
	case err != nil:
		log.WithError(err).Fatal("failed to configure ai grader")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observe.MustNewMetrics(reg)

	proc, err := processor.New(processor.Options{
		Rubric:  rubric.LoadConfig(cfg.RubricOptions()),
		Catalog: catalog,
		Roles:   cfg.Roles(),
		Policy:  cfg.Policy(),
		AI:      ai,
		Metrics: metrics,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build rubric")
	}

	server := api.New(api.Options{
		Processor:   proc,
		Store:       st,
		Gatherer:    reg,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      log,
	})

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("graceful shutdown failed")
		}
	}()

	log.WithField("addr", addr).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("server terminated")
	}
	log.Info("server stopped")
}
