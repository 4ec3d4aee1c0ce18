package main

import (
	"fmt"

	"github.com/menta2k/paddy-monitor/internal/config"
	"github.com/menta2k/paddy-monitor/internal/logging"
	"github.com/menta2k/paddy-monitor/internal/metrics"
	"github.com/menta2k/paddy-monitor/internal/orchestrator"
	"github.com/menta2k/paddy-monitor/internal/queue"
	"github.com/menta2k/paddy-monitor/internal/store"
	"github.com/menta2k/paddy-monitor/pkg/analyzer"
	"github.com/menta2k/paddy-monitor/pkg/assessment"
	"github.com/menta2k/paddy-monitor/pkg/client"
	"github.com/menta2k/paddy-monitor/pkg/llamacpp"
	"github.com/menta2k/paddy-monitor/pkg/ollama"
)

// app holds the components shared by serve and worker
type app struct {
	cfg     *config.Config
	log     *logging.Logger
	store   *store.Store
	queue   *queue.Queue
	metrics *metrics.Metrics
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg)

	s, err := store.Open(cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Database.Driver, err)
	}
	m := metrics.New()
	return &app{
		cfg:     cfg,
		log:     log,
		store:   s,
		queue:   queue.New(s.DB(), queue.OptionsFromConfig(cfg.Queue), log, m),
		metrics: m,
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("closing store", logging.Fields{"error": err})
	}
}

// worker builds the queue worker pool running the full analysis pipeline
func (a *app) worker(id string) (*queue.Worker, error) {
	assessor, err := newAssessor(a.cfg)
	if err != nil {
		return nil, err
	}
	orch := orchestrator.New(a.store, analyzer.NewWithConfig(a.cfg.AnalyzerSettings()), assessor, orchestrator.Options{
		StaleAfter: a.cfg.Queue.StaleAfter,
		Logger:     a.log,
		Metrics:    a.metrics,
	})
	return queue.NewWorker(a.queue, orch, queue.WorkerConfig{
		ID:           id,
		Concurrency:  a.cfg.Queue.Concurrency,
		PollInterval: a.cfg.Queue.PollInterval,
	}), nil
}

// newVisionClient picks the backend named by vision.provider
func newVisionClient(cfg config.VisionConfig) (client.VisionClient, error) {
	switch cfg.Provider {
	case "ollama":
		c, err := ollama.NewClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		c.SetOption("temperature", cfg.Temperature)
		return c, nil
	case "openai":
		c, err := llamacpp.NewClientWithConfig(llamacpp.Config{
			ServerURL:   cfg.URL,
			ChatPath:    cfg.ChatPath,
			APIKey:      cfg.APIKey,
			Timeout:     cfg.Timeout,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI-compatible client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown vision provider %q (use ollama or openai)", cfg.Provider)
	}
}

func newAssessor(cfg *config.Config) (*assessment.Assessor, error) {
	c, err := newVisionClient(cfg.Vision)
	if err != nil {
		return nil, err
	}
	return assessment.NewAssessorWithConfig(c, cfg.AssessmentSettings()), nil
}
