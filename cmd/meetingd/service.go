package main

import (
	"context"
	"fmt"
	"time"

	"meeting-insights-go/internal/analyzer"
	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/fetcher"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/notify"
	"meeting-insights-go/internal/poller"
	"meeting-insights-go/internal/sink"
	"meeting-insights-go/internal/storage"
	"meeting-insights-go/internal/store"
	"meeting-insights-go/internal/tracing"
	"meeting-insights-go/internal/transcription"
	"meeting-insights-go/internal/transport"
	"meeting-insights-go/internal/workflow"
)

const (
	serviceName = "meeting-insights-go"

	speechTimeout   = 30 * time.Second
	downloadTimeout = 60 * time.Second
)

// service holds every long-lived component built from one Config.
type service struct {
	log      *logger.Logger
	store    store.Store
	notifier *notify.Notifier
	engine   *workflow.Engine
	tracing  tracing.Shutdown
}

// newService rejects an invalid cfg before any component is built.
func newService(ctx context.Context, cfg config.Config, log *logger.Logger) (_ *service, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &service{log: log}
	defer func() {
		if err != nil {
			s.close(context.WithoutCancel(ctx))
		}
	}()

	tracer, shutdown, err := tracing.Setup(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	s.tracing = shutdown

	if s.store, err = store.Open(ctx, cfg.StoreURL, log); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	// one pool shared by every outbound call
	pool := transport.NewPool(cfg.Concurrency)

	signer, err := storage.NewSASSigner(cfg.Storage)
	if err != nil {
		return nil, err
	}
	speech, err := transcription.NewClient(cfg.Speech, signer, cfg.Storage.SignedURLTTL,
		transport.New(speechTimeout, transport.WithPool(pool)), log)
	if err != nil {
		return nil, err
	}
	an, err := analyzer.New(cfg.OpenAI, log, transport.WithPool(pool))
	if err != nil {
		return nil, err
	}
	if s.notifier, err = notify.New(cfg.Notify, log); err != nil {
		return nil, err
	}

	acts := workflow.Activities{
		Submitter: speech,
		Poller:    poller.New(speech, cfg.Poll, log),
		Fetcher:   fetcher.New(transport.New(downloadTimeout, transport.WithPool(pool)), log),
		Analyzer:  an,
		Persister: sink.New(s.store, s.notifier, log),
	}
	s.engine = workflow.New(s.store, acts, workflow.Options{
		Retry:        cfg.Retry,
		DefaultInput: cfg.AudioBlobName,
		Tracer:       tracer,
	}, log)

	return s, nil
}

// close stops the engine and releases everything in reverse order of construction.
func (s *service) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if s.engine != nil {
		if err := s.engine.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("engine shutdown timed out")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close notifier")
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.log.WithError(err).Warn("failed to close store")
		}
	}
	if s.tracing != nil {
		if err := s.tracing(ctx); err != nil {
			s.log.WithError(err).Warn("failed to flush traces")
		}
	}
}
