// Package app wires the service together from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ent0n29/nova/internal/assistant"
	"github.com/ent0n29/nova/internal/auth"
	"github.com/ent0n29/nova/internal/brain"
	"github.com/ent0n29/nova/internal/commands"
	"github.com/ent0n29/nova/internal/config"
	"github.com/ent0n29/nova/internal/credential"
	"github.com/ent0n29/nova/internal/httpapi"
	"github.com/ent0n29/nova/internal/memory"
	"github.com/ent0n29/nova/internal/observability"
	"github.com/ent0n29/nova/internal/persona"
	"github.com/ent0n29/nova/internal/recall"
	"github.com/ent0n29/nova/internal/session"
	"github.com/ent0n29/nova/internal/summarizer"
	"github.com/ent0n29/nova/internal/voice"
)

type BuildResult struct {
	Config        config.Config
	API           *httpapi.Server
	Sessions      *session.Manager
	Orchestrator  *assistant.Orchestrator
	Summarizer    *summarizer.Summarizer
	Authenticator *auth.Authenticator
	Credentials   *credential.FileStore
	Metrics       *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}

	creds := credential.NewFileStore(cfg.CredentialFile)
	authn := auth.New(creds, cfg.CreatorName)

	adapter, err := brain.NewAdapter(brain.Config{
		Mode:    cfg.BrainMode,
		CLIPath: cfg.BrainCLIPath,
		Model:   cfg.BrainModel,
		HTTPURL: cfg.BrainHTTPURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("brain adapter init failed: %w", err)
	}

	sum := summarizer.New(store, summarizer.NewHeuristicPolicy(), metrics, cfg.SummarizeEveryNTurns)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetCloseHook(func(s *session.Session) {
		metrics.SessionEvents.WithLabelValues("closed").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		// Closing a session flushes its unsummarized tail.
		flushCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		sum.Flush(flushCtx, s.ID, s.Identity.Username)
	})

	silent := &commands.SilentSwitch{}
	registry := commands.NewRegistry(metrics)
	commands.RegisterBuiltins(registry, commands.Builtins{
		Store:           store,
		System:          commands.NoopController{},
		Silencer:        silent,
		CreatorName:     cfg.CreatorName,
		WeatherLocation: cfg.WeatherLocation,
	})

	retriever := recall.New(store, cfg.ContextTurns, cfg.MemoryTopK)

	orchestrator := assistant.New(
		sessions,
		store,
		registry,
		retriever,
		persona.New(cfg.CreatorName),
		adapter,
		sum,
		voice.NewMockProvider(),
		silent,
		metrics,
		cfg.AppendMaxRetries,
	)

	api := httpapi.New(cfg, sessions, orchestrator, authn, creds, retriever, metrics)

	cleanup := func() error {
		return store.Close()
	}

	return &BuildResult{
		Config:        cfg,
		API:           api,
		Sessions:      sessions,
		Orchestrator:  orchestrator,
		Summarizer:    sum,
		Authenticator: authn,
		Credentials:   creds,
		Metrics:       metrics,
		Cleanup:       cleanup,
	}, nil
}
