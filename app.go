package main

import (
	"context"
	"fmt"

	"github.com/n0madic/go-llmportal/internal/assistant"
	"github.com/n0madic/go-llmportal/internal/audio"
	"github.com/n0madic/go-llmportal/internal/auth"
	"github.com/n0madic/go-llmportal/internal/chat"
	"github.com/n0madic/go-llmportal/internal/config"
	"github.com/n0madic/go-llmportal/internal/image"
	"github.com/n0madic/go-llmportal/internal/logger"
	"github.com/n0madic/go-llmportal/internal/models"
	"github.com/n0madic/go-llmportal/internal/orchestrator"
	"github.com/n0madic/go-llmportal/internal/responses"
	"github.com/n0madic/go-llmportal/internal/server"
	"github.com/n0madic/go-llmportal/internal/session"
	"github.com/n0madic/go-llmportal/internal/upstream"
)

// app holds everything built from one Config.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	client   *upstream.Client
	store    session.Store
	registry *models.Registry
	orch     *orchestrator.Orchestrator
}

// newApp wires credentials, transport, session store and handlers.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log, err := logger.InitGlobal(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	ts := auth.NewTokenSource(ctx, auth.Options{
		APIKey: cfg.OpenAI.APIKey,
		OAuth: auth.OAuthOptions{
			TokenURL:     cfg.OpenAI.OAuth.TokenURL,
			ClientID:     cfg.OpenAI.OAuth.ClientID,
			ClientSecret: cfg.OpenAI.OAuth.ClientSecret,
			Scopes:       cfg.OpenAI.OAuth.Scopes,
		},
	})
	client := upstream.NewClient(upstream.Options{
		BaseURL:      cfg.OpenAI.BaseURL,
		Organization: cfg.OpenAI.Organization,
		Project:      cfg.OpenAI.Project,
		Timeout:      cfg.OpenAI.Timeout,
		TokenSource:  ts,
		Logger:       log,
		Verbose:      cfg.Server.Verbose,
		Debug:        cfg.Server.Debug,
	})

	store, err := session.New(ctx, cfg.Session, log)
	if err != nil {
		return nil, err
	}

	chatHandler := chat.New(client, log)
	orch := orchestrator.New(orchestrator.Deps{
		Chat:      chatHandler,
		Responses: responses.New(client, store, log),
		Image:     image.New(client, chatHandler, log),
		Audio:     audio.New(client.OpenAIClient(), client, log),
		Assistant: assistant.New(client.OpenAIClient(), store, cfg.Assistant, log),
		Store:     store,
		Upstream:  client,
		Log:       log,
	})

	return &app{
		cfg:      cfg,
		log:      log,
		client:   client,
		store:    store,
		registry: models.NewRegistry(client, cfg.Models.CacheTTL, log),
		orch:     orch,
	}, nil
}

func (a *app) server() *server.Server {
	return server.New(server.Options{
		Config:       &a.cfg.Server,
		Orchestrator: a.orch,
		Registry:     a.registry,
		Store:        a.store,
		Locker:       session.NewLocker(),
		Logger:       a.log,
	})
}

func (a *app) close() {
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.log.Sync()
}
