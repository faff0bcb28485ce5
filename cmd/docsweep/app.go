package main

import (
	"context"
	"fmt"

	"github.com/FranksOps/docsweep/internal/config"
	"github.com/FranksOps/docsweep/internal/download"
	"github.com/FranksOps/docsweep/internal/filestore"
	"github.com/FranksOps/docsweep/internal/fingerprint"
	"github.com/FranksOps/docsweep/internal/llm"
	"github.com/FranksOps/docsweep/internal/orchestrator"
	"github.com/FranksOps/docsweep/internal/provider"
	"github.com/FranksOps/docsweep/internal/score"
	"github.com/FranksOps/docsweep/internal/storage"
	"github.com/FranksOps/docsweep/internal/storage/memory"
	"github.com/FranksOps/docsweep/internal/storage/postgres"
	"github.com/FranksOps/docsweep/internal/storage/sqlite"
	"github.com/FranksOps/docsweep/internal/translate"
	"github.com/FranksOps/docsweep/pkg/httpclient"
)

// app holds the long-lived collaborators shared by every subcommand.
type app struct {
	repo  storage.Repository
	files *filestore.Manager
}

func openApp(ctx context.Context) (*app, error) {
	repo, err := openRepository(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	return &app{
		repo:  repo,
		files: filestore.New(cfg.Storage.Root, logger),
	}, nil
}

func (a *app) Close() error {
	return a.repo.Close()
}

func openRepository(ctx context.Context, sc config.StorageConfig) (storage.Repository, error) {
	switch sc.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(sc.DSN)
	case "postgres":
		return postgres.New(ctx, sc.DSN)
	default:
		return nil, &config.ConfigurationError{Field: "storage.driver", Reason: fmt.Sprintf("unknown driver %q", sc.Driver)}
	}
}

// searchClient is the fingerprinted HTTP client the search engines share.
func searchClient() (*httpclient.Client, error) {
	profile, err := fingerprint.ParseProfile(cfg.Download.Fingerprint)
	if err != nil {
		return nil, err
	}
	transport, err := fingerprint.Transport(fingerprint.Options{Profile: profile})
	if err != nil {
		return nil, fmt.Errorf("search transport: %w", err)
	}
	return httpclient.New(httpclient.Config{
		Timeout:      cfg.Search.Timeout,
		MaxRedirects: 5,
		UseCookieJar: true,
		Transport:    transport,
		UserAgents:   []string{},
		Logger:       logger,
	})
}

// translator returns nil when translation is disabled. The repository doubles
// as the cache when it can store translations.
func (a *app) translator() (*translate.Translator, error) {
	tc := cfg.Translation
	if !tc.Enabled {
		return nil, nil
	}

	var backend translate.Backend
	switch tc.Backend {
	case "http":
		client, err := httpclient.New(httpclient.Config{Timeout: tc.Timeout, Logger: logger})
		if err != nil {
			return nil, err
		}
		backend = translate.NewHTTPBackend(tc.Endpoint, tc.APIKey, client)
	case "openai":
		completer, err := llm.New(llm.Config{
			APIKey:  tc.APIKey,
			BaseURL: tc.Endpoint,
			Model:   tc.Model,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		backend = translate.NewLLMBackend(completer)
	default:
		return nil, &config.ConfigurationError{Field: "translation.backend", Reason: fmt.Sprintf("unknown backend %q", tc.Backend)}
	}

	var cache storage.TranslationCache = translate.NewMemoryCache(tc.CacheTTL)
	if rc, ok := a.repo.(storage.TranslationCache); ok && tc.CacheTTL == 0 {
		cache = rc
	}
	return translate.New(backend, cache, translate.Options{Timeout: tc.Timeout, Logger: logger}), nil
}

// chatModel returns the completer of the first enabled openai backend, or nil.
func chatModel() (*llm.Client, error) {
	switch {
	case cfg.Translation.Enabled && cfg.Translation.Backend == "openai":
		return llm.New(llm.Config{
			APIKey:  cfg.Translation.APIKey,
			BaseURL: cfg.Translation.Endpoint,
			Model:   cfg.Translation.Model,
			Logger:  logger,
		})
	case cfg.Scoring.Enabled && cfg.Scoring.Backend == "openai":
		return llm.New(llm.Config{
			APIKey:  cfg.Scoring.APIKey,
			BaseURL: cfg.Scoring.BaseURL,
			Model:   cfg.Scoring.Model,
			Logger:  logger,
		})
	default:
		return nil, nil
	}
}

// optimizer returns nil when no chat model is configured.
func optimizer() (*translate.Optimizer, error) {
	completer, err := chatModel()
	if err != nil || completer == nil {
		return nil, err
	}
	return translate.NewOptimizer(completer, translate.OptimizerOptions{
		MaxVariants: cfg.Translation.MaxVariants,
		Timeout:     cfg.Translation.Timeout,
		Logger:      logger,
	}), nil
}

// orchestrator wires the full pipeline from the loaded configuration.
func (a *app) orchestrator() (*orchestrator.Orchestrator, error) {
	client, err := searchClient()
	if err != nil {
		return nil, err
	}
	pool, err := provider.NewPoolFromConfig(provider.DefaultRegistry(), cfg.Search, provider.Options{
		Client: client,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	downloader, err := download.NewFromConfig(cfg.Download, a.files, logger)
	if err != nil {
		return nil, err
	}

	deps := orchestrator.Deps{
		Repo:       a.repo,
		Search:     pool,
		Downloader: downloader,
		Files:      a.files,
		Logger:     logger,
	}

	tr, err := a.translator()
	if err != nil {
		return nil, err
	}
	if tr != nil {
		deps.Translator = tr
	}

	opt, err := optimizer()
	if err != nil {
		return nil, err
	}
	if opt != nil {
		deps.Optimizer = opt
	}

	scorer, err := score.NewFromConfig(cfg.Scoring, logger)
	if err != nil {
		return nil, err
	}
	if scorer != nil {
		logger.Debug("relevance scoring enabled", "backend", scorer.Backend())
		deps.Scorer = scorer
	}

	return orchestrator.New(orchestrator.Config{
		MaxResultsPerEngine: cfg.Search.MaxResultsPerEngine,
		Languages:           cfg.Languages,
	}, deps)
}
