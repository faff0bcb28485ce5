package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/FranksOps/docsweep/internal/config"
	"github.com/FranksOps/docsweep/internal/metrics"
	"github.com/FranksOps/docsweep/pkg/ratelimit"
)

// Pool serializes calls into each provider and spaces them by a per-provider
// minimum gap. Different providers run concurrently.
type Pool struct {
	logger  *slog.Logger
	order   []string
	entries map[string]*poolEntry
}

type poolEntry struct {
	mu       sync.Mutex
	provider Provider
	limiter  *ratelimit.Limiter
}

// NewPool creates an empty pool.
func NewPool(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{logger: logger, entries: make(map[string]*poolEntry)}
}

// NewPoolFromConfig builds a pool holding cfg.EnabledEngines in their configured order.
func NewPoolFromConfig(reg *Registry, cfg config.SearchConfig, opts Options) (*Pool, error) {
	pool := NewPool(opts.Logger)
	for _, name := range cfg.EnabledEngines {
		o := opts
		if name == searxngName {
			o.BaseURL = cfg.SearxngURL
		}
		p, err := reg.New(name, o)
		if err != nil {
			return nil, err
		}
		if err := pool.Add(p, cfg.DelayFor(name)); err != nil {
			return nil, err
		}
	}
	return pool, nil
}

// Add registers p with the given minimum inter-request gap.
func (p *Pool) Add(prov Provider, minGap time.Duration) error {
	name := prov.Name()
	if _, ok := p.entries[name]; ok {
		return fmt.Errorf("provider %q added twice", name)
	}
	p.entries[name] = &poolEntry{provider: prov, limiter: ratelimit.NewLimiter(minGap, 0)}
	p.order = append(p.order, name)
	return nil
}

// Names returns the provider names in priority order.
func (p *Pool) Names() []string {
	return append([]string(nil), p.order...)
}

// Search runs one query against the named provider. Every failure is logged,
// counted and turned into an empty result.
func (p *Pool) Search(ctx context.Context, name, query, lang string, maxResults int) []Candidate {
	e, ok := p.entries[name]
	if !ok {
		p.logger.Warn("search on unknown provider", "engine", name)
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.limiter.Wait(ctx); err != nil {
		metrics.RecordSearch(name, "cancelled", 0, 0)
		return nil
	}

	start := time.Now()
	cands, err := e.provider.Search(ctx, query, lang, maxResults)
	elapsed := time.Since(start)

	if err != nil {
		outcome := "error"
		switch {
		case ctx.Err() != nil:
			outcome = "cancelled"
		case errors.Is(err, ErrBlocked):
			outcome = "blocked"
		}
		metrics.RecordSearch(name, outcome, 0, elapsed)
		p.logger.Warn("search failed", "engine", name, "query", query, "language", lang, "outcome", outcome, "error", err)
		return nil
	}

	if maxResults > 0 && len(cands) > maxResults {
		cands = cands[:maxResults]
	}
	for i := range cands {
		cands[i].Rank = i + 1
	}

	outcome := "ok"
	if len(cands) == 0 {
		outcome = "empty"
	}
	metrics.RecordSearch(name, outcome, len(cands), elapsed)
	p.logger.Debug("search finished", "engine", name, "query", query, "candidates", len(cands), "duration", elapsed)
	return cands
}
