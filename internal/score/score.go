// Package score rates downloaded documents against free-form relevance
// criteria. Scoring is optional and its failures never affect a download.
package score

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/docsweep/internal/config"
	"github.com/FranksOps/docsweep/internal/llm"
	"github.com/FranksOps/docsweep/internal/metrics"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoCriteria is returned when there is nothing to score against.
	ErrNoCriteria = errors.New("empty relevance criteria")
	// ErrMalformedResponse wraps backend replies that could not be decoded.
	ErrMalformedResponse = errors.New("malformed scoring response")
)

// Outcome is one relevance judgement. Score is within [0, 1].
type Outcome struct {
	Score     float64  `json:"score"`
	Summary   string   `json:"summary"`
	Relevant  bool     `json:"relevant"`
	Reason    string   `json:"reason,omitempty"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// BatchItem is the per-path entry of ScoreBatch. Err is set when that item failed.
type BatchItem struct {
	Outcome Outcome
	Err     error
}

// Backend judges one excerpt.
type Backend interface {
	Name() string
	Judge(ctx context.Context, excerpt Excerpt, criteria string) (Outcome, error)
}

// Options tunes a Scorer.
type Options struct {
	// MaxContentChars bounds the excerpt sent to the backend.
	MaxContentChars int
	// Timeout bounds one backend call; 0 means no extra deadline.
	Timeout time.Duration
	// Concurrency bounds ScoreBatch; defaults to 2.
	Concurrency int
	Logger      *slog.Logger
}

// Scorer reads excerpts and hands them to a Backend.
type Scorer struct {
	backend Backend
	opts    Options
	logger  *slog.Logger
}

// New creates a Scorer around backend.
func New(backend Backend, opts Options) *Scorer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxContentChars <= 0 {
		opts.MaxContentChars = 8000
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	return &Scorer{
		backend: backend,
		opts:    opts,
		logger:  opts.Logger.With("component", "scorer", "backend", backend.Name()),
	}
}

// NewFromConfig builds the configured backend. It returns nil when scoring is disabled.
func NewFromConfig(cfg config.ScoringConfig, logger *slog.Logger) (*Scorer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var backend Backend
	switch cfg.Backend {
	case "keyword", "":
		backend = Keyword{}
	case "openai":
		client, err := llm.New(llm.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("scoring backend: %w", err)
		}
		backend = NewLLM(client)
	default:
		return nil, &config.ConfigurationError{Field: "scoring.backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}
	return New(backend, Options{
		MaxContentChars: cfg.MaxContentChars,
		Timeout:         cfg.Timeout,
		Logger:          logger,
	}), nil
}

// Backend returns the name of the backend in use.
func (s *Scorer) Backend() string {
	return s.backend.Name()
}

// Score judges the file at path against criteria.
func (s *Scorer) Score(ctx context.Context, path, criteria string) (Outcome, error) {
	out, err := s.score(ctx, path, criteria)
	if err != nil {
		metrics.RecordScore(s.backend.Name(), "error")
		s.logger.Warn("scoring failed", "path", path, "error", err)
		return Outcome{}, err
	}
	metrics.RecordScore(s.backend.Name(), "ok")
	s.logger.Debug("scored document", "path", path, "score", out.Score)
	return out, nil
}

func (s *Scorer) score(ctx context.Context, path, criteria string) (Outcome, error) {
	criteria = strings.TrimSpace(criteria)
	if criteria == "" {
		return Outcome{}, ErrNoCriteria
	}
	excerpt, err := ReadExcerpt(path, s.opts.MaxContentChars)
	if err != nil {
		return Outcome{}, fmt.Errorf("read excerpt: %w", err)
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	out, err := s.backend.Judge(ctx, excerpt, criteria)
	if err != nil {
		return Outcome{}, err
	}
	if math.IsNaN(out.Score) {
		return Outcome{}, fmt.Errorf("%w: score is NaN", ErrMalformedResponse)
	}
	out.Score = clamp(out.Score)
	return out, nil
}

// ScoreBatch scores every path independently. A failed item is reported in
// its BatchItem and does not stop the others.
func (s *Scorer) ScoreBatch(ctx context.Context, paths []string, criteria string) map[string]BatchItem {
	var (
		mu  sync.Mutex
		out = make(map[string]BatchItem, len(paths))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, p := range paths {
		g.Go(func() error {
			o, err := s.Score(ctx, p, criteria)
			mu.Lock()
			out[p] = BatchItem{Outcome: o, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
