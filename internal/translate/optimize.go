package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/FranksOps/docsweep/internal/llm"
	"github.com/FranksOps/docsweep/internal/metrics"
)

// ErrNoVariants is returned when the model reply held no usable query.
var ErrNoVariants = errors.New("no query variants")

// Variant is an alternative search query for one language.
type Variant struct {
	Query      string  `json:"query"`
	Kind       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// OptimizerOptions tunes an Optimizer.
type OptimizerOptions struct {
	// MaxVariants caps the variants returned per call. Defaults to 3.
	MaxVariants int
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Optimizer asks a chat model for broader, narrower and synonym variants of a
// query that is already in the target language.
type Optimizer struct {
	completer llm.Completer
	max       int
	timeout   time.Duration
	logger    *slog.Logger
}

// NewOptimizer wraps completer.
func NewOptimizer(completer llm.Completer, opts OptimizerOptions) *Optimizer {
	if opts.MaxVariants <= 0 {
		opts.MaxVariants = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Optimizer{
		completer: completer,
		max:       opts.MaxVariants,
		timeout:   opts.Timeout,
		logger:    opts.Logger.With("component", "optimizer"),
	}
}

const optimizePrompt = `You improve web search queries for finding documents such as reports, papers and datasets.
Given a query and its language, suggest alternative queries in that same language:
broader and more specific phrasings, synonyms and the technical terms people in that
language actually search for. Reply with JSON only:
{"optimized_queries": [{"query": "...", "type": "broad|specific|technical|alternative", "confidence": 0.0, "reasoning": "..."}]}`

// Optimize returns up to MaxVariants queries that differ from query. An error
// means no variants are available; callers keep searching with query alone.
func (o *Optimizer) Optimize(ctx context.Context, query, lang string) ([]Variant, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	user := fmt.Sprintf("Language: %s\nMaximum queries: %d\nQuery: %s", languageName(lang), o.max, query)
	out, err := o.completer.Complete(ctx, optimizePrompt, user)
	if err != nil {
		metrics.RecordTranslation("optimize_failed")
		return nil, err
	}

	variants, err := parseVariants(out, query, o.max)
	if err != nil {
		o.logger.Warn("query variants unusable", "language", lang, "error", err)
		metrics.RecordTranslation("optimize_failed")
		return nil, err
	}
	metrics.RecordTranslation("optimized")
	o.logger.Debug("query variants generated", "language", lang, "count", len(variants))
	return variants, nil
}

// parseVariants drops blanks, repeats and echoes of the original query.
func parseVariants(reply, original string, limit int) ([]Variant, error) {
	var body struct {
		Queries []Variant `json:"optimized_queries"`
	}
	raw := llm.StripCodeFence(reply)
	if i, j := strings.IndexByte(raw, '{'), strings.LastIndexByte(raw, '}'); i >= 0 && j > i {
		raw = raw[i : j+1]
	}
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}

	seen := map[string]bool{strings.ToLower(strings.TrimSpace(original)): true}
	var out []Variant
	for _, v := range body.Queries {
		v.Query = strings.Join(strings.Fields(v.Query), " ")
		key := strings.ToLower(v.Query)
		if v.Query == "" || seen[key] {
			continue
		}
		seen[key] = true
		if v.Kind == "" {
			v.Kind = "alternative"
		}
		v.Confidence = min(max(v.Confidence, 0), 1)
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNoVariants
	}
	return out, nil
}
