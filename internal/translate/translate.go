// Package translate turns the user's query into each target language, consulting
// a cache first and degrading to "unavailable" instead of failing the session.
package translate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/FranksOps/docsweep/internal/metrics"
	"github.com/FranksOps/docsweep/internal/storage"
	"golang.org/x/text/language"
)

// Backend performs one translation call. Implementations return an error for
// any transport or service failure; the Translator decides what counts as usable.
type Backend interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Options tunes a Translator.
type Options struct {
	// Timeout bounds each backend call. Zero means no extra bound.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Translator combines a cache with a backend.
type Translator struct {
	backend Backend
	cache   storage.TranslationCache
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Translator. cache may be nil, in which case nothing is cached.
func New(backend Backend, cache storage.TranslationCache, opts Options) *Translator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Translator{
		backend: backend,
		cache:   cache,
		timeout: opts.Timeout,
		logger:  opts.Logger.With("component", "translator"),
	}
}

// Translate returns text in the target language. The boolean is false when no
// usable translation could be produced; callers fall back to the untranslated text.
// A successful backend result is cached before returning.
func (t *Translator) Translate(ctx context.Context, text, source, target string) (string, bool) {
	source, target = NormalizeLanguage(source), NormalizeLanguage(target)
	if source == target {
		return text, true
	}

	key := storage.TranslationKey{SourceText: text, SourceLanguage: source, TargetLanguage: target}
	if t.cache != nil {
		entry, err := t.cache.GetTranslation(ctx, key)
		if err != nil {
			t.logger.Warn("translation cache lookup failed", "target", target, "error", err)
		} else if entry != nil {
			metrics.RecordTranslation("cache_hit")
			return entry.TranslatedText, true
		}
	}

	if t.backend == nil {
		metrics.RecordTranslation("unavailable")
		return "", false
	}

	callCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	out, err := t.backend.Translate(callCtx, text, source, target)
	if err != nil {
		t.logger.Warn("translation unavailable", "source", source, "target", target, "error", err)
		metrics.RecordTranslation("unavailable")
		return "", false
	}
	out = strings.TrimSpace(out)
	if out == "" || strings.EqualFold(out, strings.TrimSpace(text)) {
		t.logger.Warn("translation unusable", "source", source, "target", target, "echo", out != "")
		metrics.RecordTranslation("unavailable")
		return "", false
	}

	if t.cache != nil {
		err := t.cache.PutTranslation(ctx, storage.TranslationCacheEntry{
			TranslationKey: key,
			TranslatedText: out,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			t.logger.Warn("translation cache write failed", "target", target, "error", err)
		}
	}
	metrics.RecordTranslation("translated")
	return out, true
}

// NormalizeLanguage reduces a BCP 47 tag to its base language, e.g. "zh-CN" -> "zh".
// Unparseable input is lower-cased and returned as is.
func NormalizeLanguage(code string) string {
	code = strings.TrimSpace(code)
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToLower(code)
	}
	base, _ := tag.Base()
	return base.String()
}
