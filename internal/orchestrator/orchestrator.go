// Package orchestrator runs one search session end to end: translate the query
// into each language, fan out to every search engine, deduplicate, download and
// optionally score. Per-item failures are recorded on the Result; only storage
// failures and cancellation end a session as failed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/FranksOps/docsweep/internal/dedupe"
	"github.com/FranksOps/docsweep/internal/download"
	"github.com/FranksOps/docsweep/internal/filestore"
	"github.com/FranksOps/docsweep/internal/langdetect"
	"github.com/FranksOps/docsweep/internal/metrics"
	"github.com/FranksOps/docsweep/internal/provider"
	"github.com/FranksOps/docsweep/internal/score"
	"github.com/FranksOps/docsweep/internal/storage"
	"github.com/FranksOps/docsweep/internal/translate"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrStorage marks a repository or local disk failure that aborted a session.
	ErrStorage = errors.New("storage failure")
	// ErrEmptyQuery is returned before any session is created.
	ErrEmptyQuery = errors.New("empty query")
)

// cancelledMessage is the session error recorded when the caller cancels a run.
const cancelledMessage = "cancelled"

// Searcher runs one engine for one query and never fails; *provider.Pool implements it.
type Searcher interface {
	Names() []string
	Search(ctx context.Context, engine, query, lang string, maxResults int) []provider.Candidate
}

// Translator returns false when no translation is available.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, bool)
}

// Optimizer proposes extra queries for a query already in lang.
type Optimizer interface {
	Optimize(ctx context.Context, query, lang string) ([]translate.Variant, error)
}

// Fetcher downloads one Result and always returns a terminal outcome.
type Fetcher interface {
	Fetch(ctx context.Context, session *storage.Session, result *storage.Result, started func() error) download.Outcome
}

// Scorer rates one downloaded file.
type Scorer interface {
	Score(ctx context.Context, path, criteria string) (score.Outcome, error)
}

// FileManager owns the session directory.
type FileManager interface {
	SessionDir(session *storage.Session) string
	WriteManifest(session *storage.Session) (string, error)
	WriteQueries(session *storage.Session, records []filestore.QueryRecord) (string, error)
	Release(session *storage.Session)
}

var (
	_ Searcher    = (*provider.Pool)(nil)
	_ Translator  = (*translate.Translator)(nil)
	_ Optimizer   = (*translate.Optimizer)(nil)
	_ Fetcher     = (*download.Downloader)(nil)
	_ Scorer      = (*score.Scorer)(nil)
	_ FileManager = (*filestore.Manager)(nil)
)

// Config holds the per-session knobs.
type Config struct {
	MaxResultsPerEngine int
	// Languages is used when a Request names none.
	Languages          []string
	ScoringConcurrency int
}

// Deps are the collaborators. Translator, Optimizer, Scorer and Files may be nil.
type Deps struct {
	Repo       storage.Repository
	Search     Searcher
	Translator Translator
	Optimizer  Optimizer
	Downloader Fetcher
	Scorer     Scorer
	Files      FileManager
	Logger     *slog.Logger
}

// Request is one user query.
type Request struct {
	Query    string
	Criteria string
	// Languages are searched in addition to the detected language of Query.
	Languages []string
	// Optimize adds model-suggested query variants per language when an
	// Optimizer is configured.
	Optimize bool
}

// Stats are cumulative counters across every session this Orchestrator ran.
type Stats struct {
	SessionsStarted   int64 `json:"sessions_started"`
	SessionsRunning   int64 `json:"sessions_running"`
	SessionsCompleted int64 `json:"sessions_completed"`
	SessionsFailed    int64 `json:"sessions_failed"`
	Candidates        int64 `json:"candidates"`
	Duplicates        int64 `json:"duplicates"`
	Accepted          int64 `json:"accepted"`
	Downloaded        int64 `json:"downloaded"`
	DownloadFailed    int64 `json:"download_failed"`
	Skipped           int64 `json:"skipped"`
	Scored            int64 `json:"scored"`
}

type counters struct {
	started, running, completed, failed         atomic.Int64
	candidates, duplicates, accepted            atomic.Int64
	downloaded, downloadFailed, skipped, scored atomic.Int64
}

// Orchestrator drives sessions through pending -> running -> completed|failed.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	stats  counters
}

// New validates the required collaborators.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Repo == nil {
		return nil, errors.New("orchestrator requires a repository")
	}
	if deps.Search == nil {
		return nil, errors.New("orchestrator requires a searcher")
	}
	if deps.Downloader == nil {
		return nil, errors.New("orchestrator requires a downloader")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxResultsPerEngine <= 0 {
		cfg.MaxResultsPerEngine = 10
	}
	if cfg.ScoringConcurrency <= 0 {
		cfg.ScoringConcurrency = 2
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "orchestrator"),
	}, nil
}

// Stats returns a snapshot of the live counters.
func (o *Orchestrator) Stats() Stats {
	c := &o.stats
	return Stats{
		SessionsStarted:   c.started.Load(),
		SessionsRunning:   c.running.Load(),
		SessionsCompleted: c.completed.Load(),
		SessionsFailed:    c.failed.Load(),
		Candidates:        c.candidates.Load(),
		Duplicates:        c.duplicates.Load(),
		Accepted:          c.accepted.Load(),
		Downloaded:        c.downloaded.Load(),
		DownloadFailed:    c.downloadFailed.Load(),
		Skipped:           c.skipped.Load(),
		Scored:            c.scored.Load(),
	}
}

// Session loads one session with its results.
func (o *Orchestrator) Session(ctx context.Context, id string) (*storage.Session, error) {
	return o.deps.Repo.GetSession(ctx, id)
}

// Sessions lists every stored session, newest first.
func (o *Orchestrator) Sessions(ctx context.Context) ([]*storage.Session, error) {
	return o.deps.Repo.ListSessions(ctx)
}

// Languages returns the detected language of query followed by the requested
// ones, normalized and without repeats.
func Languages(query string, requested []string) []string {
	primary := translate.NormalizeLanguage(langdetect.Detect(query))
	out := []string{primary}
	seen := map[string]bool{primary: true}
	for _, l := range requested {
		l = translate.NormalizeLanguage(l)
		if l == "" || l == "und" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// Run executes one session and returns it with all of its results. The error
// wraps ErrStorage when storage failed and is ctx.Err() when the run was
// cancelled; in both cases the returned session, if any, is failed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*storage.Session, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	requested := req.Languages
	if len(requested) == 0 {
		requested = o.cfg.Languages
	}
	langs := Languages(query, requested)

	session, err := o.deps.Repo.CreateSession(ctx, query, req.Criteria, langs)
	if err != nil {
		return nil, fmt.Errorf("%w: create session: %v", ErrStorage, err)
	}
	log := o.logger.With("session", session.ID)

	sr := &run{
		o:        o,
		session:  session,
		criteria: strings.TrimSpace(req.Criteria),
		optimize: req.Optimize && o.deps.Optimizer != nil,
		log:      log,
	}

	update := storage.SessionUpdate{Status: storage.SessionRunning}
	if o.deps.Files != nil {
		update.StoragePath = o.deps.Files.SessionDir(session)
	}
	if err := o.deps.Repo.UpdateSession(ctx, session.ID, update); err != nil {
		return nil, fmt.Errorf("%w: start session: %v", ErrStorage, err)
	}
	session.Status = storage.SessionRunning
	session.StoragePath = update.StoragePath

	o.stats.started.Add(1)
	o.stats.running.Add(1)
	metrics.SessionStarted()
	log.Info("session started", "query", query, "languages", langs, "criteria", sr.criteria != "")

	fatal := sr.execute(ctx, langs)
	return sr.finish(ctx, fatal)
}

type queryFor struct {
	language   string
	text       string
	translated bool
	// variant is set for optimizer suggestions.
	variant *translate.Variant
}

type sourced struct {
	query     queryFor
	engine    string
	candidate provider.Candidate
}

// run is the mutable state of one session. Each Result is owned by exactly one
// goroutine per stage; stages are separated by errgroup barriers.
type run struct {
	o        *Orchestrator
	session  *storage.Session
	criteria string
	optimize bool
	log      *slog.Logger

	results []*storage.Result
}

func (r *run) execute(ctx context.Context, langs []string) error {
	queries := r.translate(ctx, langs)
	if r.optimize {
		queries = r.expand(ctx, queries)
	}
	candidates := r.search(ctx, queries)
	if err := r.accept(ctx, candidates); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := r.download(ctx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}
	return r.score(ctx)
}

// translate produces one query per language. The first language is the
// detected language of the query and is used as-is.
func (r *run) translate(ctx context.Context, langs []string) []queryFor {
	queries := make([]queryFor, len(langs))
	primary := langs[0]
	g, gctx := errgroup.WithContext(ctx)
	for i, lang := range langs {
		queries[i] = queryFor{language: lang, text: r.session.Query}
		if i == 0 || r.o.deps.Translator == nil {
			continue
		}
		g.Go(func() error {
			text, ok := r.o.deps.Translator.Translate(gctx, r.session.Query, primary, lang)
			if !ok || strings.TrimSpace(text) == "" {
				r.log.Warn("translation unavailable, searching untranslated", "language", lang)
				return nil
			}
			queries[i] = queryFor{language: lang, text: text, translated: true}
			return nil
		})
	}
	_ = g.Wait()
	return queries
}

// expand inserts the optimizer's variants after each language's query, keeping
// language order. A language whose variants are unavailable keeps its one query.
func (r *run) expand(ctx context.Context, queries []queryFor) []queryFor {
	variants := make([][]translate.Variant, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			vs, err := r.o.deps.Optimizer.Optimize(gctx, q.text, q.language)
			if err != nil {
				r.log.Warn("query variants unavailable", "language", q.language, "error", err)
				return nil
			}
			variants[i] = vs
			return nil
		})
	}
	_ = g.Wait()

	var out []queryFor
	for i, q := range queries {
		out = append(out, q)
		for _, v := range variants[i] {
			out = append(out, queryFor{language: q.language, text: v.Query, translated: q.translated, variant: &v})
		}
	}
	r.log.Info("queries optimized", "languages", len(queries), "queries", len(out))
	r.recordQueries(out)
	return out
}

// recordQueries writes the queries of the session next to its downloads.
func (r *run) recordQueries(queries []queryFor) {
	if r.o.deps.Files == nil {
		return
	}
	records := make([]filestore.QueryRecord, 0, len(queries))
	for _, q := range queries {
		rec := filestore.QueryRecord{
			OriginalQuery: r.session.Query,
			Query:         q.text,
			Language:      q.language,
			Kind:          "original",
			Confidence:    1,
		}
		switch {
		case q.variant != nil:
			rec.Kind, rec.Confidence, rec.Reasoning = q.variant.Kind, q.variant.Confidence, q.variant.Reasoning
		case q.translated:
			rec.Kind = "translated"
		}
		records = append(records, rec)
	}
	p, err := r.o.deps.Files.WriteQueries(r.session, records)
	if err != nil {
		r.log.Warn("could not write session queries", "error", err)
		return
	}
	r.log.Debug("session queries written", "path", p)
}

// search fans out every (language, engine) pair and merges the outputs in
// language order, then engine priority order, then rank. That order decides
// which duplicate is kept.
func (r *run) search(ctx context.Context, queries []queryFor) []sourced {
	engines := r.o.deps.Search.Names()
	outputs := make([][][]provider.Candidate, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	for li, q := range queries {
		outputs[li] = make([][]provider.Candidate, len(engines))
		for ei, engine := range engines {
			g.Go(func() error {
				outputs[li][ei] = r.o.deps.Search.Search(gctx, engine, q.text, q.language, r.o.cfg.MaxResultsPerEngine)
				return nil
			})
		}
	}
	_ = g.Wait()

	var merged []sourced
	for li, q := range queries {
		for ei, engine := range engines {
			for _, c := range outputs[li][ei] {
				merged = append(merged, sourced{query: q, engine: engine, candidate: c})
			}
		}
	}
	r.log.Info("search stage finished", "queries", len(queries), "engines", len(engines), "candidates", len(merged))
	return merged
}

// accept deduplicates candidates and persists the survivors as pending Results.
func (r *run) accept(ctx context.Context, candidates []sourced) error {
	set := dedupe.NewSet()
	kept := dedupe.Filter(set, candidates, func(s sourced) string { return s.candidate.URL })

	r.o.stats.candidates.Add(int64(len(candidates)))
	r.o.stats.duplicates.Add(int64(len(candidates) - len(kept)))

	store := context.WithoutCancel(ctx)
	for _, k := range kept {
		res := &storage.Result{
			SessionID: r.session.ID,
			Language:  k.Item.query.language,
			Engine:    k.Item.engine,
			Rank:      k.Item.candidate.Rank,
			URL:       k.Item.candidate.URL,
			Title:     k.Item.candidate.Title,
			Snippet:   k.Item.candidate.Snippet,
			DedupeKey: k.Key,
			Status:    storage.StatusPending,
		}
		if k.Item.query.translated || k.Item.query.variant != nil {
			res.TranslatedQuery = k.Item.query.text
		}
		if err := r.o.deps.Repo.SaveResult(store, res); err != nil {
			if errors.Is(err, storage.ErrDuplicateResult) {
				r.log.Warn("repository rejected duplicate result", "url", res.URL)
				continue
			}
			return fmt.Errorf("%w: save result: %v", ErrStorage, err)
		}
		r.results = append(r.results, res)
	}
	r.o.stats.accepted.Add(int64(len(r.results)))
	r.log.Info("results accepted", "accepted", len(r.results), "duplicates", len(candidates)-len(kept))
	return nil
}

// setStatus persists a transition and mirrors it on the in-memory Result.
func (r *run) setStatus(ctx context.Context, res *storage.Result, status storage.DownloadStatus, update storage.ResultUpdate) error {
	if err := r.o.deps.Repo.UpdateResultStatus(ctx, res.ID, status, update); err != nil {
		return fmt.Errorf("%w: update result %s: %v", ErrStorage, res.ID, err)
	}
	res.Status = status
	if update.FailureReason != "" {
		res.FailureReason = update.FailureReason
	}
	if update.FilePath != "" {
		res.FilePath = update.FilePath
		res.FileType = update.FileType
		res.FileSize = update.FileSize
	}
	return nil
}

// download resolves every pending Result. The Fetcher bounds concurrency, so
// one goroutine per Result only queues. A Result is marked downloading once its
// transfer holds a slot; queued Results stay pending.
func (r *run) download(ctx context.Context) error {
	store := context.WithoutCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for _, res := range r.results {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			var startErr error
			out := r.o.deps.Downloader.Fetch(gctx, r.session, res, func() error {
				startErr = r.setStatus(store, res, storage.StatusDownloading, storage.ResultUpdate{})
				return startErr
			})
			if startErr != nil {
				return startErr
			}
			update := storage.ResultUpdate{FailureReason: out.Reason}
			if out.Status == storage.StatusDownloaded {
				update.FilePath, update.FileType, update.FileSize = out.Path, out.FileType, out.Size
			}
			if err := r.setStatus(store, res, out.Status, update); err != nil {
				return err
			}

			switch out.Status {
			case storage.StatusDownloaded:
				r.o.stats.downloaded.Add(1)
			case storage.StatusSkipped:
				r.o.stats.skipped.Add(1)
			default:
				r.o.stats.downloadFailed.Add(1)
			}
			if errors.Is(out.Err, download.ErrLocalStorage) {
				return fmt.Errorf("%w: %v", ErrStorage, out.Err)
			}
			return nil
		})
	}
	return g.Wait()
}

// score rates every downloaded Result when criteria and a Scorer are present.
// Scoring errors leave the score unset.
func (r *run) score(ctx context.Context) error {
	if r.criteria == "" || r.o.deps.Scorer == nil {
		return nil
	}
	store := context.WithoutCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.o.cfg.ScoringConcurrency)
	for _, res := range r.results {
		if res.Status != storage.StatusDownloaded {
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out, err := r.o.deps.Scorer.Score(gctx, res.FilePath, r.criteria)
			if err != nil {
				r.log.Warn("scoring unavailable", "result", res.ID, "error", err)
				return nil
			}
			if err := r.o.deps.Repo.SetResultScore(store, res.ID, out.Score, out.Summary); err != nil {
				return fmt.Errorf("%w: save score: %v", ErrStorage, err)
			}
			s := out.Score
			res.Score, res.Summary = &s, out.Summary
			r.o.stats.scored.Add(1)
			return nil
		})
	}
	return g.Wait()
}

// finish resolves leftovers as failed:cancelled and moves the session to its
// terminal status.
func (r *run) finish(ctx context.Context, fatal error) (*storage.Session, error) {
	store := context.WithoutCancel(ctx)
	o := r.o

	status, message := storage.SessionCompleted, ""
	var runErr error
	switch {
	case fatal != nil:
		status, message, runErr = storage.SessionFailed, fatal.Error(), fatal
	case ctx.Err() != nil:
		status, message, runErr = storage.SessionFailed, cancelledMessage, ctx.Err()
	}

	total := 0
	for _, res := range r.results {
		if !res.Status.Terminal() {
			err := r.setStatus(store, res, storage.StatusFailed, storage.ResultUpdate{FailureReason: storage.ReasonCancelled})
			if err != nil {
				r.log.Error("could not resolve result", "result", res.ID, "error", err)
				if runErr == nil {
					status, message, runErr = storage.SessionFailed, err.Error(), err
				}
			}
		}
		if res.Status != storage.StatusPending {
			total++
		}
	}

	if err := o.deps.Repo.UpdateSession(store, r.session.ID, storage.SessionUpdate{
		Status:       status,
		TotalResults: total,
		Error:        message,
	}); err != nil {
		status = storage.SessionFailed
		if runErr == nil {
			runErr = fmt.Errorf("%w: finish session: %v", ErrStorage, err)
		}
	}

	o.stats.running.Add(-1)
	if status == storage.SessionCompleted {
		o.stats.completed.Add(1)
	} else {
		o.stats.failed.Add(1)
	}
	metrics.SessionFinished(string(status))

	final, err := o.deps.Repo.GetSession(store, r.session.ID)
	if err != nil {
		r.session.Status, r.session.TotalResults, r.session.Error = status, total, message
		r.session.Results = r.results
		r.session.UpdatedAt = time.Now().UTC()
		final = r.session
		if runErr == nil {
			runErr = fmt.Errorf("%w: load session: %v", ErrStorage, err)
		}
	}

	if o.deps.Files != nil {
		o.deps.Files.Release(r.session)
		if p, err := o.deps.Files.WriteManifest(final); err != nil {
			r.log.Warn("could not write session manifest", "error", err)
		} else {
			r.log.Debug("session manifest written", "path", p)
		}
	}

	r.log.Info("session finished", "status", status, "total_results", total, "error", message)
	return final, runErr
}
