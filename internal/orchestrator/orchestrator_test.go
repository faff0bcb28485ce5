package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/docsweep/internal/download"
	"github.com/FranksOps/docsweep/internal/filestore"
	"github.com/FranksOps/docsweep/internal/provider"
	"github.com/FranksOps/docsweep/internal/score"
	"github.com/FranksOps/docsweep/internal/storage"
	"github.com/FranksOps/docsweep/internal/storage/memory"
	"github.com/FranksOps/docsweep/internal/translate"
	"github.com/FranksOps/docsweep/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearch struct {
	names   []string
	results map[string][]provider.Candidate
	delay   map[string]time.Duration
	hook    func(engine, query string)

	mu    sync.Mutex
	calls []string
	langs map[string]string
}

func (f *fakeSearch) Names() []string { return f.names }

func (f *fakeSearch) Search(ctx context.Context, engine, query, lang string, maxResults int) []provider.Candidate {
	f.mu.Lock()
	f.calls = append(f.calls, engine+"|"+query)
	if f.langs == nil {
		f.langs = make(map[string]string)
	}
	f.langs[query] = lang
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(engine, query)
	}
	if d := f.delay[engine]; d > 0 {
		time.Sleep(d)
	}
	out := f.results[engine]
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

func (f *fakeSearch) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Language reports the language query was last searched in.
func (f *fakeSearch) Language(query string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.langs[query]
}

func candidates(urls ...string) []provider.Candidate {
	out := make([]provider.Candidate, len(urls))
	for i, u := range urls {
		out[i] = provider.Candidate{Title: fmt.Sprintf("doc %d", i+1), URL: u, Rank: i + 1}
	}
	return out
}

type fakeTranslator map[string]string

func (f fakeTranslator) Translate(ctx context.Context, text, source, target string) (string, bool) {
	t, ok := f[target]
	return t, ok
}

type fakeScorer struct {
	calls atomic.Int32
	fail  string
}

func (f *fakeScorer) Score(ctx context.Context, path, criteria string) (score.Outcome, error) {
	f.calls.Add(1)
	if f.fail != "" && strings.Contains(path, f.fail) {
		return score.Outcome{}, errors.New("backend unavailable")
	}
	return score.Outcome{Score: 0.7, Summary: "about " + criteria}, nil
}

// docServer serves a small PDF for every path and records peak concurrency.
type docServer struct {
	*httptest.Server
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
	hits     atomic.Int32
}

func newDocServer(t *testing.T, delay time.Duration) *docServer {
	t.Helper()
	ds := &docServer{delay: delay}
	ds.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ds.hits.Add(1)
		n := ds.inFlight.Add(1)
		defer ds.inFlight.Add(-1)
		for {
			p := ds.peak.Load()
			if n <= p || ds.peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(ds.delay)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 " + r.URL.Path))
	}))
	t.Cleanup(ds.Close)
	return ds
}

type harness struct {
	orch  *Orchestrator
	repo  storage.Repository
	files *filestore.Manager
}

func newHarness(t *testing.T, search Searcher, maxConcurrent int, deps Deps) *harness {
	t.Helper()
	client, err := httpclient.New(httpclient.Config{Timeout: 5 * time.Second})
	require.NoError(t, err)

	repo := deps.Repo
	if repo == nil {
		repo = memory.New()
	}
	files := filestore.New(t.TempDir(), nil)
	deps.Repo = repo
	deps.Search = search
	deps.Files = files
	deps.Downloader = download.New(download.Config{
		MaxConcurrent:  maxConcurrent,
		MaxFileSize:    1 << 20,
		RetryBaseDelay: time.Millisecond,
	}, client, files, nil)

	orch, err := New(Config{MaxResultsPerEngine: 10, Languages: []string{"en"}}, deps)
	require.NoError(t, err)
	return &harness{orch: orch, repo: repo, files: files}
}

func TestRun_SingleProviderNoOverlap(t *testing.T) {
	ds := newDocServer(t, 0)
	search := &fakeSearch{
		names:   []string{"bing"},
		results: map[string][]provider.Candidate{"bing": candidates(ds.URL+"/a.pdf", ds.URL+"/b.pdf", ds.URL+"/c.pdf")},
	}
	h := newHarness(t, search, 2, Deps{})

	session, err := h.orch.Run(context.Background(), Request{Query: "test"})
	require.NoError(t, err)

	assert.Equal(t, storage.SessionCompleted, session.Status)
	assert.Equal(t, 3, session.TotalResults)
	require.Len(t, session.Results, 3)
	for _, r := range session.Results {
		assert.Equal(t, storage.StatusDownloaded, r.Status, r.URL)
		assert.Equal(t, "bing", r.Engine)
		assert.Equal(t, "pdf", r.FileType)
		assert.FileExists(t, r.FilePath)
		assert.Nil(t, r.Score)
	}
	assert.Equal(t, int32(3), ds.hits.Load())
	assert.Equal(t, h.files.SessionDir(session), session.StoragePath)
	assert.FileExists(t, filepath.Join(session.StoragePath, filestore.ManifestName))

	st := h.orch.Stats()
	assert.Equal(t, int64(1), st.SessionsCompleted)
	assert.Equal(t, int64(0), st.SessionsRunning)
	assert.Equal(t, int64(3), st.Downloaded)
}

func TestRun_DuplicateKeepsFirstProvider(t *testing.T) {
	ds := newDocServer(t, 0)
	upper := strings.Replace(ds.URL, "127.0.0.1", "LocalHost", 1) + "/shared.pdf"
	lower := strings.Replace(ds.URL, "127.0.0.1", "localhost", 1) + "/shared.pdf"

	search := &fakeSearch{
		names: []string{"google", "bing"},
		results: map[string][]provider.Candidate{
			"google": candidates(upper),
			"bing":   candidates(lower + "?utm_source=x"),
		},
		// google answers last; priority order still wins.
		delay: map[string]time.Duration{"google": 30 * time.Millisecond},
	}
	h := newHarness(t, search, 2, Deps{})

	session, err := h.orch.Run(context.Background(), Request{Query: "test"})
	require.NoError(t, err)

	require.Len(t, session.Results, 1)
	assert.Equal(t, "google", session.Results[0].Engine)
	assert.Equal(t, upper, session.Results[0].URL)
	assert.Equal(t, 1, session.TotalResults)
	assert.Equal(t, int64(1), h.orch.Stats().Duplicates)
}

func TestRun_TranslationFailureFallsBackToOriginalQuery(t *testing.T) {
	ds := newDocServer(t, 0)
	search := &fakeSearch{
		names:   []string{"bing"},
		results: map[string][]provider.Candidate{"bing": candidates(ds.URL + "/a.pdf")},
	}
	h := newHarness(t, search, 2, Deps{Translator: fakeTranslator{"vi": "kiểm tra"}})

	session, err := h.orch.Run(context.Background(), Request{Query: "test", Languages: []string{"ja", "vi"}})
	require.NoError(t, err)

	assert.Equal(t, storage.SessionCompleted, session.Status)
	assert.Equal(t, []string{"en", "ja", "vi"}, session.Languages)
	assert.ElementsMatch(t, []string{"bing|test", "bing|test", "bing|kiểm tra"}, search.Calls())

	require.Len(t, session.Results, 1, "identical URLs from every language collapse")
	assert.Equal(t, "en", session.Results[0].Language)
	assert.Empty(t, session.Results[0].TranslatedQuery)
}

func TestRun_RecordsTranslatedQuery(t *testing.T) {
	ds := newDocServer(t, 0)
	search := &perQuerySearch{
		fakeSearch: &fakeSearch{names: []string{"bing"}},
		byQuery:    map[string][]provider.Candidate{"テスト": candidates(ds.URL + "/ja.pdf")},
	}
	h := newHarness(t, search, 2, Deps{Translator: fakeTranslator{"ja": "テスト"}})

	session, err := h.orch.Run(context.Background(), Request{Query: "test", Languages: []string{"ja"}})
	require.NoError(t, err)

	require.Len(t, session.Results, 1)
	assert.Equal(t, "ja", session.Results[0].Language)
	assert.Equal(t, "テスト", session.Results[0].TranslatedQuery)
}

type perQuerySearch struct {
	*fakeSearch
	byQuery map[string][]provider.Candidate
}

func (p *perQuerySearch) Search(ctx context.Context, engine, query, lang string, maxResults int) []provider.Candidate {
	p.fakeSearch.Search(ctx, engine, query, lang, maxResults)
	return p.byQuery[query]
}

// fakeOptimizer suggests "<query> pdf" for every language except those in fail.
type fakeOptimizer struct {
	fail map[string]bool
}

func (f fakeOptimizer) Optimize(ctx context.Context, query, lang string) ([]translate.Variant, error) {
	if f.fail[lang] {
		return nil, translate.ErrNoVariants
	}
	return []translate.Variant{{Query: query + " pdf", Kind: "specific", Confidence: 0.8}}, nil
}

func TestRun_OptimizedQueriesReachSearch(t *testing.T) {
	ds := newDocServer(t, 0)
	search := &perQuerySearch{
		fakeSearch: &fakeSearch{names: []string{"bing"}},
		byQuery: map[string][]provider.Candidate{
			"test":     candidates(ds.URL + "/en.pdf"),
			"test pdf": candidates(ds.URL + "/en.pdf"),
			"テスト pdf":  candidates(ds.URL + "/ja-variant.pdf"),
			"kiểm tra": candidates(ds.URL + "/vi.pdf"),
		},
	}
	h := newHarness(t, search, 2, Deps{
		Translator: fakeTranslator{"ja": "テスト", "vi": "kiểm tra"},
		Optimizer:  fakeOptimizer{fail: map[string]bool{"vi": true}},
	})

	session, err := h.orch.Run(context.Background(), Request{Query: "test", Languages: []string{"ja", "vi"}, Optimize: true})
	require.NoError(t, err)
	assert.Equal(t, storage.SessionCompleted, session.Status)

	assert.ElementsMatch(t, []string{
		"bing|test", "bing|test pdf",
		"bing|テスト", "bing|テスト pdf",
		"bing|kiểm tra",
	}, search.Calls(), "a failed optimization keeps the plain query")
	assert.Equal(t, "ja", search.Language("テスト pdf"))

	byURL := map[string]*storage.Result{}
	for _, r := range session.Results {
		byURL[strings.TrimPrefix(r.URL, ds.URL)] = r
	}
	require.Len(t, byURL, 3)
	assert.Empty(t, byURL["/en.pdf"].TranslatedQuery, "the original query wins over its own variant")
	assert.Equal(t, "テスト pdf", byURL["/ja-variant.pdf"].TranslatedQuery)
	assert.Equal(t, "ja", byURL["/ja-variant.pdf"].Language)

	data, err := os.ReadFile(filepath.Join(h.files.SessionDir(session), filestore.QueriesFileName(session)))
	require.NoError(t, err)
	csv := string(data)
	assert.Contains(t, csv, "test,test pdf,en,specific,0.80,")
	assert.Contains(t, csv, "test,テスト,ja,translated,1.00,")
	assert.Contains(t, csv, "test,kiểm tra,vi,translated,1.00,")
}

func TestRun_OptimizeNeedsRequest(t *testing.T) {
	search := &fakeSearch{names: []string{"bing"}}
	h := newHarness(t, search, 2, Deps{Optimizer: fakeOptimizer{}})

	session, err := h.orch.Run(context.Background(), Request{Query: "test"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bing|test"}, search.Calls())
	assert.Equal(t, "en", search.Language("test"))

	_, err = os.Stat(filepath.Join(h.files.SessionDir(session), filestore.QueriesFileName(session)))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_DownloadConcurrencyBound(t *testing.T) {
	ds := newDocServer(t, 50*time.Millisecond)
	var urls []string
	for i := 0; i < 5; i++ {
		urls = append(urls, fmt.Sprintf("%s/doc%d.pdf", ds.URL, i))
	}
	search := &fakeSearch{names: []string{"bing"}, results: map[string][]provider.Candidate{"bing": candidates(urls...)}}
	h := newHarness(t, search, 2, Deps{})

	session, err := h.orch.Run(context.Background(), Request{Query: "test"})
	require.NoError(t, err)

	assert.LessOrEqual(t, ds.peak.Load(), int32(2))
	assert.Equal(t, int32(5), ds.hits.Load())
	require.Len(t, session.Results, 5)
	for _, r := range session.Results {
		assert.True(t, r.Status.Terminal(), r.URL)
	}
}

// statusTracker counts Results the repository currently holds as downloading.
type statusTracker struct {
	storage.Repository

	mu       sync.Mutex
	statuses map[string]storage.DownloadStatus
	live     int
	peak     int
}

func (s *statusTracker) UpdateResultStatus(ctx context.Context, id string, status storage.DownloadStatus, update storage.ResultUpdate) error {
	if err := s.Repository.UpdateResultStatus(ctx, id, status, update); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses[id] == storage.StatusDownloading {
		s.live--
	}
	if status == storage.StatusDownloading {
		s.live++
		s.peak = max(s.peak, s.live)
	}
	s.statuses[id] = status
	return nil
}

func TestRun_QueuedDownloadsStayPending(t *testing.T) {
	ds := newDocServer(t, 50*time.Millisecond)
	var urls []string
	for i := 0; i < 5; i++ {
		urls = append(urls, fmt.Sprintf("%s/doc%d.pdf", ds.URL, i))
	}
	urls = append(urls, ds.URL+"/installer.exe")
	search := &fakeSearch{names: []string{"bing"}, results: map[string][]provider.Candidate{"bing": candidates(urls...)}}
	tracker := &statusTracker{Repository: memory.New(), statuses: map[string]storage.DownloadStatus{}}
	h := newHarness(t, search, 2, Deps{Repo: tracker})

	session, err := h.orch.Run(context.Background(), Request{Query: "test"})
	require.NoError(t, err)

	assert.LessOrEqual(t, tracker.peak, 2, "more results marked downloading than transfer slots")
	assert.Equal(t, 2, tracker.peak, "both slots should have been used")
	assert.Zero(t, tracker.live)
	require.Len(t, session.Results, 6)
	for _, r := range session.Results {
		if strings.HasSuffix(r.URL, ".exe") {
			assert.Equal(t, storage.StatusSkipped, r.Status)
			continue
		}
		assert.Equal(t, storage.StatusDownloaded, r.Status, r.URL)
	}
}

func TestRun_NoCriteriaMeansNoScoring(t *testing.T) {
	ds := newDocServer(t, 0)
	search := &fakeSearch{names: []string{"bing"}, results: map[string][]provider.Candidate{"bing": candidates(ds.URL+"/a.pdf", ds.URL+"/b.pdf")}}
	scorer := &fakeScorer{}
	h := newHarness(t, search, 2, Deps{Scorer: scorer})

	session, err := h.orch.Run(context.Background(), Request{Query: "test", Criteria: "   "})
	require.NoError(t, err)

	assert.Zero(t, scorer.calls.Load())
	for _, r := range session.Results {
		assert.Equal(t, storage.StatusDownloaded, r.Status)
		assert.Nil(t, r.Score)
	}
}

func TestRun_ScoresDownloadedResults(t *testing.T) {
	ds := newDocServer(t, 0)
	search := &fakeSearch{names: []string{"bing"}, results: map[string][]provider.Candidate{
		"bing": candidates(ds.URL+"/good.pdf", ds.URL+"/flaky.pdf", ds.URL+"/setup.exe"),
	}}
	scorer := &fakeScorer{fail: "flaky"}
	h := newHarness(t, search, 2, Deps{Scorer: scorer})

	session, err := h.orch.Run(context.Background(), Request{Query: "test", Criteria: "solar"})
	require.NoError(t, err)
	assert.Equal(t, storage.SessionCompleted, session.Status)
	assert.Equal(t, int32(2), scorer.calls.Load(), "only downloaded results are scored")

	byName := map[string]*storage.Result{}
	for _, r := range session.Results {
		byName[filepath.Base(r.URL)] = r
	}
	require.NotNil(t, byName["good.pdf"].Score)
	assert.InDelta(t, 0.7, *byName["good.pdf"].Score, 1e-9)
	assert.Equal(t, "about solar", byName["good.pdf"].Summary)
	assert.Nil(t, byName["flaky.pdf"].Score)
	assert.Equal(t, storage.StatusDownloaded, byName["flaky.pdf"].Status)
	assert.Equal(t, storage.StatusSkipped, byName["setup.exe"].Status)
	assert.Equal(t, storage.ReasonUnsupportedType, byName["setup.exe"].FailureReason)
	assert.Equal(t, 3, session.TotalResults)
}

func TestRun_EmptyResultSetCompletes(t *testing.T) {
	h := newHarness(t, &fakeSearch{names: []string{"bing", "google"}}, 2, Deps{})

	session, err := h.orch.Run(context.Background(), Request{Query: "nothing matches"})
	require.NoError(t, err)
	assert.Equal(t, storage.SessionCompleted, session.Status)
	assert.Zero(t, session.TotalResults)
	assert.Empty(t, session.Results)
}

func TestRun_CancelledResolvesEveryResult(t *testing.T) {
	ds := newDocServer(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	search := &fakeSearch{
		names:   []string{"bing"},
		results: map[string][]provider.Candidate{"bing": candidates(ds.URL+"/a.pdf", ds.URL+"/b.pdf")},
		hook:    func(string, string) { cancel() },
	}
	h := newHarness(t, search, 2, Deps{})

	session, err := h.orch.Run(ctx, Request{Query: "test"})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, session)

	assert.Equal(t, storage.SessionFailed, session.Status)
	assert.Equal(t, "cancelled", session.Error)
	assert.Equal(t, 2, session.TotalResults)
	for _, r := range session.Results {
		assert.Equal(t, storage.StatusFailed, r.Status)
		assert.Equal(t, storage.ReasonCancelled, r.FailureReason)
	}
	assert.Zero(t, ds.hits.Load())
	assert.Equal(t, int64(1), h.orch.Stats().SessionsFailed)
}

type failingRepo struct {
	storage.Repository
}

func (f failingRepo) SaveResult(ctx context.Context, r *storage.Result) error {
	return errors.New("disk I/O error")
}

func TestRun_StorageFailureFailsSession(t *testing.T) {
	repo := failingRepo{Repository: memory.New()}
	search := &fakeSearch{names: []string{"bing"}, results: map[string][]provider.Candidate{"bing": candidates("https://a.example/a.pdf")}}
	h := newHarness(t, search, 2, Deps{Repo: repo})

	session, err := h.orch.Run(context.Background(), Request{Query: "test"})
	require.ErrorIs(t, err, ErrStorage)
	require.NotNil(t, session)
	assert.Equal(t, storage.SessionFailed, session.Status)
	assert.Contains(t, session.Error, "disk I/O error")

	stored, err := h.repo.GetSession(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.SessionFailed, stored.Status)
}

func TestRun_LocalDiskFailureAbortsSession(t *testing.T) {
	ds := newDocServer(t, 0)
	search := &fakeSearch{names: []string{"bing"}, results: map[string][]provider.Candidate{"bing": candidates(ds.URL + "/a.pdf")}}
	h := newHarness(t, search, 1, Deps{})

	// A regular file where the date directory belongs makes every allocation fail.
	require.NoError(t, os.WriteFile(filepath.Join(h.files.Root(), time.Now().UTC().Format("2006-01-02")), []byte("x"), 0o644))

	session, err := h.orch.Run(context.Background(), Request{Query: "test"})
	require.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, storage.SessionFailed, session.Status)
	require.Len(t, session.Results, 1)
	assert.Equal(t, storage.ReasonStorageError, session.Results[0].FailureReason)
}

func TestRun_EmptyQuery(t *testing.T) {
	h := newHarness(t, &fakeSearch{names: []string{"bing"}}, 1, Deps{})
	_, err := h.orch.Run(context.Background(), Request{Query: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	sessions, err := h.orch.Sessions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestLanguages(t *testing.T) {
	assert.Equal(t, []string{"ja", "en", "zh"}, Languages("太陽光発電のレポート", []string{"en", "ja-JP", "zh-CN", "EN"}))
	assert.Equal(t, []string{"en"}, Languages("solar report", nil))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}
