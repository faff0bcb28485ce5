//go:build integration

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/docsweep/internal/config"
	"github.com/FranksOps/docsweep/internal/download"
	"github.com/FranksOps/docsweep/internal/filestore"
	"github.com/FranksOps/docsweep/internal/orchestrator"
	"github.com/FranksOps/docsweep/internal/provider"
	"github.com/FranksOps/docsweep/internal/score"
	"github.com/FranksOps/docsweep/internal/storage"
	"github.com/FranksOps/docsweep/internal/storage/memory"
	"github.com/FranksOps/docsweep/internal/storage/sqlite"
	"github.com/FranksOps/docsweep/internal/translate"
	"github.com/FranksOps/docsweep/pkg/httpclient"
)

// serpPage renders a minimal Bing result page linking to each target.
func serpPage(targets ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><ol id="b_results">`)
	b.WriteString(`<li class="b_algo"><h2><a href="https://www.bing.com/aclick?x=1">Ad</a></h2></li>`)
	for i, t := range targets {
		fmt.Fprintf(&b, `<li class="b_algo"><h2><a href="%s">Result %d</a></h2><div class="b_caption"><p>snippet %d</p></div></li>`, t, i, i)
	}
	b.WriteString(`</ol></body></html>`)
	return b.String()
}

func newDocServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/pdf")
		fmt.Fprintf(w, "%%PDF-1.4 %s", r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestIntegration_SearchTranslateDownloadScore(t *testing.T) {
	docs, docHits := newDocServer(t)

	serp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Query().Get("q") {
		case "annual report":
			fmt.Fprint(w, serpPage(docs.URL+"/annual-report.pdf", docs.URL+"/shared.pdf", docs.URL+"/setup.exe"))
		case "Jahresbericht":
			fmt.Fprint(w, serpPage(docs.URL+"/shared.pdf?utm_source=bing", docs.URL+"/jahresbericht.pdf"))
		default:
			fmt.Fprint(w, serpPage())
		}
	}))
	defer serp.Close()

	var translations atomic.Int32
	translator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		translations.Add(1)
		var req struct {
			Text   string `json:"text"`
			Target string `json:"target_language"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Target != "de" {
			http.Error(w, "unsupported", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"translated_text": "Jahresbericht"})
	}))
	defer translator.Close()

	client, err := httpclient.New(httpclient.Config{Timeout: 5 * time.Second, UseCookieJar: true})
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	pool := provider.NewPool(nil)
	if err := pool.Add(provider.NewBing(provider.Options{Client: client, BaseURL: serp.URL}), 0); err != nil {
		t.Fatalf("add provider: %v", err)
	}

	repo, err := sqlite.New(filepath.Join(t.TempDir(), "docsweep.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer repo.Close()

	files := filestore.New(t.TempDir(), nil)
	downloader, err := download.NewFromConfig(config.DownloadConfig{
		MaxConcurrent:  2,
		MaxFileSize:    1 << 20,
		Timeout:        5 * time.Second,
		RetryBaseDelay: time.Millisecond,
		Fingerprint:    "go",
	}, files, nil)
	if err != nil {
		t.Fatalf("downloader: %v", err)
	}

	tr := translate.New(translate.NewHTTPBackend(translator.URL, "", client), repo, translate.Options{Timeout: 5 * time.Second})

	orch, err := orchestrator.New(orchestrator.Config{
		MaxResultsPerEngine: 10,
		Languages:           []string{"de"},
	}, orchestrator.Deps{
		Repo:       repo,
		Search:     pool,
		Translator: tr,
		Downloader: downloader,
		Scorer:     score.New(score.Keyword{}, score.Options{}),
		Files:      files,
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	session, err := orch.Run(ctx, orchestrator.Request{Query: "annual report", Criteria: "annual report"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if session.Status != storage.SessionCompleted {
		t.Fatalf("expected completed session, got %s (%s)", session.Status, session.Error)
	}
	if got := strings.Join(session.Languages, ","); got != "en,de" {
		t.Errorf("expected languages en,de, got %s", got)
	}
	if session.TotalResults != 4 {
		t.Fatalf("expected 4 results after deduplication, got %d", session.TotalResults)
	}

	byPath := map[string]*storage.Result{}
	for _, r := range session.Results {
		path := strings.TrimPrefix(r.URL, docs.URL)
		byPath[path] = r
		if r.Engine != "bing" {
			t.Errorf("%s: expected engine bing, got %s", r.URL, r.Engine)
		}
	}

	for _, p := range []string{"/annual-report.pdf", "/shared.pdf", "/jahresbericht.pdf"} {
		r, ok := byPath[p]
		if !ok {
			t.Fatalf("missing result for %s", p)
		}
		if r.Status != storage.StatusDownloaded {
			t.Errorf("%s: expected downloaded, got %s (%s)", p, r.Status, r.FailureReason)
			continue
		}
		if _, err := os.Stat(r.FilePath); err != nil {
			t.Errorf("%s: file not on disk: %v", p, err)
		}
		if r.Score == nil {
			t.Errorf("%s: expected a relevance score", p)
		}
	}

	if r := byPath["/shared.pdf"]; r.Language != "en" {
		t.Errorf("shared document should be kept from the first language, got %s", r.Language)
	}
	if r := byPath["/jahresbericht.pdf"]; r.TranslatedQuery != "Jahresbericht" {
		t.Errorf("expected translated query on German result, got %q", r.TranslatedQuery)
	}
	if r := byPath["/setup.exe"]; r == nil || r.Status != storage.StatusSkipped {
		t.Errorf("expected executable to be skipped, got %+v", r)
	}
	if docHits.Load() != 3 {
		t.Errorf("expected 3 document fetches, got %d", docHits.Load())
	}

	manifest, err := os.ReadFile(filepath.Join(files.SessionDir(session), filestore.ManifestName))
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if !strings.Contains(string(manifest), session.ID) {
		t.Errorf("manifest does not mention session %s", session.ID)
	}

	entry, err := repo.GetTranslation(ctx, storage.TranslationKey{
		SourceText:     "annual report",
		SourceLanguage: "en",
		TargetLanguage: "de",
	})
	if err != nil || entry == nil || entry.TranslatedText != "Jahresbericht" {
		t.Fatalf("expected cached translation, got %+v (%v)", entry, err)
	}

	// The second session reuses the cached translation.
	before := translations.Load()
	if _, err := orch.Run(ctx, orchestrator.Request{Query: "annual report"}); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if translations.Load() != before {
		t.Errorf("expected the translation cache to be used, service called %d more time(s)", translations.Load()-before)
	}

	sessions, err := repo.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("expected 2 stored sessions, got %d", len(sessions))
	}
}

func TestIntegration_ProxyRotation(t *testing.T) {
	var proxyHits atomic.Int32
	var seenHost atomic.Value
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxyHits.Add(1)
		seenHost.Store(r.URL.Host)
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("X-Proxied", "true")
		fmt.Fprint(w, "%PDF-1.4 via proxy")
	}))
	defer proxySrv.Close()

	proxyFile := filepath.Join(t.TempDir(), "proxies.txt")
	if err := os.WriteFile(proxyFile, []byte("# test proxy\n"+proxySrv.URL+"\n"), 0o644); err != nil {
		t.Fatalf("write proxy file: %v", err)
	}

	client, err := download.NewClient(config.DownloadConfig{
		Timeout:     5 * time.Second,
		ProxyFile:   proxyFile,
		Fingerprint: "go",
	}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	repo := memory.New()
	files := filestore.New(t.TempDir(), nil)
	d := download.New(download.Config{MaxConcurrent: 1, MaxFileSize: 1 << 20}, client, files, nil)

	ctx := context.Background()
	session, err := repo.CreateSession(ctx, "proxy test", "", []string{"en"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	result := &storage.Result{
		ID:        "r1",
		SessionID: session.ID,
		Language:  "en",
		Engine:    "bing",
		URL:       "http://example.com/report.pdf",
		Title:     "Report",
		Status:    storage.StatusPending,
	}

	out := d.Fetch(ctx, session, result, nil)
	if out.Status != storage.StatusDownloaded {
		t.Fatalf("expected download through proxy, got %s (%s): %v", out.Status, out.Reason, out.Err)
	}
	if proxyHits.Load() != 1 {
		t.Errorf("expected 1 proxy hit, got %d", proxyHits.Load())
	}
	if host, _ := seenHost.Load().(string); host != "example.com" {
		t.Errorf("proxy saw host %q, expected example.com", host)
	}
	body, err := os.ReadFile(out.Path)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if !strings.Contains(string(body), "via proxy") {
		t.Errorf("unexpected body %q", body)
	}
}

func TestIntegration_CookieJarPersistence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/consent":
			http.SetCookie(w, &http.Cookie{Name: "CONSENT", Value: "YES+1", Path: "/"})
			w.WriteHeader(http.StatusOK)
		case "/search":
			c, err := r.Cookie("CONSENT")
			if err != nil || c.Value != "YES+1" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client, err := httpclient.New(httpclient.Config{Timeout: 5 * time.Second, UseCookieJar: true})
	if err != nil {
		t.Fatalf("client: %v", err)
	}

	ctx := context.Background()
	for _, path := range []string{"/consent", "/search"} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		resp, err := client.Do(ctx, req)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}
