package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/FranksOps/docsweep/internal/bypass"
	"github.com/FranksOps/docsweep/pkg/httpclient"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/language"
)

const maxPageSize = 4 << 20

// StatusError reports a non-2xx answer from an engine.
type StatusError struct {
	Engine string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Engine, e.Status)
}

// fetchPage GETs pageURL and returns the body after block-page inspection.
func fetchPage(ctx context.Context, client *httpclient.Client, engine, pageURL, accept, lang string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", acceptLanguage(lang))

	resp, err := client.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", engine, err)
	}

	peek := body
	if len(peek) > bypass.PeekSize {
		peek = peek[:bypass.PeekSize]
	}
	if detected, source := bypass.Inspect(&bypass.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       peek,
	}, bypass.SearchDetectors()); detected {
		return nil, fmt.Errorf("%w: %s", ErrBlocked, source)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Engine: engine, Status: resp.StatusCode}
	}
	return body, nil
}

// fetchDocument fetches an HTML result page and parses it with goquery.
func fetchDocument(ctx context.Context, client *httpclient.Client, engine, pageURL, lang string) (*goquery.Document, error) {
	body, err := fetchPage(ctx, client, engine, pageURL, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8", lang)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s page: %w", engine, err)
	}
	return doc, nil
}

// collector accumulates candidates, dropping non-http links, engine-internal
// links and repeats within the same page.
type collector struct {
	max      int
	internal []string
	seen     map[string]bool
	out      []Candidate
}

func newCollector(max int, internalHosts ...string) *collector {
	return &collector{max: max, internal: internalHosts, seen: make(map[string]bool)}
}

func (c *collector) full() bool {
	return c.max > 0 && len(c.out) >= c.max
}

func (c *collector) add(title, link, snippet string) {
	if c.full() {
		return
	}
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range c.internal {
		if host == h || strings.HasSuffix(host, "."+h) {
			return
		}
	}
	link = u.String()
	if c.seen[link] {
		return
	}
	c.seen[link] = true
	c.out = append(c.out, Candidate{
		Title:   collapseSpace(title),
		URL:     link,
		Snippet: collapseSpace(snippet),
		Rank:    len(c.out) + 1,
	})
}

const defaultAcceptLanguage = "en-US,en;q=0.5"

// baseLanguage returns the two-letter code of lang, or "en" when lang does not parse.
func baseLanguage(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return "en"
	}
	base, _ := tag.Base()
	return base.String()
}

// acceptLanguage prefers lang and keeps English as the fallback.
func acceptLanguage(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return defaultAcceptLanguage
	}
	base, _ := tag.Base()
	switch {
	case base.String() == "en":
		return defaultAcceptLanguage
	case tag.String() != base.String():
		return tag.String() + "," + base.String() + ";q=0.9,en;q=0.5"
	default:
		return base.String() + ",en;q=0.5"
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func endpoint(base, fallback string) string {
	if base == "" {
		return fallback
	}
	return strings.TrimRight(base, "/")
}
