package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FranksOps/docsweep/pkg/httpclient"
	"github.com/PuerkitoBio/goquery"
)

const googleName = "google"

// Google scrapes www.google.com result pages.
type Google struct {
	client *httpclient.Client
	base   string
	logger *slog.Logger
}

var _ Provider = (*Google)(nil)

// NewGoogle is the Factory for Google.
func NewGoogle(opts Options) Provider {
	return &Google{
		client: opts.client(),
		base:   endpoint(opts.BaseURL, "https://www.google.com"),
		logger: opts.logger(),
	}
}

func (g *Google) Name() string { return googleName }

func (g *Google) Search(ctx context.Context, query, lang string, maxResults int) ([]Candidate, error) {
	num := maxResults
	if num <= 0 || num > 100 {
		num = 100
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("num", fmt.Sprint(num))
	params.Set("hl", baseLanguage(lang))

	doc, err := fetchDocument(ctx, g.client, googleName, g.base+"/search?"+params.Encode(), lang)
	if err != nil {
		return nil, err
	}

	c := newCollector(maxResults, "google.com", "googleusercontent.com", "gstatic.com")
	doc.Find("div.g").Each(func(_ int, s *goquery.Selection) {
		link := s.Find("a:has(h3)").First()
		if link.Length() == 0 {
			link = s.Find("a[href]").First()
		}
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		title := link.Find("h3").First().Text()
		if title == "" {
			title = link.Text()
		}
		snippet := s.Find("div.VwiC3b, span.st, div[data-sncf]").First().Text()
		c.add(title, resolveGoogleURL(href), snippet)
	})
	return c.out, nil
}

// resolveGoogleURL unwraps /url?q=<target> redirects.
func resolveGoogleURL(href string) string {
	if !strings.HasPrefix(href, "/url?") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	for _, key := range []string{"q", "url"} {
		if target := u.Query().Get(key); target != "" {
			return target
		}
	}
	return href
}
