package provider

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FranksOps/docsweep/pkg/httpclient"
	"github.com/PuerkitoBio/goquery"
)

const duckDuckGoName = "duckduckgo"

// DuckDuckGo scrapes the JavaScript-free html.duckduckgo.com endpoint.
type DuckDuckGo struct {
	client *httpclient.Client
	base   string
	logger *slog.Logger
}

var _ Provider = (*DuckDuckGo)(nil)

// NewDuckDuckGo is the Factory for DuckDuckGo.
func NewDuckDuckGo(opts Options) Provider {
	return &DuckDuckGo{
		client: opts.client(),
		base:   endpoint(opts.BaseURL, "https://html.duckduckgo.com"),
		logger: opts.logger(),
	}
}

func (d *DuckDuckGo) Name() string { return duckDuckGoName }

func (d *DuckDuckGo) Search(ctx context.Context, query, lang string, maxResults int) ([]Candidate, error) {
	params := url.Values{}
	params.Set("q", query)

	doc, err := fetchDocument(ctx, d.client, duckDuckGoName, d.base+"/html/?"+params.Encode(), lang)
	if err != nil {
		return nil, err
	}

	c := newCollector(maxResults, "duckduckgo.com")
	doc.Find("div.result").Each(func(_ int, s *goquery.Selection) {
		if s.HasClass("result--ad") {
			return
		}
		link := s.Find("a.result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		c.add(link.Text(), resolveDuckDuckGoURL(href), s.Find(".result__snippet").First().Text())
	})
	return c.out, nil
}

// resolveDuckDuckGoURL unwraps //duckduckgo.com/l/?uddg=<target> redirects.
func resolveDuckDuckGoURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil || !strings.HasSuffix(u.Hostname(), "duckduckgo.com") {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
