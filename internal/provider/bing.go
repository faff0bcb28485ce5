package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FranksOps/docsweep/pkg/httpclient"
	"github.com/PuerkitoBio/goquery"
)

const bingName = "bing"

// Bing scrapes www.bing.com result pages.
type Bing struct {
	client *httpclient.Client
	base   string
	logger *slog.Logger
}

var _ Provider = (*Bing)(nil)

// NewBing is the Factory for Bing.
func NewBing(opts Options) Provider {
	return &Bing{
		client: opts.client(),
		base:   endpoint(opts.BaseURL, "https://www.bing.com"),
		logger: opts.logger(),
	}
}

func (b *Bing) Name() string { return bingName }

// Search walks result pages ten at a time until maxResults is reached or a page comes back empty.
func (b *Bing) Search(ctx context.Context, query, lang string, maxResults int) ([]Candidate, error) {
	c := newCollector(maxResults, "bing.com", "microsoft.com", "live.com", "msn.com")
	const perPage = 10
	pages := (maxResults + perPage - 1) / perPage
	if pages < 1 {
		pages = 1
	}

	for page := 0; page < pages && !c.full(); page++ {
		params := url.Values{}
		params.Set("q", query)
		params.Set("count", fmt.Sprint(perPage))
		params.Set("first", fmt.Sprint(page*perPage+1))
		params.Set("setlang", baseLanguage(lang))

		doc, err := fetchDocument(ctx, b.client, bingName, b.base+"/search?"+params.Encode(), lang)
		if err != nil {
			if page > 0 {
				b.logger.Warn("bing page failed, keeping earlier pages", "page", page, "error", err)
				break
			}
			return nil, err
		}

		before := len(c.out)
		doc.Find("li.b_algo").Each(func(_ int, s *goquery.Selection) {
			link := s.Find("h2 a").First()
			href, ok := link.Attr("href")
			if !ok {
				return
			}
			snippet := s.Find(".b_caption p").First().Text()
			if snippet == "" {
				snippet = s.Find("p").First().Text()
			}
			c.add(link.Text(), resolveBingURL(href), snippet)
		})
		if len(c.out) == before {
			break
		}
	}
	return c.out, nil
}

// resolveBingURL unwraps bing.com/ck/a click-tracking links, whose u parameter
// holds "a1" followed by the base64url-encoded target.
func resolveBingURL(href string) string {
	u, err := url.Parse(href)
	if err != nil || !strings.HasSuffix(u.Hostname(), "bing.com") || !strings.HasPrefix(u.Path, "/ck/") {
		return href
	}
	enc := u.Query().Get("u")
	if !strings.HasPrefix(enc, "a1") {
		return href
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(enc[2:], "="))
	if err != nil {
		return href
	}
	return string(raw)
}
