package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/FranksOps/docsweep/pkg/httpclient"
)

const searxngName = "searxng"

// ErrNoEndpoint is returned by engines that have no public default endpoint.
var ErrNoEndpoint = errors.New("search endpoint not configured")

// Searxng queries a SearXNG instance through its JSON API.
type Searxng struct {
	client *httpclient.Client
	base   string
	logger *slog.Logger
}

var _ Provider = (*Searxng)(nil)

// NewSearxng is the Factory for Searxng. Options.BaseURL must point at the instance.
func NewSearxng(opts Options) Provider {
	return &Searxng{
		client: opts.client(),
		base:   endpoint(opts.BaseURL, ""),
		logger: opts.logger(),
	}
}

func (s *Searxng) Name() string { return searxngName }

type searxngResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *Searxng) Search(ctx context.Context, query, lang string, maxResults int) ([]Candidate, error) {
	if s.base == "" {
		return nil, fmt.Errorf("%s: %w", searxngName, ErrNoEndpoint)
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("pageno", "1")
	params.Set("language", baseLanguage(lang))

	body, err := fetchPage(ctx, s.client, searxngName, s.base+"/search?"+params.Encode(), "application/json", lang)
	if err != nil {
		return nil, err
	}

	var resp searxngResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", searxngName, err)
	}

	c := newCollector(maxResults)
	for _, r := range resp.Results {
		c.add(r.Title, r.URL, r.Content)
	}
	return c.out, nil
}
