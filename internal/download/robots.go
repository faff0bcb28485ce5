package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/FranksOps/docsweep/pkg/httpclient"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// robotsChecker fetches and caches robots.txt per origin.
type robotsChecker struct {
	client    *httpclient.Client
	userAgent string
	logger    *slog.Logger

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]*robotstxt.RobotsData
}

func newRobotsChecker(client *httpclient.Client, userAgent string, logger *slog.Logger) *robotsChecker {
	return &robotsChecker{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether targetURL may be fetched. Unreachable or unparsable
// robots.txt files allow everything.
func (r *robotsChecker) Allowed(ctx context.Context, targetURL string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("invalid url: %w", err)
	}
	origin := u.Scheme + "://" + u.Host

	data, err := r.get(ctx, origin)
	if err != nil {
		r.logger.Debug("robots.txt fetch failed, defaulting to allow", "origin", origin, "error", err)
		return true, nil
	}
	if data == nil {
		return true, nil
	}
	return data.TestAgent(u.EscapedPath(), r.userAgent), nil
}

func (r *robotsChecker) get(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	r.mu.RLock()
	data, ok := r.cache[origin]
	r.mu.RUnlock()
	if ok {
		return data, nil
	}

	v, err, _ := r.group.Do(origin, func() (any, error) {
		data, err := r.fetch(ctx, origin)
		if ctx.Err() != nil {
			// Do not cache the outcome of a cancelled fetch.
			return data, err
		}
		r.mu.Lock()
		r.cache[origin] = data
		r.mu.Unlock()
		return data, err
	})
	data, _ = v.(*robotstxt.RobotsData)
	return data, err
}

func (r *robotsChecker) fetch(ctx context.Context, origin string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return nil, fmt.Errorf("read robots.txt: %w", err)
	}
	parsed, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return parsed, nil
}
