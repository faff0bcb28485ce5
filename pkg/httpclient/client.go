package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// Config defines the setup for the HTTP Client.
type Config struct {
	Timeout      time.Duration
	MaxRedirects int
	UseCookieJar bool
	// Transport is the base round tripper, e.g. a fingerprinted or proxied transport.
	Transport http.RoundTripper
	// UserAgents rotates the User-Agent header on requests that do not set one.
	// Nil disables rotation; an empty non-nil slice uses DefaultUserAgents.
	UserAgents []string
	Logger     *slog.Logger
}

// Client wraps a standard http.Client with redirect limits, cookie handling,
// User-Agent rotation and retry helpers.
type Client struct {
	*http.Client
	logger *slog.Logger
}

// New creates a new HTTP client based on the provided configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &http.Client{
		Timeout: cfg.Timeout,
	}

	if cfg.MaxRedirects >= 0 {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", cfg.MaxRedirects)
			}
			return nil
		}
	} else {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		c.Jar = jar
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if cfg.UserAgents != nil {
		base = &userAgentTransport{base: base, pool: NewUserAgentPool(cfg.UserAgents)}
	}
	c.Transport = base

	return &Client{Client: c, logger: cfg.Logger}, nil
}

// Do executes an HTTP request bound to ctx. The context controls cancellation
// independent of the client timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, errors.New("context cannot be nil")
	}

	resp, err := c.Client.Do(req.Clone(ctx))
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}
