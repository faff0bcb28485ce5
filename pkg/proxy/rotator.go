// Package proxy rotates outbound requests across a list of proxies and
// benches proxies that keep failing.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnknownProxy is returned when reporting on a proxy that is not in the rotator.
var ErrUnknownProxy = errors.New("proxy not in rotator")

type entry struct {
	url           *url.URL
	failures      int
	successes     int
	disabledUntil time.Time
}

// Rotator hands out proxies round-robin, skipping ones that are cooling down.
type Rotator struct {
	mu          sync.Mutex
	entries     []*entry
	cursor      int
	maxFailures int
	cooldown    time.Duration
}

// Config defines health thresholds for a Rotator.
type Config struct {
	// MaxFailures before a proxy is benched.
	MaxFailures int
	// Cooldown is how long a benched proxy is skipped.
	Cooldown time.Duration
}

// NewRotator creates an empty rotator. Zero config values fall back to 3 failures and 5 minutes.
func NewRotator(cfg Config) *Rotator {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Rotator{maxFailures: cfg.MaxFailures, cooldown: cfg.Cooldown}
}

// LoadFile reads one proxy URL per line; blank lines and '#' comments are ignored.
func (r *Rotator) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open proxy file: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read proxy file: %w", err)
	}
	return r.Add(lines...)
}

// Add parses proxy URLs, defaulting to http:// when no scheme is given.
func (r *Rotator) Add(raw ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range raw {
		if !strings.Contains(s, "://") {
			s = "http://" + s
		}
		u, err := url.Parse(s)
		if err != nil {
			return fmt.Errorf("parse proxy %q: %w", s, err)
		}
		r.entries = append(r.entries, &entry{url: u})
	}
	return nil
}

// Len returns the number of configured proxies, healthy or not.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Next returns the next healthy proxy, or nil when none is available.
func (r *Rotator) Next() *url.URL {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(r.entries); i++ {
		e := r.entries[r.cursor]
		r.cursor = (r.cursor + 1) % len(r.entries)

		if !e.disabledUntil.IsZero() && now.After(e.disabledUntil) {
			e.disabledUntil = time.Time{}
			e.failures = 0
		}
		if e.disabledUntil.IsZero() {
			return e.url
		}
	}
	return nil
}

// Report records the outcome of a request sent through u.
// A nil err counts as a success and forgives one earlier failure.
func (r *Rotator) Report(u *url.URL, err error) error {
	if u == nil {
		return errors.New("nil proxy url")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var e *entry
	for _, cand := range r.entries {
		if cand.url.String() == u.String() {
			e = cand
			break
		}
	}
	if e == nil {
		return fmt.Errorf("%s: %w", u.Redacted(), ErrUnknownProxy)
	}

	if err == nil {
		e.successes++
		if e.failures > 0 {
			e.failures--
		}
		return nil
	}
	e.failures++
	if e.failures >= r.maxFailures {
		e.disabledUntil = time.Now().Add(r.cooldown)
	}
	return nil
}

type ctxKey struct{}

// FromContext is an http.Transport Proxy function returning the proxy chosen
// for the request by a Rotator round tripper. Requests without one go direct.
func FromContext(req *http.Request) (*url.URL, error) {
	u, _ := req.Context().Value(ctxKey{}).(*url.URL)
	return u, nil
}

// RoundTripper wraps base so each request is sent through the next healthy proxy.
// base must use FromContext as its Proxy function.
func (r *Rotator) RoundTripper(base http.RoundTripper) http.RoundTripper {
	return &rotatingTransport{base: base, rot: r}
}

type rotatingTransport struct {
	base http.RoundTripper
	rot  *Rotator
}

func (t *rotatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u := t.rot.Next()
	if u == nil {
		return t.base.RoundTrip(req)
	}

	resp, err := t.base.RoundTrip(req.WithContext(context.WithValue(req.Context(), ctxKey{}, u)))
	if err == nil && resp.StatusCode == http.StatusProxyAuthRequired {
		_ = t.rot.Report(u, errors.New(resp.Status))
	} else if req.Context().Err() == nil {
		_ = t.rot.Report(u, err)
	}
	return resp, err
}
