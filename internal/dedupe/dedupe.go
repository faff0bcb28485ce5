// Package dedupe canonicalizes candidate URLs and tracks which ones a session has already seen.
package dedupe

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
)

var trackingParams = map[string]bool{
	"gclid":   true,
	"fbclid":  true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
	"yclid":   true,
	"_ga":     true,
	"ref":     true,
	"ref_src": true,
	"igshid":  true,
	"spm":     true,
}

func isTracking(key string) bool {
	k := strings.ToLower(key)
	return strings.HasPrefix(k, "utm_") || trackingParams[k]
}

// Canonicalize returns the dedupe key for raw. Two URLs that differ only in
// scheme/host case, default port, trailing slash, fragment, tracking parameters
// or parameter order map to the same key. Canonicalize is idempotent.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not an absolute url: %q", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}

	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""

	path := strings.TrimRight(u.EscapedPath(), "/")
	if path == "" {
		u.Path, u.RawPath = "", ""
	} else if p, err := url.PathUnescape(path); err == nil {
		u.Path = p
		u.RawPath = path
	}

	if u.RawQuery != "" {
		q := u.Query()
		for k := range q {
			if isTracking(k) {
				delete(q, k)
			}
		}
		for _, vs := range q {
			sort.Strings(vs)
		}
		// Encode sorts by key.
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false

	return u.String(), nil
}

// Set is a session-scoped record of dedupe keys. It is safe for concurrent use.
type Set struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// Add records key and reports whether it was new. The check and the insert
// happen under one lock, so exactly one concurrent caller wins for a key.
func (s *Set) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Len returns the number of distinct keys recorded.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Keyed pairs an item with its dedupe key.
type Keyed[T any] struct {
	Key  string
	Item T
}

// Filter canonicalizes the URL of each item in order and keeps the first
// occurrence of every key not already in s. Items whose URL cannot be
// canonicalized are dropped.
func Filter[T any](s *Set, items []T, urlOf func(T) string) []Keyed[T] {
	out := make([]Keyed[T], 0, len(items))
	for _, it := range items {
		key, err := Canonicalize(urlOf(it))
		if err != nil {
			continue
		}
		if s.Add(key) {
			out = append(out, Keyed[T]{Key: key, Item: it})
		}
	}
	return out
}
