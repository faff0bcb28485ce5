// Package provider queries web search engines for candidate documents.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/FranksOps/docsweep/pkg/httpclient"
)

// Candidate is one search hit. Rank is 1-based within a single provider call.
type Candidate struct {
	Title   string
	URL     string
	Snippet string
	Rank    int
}

// Provider is a single search engine. lang is the language the query is
// written in; engines use it for their interface language and Accept-Language.
type Provider interface {
	Name() string
	Search(ctx context.Context, query, lang string, maxResults int) ([]Candidate, error)
}

// Options is passed to every Factory.
type Options struct {
	// Client performs the requests. Nil builds a plain client with User-Agent rotation.
	Client *httpclient.Client
	// BaseURL overrides the engine endpoint (tests, self-hosted instances).
	BaseURL string
	Logger  *slog.Logger
}

func (o Options) client() *httpclient.Client {
	if o.Client != nil {
		return o.Client
	}
	// New only fails when building a cookie jar.
	c, _ := httpclient.New(httpclient.Config{UserAgents: []string{}, Logger: o.Logger})
	return c
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// Factory builds a Provider from Options.
type Factory func(Options) Provider

var (
	// ErrBlocked is returned when the engine answers with a CAPTCHA or block page.
	ErrBlocked = errors.New("blocked by search engine")
	// ErrUnknownProvider is returned by Registry.New for unregistered names.
	ErrUnknownProvider = errors.New("unknown search provider")
)

// Registry maps engine names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry registers every built-in engine.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(bingName, NewBing)
	r.Register(duckDuckGoName, NewDuckDuckGo)
	r.Register(googleName, NewGoogle)
	r.Register(searxngName, NewSearxng)
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the provider registered under name.
func (r *Registry) New(name string, opts Options) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return f(opts), nil
}
