package httpclient

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"sync/atomic"
)

// DefaultUserAgents is a set of current desktop browser User-Agents.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.7; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

// UserAgentPool hands out User-Agents. It is safe for concurrent use.
type UserAgentPool struct {
	uas     []string
	counter atomic.Uint64
}

// NewUserAgentPool copies uas, falling back to DefaultUserAgents when empty.
func NewUserAgentPool(uas []string) *UserAgentPool {
	if len(uas) == 0 {
		uas = DefaultUserAgents
	}
	return &UserAgentPool{uas: append([]string(nil), uas...)}
}

// Next returns User-Agents in round-robin order.
func (p *UserAgentPool) Next() string {
	idx := p.counter.Add(1) - 1
	return p.uas[idx%uint64(len(p.uas))]
}

// Random returns a User-Agent chosen with crypto/rand.
func (p *UserAgentPool) Random() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.uas))))
	if err != nil {
		return p.Next()
	}
	return p.uas[n.Int64()]
}

type userAgentTransport struct {
	base http.RoundTripper
	pool *UserAgentPool
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.pool.Random())
	return t.base.RoundTrip(r)
}
