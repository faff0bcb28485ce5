package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/docsweep/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name     string
	delay    time.Duration
	err      error
	results  int
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	mu       sync.Mutex
	starts   []time.Time
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Search(ctx context.Context, query, lang string, maxResults int) ([]Candidate, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.maxSeen.Load()
		if n <= old || f.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	f.mu.Lock()
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Candidate, f.results)
	for i := range out {
		out[i] = Candidate{URL: fmt.Sprintf("https://%s.example/%s/%d", f.name, query, i), Rank: 99}
	}
	return out, nil
}

func TestPool_SerializesPerProvider(t *testing.T) {
	a := &fakeProvider{name: "a", delay: 20 * time.Millisecond, results: 1}
	b := &fakeProvider{name: "b", delay: 20 * time.Millisecond, results: 1}
	pool := NewPool(nil)
	require.NoError(t, pool.Add(a, 0))
	require.NoError(t, pool.Add(b, 0))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		for _, name := range []string{"a", "b"} {
			wg.Add(1)
			go func(name string, i int) {
				defer wg.Done()
				pool.Search(context.Background(), name, fmt.Sprint(i), "en", 5)
			}(name, i)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), a.maxSeen.Load(), "calls into one provider must not overlap")
	assert.Equal(t, int32(1), b.maxSeen.Load())
	assert.Len(t, a.starts, 4)
}

func TestPool_EnforcesMinimumGap(t *testing.T) {
	p := &fakeProvider{name: "slow", results: 1}
	pool := NewPool(nil)
	gap := 40 * time.Millisecond
	require.NoError(t, pool.Add(p, gap))

	for i := 0; i < 3; i++ {
		pool.Search(context.Background(), "slow", "q", "en", 5)
	}

	require.Len(t, p.starts, 3)
	for i := 1; i < len(p.starts); i++ {
		assert.GreaterOrEqual(t, p.starts[i].Sub(p.starts[i-1]), gap-5*time.Millisecond)
	}
}

func TestPool_FailuresYieldNoCandidates(t *testing.T) {
	pool := NewPool(nil)
	require.NoError(t, pool.Add(&fakeProvider{name: "broken", err: errors.New("boom")}, 0))
	require.NoError(t, pool.Add(&fakeProvider{name: "captcha", err: fmt.Errorf("%w: Google CAPTCHA", ErrBlocked)}, 0))

	assert.Empty(t, pool.Search(context.Background(), "broken", "q", "en", 5))
	assert.Empty(t, pool.Search(context.Background(), "captcha", "q", "en", 5))
	assert.Empty(t, pool.Search(context.Background(), "missing", "q", "en", 5))
}

func TestPool_TruncatesAndRanks(t *testing.T) {
	pool := NewPool(nil)
	require.NoError(t, pool.Add(&fakeProvider{name: "many", results: 8}, 0))

	cands := pool.Search(context.Background(), "many", "q", "en", 3)
	require.Len(t, cands, 3)
	for i, c := range cands {
		assert.Equal(t, i+1, c.Rank)
	}
}

func TestPool_CancelledWhileWaiting(t *testing.T) {
	p := &fakeProvider{name: "gap", results: 1}
	pool := NewPool(nil)
	require.NoError(t, pool.Add(p, time.Hour))

	require.Len(t, pool.Search(context.Background(), "gap", "q", "en", 5), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Empty(t, pool.Search(ctx, "gap", "q", "en", 5))
	assert.Len(t, p.starts, 1)
}

func TestNewPoolFromConfig(t *testing.T) {
	cfg := config.SearchConfig{
		EnabledEngines: []string{"duckduckgo", "bing"},
		RequestDelay:   time.Second,
	}
	pool, err := NewPoolFromConfig(DefaultRegistry(), cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"duckduckgo", "bing"}, pool.Names())

	cfg.EnabledEngines = []string{"bing", "bing"}
	_, err = NewPoolFromConfig(DefaultRegistry(), cfg, Options{})
	assert.Error(t, err)

	cfg.EnabledEngines = []string{"yahoo"}
	_, err = NewPoolFromConfig(DefaultRegistry(), cfg, Options{})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}
