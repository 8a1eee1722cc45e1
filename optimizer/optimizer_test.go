package optimizer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sessioncore/config"
	"github.com/c360/sessioncore/errors"
)

func testOptimizerConfig() config.OptimizerConfig {
	cfg := config.Default().Optimizer
	cfg.Capacity = 16
	cfg.SpeedFirstTTL = 100 * time.Millisecond
	cfg.BalancedTTL = 50 * time.Millisecond
	cfg.QualityFirstTTL = 50 * time.Millisecond
	cfg.GenerateTimeout = time.Second
	cfg.RefreshAheadFrac = 0.5
	return cfg
}

// countingGenerator returns canned content and tracks invocations.
type countingGenerator struct {
	mu      sync.Mutex
	calls   atomic.Int64
	content string
	err     error
	block   chan struct{} // when set, Generate waits for it
}

func (g *countingGenerator) Generate(ctx context.Context, query string, _ map[string]string) (string, error) {
	g.calls.Add(1)
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	if g.content != "" {
		return g.content, nil
	}
	return "answer to " + query, nil
}

func (g *countingGenerator) setErr(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

func newTestOptimizer(t *testing.T, gen Generator) *Optimizer {
	t.Helper()
	o, err := New(testOptimizerConfig(), gen, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestNewRequiresGenerator(t *testing.T) {
	_, err := New(testOptimizerConfig(), nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrGeneratorNil))
}

func TestMissThenHit(t *testing.T) {
	gen := &countingGenerator{}
	o := newTestOptimizer(t, gen)

	req := Request{Query: "hello", Strategy: StrategyBalanced}

	first, err := o.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, "answer to hello", first.Content)

	second, err := o.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, int64(1), gen.calls.Load())

	stats := o.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestExpiredEntryRegenerates(t *testing.T) {
	gen := &countingGenerator{}
	o := newTestOptimizer(t, gen)

	req := Request{Query: "hello", Strategy: StrategyBalanced}
	_, err := o.Respond(context.Background(), req)
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond) // past the 50ms balanced TTL

	res, err := o.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, int64(2), gen.calls.Load())
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	gen := &countingGenerator{block: make(chan struct{})}
	o := newTestOptimizer(t, gen)

	req := Request{Query: "shared", Strategy: StrategyBalanced}
	const callers = 8

	var wg sync.WaitGroup
	results := make([]Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Respond(context.Background(), req)
		}(i)
	}

	// Let every goroutine pile onto the in-flight generation.
	time.Sleep(20 * time.Millisecond)
	close(gen.block)
	wg.Wait()

	var initiators, coalesced int
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "answer to shared", results[i].Content)
		if results[i].Coalesced {
			coalesced++
		} else {
			initiators++
		}
	}
	// A single generation served everyone. Exactly one caller ran the
	// generator; every other caller waited on its result and says so.
	assert.Equal(t, int64(1), gen.calls.Load())
	assert.Equal(t, 1, initiators)
	assert.Equal(t, callers-1, coalesced)
	assert.Equal(t, int64(callers-1), o.Stats().Coalesced)
}

func TestGenerationFailureNotCached(t *testing.T) {
	gen := &countingGenerator{}
	gen.setErr(assert.AnError)
	o := newTestOptimizer(t, gen)

	req := Request{Query: "flaky", Strategy: StrategyBalanced}

	_, err := o.Respond(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCacheGeneration))
	assert.Equal(t, 0, o.Stats().CacheSize)

	// Once the generator recovers the next call succeeds; the failure
	// was not served from cache.
	gen.setErr(nil)
	res, err := o.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, "answer to flaky", res.Content)
	assert.Equal(t, int64(2), gen.calls.Load())
}

func TestSpeedFirstServesStaleAndRefreshes(t *testing.T) {
	gen := &countingGenerator{}
	o := newTestOptimizer(t, gen)

	req := Request{Query: "dashboard", Strategy: StrategySpeedFirst}
	_, err := o.Respond(context.Background(), req)
	require.NoError(t, err)

	// Cross the refresh-ahead threshold (50% of the 100ms TTL) without
	// letting the entry expire.
	time.Sleep(60 * time.Millisecond)

	res, err := o.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.True(t, res.Stale)

	// Background refresh regenerates the entry.
	deadline := time.Now().Add(time.Second)
	for gen.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int64(2), gen.calls.Load())
	assert.Equal(t, int64(1), o.Stats().StaleServed)
}

func TestQualityFirstRegeneratesNearExpiry(t *testing.T) {
	gen := &countingGenerator{}
	o := newTestOptimizer(t, gen)

	req := Request{Query: "precise", Strategy: StrategyQualityFirst}
	_, err := o.Respond(context.Background(), req)
	require.NoError(t, err)

	// Past the refresh-ahead threshold but before TTL expiry: quality
	// first refuses the aging entry and regenerates inline.
	time.Sleep(30 * time.Millisecond)

	res, err := o.Respond(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, int64(2), gen.calls.Load())
}

func TestStrategiesDoNotShareEntries(t *testing.T) {
	gen := &countingGenerator{}
	o := newTestOptimizer(t, gen)

	_, err := o.Respond(context.Background(), Request{Query: "q", Strategy: StrategySpeedFirst})
	require.NoError(t, err)
	_, err = o.Respond(context.Background(), Request{Query: "q", Strategy: StrategyQualityFirst})
	require.NoError(t, err)

	assert.Equal(t, int64(2), gen.calls.Load())
}

func TestInvalidate(t *testing.T) {
	gen := &countingGenerator{}
	o := newTestOptimizer(t, gen)

	res, err := o.Respond(context.Background(), Request{Query: "q", Strategy: StrategyBalanced})
	require.NoError(t, err)
	assert.True(t, o.Invalidate(res.Fingerprint))
	assert.False(t, o.Invalidate(res.Fingerprint))

	again, err := o.Respond(context.Background(), Request{Query: "q", Strategy: StrategyBalanced})
	require.NoError(t, err)
	assert.False(t, again.CacheHit)
}

func TestEmptyQueryRejected(t *testing.T) {
	o := newTestOptimizer(t, &countingGenerator{})
	_, err := o.Respond(context.Background(), Request{Strategy: StrategyBalanced})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestGeneratorTimeout(t *testing.T) {
	cfg := testOptimizerConfig()
	cfg.GenerateTimeout = 20 * time.Millisecond
	gen := &countingGenerator{block: make(chan struct{})} // never released
	o, err := New(cfg, gen, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })

	_, err = o.Respond(context.Background(), Request{Query: "slow", Strategy: StrategyBalanced})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCacheGeneration))
}
