package optimizer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/c360/sessioncore/config"
	"github.com/c360/sessioncore/errors"
	"github.com/c360/sessioncore/logging"
	"github.com/c360/sessioncore/pkg/cache"
)

const componentName = "ResponseOptimizer"

// Generator produces a response for a query. Implementations call the
// upstream model service and must honor ctx cancellation.
type Generator interface {
	Generate(ctx context.Context, query string, context map[string]string) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, query string, context map[string]string) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, query string, context map[string]string) (string, error) {
	return f(ctx, query, context)
}

// Request describes one response lookup. Context carries the
// caller-selected fields that distinguish otherwise identical queries
// (conversation, locale, persona) and participates in the fingerprint.
type Request struct {
	Query    string
	Strategy Strategy
	Context  map[string]string
}

// Result is the outcome of a Respond call.
type Result struct {
	Content     string        `json:"content"`
	Fingerprint string        `json:"fingerprint"`
	Strategy    Strategy      `json:"strategy"`
	CacheHit    bool          `json:"cache_hit"`
	Coalesced   bool          `json:"coalesced"`
	Stale       bool          `json:"stale"`
	Age         time.Duration `json:"age"`
	Latency     time.Duration `json:"latency"`
}

// Stats reports optimizer performance counters.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Coalesced   int64   `json:"coalesced"`
	StaleServed int64   `json:"stale_served"`
	Refreshes   int64   `json:"refreshes"`
	Failures    int64   `json:"failures"`
	HitRate     float64 `json:"hit_rate"`
	CacheSize   int     `json:"cache_size"`
}

// Optimizer serves responses from a fingerprint-keyed cache, coalescing
// concurrent misses for the same fingerprint into a single generator
// call. Generation failures are returned to every waiter and never
// cached.
type Optimizer struct {
	cfg       config.OptimizerConfig
	generator Generator
	logger    *logging.Logger

	responses cache.Cache[string]
	group     singleflight.Group

	hits        atomic.Int64
	misses      atomic.Int64
	coalesced   atomic.Int64
	staleServed atomic.Int64
	refreshes   atomic.Int64
	failures    atomic.Int64
}

// New creates an optimizer around the given generator.
func New(cfg config.OptimizerConfig, generator Generator, logger *logging.Logger) (*Optimizer, error) {
	if generator == nil {
		return nil, errors.WrapInvalid(errors.ErrGeneratorNil, componentName, "New", "construct")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.New(componentName, "", nil, nil)
	}

	responses, err := cache.New[string](cfg.Capacity)
	if err != nil {
		return nil, errors.Wrap(err, componentName, "New", "create response cache")
	}

	return &Optimizer{
		cfg:       cfg,
		generator: generator,
		logger:    logger,
		responses: responses,
	}, nil
}

// Respond returns a response for the request, from cache when the
// strategy permits, otherwise generating one. Concurrent callers with
// the same fingerprint share a single generation.
func (o *Optimizer) Respond(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	if req.Query == "" {
		return Result{}, errors.WrapInvalid(errors.ErrInvalidData, componentName, "Respond", "empty query")
	}
	strategy := req.Strategy
	if !strategy.IsValid() {
		strategy = StrategyBalanced
	}

	key := Fingerprint(req.Query, strategy, req.Context)
	ttl := strategy.TTL(o.cfg)

	if entry, ok := o.responses.GetEntry(key); ok {
		age := entry.Age()
		stale := age > time.Duration(float64(ttl)*o.cfg.RefreshAheadFrac)

		// Quality-first treats a near-expiry entry as a miss and
		// regenerates; speed-first serves it and refreshes behind the
		// caller's back.
		if !stale || strategy != StrategyQualityFirst {
			o.hits.Add(1)
			if stale && strategy == StrategySpeedFirst {
				o.staleServed.Add(1)
				o.refreshAsync(key, req, ttl)
			}
			return Result{
				Content:     entry.Value,
				Fingerprint: key,
				Strategy:    strategy,
				CacheHit:    true,
				Stale:       stale,
				Age:         age,
				Latency:     time.Since(start),
			}, nil
		}
	}

	o.misses.Add(1)

	// The singleflight group runs the closure on the first caller's
	// goroutine only, so the flag separates the initiator from the
	// callers that merely waited on its result.
	initiated := false
	content, err, _ := o.group.Do(key, func() (any, error) {
		initiated = true

		genCtx, cancel := context.WithTimeout(ctx, o.cfg.GenerateTimeout)
		defer cancel()

		out, genErr := o.generator.Generate(genCtx, req.Query, req.Context)
		if genErr != nil {
			return "", genErr
		}
		if _, setErr := o.responses.Set(key, out, ttl); setErr != nil {
			o.logger.Warn("failed to cache response", "fingerprint", key, "error", setErr)
		}
		return out, nil
	})
	if !initiated {
		o.coalesced.Add(1)
	}
	if err != nil {
		o.failures.Add(1)
		return Result{}, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrCacheGeneration, err),
			componentName, "Respond", "generate response")
	}

	return Result{
		Content:     content.(string),
		Fingerprint: key,
		Strategy:    strategy,
		Coalesced:   !initiated,
		Latency:     time.Since(start),
	}, nil
}

// refreshAsync regenerates a near-expiry entry in the background so the
// next caller sees a fresh response. The singleflight group keeps
// concurrent refreshes of the same key from stacking up.
func (o *Optimizer) refreshAsync(key string, req Request, ttl time.Duration) {
	go func() {
		_, _, _ = o.group.Do("refresh:"+key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), o.cfg.GenerateTimeout)
			defer cancel()

			out, err := o.generator.Generate(ctx, req.Query, req.Context)
			if err != nil {
				// Keep the stale entry; a failed refresh is not worse
				// than no refresh.
				o.logger.Warn("background refresh failed", "fingerprint", key, "error", err)
				return nil, err
			}
			if _, setErr := o.responses.Set(key, out, ttl); setErr != nil {
				return nil, setErr
			}
			o.refreshes.Add(1)
			return out, nil
		})
	}()
}

// Invalidate drops a cached response by fingerprint.
func (o *Optimizer) Invalidate(fingerprint string) bool {
	ok, _ := o.responses.Delete(fingerprint)
	return ok
}

// Clear empties the response cache.
func (o *Optimizer) Clear() error {
	return o.responses.Clear()
}

// Stats returns current performance counters.
func (o *Optimizer) Stats() Stats {
	hits := o.hits.Load()
	misses := o.misses.Load()
	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:        hits,
		Misses:      misses,
		Coalesced:   o.coalesced.Load(),
		StaleServed: o.staleServed.Load(),
		Refreshes:   o.refreshes.Load(),
		Failures:    o.failures.Load(),
		HitRate:     hitRate,
		CacheSize:   o.responses.Size(),
	}
}

// Close releases the response cache.
func (o *Optimizer) Close() error {
	return o.responses.Close()
}
