package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/sessioncore/config"
	"github.com/c360/sessioncore/errors"
	"github.com/c360/sessioncore/logging"
	"github.com/c360/sessioncore/message"
	"github.com/c360/sessioncore/metric"
)

const componentName = "MessageRouter"

// Handler processes one envelope. Handlers run on router workers and
// must honor ctx, which carries the per-message timeout.
type Handler func(ctx context.Context, env message.Envelope) error

// Router dispatches inbound envelopes to registered handlers through a
// bounded priority queue and a fixed worker pool. A failing or slow
// handler affects only its own message.
type Router struct {
	cfg     config.RouterConfig
	logger  *logging.Logger
	metrics *metric.Metrics

	mu       sync.RWMutex
	handlers map[message.Type]Handler
	limiters map[string]*rate.Limiter
	started  bool
	stopping bool

	queue  *priorityQueue
	wakeup chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	processed   atomic.Int64
	failed      atomic.Int64
	inFlight    atomic.Int64
	rateLimited atomic.Int64
	byPriority  map[message.Priority]*atomic.Int64
}

// Status is a point-in-time view of router throughput and queue load.
type Status struct {
	Queued         int64            `json:"queued"`
	Processed      int64            `json:"processed"`
	Failed         int64            `json:"failed"`
	InFlight       int64            `json:"in_flight"`
	RateLimited    int64            `json:"rate_limited"`
	Dropped        int64            `json:"dropped"`
	QueueDepth     int              `json:"queue_depth"`
	QueueHighWater int              `json:"queue_high_water"`
	ByPriority     map[string]int64 `json:"by_priority"`
}

// New creates a router. metrics may be nil to disable instrumentation.
func New(cfg config.RouterConfig, logger *logging.Logger, metrics *metric.Metrics) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.New(componentName, "", nil, nil)
	}

	byPriority := make(map[message.Priority]*atomic.Int64, 4)
	for _, p := range message.Levels() {
		byPriority[p] = &atomic.Int64{}
	}

	return &Router{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		handlers:   make(map[message.Type]Handler),
		limiters:   make(map[string]*rate.Limiter),
		queue:      newPriorityQueue(cfg.QueueCapacity, cfg.OverflowPolicy),
		wakeup:     make(chan struct{}, 2*cfg.QueueCapacity),
		byPriority: byPriority,
	}, nil
}

// RegisterHandler binds a handler to a message type. Registering a
// second handler for the same type is rejected.
func (r *Router) RegisterHandler(typ message.Type, h Handler) error {
	if h == nil {
		return errors.WrapInvalid(errors.ErrInvalidData, componentName, "RegisterHandler", "nil handler")
	}
	if !typ.IsValid() {
		return errors.WrapInvalid(errors.ErrInvalidData, componentName, "RegisterHandler",
			"unknown type "+string(typ))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		return errors.WrapInvalid(errors.ErrHandlerExists, componentName, "RegisterHandler",
			"register "+string(typ))
	}
	r.handlers[typ] = h
	r.logger.Debug("handler registered", "type", typ)
	return nil
}

// UnregisterHandler removes the handler for a message type.
func (r *Router) UnregisterHandler(typ message.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; !exists {
		return errors.WrapInvalid(errors.ErrHandlerNotFound, componentName, "UnregisterHandler",
			"unregister "+string(typ))
	}
	delete(r.handlers, typ)
	return nil
}

// Start launches the worker pool.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.ErrAlreadyStarted
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.started = true
	r.stopping = false

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.logger.Info("router started",
		"workers", r.cfg.Workers,
		"queue_capacity", r.cfg.QueueCapacity,
		"overflow_policy", string(r.cfg.OverflowPolicy))
	return nil
}

// Stop drains the queue and shuts down the workers. Messages already
// queued are processed unless the timeout expires first, in which case
// the remainder is abandoned and ErrStopTimeout is returned.
func (r *Router) Stop(timeout time.Duration) error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return errors.ErrNotStarted
	}
	r.stopping = true
	r.mu.Unlock()

	if timeout <= 0 {
		timeout = r.cfg.StopTimeout
	}
	deadline := time.Now().Add(timeout)

	var timedOut bool
	for {
		if r.queue.depth() == 0 && r.inFlight.Load() == 0 {
			break
		}
		if time.Now().After(deadline) {
			timedOut = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.cancel()
	r.wg.Wait()

	r.mu.Lock()
	r.started = false
	r.mu.Unlock()

	if timedOut {
		abandoned := r.queue.depth()
		r.logger.Warn("router stop timed out", "abandoned", abandoned)
		return errors.WrapTransient(errors.ErrStopTimeout, componentName, "Stop",
			fmt.Sprintf("drain with %d messages abandoned", abandoned))
	}
	r.logger.Info("router stopped")
	return nil
}

// Route validates and enqueues an envelope for dispatch. It never
// blocks: a full queue either rejects the message or, with the
// drop_oldest policy, evicts an older one of equal or lower priority.
func (r *Router) Route(env message.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	r.mu.RLock()
	stopping := r.stopping || !r.started
	_, hasHandler := r.handlers[env.Type]
	r.mu.RUnlock()

	if stopping {
		return errors.WrapTransient(errors.ErrShuttingDown, componentName, "Route",
			"enqueue "+env.ID)
	}
	if !hasHandler {
		r.failed.Add(1)
		r.countProcessed(env.Type, "unhandled")
		return errors.WrapInvalid(errors.ErrHandlerNotFound, componentName, "Route",
			"route "+string(env.Type))
	}

	if !r.allow(env.ClientID) {
		r.rateLimited.Add(1)
		return errors.WrapTransient(errors.ErrRateLimited, componentName, "Route",
			"admit message from "+env.ClientID)
	}

	if err := r.queue.enqueue(env); err != nil {
		r.logger.Warn("queue full, message rejected",
			"client_id", env.ClientID, "type", env.Type, "priority", env.Priority.String())
		return errors.WrapTransient(err, componentName, "Route", "enqueue "+env.ID)
	}

	r.byPriority[env.Priority].Add(1)
	if r.metrics != nil {
		r.metrics.EnvelopesReceived.WithLabelValues(componentName, string(env.Type)).Inc()
	}

	select {
	case r.wakeup <- struct{}{}:
	default:
	}
	return nil
}

// allow applies the per-client rate limit. Zero configured rate means
// no limiting.
func (r *Router) allow(clientID string) bool {
	if r.cfg.RateLimit.PerSecond <= 0 {
		return true
	}

	r.mu.Lock()
	limiter, ok := r.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.RateLimit.PerSecond), r.cfg.RateLimit.Burst)
		r.limiters[clientID] = limiter
	}
	r.mu.Unlock()

	return limiter.Allow()
}

// worker pulls envelopes off the queue until the router context ends.
func (r *Router) worker(id int) {
	defer r.wg.Done()

	for {
		env, ok := r.queue.dequeue()
		if !ok {
			select {
			case <-r.ctx.Done():
				return
			case <-r.wakeup:
				continue
			}
		}
		r.dispatch(env, id)
	}
}

// dispatch runs the handler for one envelope with timeout and panic
// isolation.
func (r *Router) dispatch(env message.Envelope, workerID int) {
	r.mu.RLock()
	handler, ok := r.handlers[env.Type]
	r.mu.RUnlock()

	if !ok {
		// Handler unregistered between enqueue and dispatch.
		r.failed.Add(1)
		r.countProcessed(env.Type, "unhandled")
		return
	}

	r.inFlight.Add(1)
	defer r.inFlight.Add(-1)

	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.HandlerTimeout)
	defer cancel()

	start := time.Now()
	err := r.runHandler(ctx, handler, env)
	elapsed := time.Since(start)

	if r.metrics != nil {
		r.metrics.ProcessingDuration.WithLabelValues(componentName, string(env.Type)).
			Observe(elapsed.Seconds())
	}

	switch {
	case err == nil:
		r.processed.Add(1)
		r.countProcessed(env.Type, "ok")
	case errors.Is(err, context.DeadlineExceeded):
		r.failed.Add(1)
		r.countProcessed(env.Type, "timeout")
		r.countError(errors.ErrorTransient)
		r.logger.Error("handler timed out", errors.ErrHandlerTimeout,
			"type", env.Type, "message_id", env.ID, "worker", workerID,
			"timeout", r.cfg.HandlerTimeout)
	default:
		r.failed.Add(1)
		r.countProcessed(env.Type, "error")
		r.countError(errors.Classify(err))
		r.logger.Error("handler failed", err,
			"type", env.Type, "message_id", env.ID, "worker", workerID)
	}
}

// runHandler executes the handler, converting panics into handler
// execution errors so one bad message cannot take down a worker.
func (r *Router) runHandler(ctx context.Context, handler Handler, env message.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.WrapTransient(errors.ErrHandlerExecution, componentName, "runHandler",
				fmt.Sprintf("handler for %s panicked: %v", env.Type, rec))
		}
	}()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- errors.WrapTransient(errors.ErrHandlerExecution, componentName, "runHandler",
					fmt.Sprintf("handler for %s panicked: %v", env.Type, rec))
			}
		}()
		done <- handler(ctx, env)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) countProcessed(typ message.Type, status string) {
	if r.metrics != nil {
		r.metrics.EnvelopesProcessed.WithLabelValues(componentName, string(typ), status).Inc()
	}
}

func (r *Router) countError(class errors.ErrorClass) {
	if r.metrics != nil {
		r.metrics.ErrorsTotal.WithLabelValues(componentName, class.String()).Inc()
	}
}

// Status reports current throughput counters and queue load.
func (r *Router) Status() Status {
	depth, highWater, dropped := r.queue.stats()

	byPriority := make(map[string]int64, len(r.byPriority))
	var queued int64
	for p, counter := range r.byPriority {
		n := counter.Load()
		byPriority[p.String()] = n
		queued += n
	}

	return Status{
		Queued:         queued,
		Processed:      r.processed.Load(),
		Failed:         r.failed.Load(),
		InFlight:       r.inFlight.Load(),
		RateLimited:    r.rateLimited.Load(),
		Dropped:        dropped,
		QueueDepth:     depth,
		QueueHighWater: highWater,
		ByPriority:     byPriority,
	}
}
