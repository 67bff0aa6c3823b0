// Implements HomeostaticScheduler and Engine, the top-level facade that
// wires TenantRegistry, ArrivalEntropyMeter, PriorityQueue, GPUBackend
// and the worker loop together. Loop shape (pop, window sleep, drain,
// dispatch) is grounded on original_source/server.py's worker(); the
// aging/entropy-driven window comes from
// homeostatic_governor.py's get_adaptive_batch_window.

package sim

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// adaptiveWindowSeconds computes the homeostatic batch window:
//
//	w_adaptive = W_BASE * exp(-H / tau), clamped to [1ms, W_BASE]
//
// Returned in fractional seconds so callers needing millisecond
// precision (the snapshot's current_window_ms) don't lose precision
// rounding through time.Duration first.
func adaptiveWindowSeconds(entropy, wBase, tau float64) float64 {
	w := wBase * math.Exp(-entropy/tau)
	const minWindow = 0.001 // 1ms
	if w < minWindow {
		w = minWindow
	}
	if w > wBase {
		w = wBase
	}
	return w
}

// HomeostaticScheduler is the single worker loop: it wakes every
// w_adaptive, drains ready requests into a batch under the GPU's KV
// budget, dispatches the batch, and resolves each request's completion
// handle.
type HomeostaticScheduler struct {
	cfg      SchedulerConfig
	clock    Clock
	queue    *PriorityQueue
	entropy  *ArrivalEntropyMeter
	builder  *BatchBuilder
	gpu      *GPUBackend
	gpuState *GPUState
	metrics  *Metrics

	stopped chan struct{}
}

func newHomeostaticScheduler(cfg SchedulerConfig, clock Clock, queue *PriorityQueue, entropy *ArrivalEntropyMeter, gpuState *GPUState, gpu *GPUBackend, metrics *Metrics) *HomeostaticScheduler {
	return &HomeostaticScheduler{
		cfg:      cfg,
		clock:    clock,
		queue:    queue,
		entropy:  entropy,
		builder:  NewBatchBuilder(cfg.MaxBatch, gpuStateKVMax(gpu)),
		gpu:      gpu,
		gpuState: gpuState,
		metrics:  metrics,
		stopped:  make(chan struct{}),
	}
}

// gpuStateKVMax recovers the KV budget a BatchBuilder needs from the
// already-constructed GPUBackend, so callers only have to supply the KV
// budget once (in GPUConfig).
func gpuStateKVMax(gpu *GPUBackend) int64 {
	return gpu.cfg.KVMax
}

// run is the worker loop body. It exits when ctx is cancelled; an
// in-flight batch always runs to completion before the loop checks ctx
// again.
func (s *HomeostaticScheduler) run(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		h := s.entropy.Entropy()
		w := time.Duration(adaptiveWindowSeconds(h, s.cfg.WBase, s.cfg.Tau) * float64(time.Second))

		select {
		case <-ctx.Done():
			return
		case <-time.After(w):
		}

		if s.queue.Len() == 0 {
			continue
		}

		now := s.clock.Now()
		batch := s.builder.Build(s.queue, s.gpuState, now)
		if batch.Empty() {
			continue
		}

		result, err := s.gpu.Run(batch, now)
		if err != nil {
			logrus.Errorf("scheduler.go: invariant violation dispatching batch of %d, terminating worker: %v", len(batch.Requests), err)
			s.failBatch(batch, err)
			s.drainWith(now, ErrInternal)
			return
		}
		s.resolveBatch(batch, result)
	}
}

// resolveBatch fulfills every request's completion handle from its
// corresponding RequestTiming in result.
func (s *HomeostaticScheduler) resolveBatch(batch *Batch, result *BatchResult) {
	for _, item := range result.PerItem {
		item.Request.State = StateCompleted
		item.Request.Handle.resolve(Result{
			TokensProduced: item.TokensProduced,
			LatencyS:       result.WallTimeS,
			BatchSize:      result.BatchSize,
			QueueWaitS:     item.QueueWaitS,
		})
		s.metrics.RecordSuccess(item.Request.TenantID, item.TokensProduced)
	}
}

// failBatch resolves every request in batch with the same cause. A
// batch resolves atomically — either every request succeeds or all are
// marked failed together.
func (s *HomeostaticScheduler) failBatch(batch *Batch, cause error) {
	for _, r := range batch.Requests {
		r.State = StateFailed
		r.Handle.fail(cause)
		s.metrics.RecordFailure(r.TenantID)
	}
}

// drainWith resolves every request still in the queue with cause.
func (s *HomeostaticScheduler) drainWith(now time.Time, cause error) {
	for {
		req, ok := s.queue.Pop(now)
		if !ok {
			return
		}
		req.State = StateFailed
		req.Handle.fail(cause)
		s.metrics.RecordFailure(req.TenantID)
	}
}

// drainOnShutdown resolves every request still in the queue with
// ErrShutdown.
func (s *HomeostaticScheduler) drainOnShutdown() {
	s.drainWith(s.clock.Now(), ErrShutdown)
}

// Engine is the top-level facade wiring one TenantRegistry, one
// ArrivalEntropyMeter, one PriorityQueue, one GPUState+GPUBackend, and
// exactly one HomeostaticScheduler worker into a single running system.
type Engine struct {
	cfg EngineConfig

	clock     Clock
	tenants   *TenantRegistry
	entropy   *ArrivalEntropyMeter
	queue     *PriorityQueue
	gpuState  *GPUState
	gpu       *GPUBackend
	metrics   *Metrics
	scheduler *HomeostaticScheduler

	mu        sync.Mutex
	startTime time.Time
	cancel    context.CancelFunc
	running   bool
}

// NewEngine constructs an Engine from cfg, using clock as the monotonic
// time source throughout (SystemClock in production, FakeClock in
// tests). Tenants in cfg.Tenants are registered immediately.
func NewEngine(cfg EngineConfig, clock Clock) *Engine {
	tenants := NewTenantRegistry()
	now := clock.Now()
	for _, t := range cfg.Tenants {
		tenants.Register(t, now)
	}

	gpuState := NewGPUState()
	gpu := NewGPUBackend(cfg.GPU, gpuState)
	queue := NewPriorityQueue(cfg.Scheduler.Alpha)
	entropy := NewArrivalEntropyMeter(cfg.Scheduler.EntropyWindow)
	metrics := NewMetrics()

	e := &Engine{
		cfg:      cfg,
		clock:    clock,
		tenants:  tenants,
		entropy:  entropy,
		queue:    queue,
		gpuState: gpuState,
		gpu:      gpu,
		metrics:  metrics,
	}
	e.scheduler = newHomeostaticScheduler(cfg.Scheduler, clock, queue, entropy, gpuState, gpu, metrics)
	return e
}

// RegisterTenant registers a new tenant with the engine's registry,
// initializing its bucket to full.
func (e *Engine) RegisterTenant(spec TenantSpec) {
	e.tenants.Register(spec, e.clock.Now())
}

// Start launches the worker goroutine. Calling Start twice is a
// programmer error and panics.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		panic("Engine.Start: already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.startTime = e.clock.Now()
	e.running = true
	go e.scheduler.run(runCtx)
}

// Shutdown cancels the worker and waits for it to stop, for at most
// grace, then resolves every request still queued with ErrShutdown. If
// ctx is done first, it returns ctx.Err() without draining the queue. An
// in-flight batch is not interrupted; it runs to completion regardless
// of grace.
func (e *Engine) Shutdown(ctx context.Context, grace time.Duration) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.cancel()
	e.running = false
	e.mu.Unlock()

	select {
	case <-e.scheduler.stopped:
	case <-time.After(grace):
	case <-ctx.Done():
		return ctx.Err()
	}
	e.scheduler.drainOnShutdown()
	return nil
}

// Submit validates priorityBid and tokensRequested synchronously (so
// malformed requests never touch the registry, the queue, or metrics),
// then admits against the tenant's bucket, and on success pushes the
// request and returns its completion handle.
func (e *Engine) Submit(ctx context.Context, tenantID, prompt string, tokensRequested int64, priorityBid int) (*CompletionHandle, error) {
	if priorityBid < 1 || priorityBid > 10 {
		return nil, ErrInvalidPriority
	}
	if tokensRequested <= 0 || tokensRequested > e.cfg.GPU.KVMax {
		return nil, ErrInvalidTokens
	}

	now := e.clock.Now()
	switch e.tenants.Admit(tenantID, float64(tokensRequested), now) {
	case RejectedUnknownTenant:
		return nil, ErrUnknownTenant
	case RejectedRateLimit:
		return nil, ErrRateLimited
	}

	req := NewRequest("", tenantID, prompt, tokensRequested, priorityBid, now.UnixNano())
	e.queue.Push(req, now)
	e.entropy.Record(now)
	return req.Handle, nil
}

// TenantStatus implements tenant_status.
func (e *Engine) TenantStatus(tenantID string) (TenantStatus, error) {
	status, ok := e.tenants.Snapshot(tenantID, e.clock.Now())
	if !ok {
		return TenantStatus{}, fmt.Errorf("%w: %s", ErrUnknownTenant, tenantID)
	}
	return status, nil
}

// MetricsSnapshot computes a fresh point-in-time snapshot of the
// engine's throughput, GPU utilization, cost, fairness, and queueing
// behavior.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	e.mu.Lock()
	start := e.startTime
	e.mu.Unlock()
	if start.IsZero() {
		start = e.clock.Now()
	}

	wallTime := e.clock.Now().Sub(start)
	h := e.entropy.Entropy()
	windowMs := adaptiveWindowSeconds(h, e.cfg.Scheduler.WBase, e.cfg.Scheduler.Tau) * 1000

	return e.metrics.computeSnapshot(
		wallTime,
		e.gpuState.TotalBusyTime(),
		e.cfg.GPU.CostPerHour,
		h,
		windowMs,
		e.queue.Len(),
	)
}
