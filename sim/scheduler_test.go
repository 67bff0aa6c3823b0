package sim

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mustTestEngine builds an Engine tuned for fast, deterministic tests: a
// tiny base window and high-throughput GPU rates, so the worker loop's
// real-time sleeps never dominate test run time.
func mustTestEngine(t *testing.T, tenants ...TenantSpec) *Engine {
	t.Helper()
	scheduler := NewSchedulerConfig(0.001, 5.0, 16, 1.0, 10)
	gpu := NewGPUConfig(1_000_000, 1_000_000.0, 1_000_000.0, 3.00)
	cfg := NewEngineConfig(scheduler, gpu, tenants)
	return NewEngine(cfg, SystemClock{})
}

// === Scenario S1: single tenant, no contention ===
func TestEngine_S1_SubmitAndComplete(t *testing.T) {
	engine := mustTestEngine(t, NewTenantSpec("A", 1000, 1000))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	engine.Start(ctx)
	defer engine.Shutdown(context.Background(), time.Second)

	handle, err := engine.Submit(ctx, "A", "hello", 50, 5)
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if result.TokensProduced != 50 {
		t.Errorf("got %d tokens produced, want 50", result.TokensProduced)
	}
}

// === Scenario S2: rate limit ===
func TestEngine_S2_SubmitRejectedOnRateLimit(t *testing.T) {
	engine := mustTestEngine(t, NewTenantSpec("A", 1, 10))
	ctx := context.Background()

	if _, err := engine.Submit(ctx, "A", "", 10, 5); err != nil {
		t.Fatalf("unexpected first submit error: %v", err)
	}
	_, err := engine.Submit(ctx, "A", "", 5, 5)
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("got %v, want ErrRateLimited", err)
	}
}

func TestEngine_SubmitRejectedOnUnknownTenant(t *testing.T) {
	engine := mustTestEngine(t)
	_, err := engine.Submit(context.Background(), "ghost", "", 10, 5)
	if !errors.Is(err, ErrUnknownTenant) {
		t.Errorf("got %v, want ErrUnknownTenant", err)
	}
}

func TestEngine_SubmitRejectedOnInvalidPriority(t *testing.T) {
	engine := mustTestEngine(t, NewTenantSpec("A", 1000, 1000))
	_, err := engine.Submit(context.Background(), "A", "", 10, 0)
	if !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("got %v, want ErrInvalidPriority", err)
	}
	_, err = engine.Submit(context.Background(), "A", "", 10, 11)
	if !errors.Is(err, ErrInvalidPriority) {
		t.Errorf("got %v, want ErrInvalidPriority", err)
	}
}

func TestEngine_SubmitRejectedOnInvalidTokens(t *testing.T) {
	engine := mustTestEngine(t, NewTenantSpec("A", 1000, 1000))
	_, err := engine.Submit(context.Background(), "A", "", 0, 5)
	if !errors.Is(err, ErrInvalidTokens) {
		t.Errorf("got %v, want ErrInvalidTokens", err)
	}
	_, err = engine.Submit(context.Background(), "A", "", engine.cfg.GPU.KVMax+1, 5)
	if !errors.Is(err, ErrInvalidTokens) {
		t.Errorf("got %v, want ErrInvalidTokens", err)
	}
}

// === Invariant: admission conservation ===
// A rejected submit never touches the queue or the tenant's bucket.
func TestEngine_RejectedSubmitDoesNotAffectState(t *testing.T) {
	engine := mustTestEngine(t, NewTenantSpec("A", 1000, 1000))
	statusBefore, _ := engine.TenantStatus("A")

	_, err := engine.Submit(context.Background(), "A", "", 0, 5)
	if err == nil {
		t.Fatal("expected a validation error")
	}

	statusAfter, _ := engine.TenantStatus("A")
	if statusBefore.Tokens != statusAfter.Tokens {
		t.Errorf("rejected submit altered bucket tokens: before=%v after=%v", statusBefore.Tokens, statusAfter.Tokens)
	}
	if engine.queue.Len() != 0 {
		t.Errorf("rejected submit enqueued a request: queue len=%d", engine.queue.Len())
	}
}

func TestEngine_ShutdownDrainsQueueWithErrShutdown(t *testing.T) {
	engine := mustTestEngine(t, NewTenantSpec("A", 1000, 1000))
	ctx := context.Background()
	handle, err := engine.Submit(ctx, "A", "", 10, 5)
	if err != nil {
		t.Fatalf("unexpected submit error: %v", err)
	}

	// Start with an already-cancelled context: the worker loop exits on
	// its first iteration without ever dispatching the queued request.
	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()
	engine.Start(cancelledCtx)

	if err := engine.Shutdown(ctx, time.Second); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}

	_, err = handle.Wait(ctx)
	if !errors.Is(err, ErrShutdown) {
		t.Errorf("got %v, want ErrShutdown", err)
	}
}

func TestEngine_TenantStatusUnknown(t *testing.T) {
	engine := mustTestEngine(t)
	if _, err := engine.TenantStatus("ghost"); !errors.Is(err, ErrUnknownTenant) {
		t.Errorf("got %v, want ErrUnknownTenant", err)
	}
}

func TestEngine_MetricsSnapshotBeforeStart(t *testing.T) {
	engine := mustTestEngine(t, NewTenantSpec("A", 1000, 1000))
	snap := engine.MetricsSnapshot()
	if snap.ThroughputTPS != 0 {
		t.Errorf("expected zero throughput before any dispatch, got %v", snap.ThroughputTPS)
	}
	if snap.JainFairness != 1.0 {
		t.Errorf("expected vacuous fairness of 1.0 with no tenants served, got %v", snap.JainFairness)
	}
}

func TestAdaptiveWindowSeconds_ClampsToBounds(t *testing.T) {
	wBase := 0.010
	tau := 5.0

	// Zero entropy: no decay, window stays at wBase.
	if w := adaptiveWindowSeconds(0, wBase, tau); w != wBase {
		t.Errorf("zero entropy: got %v, want %v", w, wBase)
	}

	// Very high entropy: window should clamp to the 1ms floor.
	if w := adaptiveWindowSeconds(1000, wBase, tau); w != 0.001 {
		t.Errorf("high entropy: got %v, want 0.001", w)
	}
}
