package sim

import (
	"testing"
	"time"
)

func mustRegistry(t *testing.T, specs ...TenantSpec) (*TenantRegistry, time.Time) {
	t.Helper()
	now := time.Unix(0, 0)
	tr := NewTenantRegistry()
	for _, s := range specs {
		tr.Register(s, now)
	}
	return tr, now
}

func TestTenantRegistry_S1_SingleTenantNoContention(t *testing.T) {
	tr, now := mustRegistry(t, NewTenantSpec("A", 1000, 1000))

	result := tr.Admit("A", 100, now)
	if result != Admitted {
		t.Fatalf("expected Admitted, got %v", result)
	}

	status, ok := tr.Snapshot("A", now)
	if !ok {
		t.Fatal("tenant A should be registered")
	}
	if status.Tokens != 900 {
		t.Errorf("expected 900 tokens remaining, got %v", status.Tokens)
	}
}

func TestTenantRegistry_S2_RateLimit(t *testing.T) {
	tr, now := mustRegistry(t, NewTenantSpec("B", 10, 10))

	want := []AdmitResult{Admitted, Admitted, RejectedRateLimit}
	var got []AdmitResult
	for i := 0; i < 3; i++ {
		got = append(got, tr.Admit("B", 5, now))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("request %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTenantRegistry_UnknownTenant(t *testing.T) {
	tr, now := mustRegistry(t)
	if got := tr.Admit("ghost", 1, now); got != RejectedUnknownTenant {
		t.Errorf("got %v, want RejectedUnknownTenant", got)
	}
	if _, ok := tr.Snapshot("ghost", now); ok {
		t.Error("Snapshot should report unregistered tenant as not-ok")
	}
}

// === Invariant: bucket safety (property 1) ===
// For any sequence of admits, 0 <= tokens <= burst_cap after each call.
func TestTenantRegistry_BucketSafety(t *testing.T) {
	tr, start := mustRegistry(t, NewTenantSpec("A", 50, 100))

	now := start
	for i := 0; i < 200; i++ {
		now = now.Add(10 * time.Millisecond)
		tr.Admit("A", 7, now)
		status, _ := tr.Snapshot("A", now)
		if status.Tokens < 0 || status.Tokens > status.BurstCap {
			t.Fatalf("bucket safety violated at step %d: tokens=%v burst_cap=%v", i, status.Tokens, status.BurstCap)
		}
	}
}

// Refill happens before the admission check, so capacity accrued since
// the last call is honored.
func TestTenantRegistry_RefillBeforeCheck(t *testing.T) {
	tr, start := mustRegistry(t, NewTenantSpec("A", 10, 10))

	// Drain the bucket fully.
	if got := tr.Admit("A", 10, start); got != Admitted {
		t.Fatalf("expected initial drain to succeed, got %v", got)
	}
	if got := tr.Admit("A", 1, start); got != RejectedRateLimit {
		t.Fatalf("expected immediate re-admit to be rejected, got %v", got)
	}

	// After 1 full second at rate=10/s, 10 tokens should have refilled.
	later := start.Add(1 * time.Second)
	if got := tr.Admit("A", 10, later); got != Admitted {
		t.Fatalf("expected refilled admit to succeed, got %v", got)
	}
}
