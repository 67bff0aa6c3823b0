package sim

import (
	"math"
	"testing"
	"time"
)

// === Invariant: Jain's fairness is in [0, 1] and drops below 1 on skew ===
func TestJainFairness_UnevenTenants(t *testing.T) {
	m := NewMetrics()
	m.RecordSuccess("A", 900)
	m.RecordSuccess("B", 100)

	_, perTenant, err := m.tenantTotals()
	if err != nil {
		t.Fatalf("unexpected tenantTotals error: %v", err)
	}
	got := jainFairness(perTenant)
	if got <= 0 || got >= 1 {
		t.Fatalf("got %v, want a value strictly between 0 and 1 for a skewed split", got)
	}

	// Equal split across the same two tenants should score a perfect 1.0.
	even := map[string]float64{"A": 500, "B": 500}
	if got := jainFairness(even); got != 1.0 {
		t.Errorf("even split: got %v, want 1.0", got)
	}
}

func TestComputeSnapshot_CostPerMToken(t *testing.T) {
	m := NewMetrics()
	m.RecordSuccess("A", 1_000_000)

	const costPerHour = 3.00
	snap := m.computeSnapshot(time.Second, 500*time.Millisecond, costPerHour, 0, 10, 0)

	// throughput = 1_000_000 tokens/s, so cost = (3/3600) / 1e6 * 1e6 = 3/3600.
	want := costPerHour / 3600
	if math.Abs(snap.CostPerMToken-want) > 1e-9 {
		t.Errorf("got %v, want %v", snap.CostPerMToken, want)
	}
}

func TestComputeSnapshot_CostPerMTokenInfinityWhenIdle(t *testing.T) {
	m := NewMetrics()
	snap := m.computeSnapshot(time.Second, 0, 3.00, 0, 10, 0)
	if !math.IsInf(snap.CostPerMToken, 1) {
		t.Errorf("got %v, want +Inf when no tokens have been produced", snap.CostPerMToken)
	}
}

func TestComputeSnapshot_GPUUtilization(t *testing.T) {
	m := NewMetrics()
	snap := m.computeSnapshot(2*time.Second, time.Second, 3.00, 0, 10, 0)
	if snap.GPUUtilization != 0.5 {
		t.Errorf("got %v, want 0.5 for 1s busy out of 2s wall", snap.GPUUtilization)
	}
}

func TestComputeSnapshot_ZeroWallTimeDoesNotDivideByZero(t *testing.T) {
	m := NewMetrics()
	snap := m.computeSnapshot(0, 0, 3.00, 0, 10, 0)
	if snap.ThroughputTPS != 0 || snap.GPUUtilization != 0 {
		t.Errorf("got throughput=%v util=%v, want both 0 at zero wall time", snap.ThroughputTPS, snap.GPUUtilization)
	}
}

// Counters recorded through RecordSuccess/RecordFailure must actually be
// readable back out of the registry — if Gather ever returned nothing,
// every snapshot would silently report zero throughput regardless of
// how many requests completed.
func TestMetrics_RecordSuccessIsVisibleThroughGather(t *testing.T) {
	m := NewMetrics()
	m.RecordSuccess("A", 42)
	m.RecordFailure("A")

	families, err := m.Gather()
	if err != nil {
		t.Fatalf("unexpected Gather error: %v", err)
	}

	var sawTokens, sawFailure bool
	for _, fam := range families {
		switch fam.GetName() {
		case tokensProducedMetricName:
			for _, metric := range fam.GetMetric() {
				if metric.GetCounter().GetValue() == 42 {
					sawTokens = true
				}
			}
		case "aps_requests_failed_total":
			for _, metric := range fam.GetMetric() {
				if metric.GetCounter().GetValue() == 1 {
					sawFailure = true
				}
			}
		}
	}
	if !sawTokens {
		t.Error("expected aps_tokens_produced_total=42 to be visible via Gather")
	}
	if !sawFailure {
		t.Error("expected aps_requests_failed_total=1 to be visible via Gather")
	}
}
