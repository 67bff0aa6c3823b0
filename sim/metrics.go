// Tracks engine-wide performance metrics and computes metrics snapshots.
// Keeps the teacher's NewMetrics()-constructor/JSON-snapshot convention.
// Counters are backed by prometheus/client_golang CounterVecs registered
// against a private registry; computeSnapshot reads them back through
// Gather rather than keeping a second, parallel set of totals, so the
// registry is the single source of truth an external /metrics endpoint
// could scrape without the in-process snapshot logic disagreeing with it.

package sim

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// MetricsSnapshot is the point-in-time output of Metrics.computeSnapshot.
type MetricsSnapshot struct {
	ThroughputTPS   float64 `json:"throughput_tps"`
	GPUUtilization  float64 `json:"gpu_utilization"`
	CostPerMToken   float64 `json:"cost_per_mtoken"`
	JainFairness    float64 `json:"jain_fairness"`
	CurrentEntropy  float64 `json:"current_entropy"`
	CurrentWindowMs float64 `json:"current_window_ms"`
	QueueDepth      int     `json:"queue_depth"`
}

const tokensProducedMetricName = "aps_tokens_produced_total"

// Metrics owns the registry and counters a snapshot derives from: tokens
// produced per tenant (for throughput and Jain's fairness) and failure
// counts per tenant. CounterVec and Registry are both safe for
// concurrent use on their own, so Metrics needs no mutex of its own.
type Metrics struct {
	registry *prometheus.Registry

	tokensProducedTotal *prometheus.CounterVec
	requestsFailedTotal *prometheus.CounterVec
	requestsOKTotal     *prometheus.CounterVec
}

// NewMetrics creates an empty Metrics, registering its counters against
// a private registry (no global registration, so multiple Engines in
// the same process — e.g. across tests — don't collide).
func NewMetrics() *Metrics {
	m := &Metrics{
		tokensProducedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: tokensProducedMetricName,
			Help: "Total tokens produced, by tenant.",
		}, []string{"tenant_id"}),
		requestsFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aps_requests_failed_total",
			Help: "Total requests that failed dispatch, by tenant.",
		}, []string{"tenant_id"}),
		requestsOKTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aps_requests_completed_total",
			Help: "Total requests completed successfully, by tenant.",
		}, []string{"tenant_id"}),
	}
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.tokensProducedTotal, m.requestsFailedTotal, m.requestsOKTotal)
	return m
}

// RecordSuccess records that tenantID's request produced tokensProduced
// tokens.
func (m *Metrics) RecordSuccess(tenantID string, tokensProduced int64) {
	m.tokensProducedTotal.WithLabelValues(tenantID).Add(float64(tokensProduced))
	m.requestsOKTotal.WithLabelValues(tenantID).Inc()
}

// RecordFailure records a dispatch failure for tenantID. Failed requests
// are counted but do not refill the tenant's bucket and do not
// contribute tokens to throughput or fairness.
func (m *Metrics) RecordFailure(tenantID string) {
	m.requestsFailedTotal.WithLabelValues(tenantID).Inc()
}

// Gather exposes the underlying registry's metric families, ready for an
// external scraper even though this package doesn't serve an HTTP
// /metrics endpoint itself.
func (m *Metrics) Gather() ([]*dto.MetricFamily, error) {
	return m.registry.Gather()
}

// tenantTotals reads aps_tokens_produced_total back out of the registry
// and returns the grand total plus a per-tenant breakdown, for
// throughput and Jain's fairness. Gather never errors for counter-only
// registries, but the error is still surfaced rather than swallowed.
func (m *Metrics) tenantTotals() (float64, map[string]float64, error) {
	families, err := m.Gather()
	if err != nil {
		return 0, nil, err
	}
	perTenant := make(map[string]float64)
	var total float64
	for _, fam := range families {
		if fam.GetName() != tokensProducedMetricName {
			continue
		}
		for _, metric := range fam.GetMetric() {
			var tenantID string
			for _, lbl := range metric.GetLabel() {
				if lbl.GetName() == "tenant_id" {
					tenantID = lbl.GetValue()
				}
			}
			v := metric.GetCounter().GetValue()
			perTenant[tenantID] = v
			total += v
		}
	}
	return total, perTenant, nil
}

// jainFairness computes (Σxᵢ)² / (N·Σxᵢ²) over the given per-tenant
// totals. Returns 1.0 (perfectly fair, vacuously) when there are no
// tenants with nonzero totals, avoiding a 0/0 result.
func jainFairness(perTenant map[string]float64) float64 {
	if len(perTenant) == 0 {
		return 1.0
	}
	var sum, sumSquares float64
	for _, x := range perTenant {
		sum += x
		sumSquares += x * x
	}
	if sumSquares == 0 {
		return 1.0
	}
	n := float64(len(perTenant))
	return (sum * sum) / (n * sumSquares)
}

// computeSnapshot assembles a MetricsSnapshot from the engine's current
// state. wallTime is time.Since(engine start); gpuBusyTime is
// GPUState.TotalBusyTime(); entropy/windowMs/queueDepth are read fresh
// from the entropy meter, the window formula, and the queue.
func (m *Metrics) computeSnapshot(wallTime, gpuBusyTime time.Duration, costPerHour float64, entropy, windowMs float64, queueDepth int) MetricsSnapshot {
	wallS := wallTime.Seconds()

	totalTokens, perTenant, err := m.tenantTotals()
	if err != nil {
		totalTokens, perTenant = 0, nil
	}

	var throughput float64
	if wallS > 0 {
		throughput = totalTokens / wallS
	}

	var gpuUtil float64
	if wallS > 0 {
		gpuUtil = gpuBusyTime.Seconds() / wallS
	}

	var costPerMToken float64
	if throughput > 0 {
		costPerMToken = (costPerHour / 3600) / throughput * 1_000_000
	} else {
		costPerMToken = math.Inf(1)
	}

	return MetricsSnapshot{
		ThroughputTPS:   throughput,
		GPUUtilization:  gpuUtil,
		CostPerMToken:   costPerMToken,
		JainFairness:    jainFairness(perTenant),
		CurrentEntropy:  entropy,
		CurrentWindowMs: windowMs,
		QueueDepth:      queueDepth,
	}
}
