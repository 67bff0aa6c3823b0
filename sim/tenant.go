// Implements per-tenant token-bucket admission control. Grounded on
// original_source/tenant_manager.py's refill/consume split and the
// per-tenant-lock pattern used by cockroachdb's cpuTimeBurstBucket.

package sim

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// AdmitResult is the outcome of a TenantRegistry.Admit call.
type AdmitResult int

const (
	Admitted AdmitResult = iota
	RejectedUnknownTenant
	RejectedRateLimit
)

func (r AdmitResult) String() string {
	switch r {
	case Admitted:
		return "ADMITTED"
	case RejectedUnknownTenant:
		return "REJECTED_UNKNOWN_TENANT"
	case RejectedRateLimit:
		return "REJECTED_RATE_LIMIT"
	default:
		return "UNKNOWN"
	}
}

// TenantStatus is the observable snapshot returned by tenant_status.
type TenantStatus struct {
	TenantID string
	Tokens   float64
	Rate     float64
	BurstCap float64
}

// tenantBucket is one tenant's token bucket. All fields are guarded by mu.
type tenantBucket struct {
	mu sync.Mutex

	rate       float64
	burstCap   float64
	tokens     float64
	lastUpdate time.Time
}

// refillLocked applies the token-bucket refill formula: add elapsed
// seconds times rate, capped at burstCap. Caller must hold mu.
func (b *tenantBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastUpdate).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens = min(b.burstCap, b.tokens+elapsed*b.rate)
	b.lastUpdate = now
}

// TenantRegistry holds one tenantBucket per registered tenant and serves
// admission decisions. Grounded on tenant_manager.py's TenantManager; the
// Python's single-dict-of-locks becomes a map of per-tenant *tenantBucket,
// each with its own sync.Mutex, so admission for one tenant never blocks
// on another's under contention.
type TenantRegistry struct {
	mu      sync.RWMutex
	buckets map[string]*tenantBucket
}

// NewTenantRegistry creates an empty registry. Tenants are added via
// Register.
func NewTenantRegistry() *TenantRegistry {
	return &TenantRegistry{buckets: make(map[string]*tenantBucket)}
}

// Register adds or replaces a tenant's bucket, initialized full, matching
// original_source/tenant_manager.py's init behavior.
func (tr *TenantRegistry) Register(spec TenantSpec, now time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.buckets[spec.TenantID] = &tenantBucket{
		rate:       spec.Rate,
		burstCap:   spec.BurstCap,
		tokens:     spec.BurstCap,
		lastUpdate: now,
	}
	logrus.Debugf("tenant.go: registered tenant %s rate=%.2f burst=%.2f", spec.TenantID, spec.Rate, spec.BurstCap)
}

// Admit refills the tenant's bucket, then attempts an all-or-nothing
// consume. Never blocks beyond the bucket's own mutex.
func (tr *TenantRegistry) Admit(tenantID string, tokensRequested float64, now time.Time) AdmitResult {
	tr.mu.RLock()
	b, ok := tr.buckets[tenantID]
	tr.mu.RUnlock()
	if !ok {
		return RejectedUnknownTenant
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	if b.tokens >= tokensRequested {
		b.tokens -= tokensRequested
		return Admitted
	}
	return RejectedRateLimit
}

// Snapshot returns a tenant's current bucket state, refilled as of now.
// Implements tenant_status. ok is false if the tenant is not registered.
func (tr *TenantRegistry) Snapshot(tenantID string, now time.Time) (TenantStatus, bool) {
	tr.mu.RLock()
	b, ok := tr.buckets[tenantID]
	tr.mu.RUnlock()
	if !ok {
		return TenantStatus{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	return TenantStatus{
		TenantID: tenantID,
		Tokens:   b.tokens,
		Rate:     b.rate,
		BurstCap: b.burstCap,
	}, true
}

// TenantIDs returns the set of registered tenant IDs, in no particular
// order.
func (tr *TenantRegistry) TenantIDs() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	ids := make([]string, 0, len(tr.buckets))
	for id := range tr.buckets {
		ids = append(ids, id)
	}
	return ids
}
