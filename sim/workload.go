// Synthetic multi-tenant arrival generator, used only by cmd/root.go's
// serve command to exercise the engine without a real ingress layer.
// Field shape grounded on the teacher's GuideLLMConfig (distribution-
// based workload generation): a Poisson-ish arrival rate plus a
// normal token-count distribution clamped to [min, max].

package sim

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkloadSpec describes one tenant's synthetic arrival process.
type WorkloadSpec struct {
	TenantID          string
	RatePerSec        float64 // mean arrival rate, requests/sec (Poisson process)
	PromptTokensMean  int
	PromptTokensStdev int
	PromptTokensMin   int
	PromptTokensMax   int
	PriorityBidMin    int
	PriorityBidMax    int
}

// NewWorkloadSpec creates a WorkloadSpec with all fields explicitly set.
// Canonical constructor, matching the teacher's NewGuideLLMConfig
// convention. Panics on non-positive rate or an inverted token range.
func NewWorkloadSpec(tenantID string, ratePerSec float64, promptTokensMean, promptTokensStdev, promptTokensMin, promptTokensMax, priorityBidMin, priorityBidMax int) WorkloadSpec {
	if ratePerSec <= 0 {
		panic("NewWorkloadSpec: ratePerSec must be > 0")
	}
	if promptTokensMin > promptTokensMax {
		panic("NewWorkloadSpec: promptTokensMin must be <= promptTokensMax")
	}
	if priorityBidMin < 1 || priorityBidMax > 10 || priorityBidMin > priorityBidMax {
		panic("NewWorkloadSpec: priorityBidMin/Max must be within [1, 10] and ordered")
	}
	return WorkloadSpec{
		TenantID:          tenantID,
		RatePerSec:        ratePerSec,
		PromptTokensMean:  promptTokensMean,
		PromptTokensStdev: promptTokensStdev,
		PromptTokensMin:   promptTokensMin,
		PromptTokensMax:   promptTokensMax,
		PriorityBidMin:    priorityBidMin,
		PriorityBidMax:    priorityBidMax,
	}
}

// WorkloadGenerator drives synthetic Submit calls against an Engine for
// one tenant, on its own goroutine, until its context is cancelled.
type WorkloadGenerator struct {
	spec WorkloadSpec
	rng  *rand.Rand
}

// NewWorkloadGenerator creates a generator seeded deterministically from
// seed, so repeated runs with the same seed produce the same arrival
// sequence.
func NewWorkloadGenerator(spec WorkloadSpec, seed int64) *WorkloadGenerator {
	return &WorkloadGenerator{spec: spec, rng: rand.New(rand.NewSource(seed))}
}

// nextInterval draws the next inter-arrival interval from an exponential
// distribution with the configured mean rate (a Poisson arrival process).
func (g *WorkloadGenerator) nextInterval() time.Duration {
	u := g.rng.Float64()
	for u <= 0 {
		u = g.rng.Float64()
	}
	seconds := -math.Log(u) / g.spec.RatePerSec
	return time.Duration(seconds * float64(time.Second))
}

// nextTokens draws a token count from a normal distribution around
// PromptTokensMean, clamped to [PromptTokensMin, PromptTokensMax].
func (g *WorkloadGenerator) nextTokens() int64 {
	v := g.rng.NormFloat64()*float64(g.spec.PromptTokensStdev) + float64(g.spec.PromptTokensMean)
	if v < float64(g.spec.PromptTokensMin) {
		v = float64(g.spec.PromptTokensMin)
	}
	if v > float64(g.spec.PromptTokensMax) {
		v = float64(g.spec.PromptTokensMax)
	}
	return int64(v)
}

func (g *WorkloadGenerator) nextPriorityBid() int {
	span := g.spec.PriorityBidMax - g.spec.PriorityBidMin + 1
	return g.spec.PriorityBidMin + g.rng.Intn(span)
}

// Run submits synthetic requests against engine until ctx is cancelled.
// Each request's completion is awaited on its own goroutine so Run
// itself never blocks on the engine's dispatch latency.
func (g *WorkloadGenerator) Run(ctx context.Context, engine *Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(g.nextInterval()):
		}

		tokens := g.nextTokens()
		bid := g.nextPriorityBid()
		handle, err := engine.Submit(ctx, g.spec.TenantID, "", tokens, bid)
		if err != nil {
			logrus.Debugf("workload.go: tenant %s submit rejected: %v", g.spec.TenantID, err)
			continue
		}
		go func() {
			if _, err := handle.Wait(ctx); err != nil {
				logrus.Debugf("workload.go: tenant %s request failed: %v", g.spec.TenantID, err)
			}
		}()
	}
}
