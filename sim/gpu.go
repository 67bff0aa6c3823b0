// Implements the modeled GPU dispatch backend. Timing formulas are
// ported 1:1 from original_source/gpu_simulator.py's
// estimate_batch_latency/simulate_inference, adjusted to a single
// tokens-requested budget in place of the Python's separate input/output
// token counts.

package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// GPUState tracks the modeled GPU's KV-cache occupancy and busy window.
// Owned exclusively by the worker, no external mutation, but guarded by
// a mutex anyway so its accessors can be read from metrics concurrently.
type GPUState struct {
	mu            sync.Mutex
	kvUsedTokens  int64
	busyUntil     time.Time
	totalBusyTime time.Duration
}

// NewGPUState creates an idle GPUState with no KV tokens in use.
func NewGPUState() *GPUState {
	return &GPUState{}
}

// KVUsedTokens returns the current KV-cache occupancy.
func (s *GPUState) KVUsedTokens() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kvUsedTokens
}

// TotalBusyTime returns the cumulative wall time spent dispatching
// batches, for gpu_utilization.
func (s *GPUState) TotalBusyTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalBusyTime
}

func (s *GPUState) reserve(tokens int64, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kvUsedTokens += tokens
	s.busyUntil = until
}

func (s *GPUState) release(tokens int64, busyDelta time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kvUsedTokens -= tokens
	s.totalBusyTime += busyDelta
}

// RequestTiming is the per-request timing detail inside a BatchResult.
type RequestTiming struct {
	Request        *Request
	TokensProduced int64
	DecodeS        float64
	QueueWaitS     float64
}

// BatchResult is the outcome of one GPUBackend.Run call.
type BatchResult struct {
	BatchSize int
	PrefillS  float64
	DecodeS   float64 // max(decode_times), the batch's decode phase length
	WallTimeS float64 // prefill_time + max(decode_times)
	PerItem   []RequestTiming
}

// GPUBackend simulates prefill/decode timing and KV-cache accounting for
// one modeled GPU instance. There is exactly one instance per Engine;
// multi-GPU sharding is out of scope.
type GPUBackend struct {
	cfg   GPUConfig
	state *GPUState
}

// NewGPUBackend creates a backend bound to state, using cfg's timing
// constants.
func NewGPUBackend(cfg GPUConfig, state *GPUState) *GPUBackend {
	return &GPUBackend{cfg: cfg, state: state}
}

// Run dispatches batch, blocking for the batch's modeled wall time to
// simulate the GPU actually computing (grounded on gpu_simulator.py's
// simulate_inference sleeping for the estimated latency). now is the
// dispatch start time, used to timestamp the reservation window and to
// compute each request's queue wait.
//
// Returns ErrInternal if sum(tokens_requested) exceeds the KV budget —
// BatchBuilder is responsible for never producing such a batch, so this
// is an invariant-violation assertion, not a normal error path.
func (g *GPUBackend) Run(batch *Batch, now time.Time) (*BatchResult, error) {
	if batch.Empty() {
		return &BatchResult{}, nil
	}

	total := batch.TotalTokens()
	if total > g.cfg.KVMax {
		return nil, fmt.Errorf("%w: batch requests %d tokens, exceeds KV_MAX=%d", ErrInternal, total, g.cfg.KVMax)
	}

	var maxInputTokens int64
	for _, r := range batch.Requests {
		if r.TokensRequested > maxInputTokens {
			maxInputTokens = r.TokensRequested
		}
	}
	prefillS := float64(maxInputTokens) / g.cfg.PrefillRate

	batchSize := len(batch.Requests)
	perItemDecodeRate := g.cfg.DecodeBase * (0.4 + 0.6*math.Sqrt(float64(batchSize)))

	perItem := make([]RequestTiming, batchSize)
	var maxDecodeS float64
	for i, r := range batch.Requests {
		decodeS := float64(r.TokensRequested) / perItemDecodeRate
		perItem[i] = RequestTiming{
			Request:        r,
			TokensProduced: r.TokensRequested,
			DecodeS:        decodeS,
			QueueWaitS:     now.Sub(time.Unix(0, r.ArrivalTime)).Seconds(),
		}
		if decodeS > maxDecodeS {
			maxDecodeS = decodeS
		}
	}

	wallTimeS := prefillS + maxDecodeS
	wallTime := time.Duration(wallTimeS * float64(time.Second))

	g.state.reserve(total, now.Add(wallTime))
	logrus.Debugf("gpu.go: dispatching batch size=%d tokens=%d wall=%s", batchSize, total, wallTime)

	time.Sleep(wallTime)

	g.state.release(total, wallTime)

	return &BatchResult{
		BatchSize: batchSize,
		PrefillS:  prefillS,
		DecodeS:   maxDecodeS,
		WallTimeS: wallTimeS,
		PerItem:   perItem,
	}, nil
}
