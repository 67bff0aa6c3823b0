// Implements BatchBuilder: assembles a dispatchable batch from the
// priority queue under the GPU's KV-cache budget. Loop shape (peek,
// check budget, pop) is grounded on the teacher's batch-formation
// scheduling loop.

package sim

import "time"

// Batch is an ordered list of requests selected for one dispatch, with
// sum(TokensRequested) <= KVMax and len <= MaxBatch.
type Batch struct {
	Requests []*Request
}

// TotalTokens sums TokensRequested over every request in the batch.
func (b *Batch) TotalTokens() int64 {
	var total int64
	for _, r := range b.Requests {
		total += r.TokensRequested
	}
	return total
}

// Empty reports whether the batch has no requests.
func (b *Batch) Empty() bool { return len(b.Requests) == 0 }

// BatchBuilder assembles batches from a PriorityQueue under a KV-cache
// budget and a per-batch size cap.
type BatchBuilder struct {
	maxBatch int
	kvMax    int64
}

// NewBatchBuilder creates a BatchBuilder with the given size cap and
// KV-cache budget.
func NewBatchBuilder(maxBatch int, kvMax int64) *BatchBuilder {
	if maxBatch <= 0 {
		panic("NewBatchBuilder: maxBatch must be > 0")
	}
	if kvMax <= 0 {
		panic("NewBatchBuilder: kvMax must be > 0")
	}
	return &BatchBuilder{maxBatch: maxBatch, kvMax: kvMax}
}

// Build assembles a batch from queue under gpuState's current KV budget.
// Oversized head-of-queue requests block further assembly (head-of-line
// blocking by design) even if smaller requests further back could fit —
// this trades packing efficiency for bounded, aging-governed fairness.
func (bb *BatchBuilder) Build(queue *PriorityQueue, gpuState *GPUState, now time.Time) *Batch {
	budget := bb.kvMax - gpuState.KVUsedTokens()
	batch := &Batch{Requests: make([]*Request, 0, bb.maxBatch)}

	for len(batch.Requests) < bb.maxBatch {
		req, ok := queue.PopIf(now, func(r *Request) bool {
			return r.TokensRequested <= budget
		})
		if !ok {
			break
		}
		batch.Requests = append(batch.Requests, req)
		budget -= req.TokensRequested
	}
	return batch
}
