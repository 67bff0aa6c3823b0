// Defines the Request struct that models an individual inference request
// in the scheduler. Tracks tenant, bid, arrival time, and the one-shot
// completion handle the scheduler resolves when the request is serviced.

package sim

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// RequestState represents the lifecycle state of a request: created on
// admission, immutable thereafter, discarded once its handle resolves.
type RequestState string

const (
	StateQueued    RequestState = "queued"
	StateRunning   RequestState = "running"
	StateCompleted RequestState = "completed"
	StateFailed    RequestState = "failed"
)

// Request models a single admitted inference request. Immutable after
// construction except for State, which the scheduler advances as the
// request moves through the pipeline.
type Request struct {
	ID              string
	TenantID        string
	Prompt          string
	TokensRequested int64
	PriorityBid     int // in [1, 10], higher is more urgent

	// ArrivalTime is the timestamp set at enqueue, as UnixNano of the
	// Clock reading at admission. UnixNano keeps only the wall-clock part
	// of that reading, not its monotonic component.
	ArrivalTime int64

	State  RequestState
	Handle *CompletionHandle
}

// NewRequest creates a Request with the given required fields. If id is
// empty, a UUID is generated (grounded on
// briankim06-Adaptive-Batching-Engine-for-Inference's NewInferenceRequest,
// which always mints a UUID; this package allows callers to supply their
// own ID for traceability with an external ingress layer).
//
// Panics if tenantID is empty, tokensRequested <= 0, or priorityBid is
// outside [1, 10] — Submit is responsible for turning those conditions
// into ErrInvalidTokens/ErrInvalidPriority before a Request is ever
// constructed; NewRequest itself just guards against programmer error.
func NewRequest(id, tenantID, prompt string, tokensRequested int64, priorityBid int, arrivalTime int64) *Request {
	if tenantID == "" {
		panic("NewRequest: tenantID must not be empty")
	}
	if tokensRequested <= 0 {
		panic("NewRequest: tokensRequested must be > 0")
	}
	if priorityBid < 1 || priorityBid > 10 {
		panic("NewRequest: priorityBid must be in [1, 10]")
	}
	if id == "" {
		id = uuid.New().String()
	}
	return &Request{
		ID:              id,
		TenantID:        tenantID,
		Prompt:          prompt,
		TokensRequested: tokensRequested,
		PriorityBid:     priorityBid,
		ArrivalTime:     arrivalTime,
		State:           StateQueued,
		Handle:          newCompletionHandle(),
	}
}

// String returns a human-readable representation of a Request.
func (r *Request) String() string {
	return fmt.Sprintf("Request(ID=%s, Tenant=%s, State=%s, Tokens=%d, Bid=%d)",
		r.ID, r.TenantID, r.State, r.TokensRequested, r.PriorityBid)
}

// Result is delivered on a request's CompletionHandle on success.
type Result struct {
	TokensProduced int64
	LatencyS       float64
	BatchSize      int
	QueueWaitS     float64
}

// Failure is delivered on a request's CompletionHandle on dispatch error,
// internal invariant violation, or shutdown.
type Failure struct {
	Err error
}

func (f Failure) Error() string { return f.Err.Error() }

// outcome is the sum type carried over a CompletionHandle's channel: a
// Result or a Failure, never both.
type outcome struct {
	result  Result
	failure *Failure
}

// CompletionHandle is the one-shot signal a caller awaits for a
// request's outcome. Grounded on
// briankim06-Adaptive-Batching-Engine-for-Inference/request.go's
// `ResultChan chan *RequestResult` field: a buffered channel of capacity
// 1, written to exactly once, then closed.
type CompletionHandle struct {
	ch chan outcome
}

func newCompletionHandle() *CompletionHandle {
	return &CompletionHandle{ch: make(chan outcome, 1)}
}

// resolve fulfills the handle with a successful Result. Must be called at
// most once; a second call panics on a closed channel, which is the
// correct failure mode for a scheduler bug.
func (h *CompletionHandle) resolve(r Result) {
	h.ch <- outcome{result: r}
	close(h.ch)
}

// fail fulfills the handle with a Failure. Must be called at most once.
func (h *CompletionHandle) fail(err error) {
	h.ch <- outcome{failure: &Failure{Err: err}}
	close(h.ch)
}

// Wait blocks until the handle is resolved or ctx is cancelled, whichever
// comes first. Per-request timeouts are not part of the core — callers
// enforce them via ctx.
func (h *CompletionHandle) Wait(ctx context.Context) (Result, error) {
	select {
	case o, ok := <-h.ch:
		if !ok {
			return Result{}, fmt.Errorf("%w: handle already drained", ErrInternal)
		}
		if o.failure != nil {
			return Result{}, o.failure.Err
		}
		return o.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
