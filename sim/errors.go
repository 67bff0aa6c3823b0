package sim

import "errors"

// Admission errors. Returned synchronously from Submit; a request
// carrying one of these never enters the priority queue and never
// affects metrics or a tenant's bucket.
var (
	ErrUnknownTenant   = errors.New("unknown tenant")
	ErrRateLimited     = errors.New("rate limited")
	ErrInvalidPriority = errors.New("priority_bid out of range [1,10]")
	ErrInvalidTokens   = errors.New("tokens_requested must be in (0, KV_MAX]")
)

// Dispatch and lifecycle errors. Delivered on a request's CompletionHandle,
// never returned from Submit.
var (
	// ErrShutdown is delivered to pending handles when the engine is
	// stopped without a full drain.
	ErrShutdown = errors.New("scheduler shut down before request was serviced")

	// ErrInternal marks an invariant violation (KV overflow at the
	// backend, a negative bucket balance). These are fatal: the batch
	// that triggered one fails and every handle in it resolves with this
	// error.
	ErrInternal = errors.New("internal invariant violation")
)
