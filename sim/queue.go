// Implements the lazy-aged priority queue. Grounded on
// original_source/models.py's HeapEntry/make_heap_entry and the teacher's
// EventQueue (sim/simulator.go) heap.Interface implementation idiom.

package sim

import (
	"container/heap"
	"sync"
	"time"
)

// heapEntry is the internal min-heap element. negBasePriority stores
// -priority_bid so a plain ascending heap sorts higher bids first; seq
// is the deterministic push-order tiebreaker.
type heapEntry struct {
	negBasePriority int
	arrivalTime     time.Time
	seq             int64
	request         *Request
}

// effectiveKey computes the entry's effective priority at now:
//
//	P_eff = -(priority_bid + alpha*(now - arrival_time))
//
// Smaller sorts first. negBasePriority == -priority_bid, so this reduces
// to negBasePriority - alpha*elapsed.
func (e *heapEntry) effectiveKey(now time.Time, alpha float64) float64 {
	elapsed := now.Sub(e.arrivalTime).Seconds()
	return float64(e.negBasePriority) - alpha*elapsed
}

// entryHeap implements heap.Interface, ordering by (negBasePriority, seq)
// at insertion time. This ordering is only used to keep Push amortized
// O(log N); Pop ignores heap order and rescans for the true effective
// minimum (see PriorityQueue.Pop).
type entryHeap []*heapEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].negBasePriority != h[j].negBasePriority {
		return h[i].negBasePriority < h[j].negBasePriority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(*heapEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]
	return item
}

// PriorityQueue is the lazy-aged priority queue. Insertion keeps a
// static heap.Interface ordering by (-priority_bid, seq); pop and peek
// recompute each present entry's effective key at the requested now and
// return the true minimum by a full rescan, correct by construction and
// acceptable given this system's small queue depths.
type PriorityQueue struct {
	mu    sync.Mutex
	heap  entryHeap
	seq   int64
	alpha float64
}

// NewPriorityQueue creates an empty queue with the given aging
// coefficient alpha (priority-units per second).
func NewPriorityQueue(alpha float64) *PriorityQueue {
	return &PriorityQueue{heap: make(entryHeap, 0), alpha: alpha}
}

// Push inserts req with a fresh monotonic seq, timestamped at now.
func (pq *PriorityQueue) Push(req *Request, now time.Time) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	pq.seq++
	heap.Push(&pq.heap, &heapEntry{
		negBasePriority: -req.PriorityBid,
		arrivalTime:     now,
		seq:             pq.seq,
		request:         req,
	})
}

// minIndexLocked returns the index of the entry with the smallest
// effective key at now, breaking ties by smaller seq. Caller must hold
// pq.mu and pq.heap must be non-empty.
func (pq *PriorityQueue) minIndexLocked(now time.Time) int {
	best := 0
	bestKey := pq.heap[0].effectiveKey(now, pq.alpha)
	for i := 1; i < len(pq.heap); i++ {
		key := pq.heap[i].effectiveKey(now, pq.alpha)
		if key < bestKey || (key == bestKey && pq.heap[i].seq < pq.heap[best].seq) {
			best = i
			bestKey = key
		}
	}
	return best
}

// Pop removes and returns the entry whose effective priority is smallest
// at now. Returns (nil, false) if the queue is empty.
func (pq *PriorityQueue) Pop(now time.Time) (*Request, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.heap) == 0 {
		return nil, false
	}
	idx := pq.minIndexLocked(now)
	entry := heap.Remove(&pq.heap, idx).(*heapEntry)
	return entry.request, true
}

// Peek returns the entry that Pop(now) would return, without removing it.
func (pq *PriorityQueue) Peek(now time.Time) (*Request, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.heap) == 0 {
		return nil, false
	}
	idx := pq.minIndexLocked(now)
	return pq.heap[idx].request, true
}

// PopIf removes and returns the minimum entry only if its request
// satisfies pred. Used by
// BatchBuilder to implement head-of-line blocking without a separate
// peek-then-pop race, both under the same lock acquisition.
func (pq *PriorityQueue) PopIf(now time.Time, pred func(*Request) bool) (*Request, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if len(pq.heap) == 0 {
		return nil, false
	}
	idx := pq.minIndexLocked(now)
	if !pred(pq.heap[idx].request) {
		return nil, false
	}
	entry := heap.Remove(&pq.heap, idx).(*heapEntry)
	return entry.request, true
}

// Len returns the number of requests currently queued.
func (pq *PriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.heap)
}
