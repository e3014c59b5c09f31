// Package search implements the pending-search registry: the state of a
// single in-flight distributed query and its bounded buffer of collected
// peer results. The coordinator that broadcasts the query, collects with a
// deadline, and appends peer results after the local ones (no re-sort)
// lives in internal/engine. Grounded on cid/cid.go's bounded-slice-plus-index
// discipline, applied here to a fixed result buffer instead of a peer table,
// and on spec.md §4.5's "design simplification of the source" note that at
// most one query is tracked at a time.
package search

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxResults bounds the pending-search result buffer; capacity-dropped
// results beyond this are not buffered, matching the source's fixed-size
// result array.
const MaxResults = 64

// Result is one collected (doc_id, score) pair.
type Result struct {
	DocID uint64
	Score uint32
}

// Registry tracks at most one outstanding distributed query. No internal
// locking: touched only by the single engine thread.
type Registry struct {
	active     bool
	queryID    uint32
	nextID     uint32
	maxPeers   int
	responses  int
	results    []Result

	// completed is a diagnostic cache of recently finished queries (read
	// through Completed), keyed by query id — not part of the active-query
	// invariant, purely additive.
	completed *lru.Cache[uint32, CompletedQuery]
}

// CompletedQuery is the diagnostic record kept for a finished query.
type CompletedQuery struct {
	ExpectedPeers int
	Responses     int
	ResultCount   int
	FinishedAt    time.Time
}

func NewRegistry() *Registry {
	cache, _ := lru.New[uint32, CompletedQuery](128)
	return &Registry{completed: cache}
}

var ErrBusy = fmt.Errorf("search: a query is already in flight")

// Start begins a new query, failing with ErrBusy if one is already active
// (concurrent /search requests serialize on this resource, per spec.md
// §9's Open Question note — kept as-is rather than keyed by query id).
func (r *Registry) Start(maxPeers int) (uint32, error) {
	if r.active {
		return 0, ErrBusy
	}
	r.nextID++
	r.queryID = r.nextID
	r.maxPeers = maxPeers
	r.responses = 0
	r.results = r.results[:0]
	r.active = true
	return r.queryID, nil
}

// Clear aborts or resets the active query without recording it as
// completed; used when a search cannot even be broadcast.
func (r *Registry) Clear() {
	r.active = false
	r.results = nil
}

// AddResult appends a (doc_id, score) pair for queryID if it matches the
// active query and the buffer is not full. Results beyond MaxResults are
// dropped, not buffered, matching the fixed-size result array.
func (r *Registry) AddResult(queryID uint32, docID uint64, score uint32) {
	if !r.active || queryID != r.queryID {
		return
	}
	if len(r.results) >= MaxResults {
		return
	}
	r.results = append(r.results, Result{DocID: docID, Score: score})
}

// MarkPeerResponded records one peer's RESULTS arrival.
func (r *Registry) MarkPeerResponded(queryID uint32) {
	if !r.active || queryID != r.queryID {
		return
	}
	r.responses++
}

// IsComplete reports whether every expected peer has responded.
func (r *Registry) IsComplete() bool {
	return r.active && r.responses >= r.maxPeers
}

func (r *Registry) GetCount() int {
	return len(r.results)
}

func (r *Registry) GetResult(i int) (Result, bool) {
	if i < 0 || i >= len(r.results) {
		return Result{}, false
	}
	return r.results[i], true
}

func (r *Registry) QueryID() uint32 { return r.queryID }
func (r *Registry) Active() bool    { return r.active }

// SetExpectedPeers re-arms the active query's peer count once the broadcast
// send count is known. Start must issue the query id before the SEARCH
// message can be built and sent, so the true peer count is only available
// after the fact; this does not mint a new query id or touch collected
// results.
func (r *Registry) SetExpectedPeers(n int) {
	if !r.active {
		return
	}
	r.maxPeers = n
}

// Finish marks the active query done, records it in the completed-query
// diagnostic cache, and clears the active flag.
func (r *Registry) Finish() {
	if !r.active {
		return
	}
	r.completed.Add(r.queryID, CompletedQuery{
		ExpectedPeers: r.maxPeers,
		Responses:     r.responses,
		ResultCount:   len(r.results),
		FinishedAt:    time.Now(),
	})
	r.active = false
}

// Completed returns the diagnostic record for a finished query id, if still
// cached.
func (r *Registry) Completed(queryID uint32) (CompletedQuery, bool) {
	return r.completed.Get(queryID)
}
