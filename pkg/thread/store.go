package thread

import (
	"context"
	"time"
)

// Filter narrows and paginates thread listings.
type Filter struct {
	Status         Status
	OriginIdentity string
	Limit          int
}

// Store is the durable persistence boundary for threads. Implementations
// must support atomic single-thread hop append and point lookups by id; no
// specific engine is mandated. The ledger serializes mutations per thread,
// so stores never see concurrent appends for the same thread id.
type Store interface {
	// Put inserts a new thread. Returns ErrThreadExists on duplicate id.
	Put(ctx context.Context, t *Thread) error

	// Get returns a thread with all its hops, or ErrNotFound.
	Get(ctx context.Context, id string) (*Thread, error)

	// AppendHop atomically appends one hop and moves the head hash.
	AppendHop(ctx context.Context, threadID string, hop Hop, newHeadHash string) error

	// Close marks the thread closed with a terminal outcome.
	Close(ctx context.Context, threadID string, outcome Outcome, closedAt time.Time) error

	// List returns threads matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*Thread, error)
}
