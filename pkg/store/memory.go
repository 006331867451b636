// Package store provides the persistence implementations for threads and
// anchors: an in-memory store for tests and embedded use, and a SQL store
// that runs on both SQLite and Postgres.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/weftlabs/weft/pkg/anchor"
	"github.com/weftlabs/weft/pkg/thread"
)

// MemoryStore is a thread-safe in-memory implementation of thread.Store and
// anchor.Store. Reads return deep copies so callers observe either the pre-
// or post-mutation state, never a torn record.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*thread.Thread
	anchors map[string][]*anchor.Anchor // thread id -> attempts in order
	batches map[string]*anchor.Batch
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string]*thread.Thread),
		anchors: make(map[string][]*anchor.Anchor),
		batches: make(map[string]*anchor.Batch),
	}
}

func (s *MemoryStore) Put(ctx context.Context, t *thread.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[t.ID]; exists {
		return thread.ErrThreadExists
	}
	s.threads[t.ID] = t.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*thread.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, thread.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemoryStore) AppendHop(ctx context.Context, threadID string, hop thread.Hop, newHeadHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return thread.ErrNotFound
	}
	t.Hops = append(t.Hops, hop)
	t.HeadHash = newHeadHash
	return nil
}

func (s *MemoryStore) Close(ctx context.Context, threadID string, outcome thread.Outcome, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return thread.ErrNotFound
	}
	t.Status = thread.StatusClosed
	t.Outcome = outcome
	t.ClosedAt = &closedAt
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter thread.Filter) ([]*thread.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]*thread.Thread, 0)
	for _, t := range s.threads {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.OriginIdentity != "" && t.OriginIdentity != filter.OriginIdentity {
			continue
		}
		matches = append(matches, t.Clone())
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	return matches, nil
}

// PutAnchor records a new anchor attempt for a thread.
func (s *MemoryStore) PutAnchor(ctx context.Context, a *anchor.Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	s.anchors[a.ThreadID] = append(s.anchors[a.ThreadID], &cp)
	return nil
}

// UpdateAnchor replaces the stored record matching the anchor's id.
func (s *MemoryStore) UpdateAnchor(ctx context.Context, a *anchor.Anchor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.anchors[a.ThreadID] {
		if existing.ID == a.ID {
			cp := *a
			s.anchors[a.ThreadID][i] = &cp
			return nil
		}
	}
	return anchor.ErrAnchorNotFound
}

// ListAnchors returns all anchor attempts for a thread in creation order.
func (s *MemoryStore) ListAnchors(ctx context.Context, threadID string) ([]*anchor.Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*anchor.Anchor, 0, len(s.anchors[threadID]))
	for _, a := range s.anchors[threadID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// LatestAnchor returns the most recent anchor for a thread on a network.
func (s *MemoryStore) LatestAnchor(ctx context.Context, threadID, network string) (*anchor.Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attempts := s.anchors[threadID]
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Network == network {
			cp := *attempts[i]
			return &cp, nil
		}
	}
	return nil, anchor.ErrAnchorNotFound
}

// ListAnchorsByStatus returns anchors on a network in the given state,
// used by confirmation polling.
func (s *MemoryStore) ListAnchorsByStatus(ctx context.Context, network string, status anchor.Status) ([]*anchor.Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*anchor.Anchor, 0)
	for _, attempts := range s.anchors {
		for _, a := range attempts {
			if a.Network == network && a.Status == status {
				cp := *a
				out = append(out, &cp)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutBatch stores a constructed batch.
func (s *MemoryStore) PutBatch(ctx context.Context, b *anchor.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *b
	cp.ThreadIDs = append([]string(nil), b.ThreadIDs...)
	s.batches[b.ID] = &cp
	return nil
}

// GetBatch returns a batch by id.
func (s *MemoryStore) GetBatch(ctx context.Context, id string) (*anchor.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, anchor.ErrBatchNotFound
	}
	cp := *b
	cp.ThreadIDs = append([]string(nil), b.ThreadIDs...)
	return &cp, nil
}
