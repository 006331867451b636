package thread

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/audit"
	"github.com/weftlabs/weft/pkg/chain"
)

// Ledger enforces the thread lifecycle and concurrency rules. Mutations for
// one thread serialize through a per-thread exclusive section; distinct
// threads proceed fully independently. Reads run lock-free against the
// store's snapshot semantics.
type Ledger struct {
	store   Store
	genesis string
	logger  *slog.Logger
	auditor audit.Logger
	clock   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source for testing.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithAuditor sets the security-event sink for integrity violations.
func WithAuditor(a audit.Logger) Option {
	return func(l *Ledger) { l.auditor = a }
}

// NewLedger creates a thread ledger over the given store. The namespace
// feeds the genesis hash so separate deployments never share chain roots.
func NewLedger(store Store, namespace string, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		genesis: chain.GenesisHash(namespace),
		logger:  slog.Default(),
		clock:   time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GenesisHash exposes the deployment's genesis head hash.
func (l *Ledger) GenesisHash() string {
	return l.genesis
}

// threadLock returns the exclusive section for one thread id.
func (l *Ledger) threadLock(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[id] = lock
	}
	return lock
}

// CreateThreadRequest carries the validated inputs for a new thread.
type CreateThreadRequest struct {
	OriginType     OriginType
	OriginIdentity string
	Intent         string
	Constraints    []string
	Metadata       map[string]string
}

// CreateThread validates and persists a new open thread with the genesis
// head hash.
func (l *Ledger) CreateThread(ctx context.Context, req CreateThreadRequest) (*Thread, error) {
	if !validOrigins[req.OriginType] {
		return nil, &ValidationError{Field: "origin_type", Reason: fmt.Sprintf("must be one of human, system, scheduled, delegated; got %q", req.OriginType)}
	}
	if strings.TrimSpace(req.OriginIdentity) == "" {
		return nil, &ValidationError{Field: "origin_identity", Reason: "must not be empty"}
	}
	if strings.TrimSpace(req.Intent) == "" {
		return nil, &ValidationError{Field: "intent", Reason: "must not be empty"}
	}

	t := &Thread{
		ID:             uuid.New().String(),
		OriginType:     req.OriginType,
		OriginIdentity: req.OriginIdentity,
		Intent:         req.Intent,
		Constraints:    append([]string(nil), req.Constraints...),
		Metadata:       req.Metadata,
		Status:         StatusOpen,
		Hops:           make([]Hop, 0),
		HeadHash:       l.genesis,
		CreatedAt:      l.clock().UTC(),
	}

	if err := l.store.Put(ctx, t); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}

	l.logger.Info("thread created",
		"thread_id", t.ID,
		"origin_type", t.OriginType,
		"origin_identity", t.OriginIdentity)
	return t.Clone(), nil
}

// AddHop appends one hop to an open thread. At most one append is in flight
// per thread; concurrent attempts on the same thread serialize here.
func (l *Ledger) AddHop(ctx context.Context, threadID, agentID, agentType, receivedIntent string, actions []interface{}) (*Hop, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, &ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(agentType) == "" {
		return nil, &ValidationError{Field: "agent_type", Reason: "must not be empty"}
	}
	if strings.TrimSpace(receivedIntent) == "" {
		return nil, &ValidationError{Field: "received_intent", Reason: "must not be empty"}
	}

	lock := l.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	t, err := l.store.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusOpen {
		return nil, ErrThreadClosed
	}

	ts := l.clock().UTC()
	if n := len(t.Hops); n > 0 && ts.Before(t.Hops[n-1].Timestamp) {
		// Timestamps are monotonic non-decreasing within a thread even if
		// the wall clock steps backwards.
		ts = t.Hops[n-1].Timestamp
	}

	sequence := len(t.Hops)
	fields := chain.NewHopFields(sequence, agentID, agentType, receivedIntent, actions, ts)
	hash, err := chain.Append(t.HeadHash, fields)
	if err != nil {
		return nil, fmt.Errorf("add hop: %w", err)
	}

	hop := Hop{
		Sequence:       sequence,
		AgentID:        agentID,
		AgentType:      agentType,
		ReceivedIntent: receivedIntent,
		Actions:        actions,
		Timestamp:      ts,
		PrevHash:       t.HeadHash,
		Hash:           hash,
	}

	if err := l.store.AppendHop(ctx, threadID, hop, hash); err != nil {
		return nil, fmt.Errorf("add hop: %w", err)
	}

	l.logger.Debug("hop appended",
		"thread_id", threadID,
		"sequence", sequence,
		"agent_id", agentID)
	return &hop, nil
}

// CloseThread closes an open thread with a terminal outcome. Irreversible.
func (l *Ledger) CloseThread(ctx context.Context, threadID string, outcome Outcome) (*Thread, error) {
	if !validOutcomes[outcome] {
		return nil, &ValidationError{Field: "outcome", Reason: fmt.Sprintf("must be one of success, failure, abandoned; got %q", outcome)}
	}

	lock := l.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	t, err := l.store.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusClosed {
		return nil, ErrAlreadyClosed
	}

	closedAt := l.clock().UTC()
	if err := l.store.Close(ctx, threadID, outcome, closedAt); err != nil {
		return nil, fmt.Errorf("close thread: %w", err)
	}

	t.Status = StatusClosed
	t.Outcome = outcome
	t.ClosedAt = &closedAt

	l.logger.Info("thread closed",
		"thread_id", threadID,
		"outcome", outcome,
		"hops", len(t.Hops))
	return t, nil
}

// GetThread returns a thread by id.
func (l *Ledger) GetThread(ctx context.Context, threadID string) (*Thread, error) {
	return l.store.Get(ctx, threadID)
}

// VerifyThread recomputes the thread's full hash chain from genesis.
// Read-only; a broken chain is reported, recorded as a security event, and
// never repaired.
func (l *Ledger) VerifyThread(ctx context.Context, threadID string) (chain.Result, error) {
	t, err := l.store.Get(ctx, threadID)
	if err != nil {
		return chain.Result{}, err
	}

	records := make([]chain.Record, len(t.Hops))
	for i, hop := range t.Hops {
		records[i] = chain.Record{
			Fields:   chain.NewHopFields(hop.Sequence, hop.AgentID, hop.AgentType, hop.ReceivedIntent, hop.Actions, hop.Timestamp),
			PrevHash: hop.PrevHash,
			Hash:     hop.Hash,
		}
	}

	result, err := chain.Verify(l.genesis, records, t.HeadHash)
	if err != nil {
		return chain.Result{}, fmt.Errorf("verify thread %s: %w", threadID, err)
	}

	if !result.Valid {
		l.logger.Error("thread integrity violation",
			"thread_id", threadID,
			"broken_at", result.BrokenAt)
		if l.auditor != nil {
			_ = l.auditor.Record(ctx, audit.EventIntegrity, "chain_broken", threadID, map[string]interface{}{
				"broken_at": result.BrokenAt,
			})
		}
	}
	return result, nil
}

// ListThreads returns threads matching the filter.
func (l *Ledger) ListThreads(ctx context.Context, filter Filter) ([]*Thread, error) {
	return l.store.List(ctx, filter)
}
