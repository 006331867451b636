package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/audit"
	"github.com/weftlabs/weft/pkg/merkle"
	"github.com/weftlabs/weft/pkg/network"
	"github.com/weftlabs/weft/pkg/thread"
)

// Batcher drives the anchor lifecycle: it selects closed threads, bundles
// their head hashes into a Merkle batch, prepares an unsigned transaction
// for external signing, submits the signed result, and polls confirmations
// until each anchor reaches a terminal status.
type Batcher struct {
	threads  thread.Store
	anchors  Store
	networks *network.Registry
	logger   *slog.Logger
	auditor  audit.Logger
	clock    func() time.Time
}

// BatcherOption customizes a Batcher.
type BatcherOption func(*Batcher)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) BatcherOption {
	return func(b *Batcher) { b.logger = logger }
}

// WithAuditor sets the audit sink for anchor lifecycle events.
func WithAuditor(auditor audit.Logger) BatcherOption {
	return func(b *Batcher) { b.auditor = auditor }
}

// WithClock overrides the time source. Used by tests.
func WithClock(clock func() time.Time) BatcherOption {
	return func(b *Batcher) { b.clock = clock }
}

// NewBatcher wires a Batcher over its stores and the network registry.
func NewBatcher(threads thread.Store, anchors Store, networks *network.Registry, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		threads:  threads,
		anchors:  anchors,
		networks: networks,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Prepared bundles everything a caller needs to take a batch off-system for
// signing: the batch record, the unsigned transaction, and the per-thread
// anchors carrying their inclusion proofs.
type Prepared struct {
	Batch      *Batch             `json:"batch"`
	UnsignedTx network.UnsignedTx `json:"unsigned_tx"`
	Anchors    []*Anchor          `json:"anchors"`
}

// EstimateCost returns a point-in-time fee estimate for one anchor
// transaction on the named network.
func (b *Batcher) EstimateCost(ctx context.Context, networkName string) (network.CostEstimate, error) {
	adapter, err := b.networks.Adapter(networkName)
	if err != nil {
		return network.CostEstimate{}, err
	}
	return adapter.EstimateFee(ctx)
}

// eligibleThreads returns head hashes keyed by thread id for every closed
// thread with no live anchor on the network. A live anchor is one that is
// prepared, submitted, or confirmed; failed anchors leave the thread
// eligible again. include forces one thread into the set regardless of its
// anchoring history, so a caller can explicitly re-anchor.
func (b *Batcher) eligibleThreads(ctx context.Context, networkName, include string) (map[string]string, error) {
	closed, err := b.threads.List(ctx, thread.Filter{Status: thread.StatusClosed})
	if err != nil {
		return nil, fmt.Errorf("list closed threads: %w", err)
	}

	members := make(map[string]string)
	for _, t := range closed {
		if t.ID == include {
			members[t.ID] = t.HeadHash
			continue
		}
		latest, err := b.anchors.LatestAnchor(ctx, t.ID, networkName)
		if errors.Is(err, ErrAnchorNotFound) {
			members[t.ID] = t.HeadHash
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup anchor for thread %s: %w", t.ID, err)
		}
		if latest.Status == StatusFailed {
			members[t.ID] = t.HeadHash
		}
	}

	if include != "" {
		if _, ok := members[include]; !ok {
			t, err := b.threads.Get(ctx, include)
			if err != nil {
				return nil, err
			}
			if t.Status != thread.StatusClosed {
				return nil, ErrThreadOpen
			}
			members[t.ID] = t.HeadHash
		}
	}
	return members, nil
}

// PrepareAnchor builds a new batch over every eligible closed thread on the
// named network and returns it with an unsigned transaction committing the
// batch root. threadID, when non-empty, is included even if it already has
// a live anchor; an open or unknown threadID is an error. Nothing is
// persisted until the unsigned transaction has been built, so an adapter
// failure leaves no stray records.
func (b *Batcher) PrepareAnchor(ctx context.Context, networkName, threadID string) (*Prepared, error) {
	adapter, err := b.networks.Adapter(networkName)
	if err != nil {
		return nil, err
	}

	members, err := b.eligibleThreads(ctx, networkName, threadID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, ErrNoEligible
	}

	tree, err := merkle.Build(members)
	if err != nil {
		return nil, fmt.Errorf("build merkle tree: %w", err)
	}

	payload := []byte(network.PayloadPrefix + tree.Root)
	tx, err := adapter.BuildUnsignedTx(ctx, payload)
	if err != nil {
		return nil, err
	}

	now := b.clock().UTC()
	batch := &Batch{
		ID:         uuid.NewString(),
		Network:    networkName,
		MerkleRoot: tree.Root,
		CreatedAt:  now,
	}
	for _, leaf := range tree.Leaves {
		batch.ThreadIDs = append(batch.ThreadIDs, leaf.ThreadID)
	}
	if err := b.anchors.PutBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("persist batch: %w", err)
	}

	anchors := make([]*Anchor, 0, len(tree.Leaves))
	for _, leaf := range tree.Leaves {
		proof, err := tree.Proof(leaf.ThreadID)
		if err != nil {
			return nil, fmt.Errorf("prove thread %s: %w", leaf.ThreadID, err)
		}
		a := &Anchor{
			ID:          uuid.NewString(),
			ThreadID:    leaf.ThreadID,
			Network:     networkName,
			BatchID:     batch.ID,
			MerkleRoot:  tree.Root,
			MemberProof: proof,
			Status:      StatusPrepared,
			CreatedAt:   now,
		}
		if err := b.anchors.PutAnchor(ctx, a); err != nil {
			return nil, fmt.Errorf("persist anchor for thread %s: %w", leaf.ThreadID, err)
		}
		anchors = append(anchors, a)
	}

	b.audit(ctx, "anchor.prepare", batch.ID, map[string]interface{}{
		"network":     networkName,
		"merkle_root": tree.Root,
		"threads":     len(anchors),
	})
	b.logger.Info("anchor batch prepared",
		"batch_id", batch.ID,
		"network", networkName,
		"threads", len(anchors),
	)
	return &Prepared{Batch: batch, UnsignedTx: tx, Anchors: anchors}, nil
}

// ResumeBatch rebuilds the unsigned transaction for an existing prepared
// batch. Fee and chain state are re-read, so the result needs a fresh
// signature; the stored batch and anchors are reused as-is.
func (b *Batcher) ResumeBatch(ctx context.Context, batchID string) (*Prepared, error) {
	batch, err := b.anchors.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	adapter, err := b.networks.Adapter(batch.Network)
	if err != nil {
		return nil, err
	}

	anchors, err := b.batchAnchors(ctx, batch)
	if err != nil {
		return nil, err
	}

	payload := []byte(network.PayloadPrefix + batch.MerkleRoot)
	tx, err := adapter.BuildUnsignedTx(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &Prepared{Batch: batch, UnsignedTx: tx, Anchors: anchors}, nil
}

// SubmitAnchor sends a signed transaction for a prepared batch. On adapter
// rejection the error is returned as-is and every anchor in the batch stays
// prepared; resubmission goes through ResumeBatch for a fresh signature. On
// acceptance all anchors move to submitted with the transaction reference.
func (b *Batcher) SubmitAnchor(ctx context.Context, batchID string, signedTx []byte) ([]*Anchor, error) {
	batch, err := b.anchors.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	adapter, err := b.networks.Adapter(batch.Network)
	if err != nil {
		return nil, err
	}

	anchors, err := b.batchAnchors(ctx, batch)
	if err != nil {
		return nil, err
	}
	for _, a := range anchors {
		if a.Status != StatusPrepared {
			return nil, fmt.Errorf("anchor %s for thread %s is %s, want %s", a.ID, a.ThreadID, a.Status, StatusPrepared)
		}
	}

	ref, err := adapter.Submit(ctx, signedTx)
	if err != nil {
		return nil, err
	}

	now := b.clock().UTC()
	for _, a := range anchors {
		a.Status = StatusSubmitted
		a.TxRef = string(ref)
		a.SubmittedAt = &now
		if err := b.anchors.UpdateAnchor(ctx, a); err != nil {
			return nil, fmt.Errorf("update anchor %s: %w", a.ID, err)
		}
	}

	b.audit(ctx, "anchor.submit", batch.ID, map[string]interface{}{
		"network": batch.Network,
		"tx_ref":  string(ref),
		"threads": len(anchors),
	})
	b.logger.Info("anchor batch submitted",
		"batch_id", batch.ID,
		"network", batch.Network,
		"tx_ref", string(ref),
	)
	return anchors, nil
}

// batchAnchors loads this batch's anchor per member thread.
func (b *Batcher) batchAnchors(ctx context.Context, batch *Batch) ([]*Anchor, error) {
	anchors := make([]*Anchor, 0, len(batch.ThreadIDs))
	for _, id := range batch.ThreadIDs {
		all, err := b.anchors.ListAnchors(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list anchors for thread %s: %w", id, err)
		}
		var found *Anchor
		for _, a := range all {
			if a.BatchID == batch.ID {
				found = a
				break
			}
		}
		if found == nil {
			return nil, fmt.Errorf("thread %s: %w", id, ErrAnchorNotFound)
		}
		anchors = append(anchors, found)
	}
	return anchors, nil
}

// PollConfirmations advances every submitted anchor: confirmed once the
// network's finality depth is reached, failed when the chain rejected the
// transaction. Transport errors are logged and retried on the next poll.
func (b *Batcher) PollConfirmations(ctx context.Context) {
	for _, name := range b.networks.Names() {
		if err := b.pollNetwork(ctx, name); err != nil {
			b.logger.Warn("confirmation poll failed", "network", name, "error", err)
		}
	}
}

func (b *Batcher) pollNetwork(ctx context.Context, networkName string) error {
	adapter, err := b.networks.Adapter(networkName)
	if err != nil {
		return err
	}
	finality, err := b.networks.Finality(networkName)
	if err != nil {
		return err
	}

	submitted, err := b.anchors.ListAnchorsByStatus(ctx, networkName, StatusSubmitted)
	if err != nil {
		return fmt.Errorf("list submitted anchors: %w", err)
	}

	// One read-back per transaction; a batch's anchors share a TxRef.
	confirmations := make(map[string]network.Confirmation)
	for _, a := range submitted {
		conf, ok := confirmations[a.TxRef]
		if !ok {
			conf, err = adapter.FetchConfirmation(ctx, network.TxRef(a.TxRef))
			if err != nil {
				var adapterErr *network.AdapterError
				if errors.As(err, &adapterErr) {
					b.logger.Warn("confirmation fetch failed",
						"network", networkName, "tx_ref", a.TxRef, "error", err)
					continue
				}
				return err
			}
			confirmations[a.TxRef] = conf
		}

		switch {
		case conf.Failed:
			a.Status = StatusFailed
			if err := b.anchors.UpdateAnchor(ctx, a); err != nil {
				return fmt.Errorf("update anchor %s: %w", a.ID, err)
			}
			b.audit(ctx, "anchor.failed", a.ID, map[string]interface{}{
				"network":   networkName,
				"thread_id": a.ThreadID,
				"tx_ref":    a.TxRef,
			})
			b.logger.Error("anchor transaction failed on chain",
				"network", networkName, "tx_ref", a.TxRef, "thread_id", a.ThreadID)
		case conf.Confirmations >= finality:
			now := b.clock().UTC()
			a.Status = StatusConfirmed
			a.ConfirmedAt = &now
			if err := b.anchors.UpdateAnchor(ctx, a); err != nil {
				return fmt.Errorf("update anchor %s: %w", a.ID, err)
			}
			b.audit(ctx, "anchor.confirmed", a.ID, map[string]interface{}{
				"network":       networkName,
				"thread_id":     a.ThreadID,
				"tx_ref":        a.TxRef,
				"confirmations": conf.Confirmations,
			})
		}
	}
	return nil
}

// Run polls confirmations on the given cadence until the context is
// canceled. One poll runs immediately on start.
func (b *Batcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.PollConfirmations(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.PollConfirmations(ctx)
		}
	}
}

func (b *Batcher) audit(ctx context.Context, action, resource string, metadata map[string]interface{}) {
	if b.auditor == nil {
		return
	}
	if err := b.auditor.Record(ctx, audit.EventAnchor, action, resource, metadata); err != nil {
		b.logger.Warn("audit record failed", "action", action, "error", err)
	}
}
