// Package anchor commits thread head hashes to external ledgers: it batches
// closed threads into Merkle trees, drives the anchor lifecycle against a
// network adapter, and verifies claimed anchors after the fact.
package anchor

import (
	"context"
	"errors"
	"time"

	"github.com/weftlabs/weft/pkg/merkle"
)

// Status is the anchor lifecycle. Progression is
// estimated → prepared → submitted → confirmed | failed.
type Status string

const (
	StatusEstimated Status = "estimated"
	StatusPrepared  Status = "prepared"
	StatusSubmitted Status = "submitted"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

var (
	ErrAnchorNotFound = errors.New("anchor not found")
	ErrBatchNotFound  = errors.New("batch not found")
	ErrThreadOpen     = errors.New("thread is still open")
	ErrNoEligible     = errors.New("no threads eligible for anchoring")
)

// Anchor records one thread's commitment inside a batch on one network.
// The member proof is stored per thread, not per batch.
type Anchor struct {
	ID          string                `json:"id"`
	ThreadID    string                `json:"thread_id"`
	Network     string                `json:"network"`
	BatchID     string                `json:"batch_id"`
	MerkleRoot  string                `json:"merkle_root"`
	MemberProof merkle.InclusionProof `json:"member_proof"`
	TxRef       string                `json:"tx_ref,omitempty"`
	Status      Status                `json:"status"`
	CreatedAt   time.Time             `json:"created_at"`
	SubmittedAt *time.Time            `json:"submitted_at,omitempty"`
	ConfirmedAt *time.Time            `json:"confirmed_at,omitempty"`
}

// Batch groups thread head hashes under one Merkle root for amortized
// anchoring. Multiple threads share one batch and one on-chain transaction.
type Batch struct {
	ID         string    `json:"id"`
	Network    string    `json:"network"`
	MerkleRoot string    `json:"merkle_root"`
	ThreadIDs  []string  `json:"thread_ids"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the persistence boundary for anchors and batches. LatestAnchor
// and GetBatch return ErrAnchorNotFound and ErrBatchNotFound respectively
// when nothing matches.
type Store interface {
	PutAnchor(ctx context.Context, a *Anchor) error
	UpdateAnchor(ctx context.Context, a *Anchor) error
	ListAnchors(ctx context.Context, threadID string) ([]*Anchor, error)
	LatestAnchor(ctx context.Context, threadID, network string) (*Anchor, error)
	ListAnchorsByStatus(ctx context.Context, network string, status Status) ([]*Anchor, error)
	PutBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
}
