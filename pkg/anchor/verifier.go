package anchor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/weftlabs/weft/pkg/merkle"
	"github.com/weftlabs/weft/pkg/network"
	"github.com/weftlabs/weft/pkg/thread"
)

// VerifyOutcome classifies an anchor verification.
type VerifyOutcome string

const (
	// VerifyConfirmed: the proof binds the thread's current head hash to the
	// batch root and the root is committed on chain past finality.
	VerifyConfirmed VerifyOutcome = "confirmed"
	// VerifyPending: the anchor exists but has not reached finality yet.
	VerifyPending VerifyOutcome = "pending"
	// VerifyRootMismatch: the thread's current head hash no longer proves
	// into the anchored root, or the chain holds different data. The thread
	// changed or was tampered with after anchoring.
	VerifyRootMismatch VerifyOutcome = "root_mismatch"
	// VerifyNotFound: no usable anchor exists for the thread on the network.
	VerifyNotFound VerifyOutcome = "not_found"
)

// VerifyResult reports one anchor verification.
type VerifyResult struct {
	Outcome       VerifyOutcome `json:"outcome"`
	Anchor        *Anchor       `json:"anchor,omitempty"`
	Confirmations uint64        `json:"confirmations,omitempty"`
	Detail        string        `json:"detail,omitempty"`
}

// Verifier checks anchored threads after the fact. It is read-only: state
// transitions stay with the Batcher's confirmation polling.
type Verifier struct {
	threads  thread.Store
	anchors  Store
	networks *network.Registry
	logger   *slog.Logger
}

// NewVerifier wires a Verifier over its stores and the network registry.
func NewVerifier(threads thread.Store, anchors Store, networks *network.Registry, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{threads: threads, anchors: anchors, networks: networks, logger: logger}
}

// VerifyAnchor verifies the latest anchor for a thread on a network against
// the thread's current head hash and, once submitted, against the chain.
// The proof is checked first: a head hash that no longer proves into the
// anchored root is a mismatch regardless of on-chain state.
func (v *Verifier) VerifyAnchor(ctx context.Context, threadID, networkName string) (*VerifyResult, error) {
	latest, err := v.anchors.LatestAnchor(ctx, threadID, networkName)
	if errors.Is(err, ErrAnchorNotFound) {
		return &VerifyResult{Outcome: VerifyNotFound, Detail: "no anchor for thread on network"}, nil
	}
	if err != nil {
		return nil, err
	}
	if latest.Status == StatusFailed {
		return &VerifyResult{
			Outcome: VerifyNotFound,
			Anchor:  latest,
			Detail:  "latest anchor transaction failed on chain",
		}, nil
	}

	t, err := v.threads.Get(ctx, threadID)
	if err != nil {
		return nil, err
	}

	if !merkle.VerifyProof(latest.MemberProof, t.HeadHash, latest.MerkleRoot) {
		v.logger.Error("anchored root no longer covers thread head",
			"thread_id", threadID, "network", networkName, "batch_id", latest.BatchID)
		return &VerifyResult{
			Outcome: VerifyRootMismatch,
			Anchor:  latest,
			Detail:  "current head hash does not prove into anchored merkle root",
		}, nil
	}

	if latest.Status == StatusPrepared {
		return &VerifyResult{Outcome: VerifyPending, Anchor: latest, Detail: "anchor awaiting submission"}, nil
	}

	adapter, err := v.networks.Adapter(networkName)
	if err != nil {
		return nil, err
	}
	finality, err := v.networks.Finality(networkName)
	if err != nil {
		return nil, err
	}

	conf, err := adapter.FetchConfirmation(ctx, network.TxRef(latest.TxRef))
	if err != nil {
		return nil, err
	}
	if conf.Failed {
		return &VerifyResult{
			Outcome: VerifyNotFound,
			Anchor:  latest,
			Detail:  "anchor transaction failed on chain",
		}, nil
	}

	// When the chain exposes the committed payload, require it to match the
	// batch root exactly. Networks that cannot return payloads report empty
	// committed data and are trusted on the transaction reference alone.
	if len(conf.CommittedData) > 0 {
		expected := []byte(network.PayloadPrefix + latest.MerkleRoot)
		if !bytes.Equal(conf.CommittedData, expected) {
			v.logger.Error("on-chain payload does not match anchored root",
				"thread_id", threadID, "network", networkName, "tx_ref", latest.TxRef)
			return &VerifyResult{
				Outcome: VerifyRootMismatch,
				Anchor:  latest,
				Detail:  fmt.Sprintf("chain holds %d bytes differing from anchored payload", len(conf.CommittedData)),
			}, nil
		}
	}

	if conf.Confirmations < finality {
		return &VerifyResult{
			Outcome:       VerifyPending,
			Anchor:        latest,
			Confirmations: conf.Confirmations,
			Detail:        fmt.Sprintf("%d of %d confirmations", conf.Confirmations, finality),
		}, nil
	}

	return &VerifyResult{
		Outcome:       VerifyConfirmed,
		Anchor:        latest,
		Confirmations: conf.Confirmations,
	}, nil
}

// GetAnchorStatus returns the latest anchor for a thread on a network, or
// ErrAnchorNotFound.
func (v *Verifier) GetAnchorStatus(ctx context.Context, threadID, networkName string) (*Anchor, error) {
	return v.anchors.LatestAnchor(ctx, threadID, networkName)
}

// ListAnchorHistory returns every anchor ever created for a thread, newest
// first across all networks.
func (v *Verifier) ListAnchorHistory(ctx context.Context, threadID string) ([]*Anchor, error) {
	return v.anchors.ListAnchors(ctx, threadID)
}
