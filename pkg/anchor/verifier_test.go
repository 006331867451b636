package anchor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/anchor"
	"github.com/weftlabs/weft/pkg/network"
	"github.com/weftlabs/weft/pkg/store"
	"github.com/weftlabs/weft/pkg/thread"
)

func newVerifierHarness(t *testing.T) (*store.MemoryStore, *thread.Ledger, *fakeAdapter, *anchor.Batcher, *anchor.Verifier) {
	t.Helper()
	mem := store.NewMemoryStore()
	ledger := thread.NewLedger(mem, "test")

	adapter := newFakeAdapter("devnet")
	registry := network.NewRegistry()
	registry.Register(adapter, 3)

	batcher := anchor.NewBatcher(mem, mem, registry)
	verifier := anchor.NewVerifier(mem, mem, registry, nil)
	return mem, ledger, adapter, batcher, verifier
}

// anchorAndSubmit prepares and submits a single-thread batch, returning the
// thread and its anchor.
func anchorAndSubmit(t *testing.T, ledger *thread.Ledger, batcher *anchor.Batcher, intent string) (*thread.Thread, *anchor.Anchor) {
	t.Helper()
	ctx := context.Background()

	th := closedThread(t, ledger, intent)
	prepared, err := batcher.PrepareAnchor(ctx, "devnet", "")
	require.NoError(t, err)
	anchors, err := batcher.SubmitAnchor(ctx, prepared.Batch.ID, []byte("signed"))
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	return th, anchors[0]
}

func TestVerifyAnchorNotFound(t *testing.T) {
	ctx := context.Background()
	_, ledger, _, _, verifier := newVerifierHarness(t)

	th := closedThread(t, ledger, "never anchored")

	result, err := verifier.VerifyAnchor(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anchor.VerifyNotFound, result.Outcome)
}

func TestVerifyAnchorPendingBeforeSubmission(t *testing.T) {
	ctx := context.Background()
	_, ledger, _, batcher, verifier := newVerifierHarness(t)

	th := closedThread(t, ledger, "awaiting signature")
	_, err := batcher.PrepareAnchor(ctx, "devnet", "")
	require.NoError(t, err)

	result, err := verifier.VerifyAnchor(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anchor.VerifyPending, result.Outcome)
}

func TestVerifyAnchorConfirmed(t *testing.T) {
	ctx := context.Background()
	_, ledger, adapter, batcher, verifier := newVerifierHarness(t)

	th, anc := anchorAndSubmit(t, ledger, batcher, "fully landed")
	adapter.confirmations[anc.TxRef] = network.Confirmation{
		Confirmations: 5,
		CommittedData: []byte(network.PayloadPrefix + anc.MerkleRoot),
	}

	result, err := verifier.VerifyAnchor(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anchor.VerifyConfirmed, result.Outcome)
	assert.Equal(t, uint64(5), result.Confirmations)
}

func TestVerifyAnchorPendingBelowFinality(t *testing.T) {
	ctx := context.Background()
	_, ledger, adapter, batcher, verifier := newVerifierHarness(t)

	th, anc := anchorAndSubmit(t, ledger, batcher, "shallow confirmation")
	adapter.confirmations[anc.TxRef] = network.Confirmation{Confirmations: 1}

	result, err := verifier.VerifyAnchor(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anchor.VerifyPending, result.Outcome)
	assert.Equal(t, uint64(1), result.Confirmations)
}

func TestVerifyAnchorRootMismatchAfterTamper(t *testing.T) {
	ctx := context.Background()
	mem, ledger, adapter, batcher, verifier := newVerifierHarness(t)

	th, anc := anchorAndSubmit(t, ledger, batcher, "tamper target")
	adapter.confirmations[anc.TxRef] = network.Confirmation{Confirmations: 10}

	// Rewrite the stored head hash behind the ledger's back. The anchored
	// proof no longer covers the thread.
	err := mem.AppendHop(ctx, th.ID, thread.Hop{
		Sequence:       len(th.Hops),
		AgentID:        "intruder",
		AgentType:      "unknown",
		ReceivedIntent: "exfiltrate",
	}, "deadbeef")
	require.NoError(t, err)

	result, err := verifier.VerifyAnchor(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anchor.VerifyRootMismatch, result.Outcome)
}

func TestVerifyAnchorCommittedDataMismatch(t *testing.T) {
	ctx := context.Background()
	_, ledger, adapter, batcher, verifier := newVerifierHarness(t)

	th, anc := anchorAndSubmit(t, ledger, batcher, "chain holds other data")
	adapter.confirmations[anc.TxRef] = network.Confirmation{
		Confirmations: 10,
		CommittedData: []byte(network.PayloadPrefix + "0000000000000000000000000000000000000000000000000000000000000000"),
	}

	result, err := verifier.VerifyAnchor(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anchor.VerifyRootMismatch, result.Outcome)
}

func TestVerifyAnchorFailedTransaction(t *testing.T) {
	ctx := context.Background()
	_, ledger, adapter, batcher, verifier := newVerifierHarness(t)

	th, anc := anchorAndSubmit(t, ledger, batcher, "rejected by chain")
	adapter.confirmations[anc.TxRef] = network.Confirmation{Failed: true}
	batcher.PollConfirmations(ctx)

	result, err := verifier.VerifyAnchor(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anchor.VerifyNotFound, result.Outcome)
	require.NotNil(t, result.Anchor)
	assert.Equal(t, anchor.StatusFailed, result.Anchor.Status)
}

func TestGetAnchorStatus(t *testing.T) {
	ctx := context.Background()
	_, ledger, _, batcher, verifier := newVerifierHarness(t)

	th, anc := anchorAndSubmit(t, ledger, batcher, "status lookup")

	got, err := verifier.GetAnchorStatus(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anc.ID, got.ID)
	assert.Equal(t, anchor.StatusSubmitted, got.Status)

	_, err = verifier.GetAnchorStatus(ctx, "no-such-thread", "devnet")
	assert.ErrorIs(t, err, anchor.ErrAnchorNotFound)

	history, err := verifier.ListAnchorHistory(ctx, th.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}
