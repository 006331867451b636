package anchor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/anchor"
	"github.com/weftlabs/weft/pkg/merkle"
	"github.com/weftlabs/weft/pkg/network"
	"github.com/weftlabs/weft/pkg/store"
	"github.com/weftlabs/weft/pkg/thread"
)

// fakeAdapter is an in-memory network adapter for lifecycle tests.
type fakeAdapter struct {
	name          string
	fee           uint64
	rejectSubmit  error
	submitted     [][]byte
	nextRef       int
	confirmations map[string]network.Confirmation
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{
		name:          name,
		fee:           4200,
		confirmations: make(map[string]network.Confirmation),
	}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) EstimateFee(ctx context.Context) (network.CostEstimate, error) {
	return network.CostEstimate{
		Network:     f.name,
		Amount:      f.fee,
		Currency:    "wei",
		EstimatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeAdapter) BuildUnsignedTx(ctx context.Context, payload []byte) (network.UnsignedTx, error) {
	fee, _ := f.EstimateFee(ctx)
	return network.UnsignedTx{
		Network:     f.name,
		Payload:     payload,
		PayloadHash: string(payload),
		Fee:         fee,
	}, nil
}

func (f *fakeAdapter) Submit(ctx context.Context, signedTx []byte) (network.TxRef, error) {
	if f.rejectSubmit != nil {
		return "", &network.AdapterError{Network: f.name, Op: "submit", Err: f.rejectSubmit}
	}
	f.submitted = append(f.submitted, signedTx)
	f.nextRef++
	return network.TxRef(fmt.Sprintf("0xtx%d", f.nextRef)), nil
}

func (f *fakeAdapter) FetchConfirmation(ctx context.Context, ref network.TxRef) (network.Confirmation, error) {
	return f.confirmations[string(ref)], nil
}

// closedThread creates a thread with one hop and closes it.
func closedThread(t *testing.T, ledger *thread.Ledger, intent string) *thread.Thread {
	t.Helper()
	ctx := context.Background()

	created, err := ledger.CreateThread(ctx, thread.CreateThreadRequest{
		OriginType:     thread.OriginHuman,
		OriginIdentity: "user:tester",
		Intent:         intent,
	})
	require.NoError(t, err)

	_, err = ledger.AddHop(ctx, created.ID, "agent-1", "worker", intent, nil)
	require.NoError(t, err)

	closed, err := ledger.CloseThread(ctx, created.ID, thread.OutcomeSuccess)
	require.NoError(t, err)
	return closed
}

func newHarness(t *testing.T) (*store.MemoryStore, *thread.Ledger, *fakeAdapter, *anchor.Batcher) {
	t.Helper()
	mem := store.NewMemoryStore()
	ledger := thread.NewLedger(mem, "test")

	adapter := newFakeAdapter("devnet")
	registry := network.NewRegistry()
	registry.Register(adapter, 3)

	batcher := anchor.NewBatcher(mem, mem, registry)
	return mem, ledger, adapter, batcher
}

func TestEstimateCost(t *testing.T) {
	_, _, _, batcher := newHarness(t)

	est, err := batcher.EstimateCost(context.Background(), "devnet")
	require.NoError(t, err)
	assert.Equal(t, "devnet", est.Network)
	assert.Greater(t, est.Amount, uint64(0))

	_, err = batcher.EstimateCost(context.Background(), "nope")
	assert.ErrorIs(t, err, network.ErrUnknownNetwork)
}

func TestPrepareAnchorBatchesClosedThreads(t *testing.T) {
	ctx := context.Background()
	_, ledger, _, batcher := newHarness(t)

	a := closedThread(t, ledger, "reconcile invoices")
	b := closedThread(t, ledger, "summarize tickets")
	c := closedThread(t, ledger, "rotate credentials")

	// Open threads never anchor.
	open, err := ledger.CreateThread(ctx, thread.CreateThreadRequest{
		OriginType:     thread.OriginSystem,
		OriginIdentity: "svc:cron",
		Intent:         "nightly cleanup",
	})
	require.NoError(t, err)

	prepared, err := batcher.PrepareAnchor(ctx, "devnet", "")
	require.NoError(t, err)
	require.Len(t, prepared.Anchors, 3)
	assert.ElementsMatch(t, []string{a.ID, b.ID, c.ID}, prepared.Batch.ThreadIDs)
	assert.NotContains(t, prepared.Batch.ThreadIDs, open.ID)

	assert.Equal(t, []byte(network.PayloadPrefix+prepared.Batch.MerkleRoot), prepared.UnsignedTx.Payload)

	heads := map[string]string{a.ID: a.HeadHash, b.ID: b.HeadHash, c.ID: c.HeadHash}
	for _, anc := range prepared.Anchors {
		assert.Equal(t, anchor.StatusPrepared, anc.Status)
		assert.Equal(t, prepared.Batch.ID, anc.BatchID)
		assert.True(t, merkle.VerifyProof(anc.MemberProof, heads[anc.ThreadID], prepared.Batch.MerkleRoot),
			"proof for thread %s must verify against batch root", anc.ThreadID)
	}
}

func TestPrepareAnchorNoEligible(t *testing.T) {
	_, _, _, batcher := newHarness(t)

	_, err := batcher.PrepareAnchor(context.Background(), "devnet", "")
	assert.ErrorIs(t, err, anchor.ErrNoEligible)
}

func TestPrepareAnchorRejectsOpenThread(t *testing.T) {
	ctx := context.Background()
	_, ledger, _, batcher := newHarness(t)

	open, err := ledger.CreateThread(ctx, thread.CreateThreadRequest{
		OriginType:     thread.OriginHuman,
		OriginIdentity: "user:tester",
		Intent:         "still running",
	})
	require.NoError(t, err)

	_, err = batcher.PrepareAnchor(ctx, "devnet", open.ID)
	assert.ErrorIs(t, err, anchor.ErrThreadOpen)

	_, err = batcher.PrepareAnchor(ctx, "devnet", "no-such-thread")
	assert.ErrorIs(t, err, thread.ErrNotFound)
}

func TestPrepareAnchorSkipsAlreadyAnchored(t *testing.T) {
	ctx := context.Background()
	_, ledger, _, batcher := newHarness(t)

	first := closedThread(t, ledger, "first run")

	prepared, err := batcher.PrepareAnchor(ctx, "devnet", "")
	require.NoError(t, err)
	require.Len(t, prepared.Anchors, 1)

	// A live anchor keeps the thread out of the next batch.
	_, err = batcher.PrepareAnchor(ctx, "devnet", "")
	assert.ErrorIs(t, err, anchor.ErrNoEligible)

	// Explicit re-request overrides.
	again, err := batcher.PrepareAnchor(ctx, "devnet", first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, again.Batch.ThreadIDs)
}

func TestSubmitRejectionLeavesAnchorsPrepared(t *testing.T) {
	ctx := context.Background()
	mem, ledger, adapter, batcher := newHarness(t)

	th := closedThread(t, ledger, "audit trail export")
	prepared, err := batcher.PrepareAnchor(ctx, "devnet", "")
	require.NoError(t, err)

	adapter.rejectSubmit = errors.New("malformed signature")
	_, err = batcher.SubmitAnchor(ctx, prepared.Batch.ID, []byte("garbage"))
	require.Error(t, err)
	var adapterErr *network.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, "submit", adapterErr.Op)

	latest, err := mem.LatestAnchor(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anchor.StatusPrepared, latest.Status)
	assert.Empty(t, latest.TxRef)

	// Resume for a fresh signature, then submit cleanly.
	adapter.rejectSubmit = nil
	resumed, err := batcher.ResumeBatch(ctx, prepared.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, prepared.UnsignedTx.Payload, resumed.UnsignedTx.Payload)

	anchors, err := batcher.SubmitAnchor(ctx, prepared.Batch.ID, []byte("signed"))
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Equal(t, anchor.StatusSubmitted, anchors[0].Status)
	assert.NotEmpty(t, anchors[0].TxRef)
	require.NotNil(t, anchors[0].SubmittedAt)
}

func TestSubmitUnknownBatch(t *testing.T) {
	_, _, _, batcher := newHarness(t)

	_, err := batcher.SubmitAnchor(context.Background(), "no-such-batch", []byte("signed"))
	assert.ErrorIs(t, err, anchor.ErrBatchNotFound)
}

func TestSubmitTwiceRejected(t *testing.T) {
	ctx := context.Background()
	_, ledger, _, batcher := newHarness(t)

	closedThread(t, ledger, "double submit guard")
	prepared, err := batcher.PrepareAnchor(ctx, "devnet", "")
	require.NoError(t, err)

	_, err = batcher.SubmitAnchor(ctx, prepared.Batch.ID, []byte("signed"))
	require.NoError(t, err)

	_, err = batcher.SubmitAnchor(ctx, prepared.Batch.ID, []byte("signed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submitted")
}

func TestPollConfirmations(t *testing.T) {
	ctx := context.Background()
	mem, ledger, adapter, batcher := newHarness(t)

	th := closedThread(t, ledger, "confirmation progression")
	prepared, err := batcher.PrepareAnchor(ctx, "devnet", "")
	require.NoError(t, err)
	anchors, err := batcher.SubmitAnchor(ctx, prepared.Batch.ID, []byte("signed"))
	require.NoError(t, err)
	ref := anchors[0].TxRef

	// Below the registered finality depth of 3: still submitted.
	adapter.confirmations[ref] = network.Confirmation{Confirmations: 2}
	batcher.PollConfirmations(ctx)
	latest, err := mem.LatestAnchor(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anchor.StatusSubmitted, latest.Status)

	adapter.confirmations[ref] = network.Confirmation{Confirmations: 3}
	batcher.PollConfirmations(ctx)
	latest, err = mem.LatestAnchor(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anchor.StatusConfirmed, latest.Status)
	require.NotNil(t, latest.ConfirmedAt)
}

func TestPollMarksChainFailure(t *testing.T) {
	ctx := context.Background()
	mem, ledger, adapter, batcher := newHarness(t)

	th := closedThread(t, ledger, "doomed transaction")
	prepared, err := batcher.PrepareAnchor(ctx, "devnet", "")
	require.NoError(t, err)
	anchors, err := batcher.SubmitAnchor(ctx, prepared.Batch.ID, []byte("signed"))
	require.NoError(t, err)

	adapter.confirmations[anchors[0].TxRef] = network.Confirmation{Failed: true}
	batcher.PollConfirmations(ctx)

	latest, err := mem.LatestAnchor(ctx, th.ID, "devnet")
	require.NoError(t, err)
	assert.Equal(t, anchor.StatusFailed, latest.Status)

	// A failed anchor makes the thread eligible again.
	again, err := batcher.PrepareAnchor(ctx, "devnet", "")
	require.NoError(t, err)
	assert.Equal(t, []string{th.ID}, again.Batch.ThreadIDs)
}
