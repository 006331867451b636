package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsNoOp(t *testing.T) {
	ctx := context.Background()

	p, err := New(ctx, &Config{Enabled: false})
	require.NoError(t, err)

	// None of these may panic on a disabled provider.
	p.RecordHopAppended(ctx, "worker")
	p.RecordThreadClosed(ctx, "success")
	p.RecordAnchorSubmitted(ctx, "devnet")
	p.RecordAnchorConfirmed(ctx, "devnet")
	p.RecordDriftVerdict(ctx, "aligned")

	reqCtx, done := p.TrackRequest(ctx, "thread.create")
	assert.NotNil(t, reqCtx)
	done(errors.New("boom"))

	assert.NoError(t, p.Shutdown(ctx))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "weft", cfg.ServiceName)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestStartSpanWithoutInit(t *testing.T) {
	p := &Provider{}
	ctx, span := p.StartSpan(context.Background(), "test")
	assert.NotNil(t, ctx)
	span.End()
}
