package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/thread"
)

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	in := sampleThread("t-1", time.Now().UTC())
	require.NoError(t, s.Put(ctx, in))

	got, err := s.Get(ctx, "t-1")
	require.NoError(t, err)

	// Mutating a read result must not leak into the store.
	got.Metadata["team"] = "tampered"
	got.Constraints[0] = "tampered"

	fresh, err := s.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "finops", fresh.Metadata["team"])
	assert.Equal(t, "never send data externally", fresh.Constraints[0])
}

func TestMemoryStoreListOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"t-a", "t-b", "t-c"} {
		require.NoError(t, s.Put(ctx, sampleThread(id, base.Add(time.Duration(i)*time.Minute))))
	}

	all, err := s.List(ctx, thread.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "t-c", all[0].ID)

	limited, err := s.List(ctx, thread.Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, s.Put(ctx, sampleThread("dup", base)))
	assert.ErrorIs(t, s.Put(ctx, sampleThread("dup", base)), thread.ErrThreadExists)
}
