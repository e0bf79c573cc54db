package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_IndependentWindows(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("spotify", 1, time.Hour))
	require.NoError(t, r.Register("youtube", 1, time.Hour))

	ctx := context.Background()
	require.NoError(t, r.Acquire(ctx, "spotify"))
	// spotify is saturated; youtube must not be affected.
	require.NoError(t, r.Acquire(ctx, "youtube"))

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "spotify", snaps[0].Name)
	assert.Equal(t, 1, snaps[0].InWindow)
	assert.Equal(t, "youtube", snaps[1].Name)
	assert.Equal(t, 1, snaps[1].InWindow)
}

func TestRegistry_UnknownLimiter(t *testing.T) {
	r := NewRegistry()
	err := r.Acquire(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownLimiter)

	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestRegistry_RegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register("spotify", 0, time.Second))
	_, ok := r.Get("spotify")
	assert.False(t, ok)
}
