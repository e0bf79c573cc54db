package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_SelectsBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		opts Options
		want interface{}
	}{
		{name: "redis", opts: Options{Backend: "redis", RedisURL: "redis://" + mr.Addr()}, want: &RedisStore{}},
		{name: "memory", opts: Options{Backend: "memory", MaxKeys: 10, MaxTTL: time.Hour}, want: &MemoryStore{}},
		{name: "bolt", opts: Options{Backend: "bolt", BoltPath: filepath.Join(t.TempDir(), "c.db")}, want: &BoltStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := Open(tt.opts)
			require.NoError(t, err)
			defer store.Close()
			assert.IsType(t, tt.want, store)
		})
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open(Options{Backend: "memcached"})
	assert.Error(t, err)
}

func TestConnect_Reachable(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := Connect(context.Background(), Options{
		Backend:  "redis",
		RedisURL: "redis://" + mr.Addr(),
		Attempts: 3,
		Delay:    time.Millisecond,
	})
	require.NoError(t, err)
	defer store.Close()
}

func TestConnect_UnreachableReturnsStore(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.SetError("LOADING server is loading")

	store, err := Connect(context.Background(), Options{
		Backend:  "redis",
		RedisURL: "redis://" + mr.Addr(),
		Attempts: 2,
		Delay:    time.Millisecond,
	})
	assert.Error(t, err)
	require.NotNil(t, store)
	store.Close()
}
