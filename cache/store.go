package cache

import (
	"context"
	"time"
)

// Store is a shared key/value store with per-key TTL semantics.
//
// Get distinguishes a miss (found=false, err=nil) from a broken or unreachable
// store (err != nil). Callers decide what a store failure means for them.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sweeper is implemented by stores that keep expired keys until swept.
type Sweeper interface {
	Sweep() (removed int, err error)
}

// Sizer reports the number of keys and approximate size held by a store.
type Sizer interface {
	Stats() (numKeys int, sizeInKB int)
}

// Purger is implemented by stores that can drop every entry.
type Purger interface {
	Purge(ctx context.Context) error
}
