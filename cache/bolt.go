package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"tabs-api-go/logcolors"
	"tabs-api-go/utils"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const bucketName = "cache"

var errBucketMissing = errors.New("bucket not found")

// BoltStore wraps BoltDB with an in-memory mirror for fast reads. Expired
// entries stay on disk until read or swept.
type BoltStore struct {
	db                 *bolt.DB
	memCache           sync.Map
	dbPath             string
	compressionEnabled bool
	now                func() time.Time
}

// boltEntry is the on-disk representation of a cached value.
type boltEntry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (e boltEntry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// NewBoltStore opens (or creates) the database at dbPath and preloads
// unexpired entries into memory.
func NewBoltStore(dbPath string, compressionEnabled bool) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	if info, err := os.Stat(dbPath); err == nil {
		log.Infof("%s Found existing database file at: %s (size: %d bytes)", logcolors.LogCacheInit, dbPath, info.Size())
	} else {
		log.Infof("%s Creating new database file at: %s", logcolors.LogCacheInit, dbPath)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create cache bucket: %w", err)
	}

	bs := &BoltStore{
		db:                 db,
		dbPath:             dbPath,
		compressionEnabled: compressionEnabled,
		now:                time.Now,
	}

	if err := bs.loadToMemory(); err != nil {
		log.Warnf("%s Failed to preload cache to memory: %v", logcolors.LogCache, err)
	}

	log.Infof("%s Bolt store initialized at %s (compression: %v)", logcolors.LogCache, dbPath, compressionEnabled)
	return bs, nil
}

// loadToMemory mirrors every unexpired disk entry into memory.
func (bs *BoltStore) loadToMemory() error {
	count := 0
	now := bs.now()
	err := bs.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var entry boltEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				log.Warnf("%s Failed to unmarshal cache entry for key %s: %v", logcolors.LogCache, string(k), err)
				return nil
			}
			if entry.expired(now) {
				return nil
			}
			bs.memCache.Store(string(k), entry)
			count++
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Infof("%s Loaded %d entries from disk to memory", logcolors.LogCache, count)
	return nil
}

// Get returns the value for key if present and unexpired. Memory is checked
// first, then disk.
func (bs *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := bs.now()

	if v, ok := bs.memCache.Load(key); ok {
		entry := v.(boltEntry)
		if entry.expired(now) {
			bs.memCache.Delete(key)
			return nil, false, nil
		}
		return bs.decode(key, entry)
	}

	var entry boltEntry
	var found bool
	err := bs.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errBucketMissing
		}

		data := b.Get([]byte(key))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("bolt get %s: %w", key, err)
	}
	if !found || entry.expired(now) {
		return nil, false, nil
	}

	bs.memCache.Store(key, entry)
	return bs.decode(key, entry)
}

func (bs *BoltStore) decode(key string, entry boltEntry) ([]byte, bool, error) {
	if !bs.compressionEnabled {
		return []byte(entry.Value), true, nil
	}
	value, err := utils.DecompressBytes(entry.Value)
	if err != nil {
		return nil, false, fmt.Errorf("bolt decompress %s: %w", key, err)
	}
	return value, true, nil
}

// SetWithTTL stores value in memory and on disk, compressed when enabled.
func (bs *BoltStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("bolt set %s: ttl must be positive, got %v", key, ttl)
	}

	stored := string(value)
	if bs.compressionEnabled {
		compressed, err := utils.CompressBytes(value)
		if err != nil {
			return fmt.Errorf("bolt compress %s: %w", key, err)
		}
		stored = compressed
	}

	entry := boltEntry{
		Value:     stored,
		ExpiresAt: bs.now().Add(ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	err = bs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errBucketMissing
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("bolt put %s: %w", key, err)
	}

	bs.memCache.Store(key, entry)
	return nil
}

// Sweep deletes every expired entry from memory and disk.
func (bs *BoltStore) Sweep() (int, error) {
	now := bs.now()
	removed := 0

	err := bs.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return errBucketMissing
		}

		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var entry boltEntry
			if err := json.Unmarshal(v, &entry); err != nil || entry.expired(now) {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
			bs.memCache.Delete(string(k))
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bolt sweep: %w", err)
	}

	return removed, nil
}

// Purge removes all entries.
func (bs *BoltStore) Purge(_ context.Context) error {
	bs.memCache.Range(func(key, _ interface{}) bool {
		bs.memCache.Delete(key)
		return true
	})

	return bs.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(bucketName)) != nil {
			if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
}

// Stats returns the number of mirrored keys and their approximate size.
func (bs *BoltStore) Stats() (numKeys int, sizeInKB int) {
	bs.memCache.Range(func(k, v interface{}) bool {
		entry := v.(boltEntry)
		numKeys++
		sizeInKB += len(k.(string)) + len(entry.Value)
		return true
	})
	sizeInKB = sizeInKB / 1024
	return
}

func (bs *BoltStore) Ping(_ context.Context) error {
	return bs.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(bucketName)) == nil {
			return errBucketMissing
		}
		return nil
	})
}

func (bs *BoltStore) Close() error {
	if bs.db != nil {
		return bs.db.Close()
	}
	return nil
}
