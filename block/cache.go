package block

import (
	"fmt"
	"time"

	"github.com/opaquefs/securefs/crypto"
	bolt "go.etcd.io/bbolt"
)

var bucketBlocks = []byte("blocks_by_hash")

// Cache is a local, disk-backed cache of ihash -> blob, fronting a Server so
// repeated reads of the same block don't round-trip to the untrusted
// server. It is purely an optimization: every value handed back by the
// Client is re-hashed before use (see Client.Get), so a corrupted or stale
// cache entry degrades to exactly the same ErrCorruptBlock a malicious
// server response would produce — the cache is never a trust boundary.
//
// Modeled on node/store/db.go's bolt.Open + single-bucket-per-concern
// pattern from the teacher's chain database.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (creating if absent) a bbolt-backed cache at path.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("block: open cache: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlocks)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("block: init cache bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying bbolt database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached bytes for hash, if present.
func (c *Cache) Get(hash crypto.Hash) ([]byte, bool) {
	var out []byte
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		v := b.Get(hash[:])
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, out != nil
}

// Put stores blob under hash in the cache. Errors are not propagated to
// callers in Client.Put/Get: the cache is best-effort.
func (c *Cache) Put(hash crypto.Hash, blob []byte) {
	_ = c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		return b.Put(hash[:], blob)
	})
}
