package block

import (
	"context"
	"fmt"

	"github.com/opaquefs/securefs/crypto"
)

// Client wraps a Server with the optional symmetric-encryption behavior
// spec.md §4.2 describes: Put encrypts before forwarding when a key is
// given, Get decrypts after fetching.
type Client struct {
	server Server
	cache  *Cache // optional; nil disables caching
}

// NewClient constructs a Client around server. cache may be nil.
func NewClient(server Server, cache *Cache) *Client {
	return &Client{server: server, cache: cache}
}

// Put stores blob, encrypting it under key first if key is non-nil. The
// returned hash MUST be the hash of what the server actually stored
// (ciphertext included, if encrypted) — this client recomputes it and
// rejects a server-returned hash that differs with ErrCorruptBlock.
func (c *Client) Put(ctx context.Context, blob []byte, key *crypto.SymKey) (crypto.Hash, error) {
	stored := blob
	if key != nil {
		enc, err := crypto.SymEncrypt(*key, blob)
		if err != nil {
			return crypto.Hash{}, fmt.Errorf("block: encrypt before put: %w", err)
		}
		stored = enc
	}
	hash, err := c.server.Store(ctx, stored)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	want := crypto.HashBytes(stored)
	if hash != want {
		return crypto.Hash{}, fmt.Errorf("block: %w: server returned hash %s for blob hashing to %s", ErrCorruptBlock, hash, want)
	}
	if c.cache != nil {
		c.cache.Put(hash, stored)
	}
	return hash, nil
}

// Get fetches the block named by hash, decrypting it under key if key is
// non-nil. Get always verifies hash(fetched bytes) == hash before
// returning — a server that substitutes a different blob (or a poisoned
// cache entry) is detected as ErrCorruptBlock, never silently accepted.
func (c *Client) Get(ctx context.Context, hash crypto.Hash, key *crypto.SymKey) ([]byte, error) {
	stored, ok := c.cacheGet(hash)
	if !ok {
		fetched, err := c.server.Read(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
		}
		stored = fetched
		if c.cache != nil {
			c.cache.Put(hash, stored)
		}
	}
	if crypto.HashBytes(stored) != hash {
		return nil, ErrCorruptBlock
	}
	if key == nil {
		return stored, nil
	}
	plain, err := crypto.SymDecrypt(*key, stored)
	if err != nil {
		return nil, fmt.Errorf("block: decrypt after get: %w", err)
	}
	return plain, nil
}

func (c *Client) cacheGet(hash crypto.Hash) ([]byte, bool) {
	if c.cache == nil {
		return nil, false
	}
	return c.cache.Get(hash)
}

// Server returns the underlying Server, for callers (vsl engine) that need
// GetVSL/Commit directly.
func (c *Client) Server() Server {
	return c.server
}
