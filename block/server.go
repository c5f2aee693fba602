// Package block implements the content-addressed BlockStore client
// (spec.md §4.2) and, optionally, a local cache layer in front of it.
package block

import (
	"context"
	"errors"

	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/types"
)

// Sentinel errors.
var (
	// ErrCorruptBlock is returned by Get when the server returns bytes
	// whose hash does not match the requested hash (spec.md §4.2).
	ErrCorruptBlock = errors.New("block: corrupt block")

	// ErrServerUnavailable wraps transport-level failures talking to the
	// BlockServer.
	ErrServerUnavailable = errors.New("block: server unavailable")

	// ErrNotFound is returned when no block exists for a requested hash.
	ErrNotFound = errors.New("block: not found")
)

// Server is the external BlockServer RPC collaborator (spec.md §1, §6):
//
//	store(blob) -> hash
//	read(hash) -> blob
//	get_vsl() -> VSL
//	commit(user, vs)
//
// The server is assumed malicious: it may drop writes, reorder operations,
// or serve stale state, but is assumed unable to forge writes or violate
// causal ordering between honest clients. This package never trusts a
// Server implementation's output without re-verifying it (content hash on
// Get, signature and total order in the client package's VSL engine).
type Server interface {
	Store(ctx context.Context, blob []byte) (crypto.Hash, error)
	Read(ctx context.Context, hash crypto.Hash) ([]byte, error)
	GetVSL(ctx context.Context) (types.VSL, error)
	Commit(ctx context.Context, user types.Principal, vs *types.VersionStruct) error
}
