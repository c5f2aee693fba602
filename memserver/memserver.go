// Package memserver implements an in-memory block.Server for tests and the
// demo CLI: the untrusted collaborator spec.md §1/§6 describes, kept
// in-process so scenario and property tests can run against it directly
// without a real transport.
package memserver

import (
	"context"
	"fmt"
	"sync"

	"github.com/opaquefs/securefs/block"
	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/types"
)

// Server is a plain in-memory BlockServer: a content-addressed block map
// plus one VersionStruct per user. It never verifies signatures or version
// ordering itself (spec.md §1 — the server is untrusted and dumb; every
// client is responsible for verifying what it gets back), but it can
// optionally be told to misbehave, for fork-detection tests (P6, S5).
type Server struct {
	mu     sync.Mutex
	blocks map[crypto.Hash][]byte
	vsl    types.VSL

	// fault, when non-nil, is consulted by Commit before a write is
	// accepted, so tests can simulate an equivocating or lying server
	// without adding test-only branches to the honest code path.
	fault FaultFunc

	// vslFault, when non-nil, post-processes every GetVSL snapshot before
	// it reaches the caller.
	vslFault VSLFaultFunc
}

// FaultFunc can rewrite or reject a Commit before it lands. Returning a
// non-nil error aborts the commit as that server would see it; returning a
// *types.VersionStruct different from vs substitutes a forged version (used
// to simulate the server serving two different clients two different
// VSLs — the fork scenario honest clients must detect on their next Pre).
type FaultFunc func(user types.Principal, vs *types.VersionStruct) (*types.VersionStruct, error)

// VSLFaultFunc rewrites the VSL snapshot GetVSL is about to return, letting
// tests simulate a server that shows different callers different views of
// the same committed state — e.g. quietly omitting one principal's VS from
// what a particular caller sees next, the "previously observed VS
// disappeared" half of fork consistency (spec.md §4.6, Scenario S5).
type VSLFaultFunc func(vsl types.VSL) types.VSL

// New returns an empty Server.
func New() *Server {
	return &Server{
		blocks: make(map[crypto.Hash][]byte),
		vsl:    make(types.VSL),
	}
}

// SetFault installs (or, with nil, clears) a fault function.
func (s *Server) SetFault(fault FaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fault
}

// SetVSLFault installs (or, with nil, clears) a VSL fault function.
func (s *Server) SetVSLFault(fault VSLFaultFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vslFault = fault
}

func (s *Server) Store(_ context.Context, blob []byte) (crypto.Hash, error) {
	h := crypto.HashBytes(blob)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[h] = append([]byte(nil), blob...)
	return h, nil
}

func (s *Server) Read(_ context.Context, hash crypto.Hash) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("memserver: %w: %s", block.ErrNotFound, hash)
	}
	return append([]byte(nil), blob...), nil
}

func (s *Server) GetVSL(_ context.Context) (types.VSL, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(types.VSL, len(s.vsl))
	for p, vs := range s.vsl {
		out[p] = vs.Clone()
	}
	if s.vslFault != nil {
		out = s.vslFault(out)
	}
	return out, nil
}

func (s *Server) Commit(_ context.Context, user types.Principal, vs *types.VersionStruct) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	toStore := vs
	if s.fault != nil {
		rewritten, err := s.fault(user, vs)
		if err != nil {
			return err
		}
		toStore = rewritten
	}
	s.vsl[user] = toStore.Clone()
	return nil
}

// BlockCount reports how many distinct blocks the server currently holds,
// for tests asserting on write volume.
func (s *Server) BlockCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}
