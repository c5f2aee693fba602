package client

import (
	"context"
	"crypto/rsa"
	"errors"
	"testing"

	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/memserver"
	"github.com/opaquefs/securefs/types"
)

func newTestCtx(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}

func newTestServer() *memserver.Server {
	return memserver.New()
}

func mustKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := crypto.GenKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return priv
}

// newTestClient builds a Client around srv with user's private key
// registered and trusted as a bootstrap signer — the local-keyring stand-in
// for a /.users entry that doesn't exist yet before Init runs.
func newTestClient(t *testing.T, srv *memserver.Server, user types.Principal, priv *rsa.PrivateKey) *Client {
	t.Helper()
	cfg := DefaultConfig()
	c := New(cfg, srv, nil)
	c.RegisterKey(user, priv)
	c.TrustBootstrapKey(user, &priv.PublicKey)
	return c
}

// mustInit bootstraps a single-user share on c and returns the root I plus
// the .users/.groups blobs it committed, for callers that want to mount a
// second Client against the same share.
func mustInit(t *testing.T, ctx context.Context, c *Client, owner types.Principal) (types.I, []byte, []byte) {
	t.Helper()
	priv, ok := c.keys[owner]
	if !ok {
		t.Fatalf("mustInit: %s has no registered private key", owner)
	}
	usersBlob, err := EncodeUserMap(map[types.Principal]*rsa.PublicKey{owner: &priv.PublicKey})
	if err != nil {
		t.Fatalf("encode .users: %v", err)
	}
	groupsBlob, err := EncodeGroupMap(map[types.Principal][]types.Principal{})
	if err != nil {
		t.Fatalf("encode .groups: %v", err)
	}
	root, err := c.Init(ctx, owner, usersBlob, groupsBlob)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	return root, usersBlob, groupsBlob
}

func errorsIs(err, target error) bool {
	return errors.Is(err, target)
}
