package itable

import (
	"context"
	"crypto/rsa"
	"testing"

	"github.com/opaquefs/securefs/block"
	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/types"
)

type fakeServer struct {
	blocks map[crypto.Hash][]byte
}

func newFakeServer() *fakeServer { return &fakeServer{blocks: map[crypto.Hash][]byte{}} }

func (f *fakeServer) Store(ctx context.Context, blob []byte) (crypto.Hash, error) {
	h := crypto.HashBytes(blob)
	f.blocks[h] = append([]byte(nil), blob...)
	return h, nil
}
func (f *fakeServer) Read(ctx context.Context, h crypto.Hash) ([]byte, error) {
	b, ok := f.blocks[h]
	if !ok {
		return nil, block.ErrNotFound
	}
	return b, nil
}
func (f *fakeServer) GetVSL(ctx context.Context) (types.VSL, error)             { return types.VSL{}, nil }
func (f *fakeServer) Commit(context.Context, types.Principal, *types.VersionStruct) error { return nil }

type keyring struct {
	pubs    map[types.Principal]*rsa.PublicKey
	members map[types.Principal][]types.Principal
}

func (k keyring) PublicKey(u types.Principal) (*rsa.PublicKey, bool) { p, ok := k.pubs[u]; return p, ok }
func (k keyring) Members(g types.Principal) ([]types.Principal, bool) {
	m, ok := k.members[g]
	return m, ok
}

func TestCreateUserItableWrapsOwnerKey(t *testing.T) {
	priv, _ := crypto.GenKeyPair()
	kr := keyring{pubs: map[types.Principal]*rsa.PublicKey{types.User(0): &priv.PublicKey}}

	tbl, err := Create(types.User(0), kr, kr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key, ok, err := tbl.ContentKeyFor(types.User(0), priv)
	if err != nil {
		t.Fatalf("content key: %v", err)
	}
	if !ok {
		t.Fatalf("expected owner to have a wrapped key")
	}
	var zero crypto.SymKey
	if key == zero {
		t.Fatalf("expected nonzero content key")
	}
}

func TestCreateGroupItableWrapsAllMembers(t *testing.T) {
	priv0, _ := crypto.GenKeyPair()
	priv1, _ := crypto.GenKeyPair()
	kr := keyring{
		pubs: map[types.Principal]*rsa.PublicKey{
			types.User(0): &priv0.PublicKey,
			types.User(1): &priv1.PublicKey,
		},
		members: map[types.Principal][]types.Principal{
			types.Group(5): {types.User(0), types.User(1)},
		},
	}
	tbl, err := Create(types.Group(5), kr, kr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	k0, ok, err := tbl.ContentKeyFor(types.User(0), priv0)
	if err != nil || !ok {
		t.Fatalf("expected user0 to decrypt: ok=%v err=%v", ok, err)
	}
	k1, ok, err := tbl.ContentKeyFor(types.User(1), priv1)
	if err != nil || !ok {
		t.Fatalf("expected user1 to decrypt: ok=%v err=%v", ok, err)
	}
	if k0 != k1 {
		t.Fatalf("expected all group members to share the same content key")
	}
}

func TestContentKeyForNonMemberFails(t *testing.T) {
	priv0, _ := crypto.GenKeyPair()
	priv1, _ := crypto.GenKeyPair()
	kr := keyring{pubs: map[types.Principal]*rsa.PublicKey{types.User(0): &priv0.PublicKey}}
	tbl, err := Create(types.User(0), kr, kr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, ok, err := tbl.ContentKeyFor(types.User(1), priv1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected non-member to have no content key")
	}
}

func TestAllocateInumber(t *testing.T) {
	tbl := &Itable{Mapping: map[int]Entry{0: IhashEntry(crypto.Hash{}), 1: IhashEntry(crypto.Hash{})}}
	if n := tbl.AllocateInumber(); n != 2 {
		t.Fatalf("expected inumber 2, got %d", n)
	}
	delete(tbl.Mapping, 0)
	if n := tbl.AllocateInumber(); n != 0 {
		t.Fatalf("expected inumber 0 to be reused after deletion, got %d", n)
	}
}

func TestSaveDeterministic(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	client := block.NewClient(srv, nil)

	priv, _ := crypto.GenKeyPair()
	kr := keyring{pubs: map[types.Principal]*rsa.PublicKey{types.User(0): &priv.PublicKey}}

	tbl, err := Create(types.User(0), kr, kr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tbl.Set(0, IhashEntry(crypto.HashBytes([]byte("inode-0"))))
	tbl.Set(1, IhashEntry(crypto.HashBytes([]byte("inode-1"))))

	h1, err := tbl.Save(ctx, client)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	h2, err := tbl.Save(ctx, client)
	if err != nil {
		t.Fatalf("save again: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("P4: expected identical hash across repeated saves, got %s != %s", h1, h2)
	}
	if tbl.Dirty() {
		t.Fatalf("expected table to be clean after save")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	client := block.NewClient(srv, nil)

	priv, _ := crypto.GenKeyPair()
	kr := keyring{pubs: map[types.Principal]*rsa.PublicKey{types.User(0): &priv.PublicKey}}

	tbl, err := Create(types.User(0), kr, kr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tbl.Set(0, IhashEntry(crypto.HashBytes([]byte("inode-0"))))
	h, err := tbl.Save(ctx, client)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(ctx, client, h, 1, types.User(0), kr, kr)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	entry, err := loaded.Lookup(0)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if entry.Ihash != crypto.HashBytes([]byte("inode-0")) {
		t.Fatalf("unexpected entry after load")
	}
	if _, err := loaded.Lookup(99); err != ErrNoSuchInumber {
		t.Fatalf("expected ErrNoSuchInumber, got %v", err)
	}
}

func TestGroupIndirectionEntryRoundTrips(t *testing.T) {
	ctx := context.Background()
	srv := newFakeServer()
	client := block.NewClient(srv, nil)

	priv, _ := crypto.GenKeyPair()
	kr := keyring{
		pubs: map[types.Principal]*rsa.PublicKey{types.User(0): &priv.PublicKey},
		members: map[types.Principal][]types.Principal{
			types.Group(1): {types.User(0)},
		},
	}
	tbl, err := Create(types.Group(1), kr, kr)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	childI := types.NewI(types.User(0)).WithInumber(3)
	tbl.Set(0, ChildEntry(childI))

	h, err := tbl.Save(ctx, client)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(ctx, client, h, 1, types.Group(1), kr, kr)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	entry, err := loaded.Lookup(0)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !entry.IsChild() || !entry.Child.Equal(childI) {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}
