package client

import (
	"testing"

	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/itable"
	"github.com/opaquefs/securefs/types"
)

func TestTotalOrderAcceptsComparableVectors(t *testing.T) {
	a := &types.VersionStruct{Versions: map[types.Principal]int{types.User(0): 2, types.User(1): 1}}
	b := &types.VersionStruct{Versions: map[types.Principal]int{types.User(0): 3, types.User(1): 1}}
	if !totalOrder([]*types.VersionStruct{a, b}) {
		t.Fatalf("expected a<=b componentwise to be accepted as a total order")
	}
}

func TestTotalOrderRejectsIncomparableVectors(t *testing.T) {
	a := &types.VersionStruct{Versions: map[types.Principal]int{types.User(0): 2, types.User(1): 0}}
	b := &types.VersionStruct{Versions: map[types.Principal]int{types.User(0): 1, types.User(1): 1}}
	if totalOrder([]*types.VersionStruct{a, b}) {
		t.Fatalf("expected neither a<=b nor b<=a to be rejected")
	}
}

func TestTotalOrderTreatsMissingKeyAsZero(t *testing.T) {
	a := &types.VersionStruct{Versions: map[types.Principal]int{types.User(0): 1}}
	b := &types.VersionStruct{Versions: map[types.Principal]int{types.User(0): 1, types.User(5): 4}}
	if !totalOrder([]*types.VersionStruct{a, b}) {
		t.Fatalf("expected a (implicit 0 for user 5) <= b to hold")
	}
}

func TestPreDetectsForkOnDivergentIhandleAtSameVersion(t *testing.T) {
	ctx := newTestCtx(t)
	srv := newTestServer()
	alice := types.User(0)
	alicePriv := mustKeyPair(t)

	mount := newTestClient(t, srv, alice, alicePriv)
	root, usersBlob, groupsBlob := mustInit(t, ctx, mount, alice)
	_ = usersBlob
	_ = groupsBlob

	if _, err := mount.Readdir(ctx, alice, root, 0); err != nil {
		t.Fatalf("readdir after init: %v", err)
	}

	forged := types.NewVersionStruct(alice)
	forged.Ihandles[alice] = crypto.HashBytes([]byte("a different, equivocating itable"))
	forged.Versions[alice] = 1
	sig, err := crypto.Sign(alicePriv, forged.Bytes())
	if err != nil {
		t.Fatalf("sign forged vs: %v", err)
	}
	forged.Signature = sig
	if err := srv.Commit(ctx, alice, forged); err != nil {
		t.Fatalf("commit forged vs: %v", err)
	}

	if _, err := mount.Readdir(ctx, alice, root, 0); !isForkDetected(err) {
		t.Fatalf("expected ErrForkDetected, got %v", err)
	}
}

func TestPreRejectsBadSignature(t *testing.T) {
	ctx := newTestCtx(t)
	srv := newTestServer()
	alice := types.User(0)
	alicePriv := mustKeyPair(t)
	otherPriv := mustKeyPair(t)

	mount := newTestClient(t, srv, alice, alicePriv)
	root, _, _ := mustInit(t, ctx, mount, alice)
	if _, err := mount.Readdir(ctx, alice, root, 0); err != nil {
		t.Fatalf("readdir after init: %v", err)
	}

	forged := types.NewVersionStruct(alice)
	forged.Ihandles[alice] = crypto.HashBytes([]byte("whatever"))
	forged.Versions[alice] = 2
	sig, err := crypto.Sign(otherPriv, forged.Bytes())
	if err != nil {
		t.Fatalf("sign with wrong key: %v", err)
	}
	forged.Signature = sig
	if err := srv.Commit(ctx, alice, forged); err != nil {
		t.Fatalf("commit forged vs: %v", err)
	}

	if _, err := mount.Readdir(ctx, alice, root, 0); err == nil {
		t.Fatalf("expected an error verifying a VS signed by the wrong key")
	}
}

// TestPreDetectsVanishedVS covers the third, independent half of fork
// consistency (spec.md §4.6 goal (c); Scenario S5): a server that simply
// omits a previously-observed principal's VS from a later VSL — nothing
// left to disagree with, so totalOrder alone would see no fork — must still
// be caught, by comparing against what this client itself saw before.
func TestPreDetectsVanishedVS(t *testing.T) {
	ctx := newTestCtx(t)
	srv := newTestServer()
	alice := types.User(0)
	bob := types.User(1)
	alicePriv := mustKeyPair(t)
	bobPriv := mustKeyPair(t)

	mount := New(DefaultConfig(), srv, nil)
	mount.RegisterKey(alice, alicePriv)
	mount.RegisterKey(bob, bobPriv)
	mount.TrustBootstrapKey(alice, &alicePriv.PublicKey)
	mount.TrustBootstrapKey(bob, &bobPriv.PublicKey)
	root, _, _ := mustInit(t, ctx, mount, alice)

	// Give bob a committed VS of his own, so alice's client has genuinely
	// observed it once, then confirm the honest next Pre still succeeds.
	bobTable, err := itable.Create(bob, mount, mount)
	if err != nil {
		t.Fatalf("create bob's itable: %v", err)
	}
	bobIhandle, err := bobTable.Save(ctx, mount.bc)
	if err != nil {
		t.Fatalf("save bob's itable: %v", err)
	}
	bobVS := types.NewVersionStruct(bob)
	bobVS.Versions[bob] = 1
	bobVS.Ihandles[bob] = bobIhandle
	sig, err := crypto.Sign(bobPriv, bobVS.Bytes())
	if err != nil {
		t.Fatalf("sign bob's vs: %v", err)
	}
	bobVS.Signature = sig
	if err := srv.Commit(ctx, bob, bobVS); err != nil {
		t.Fatalf("commit bob's vs: %v", err)
	}
	if _, err := mount.Readdir(ctx, alice, root, 0); err != nil {
		t.Fatalf("readdir after bob's vs is committed: %v", err)
	}

	srv.SetVSLFault(func(vsl types.VSL) types.VSL {
		delete(vsl, bob)
		return vsl
	})

	if _, err := mount.Readdir(ctx, alice, root, 0); !isForkDetected(err) {
		t.Fatalf("expected ErrForkDetected when bob's previously observed vs disappears, got %v", err)
	}
}

// TestPreDetectsRegressedVS covers the same goal (c) half of fork
// consistency via the other failure mode: a previously observed VS
// reappearing with a lower self-reported version than this client already
// saw.
func TestPreDetectsRegressedVS(t *testing.T) {
	ctx := newTestCtx(t)
	srv := newTestServer()
	alice := types.User(0)
	bob := types.User(1)
	alicePriv := mustKeyPair(t)
	bobPriv := mustKeyPair(t)

	mount := New(DefaultConfig(), srv, nil)
	mount.RegisterKey(alice, alicePriv)
	mount.RegisterKey(bob, bobPriv)
	mount.TrustBootstrapKey(alice, &alicePriv.PublicKey)
	mount.TrustBootstrapKey(bob, &bobPriv.PublicKey)
	root, _, _ := mustInit(t, ctx, mount, alice)

	bobTable, err := itable.Create(bob, mount, mount)
	if err != nil {
		t.Fatalf("create bob's itable: %v", err)
	}
	bobIhandle, err := bobTable.Save(ctx, mount.bc)
	if err != nil {
		t.Fatalf("save bob's itable: %v", err)
	}
	bobVS := types.NewVersionStruct(bob)
	bobVS.Versions[bob] = 5
	bobVS.Ihandles[bob] = bobIhandle
	sig, err := crypto.Sign(bobPriv, bobVS.Bytes())
	if err != nil {
		t.Fatalf("sign bob's vs: %v", err)
	}
	bobVS.Signature = sig
	if err := srv.Commit(ctx, bob, bobVS); err != nil {
		t.Fatalf("commit bob's vs: %v", err)
	}
	if _, err := mount.Readdir(ctx, alice, root, 0); err != nil {
		t.Fatalf("readdir after bob's vs is committed: %v", err)
	}

	rolledBack := types.NewVersionStruct(bob)
	rolledBack.Versions[bob] = 3
	rolledBack.Ihandles[bob] = crypto.HashBytes([]byte("bob's itable v3, stale"))
	sig2, err := crypto.Sign(bobPriv, rolledBack.Bytes())
	if err != nil {
		t.Fatalf("sign rolled-back vs: %v", err)
	}
	rolledBack.Signature = sig2
	srv.SetVSLFault(func(vsl types.VSL) types.VSL {
		vsl[bob] = rolledBack
		return vsl
	})

	if _, err := mount.Readdir(ctx, alice, root, 0); !isForkDetected(err) {
		t.Fatalf("expected ErrForkDetected when bob's vs regresses from version 5 to 3, got %v", err)
	}
}

func isForkDetected(err error) bool {
	return err != nil && errorsIs(err, ErrForkDetected)
}
