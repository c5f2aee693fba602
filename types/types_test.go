package types

import (
	"encoding/json"
	"testing"

	"github.com/opaquefs/securefs/crypto"
)

func TestPrincipalStringRoundTrip(t *testing.T) {
	for _, p := range []Principal{User(0), User(42), Group(1), Group(99)} {
		s := p.String()
		got, err := ParsePrincipal(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if got != p {
			t.Fatalf("round trip mismatch: %v != %v", got, p)
		}
	}
}

func TestPrincipalOrdering(t *testing.T) {
	if !User(1).Less(User(2)) {
		t.Fatalf("expected u1 < u2")
	}
	if !User(5).Less(Group(0)) {
		t.Fatalf("expected all users to sort before all groups")
	}
	if Group(0).Less(User(5)) {
		t.Fatalf("expected groups not to sort before users")
	}
}

func TestIAllocation(t *testing.T) {
	i := NewI(User(0))
	if i.Allocated() {
		t.Fatalf("expected fresh I to be unallocated")
	}
	allocated := i.WithInumber(3)
	if !allocated.Allocated() {
		t.Fatalf("expected WithInumber to allocate")
	}
	if allocated.N != 3 {
		t.Fatalf("expected inumber 3, got %d", allocated.N)
	}
}

func TestVersionStructBytesDeterministic(t *testing.T) {
	vs1 := NewVersionStruct(User(0))
	vs1.Ihandles[User(0)] = crypto.HashBytes([]byte("a"))
	vs1.Ihandles[Group(1)] = crypto.HashBytes([]byte("b"))
	vs1.Versions[User(0)] = 2
	vs1.Versions[Group(1)] = 5

	vs2 := vs1.Clone()

	if string(vs1.Bytes()) != string(vs2.Bytes()) {
		t.Fatalf("expected identical bytes for cloned version struct")
	}

	vs2.Versions[User(0)] = 3
	if string(vs1.Bytes()) == string(vs2.Bytes()) {
		t.Fatalf("expected differing bytes after mutation")
	}
}

func TestVersionStructWireRoundTrip(t *testing.T) {
	vs := NewVersionStruct(User(7))
	vs.Ihandles[User(7)] = crypto.HashBytes([]byte("itable-7"))
	vs.Versions[User(7)] = 3
	vs.Signature = []byte{1, 2, 3, 4}

	wire := vs.ToWire()
	data, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decodedWire VersionStructWire
	if err := json.Unmarshal(data, &decodedWire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := FromWire(decodedWire)
	if err != nil {
		t.Fatalf("from wire: %v", err)
	}
	if got.Principal != vs.Principal {
		t.Fatalf("principal mismatch")
	}
	if string(got.Bytes()) != string(vs.Bytes()) {
		t.Fatalf("bytes mismatch after wire round trip")
	}
}

func TestVSLWireRoundTrip(t *testing.T) {
	vsl := VSL{}
	vs0 := NewVersionStruct(User(0))
	vs0.Versions[User(0)] = 1
	vsl[User(0)] = vs0

	wire := vsl.ToWire()
	got, err := FromWireVSL(wire)
	if err != nil {
		t.Fatalf("from wire vsl: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[User(0)].Versions[User(0)] != 1 {
		t.Fatalf("unexpected version")
	}
}
