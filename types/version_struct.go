package types

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/opaquefs/securefs/crypto"
)

// VersionStruct is a user's signed snapshot of every principal's latest
// itable, per spec.md §3. The signature covers a deterministic byte
// encoding of (principal, sorted ihandles, sorted versions).
type VersionStruct struct {
	Principal Principal
	Ihandles  map[Principal]crypto.Hash
	Versions  map[Principal]int
	Signature []byte
}

// NewVersionStruct returns an empty, unsigned VersionStruct for principal.
func NewVersionStruct(principal Principal) *VersionStruct {
	return &VersionStruct{
		Principal: principal,
		Ihandles:  make(map[Principal]crypto.Hash),
		Versions:  make(map[Principal]int),
	}
}

// VersionOf returns the version vector entry for p, or 0 if absent —
// the "0 for missing keys" convention spec.md §4.6 step 4 uses for the
// total-order comparison.
func (vs *VersionStruct) VersionOf(p Principal) int {
	return vs.Versions[p]
}

// Bytes returns the canonical, deterministic encoding that Sign/Verify
// operate over: the signer's principal, then sorted (principal-string,
// ihandle) pairs, then sorted (principal-string, version) pairs. Sorting
// makes the encoding, and therefore the signature, independent of Go map
// iteration order.
func (vs *VersionStruct) Bytes() []byte {
	var buf bytes.Buffer

	writeString := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		buf.Write(lenBuf[:])
		buf.WriteString(s)
	}

	writeString(vs.Principal.String())

	principals := make([]Principal, 0, len(vs.Ihandles))
	for p := range vs.Ihandles {
		principals = append(principals, p)
	}
	sort.Slice(principals, func(i, j int) bool {
		return principals[i].String() < principals[j].String()
	})
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(principals)))
	buf.Write(lenBuf[:])
	for _, p := range principals {
		writeString(p.String())
		h := vs.Ihandles[p]
		buf.Write(h[:])
	}

	versionPrincipals := make([]Principal, 0, len(vs.Versions))
	for p := range vs.Versions {
		versionPrincipals = append(versionPrincipals, p)
	}
	sort.Slice(versionPrincipals, func(i, j int) bool {
		return versionPrincipals[i].String() < versionPrincipals[j].String()
	})
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(versionPrincipals)))
	buf.Write(lenBuf[:])
	for _, p := range versionPrincipals {
		writeString(p.String())
		var vbuf [8]byte
		binary.BigEndian.PutUint64(vbuf[:], uint64(vs.Versions[p]))
		buf.Write(vbuf[:])
	}

	return buf.Bytes()
}

// Clone returns a deep copy of vs.
func (vs *VersionStruct) Clone() *VersionStruct {
	out := &VersionStruct{
		Principal: vs.Principal,
		Ihandles:  make(map[Principal]crypto.Hash, len(vs.Ihandles)),
		Versions:  make(map[Principal]int, len(vs.Versions)),
		Signature: append([]byte(nil), vs.Signature...),
	}
	for p, h := range vs.Ihandles {
		out.Ihandles[p] = h
	}
	for p, v := range vs.Versions {
		out.Versions[p] = v
	}
	return out
}

// VSL is the server's collection of every user's latest VS — a mapping
// User -> VersionStruct, at most one per user (spec.md §3).
type VSL map[Principal]*VersionStruct
