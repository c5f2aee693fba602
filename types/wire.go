package types

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/opaquefs/securefs/crypto"
)

// VersionStructWire is the wire form of a VersionStruct, per spec.md §6:
//
//	{__class__: "VersionStruct", principal: "u7",
//	 ihandles: [["u7", hash], ...], versions: [["u7", 3], ...],
//	 signature: bytes}
//
// Pairs are encoded as ordered lists rather than JSON objects so that
// principal strings ("u7", "g3") need not double as JSON object keys.
type VersionStructWire struct {
	Class     string        `json:"__class__"`
	Principal string        `json:"principal"`
	Ihandles  [][2]string   `json:"ihandles"`
	Versions  []versionPair `json:"versions"`
	Signature []byte        `json:"signature"`
}

type versionPair struct {
	Principal string
	Version   int
}

// MarshalJSON encodes a (principal, version) pair as a two-element array.
func (v versionPair) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{v.Principal, v.Version})
}

// UnmarshalJSON decodes a two-element array into a (principal, version) pair.
func (v *versionPair) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &v.Principal); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &v.Version)
}

// ToWire converts vs to its wire representation.
func (vs *VersionStruct) ToWire() VersionStructWire {
	principals := make([]Principal, 0, len(vs.Ihandles))
	for p := range vs.Ihandles {
		principals = append(principals, p)
	}
	sort.Slice(principals, func(i, j int) bool { return principals[i].String() < principals[j].String() })

	ihandles := make([][2]string, 0, len(principals))
	for _, p := range principals {
		h := vs.Ihandles[p]
		ihandles = append(ihandles, [2]string{p.String(), h.String()})
	}

	versionPrincipals := make([]Principal, 0, len(vs.Versions))
	for p := range vs.Versions {
		versionPrincipals = append(versionPrincipals, p)
	}
	sort.Slice(versionPrincipals, func(i, j int) bool { return versionPrincipals[i].String() < versionPrincipals[j].String() })

	versions := make([]versionPair, 0, len(versionPrincipals))
	for _, p := range versionPrincipals {
		versions = append(versions, versionPair{Principal: p.String(), Version: vs.Versions[p]})
	}

	return VersionStructWire{
		Class:     "VersionStruct",
		Principal: vs.Principal.String(),
		Ihandles:  ihandles,
		Versions:  versions,
		Signature: append([]byte(nil), vs.Signature...),
	}
}

// FromWire parses a wire-form VersionStruct.
func FromWire(w VersionStructWire) (*VersionStruct, error) {
	if w.Class != "" && w.Class != "VersionStruct" {
		return nil, fmt.Errorf("types: unexpected __class__ %q", w.Class)
	}
	principal, err := ParsePrincipal(w.Principal)
	if err != nil {
		return nil, fmt.Errorf("types: version struct principal: %w", err)
	}
	vs := NewVersionStruct(principal)
	for _, pair := range w.Ihandles {
		p, err := ParsePrincipal(pair[0])
		if err != nil {
			return nil, fmt.Errorf("types: ihandle principal: %w", err)
		}
		h, err := crypto.ParseHash(pair[1])
		if err != nil {
			return nil, fmt.Errorf("types: ihandle hash: %w", err)
		}
		vs.Ihandles[p] = h
	}
	for _, pair := range w.Versions {
		p, err := ParsePrincipal(pair.Principal)
		if err != nil {
			return nil, fmt.Errorf("types: version principal: %w", err)
		}
		vs.Versions[p] = pair.Version
	}
	vs.Signature = append([]byte(nil), w.Signature...)
	return vs, nil
}

// VSLWire is the wire form of a VSL: a JSON object mapping the user's
// principal string to that user's VersionStructWire.
type VSLWire map[string]VersionStructWire

// ToWire converts a VSL to its wire representation.
func (vsl VSL) ToWire() VSLWire {
	out := make(VSLWire, len(vsl))
	for p, vs := range vsl {
		out[p.String()] = vs.ToWire()
	}
	return out
}

// FromWireVSL parses a wire-form VSL.
func FromWireVSL(w VSLWire) (VSL, error) {
	out := make(VSL, len(w))
	for key, wireVS := range w {
		vs, err := FromWire(wireVS)
		if err != nil {
			return nil, fmt.Errorf("types: vsl entry %q: %w", key, err)
		}
		principal, err := ParsePrincipal(key)
		if err != nil {
			return nil, fmt.Errorf("types: vsl key %q: %w", key, err)
		}
		if principal != vs.Principal {
			return nil, fmt.Errorf("types: vsl key %q does not match embedded principal %q", key, vs.Principal)
		}
		out[principal] = vs
	}
	return out, nil
}
