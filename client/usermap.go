package client

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"

	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/types"
)

// UserMap is the in-memory form of /.users: the set of public keys the
// client currently trusts, rebuilt from the share's .users file on every
// pre() refresh (spec.md §3, §4.6 step 4).
type UserMap struct {
	pub map[types.Principal]*rsa.PublicKey
}

// NewUserMap returns an empty UserMap.
func NewUserMap() *UserMap {
	return &UserMap{pub: make(map[types.Principal]*rsa.PublicKey)}
}

// PublicKey implements itable.PublicKeyLookup.
func (m *UserMap) PublicKey(user types.Principal) (*rsa.PublicKey, bool) {
	p, ok := m.pub[user]
	return p, ok
}

// Set registers a public key for user, overwriting any previous entry.
func (m *UserMap) Set(user types.Principal, pub *rsa.PublicKey) {
	m.pub[user] = pub
}

// Replace swaps the entire contents of m for entries.
func (m *UserMap) Replace(entries map[types.Principal]*rsa.PublicKey) {
	m.pub = entries
}

// Snapshot returns a copy of the current entries.
func (m *UserMap) Snapshot() map[types.Principal]*rsa.PublicKey {
	out := make(map[types.Principal]*rsa.PublicKey, len(m.pub))
	for p, k := range m.pub {
		out[p] = k
	}
	return out
}

// GroupMap is the in-memory form of /.groups: each group's member list,
// rebuilt alongside UserMap on every pre() refresh.
type GroupMap struct {
	members map[types.Principal][]types.Principal
}

// NewGroupMap returns an empty GroupMap.
func NewGroupMap() *GroupMap {
	return &GroupMap{members: make(map[types.Principal][]types.Principal)}
}

// Members implements itable.MemberLookup.
func (m *GroupMap) Members(group types.Principal) ([]types.Principal, bool) {
	members, ok := m.members[group]
	return members, ok
}

// Set registers group's member list, overwriting any previous entry.
func (m *GroupMap) Set(group types.Principal, members []types.Principal) {
	m.members[group] = append([]types.Principal(nil), members...)
}

// Replace swaps the entire contents of m for entries.
func (m *GroupMap) Replace(entries map[types.Principal][]types.Principal) {
	m.members = entries
}

// Snapshot returns a copy of the current entries.
func (m *GroupMap) Snapshot() map[types.Principal][]types.Principal {
	out := make(map[types.Principal][]types.Principal, len(m.members))
	for g, members := range m.members {
		out[g] = append([]types.Principal(nil), members...)
	}
	return out
}

// usersFileEntry is the wire shape of one /.users record.
type usersFileEntry struct {
	User      string `json:"user"`
	PublicKey string `json:"public_key_pem"`
}

// EncodeUserMap serializes m as the plain-file contents written to /.users
// by Init (spec.md §6's "serialized {User -> PEM public key bytes}").
func EncodeUserMap(m map[types.Principal]*rsa.PublicKey) ([]byte, error) {
	entries := make([]usersFileEntry, 0, len(m))
	for p, pub := range m {
		pemBytes, err := crypto.EncodePublicPEM(pub)
		if err != nil {
			return nil, fmt.Errorf("client: encode usermap: %w", err)
		}
		entries = append(entries, usersFileEntry{User: p.String(), PublicKey: string(pemBytes)})
	}
	return json.Marshal(entries)
}

// DecodeUserMap parses the contents of /.users.
func DecodeUserMap(blob []byte) (map[types.Principal]*rsa.PublicKey, error) {
	var entries []usersFileEntry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return nil, fmt.Errorf("client: decode usermap: %w", err)
	}
	out := make(map[types.Principal]*rsa.PublicKey, len(entries))
	for _, e := range entries {
		p, err := types.ParsePrincipal(e.User)
		if err != nil {
			return nil, fmt.Errorf("client: decode usermap: %w", err)
		}
		pub, err := crypto.DecodePublicPEM([]byte(e.PublicKey))
		if err != nil {
			return nil, fmt.Errorf("client: decode usermap: %w", err)
		}
		out[p] = pub
	}
	return out, nil
}

// groupsFileEntry is the wire shape of one /.groups record.
type groupsFileEntry struct {
	Group   string   `json:"group"`
	Members []string `json:"members"`
}

// EncodeGroupMap serializes m as the plain-file contents written to
// /.groups by Init (spec.md §6's "serialized {Group -> [User, ...]}").
func EncodeGroupMap(m map[types.Principal][]types.Principal) ([]byte, error) {
	entries := make([]groupsFileEntry, 0, len(m))
	for g, members := range m {
		names := make([]string, len(members))
		for i, u := range members {
			names[i] = u.String()
		}
		entries = append(entries, groupsFileEntry{Group: g.String(), Members: names})
	}
	return json.Marshal(entries)
}

// DecodeGroupMap parses the contents of /.groups.
func DecodeGroupMap(blob []byte) (map[types.Principal][]types.Principal, error) {
	var entries []groupsFileEntry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return nil, fmt.Errorf("client: decode groupmap: %w", err)
	}
	out := make(map[types.Principal][]types.Principal, len(entries))
	for _, e := range entries {
		g, err := types.ParsePrincipal(e.Group)
		if err != nil {
			return nil, fmt.Errorf("client: decode groupmap: %w", err)
		}
		members := make([]types.Principal, len(e.Members))
		for i, name := range e.Members {
			u, err := types.ParsePrincipal(name)
			if err != nil {
				return nil, fmt.Errorf("client: decode groupmap: %w", err)
			}
			members[i] = u
		}
		out[g] = members
	}
	return out, nil
}
