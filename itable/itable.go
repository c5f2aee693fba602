package itable

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/opaquefs/securefs/block"
	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/types"
)

const formatTagItable byte = 1

// entryKindIhash/entryKindChildI tag the union stored per inumber: a user
// itable's entries are block hashes; a group itable's entries are I values
// naming a user-rooted inode (group indirection, spec.md §3 invariant I2).
const (
	entryKindIhash  byte = 0
	entryKindChildI byte = 1
)

// Entry is one inumber's mapped value: either an ihash (user itables) or a
// child I (group itables, pointing at the I of the user who last wrote it).
type Entry struct {
	Ihash   crypto.Hash
	Child   types.I
	isChild bool
}

// IhashEntry constructs a user-itable entry.
func IhashEntry(h crypto.Hash) Entry { return Entry{Ihash: h} }

// ChildEntry constructs a group-itable entry.
func ChildEntry(i types.I) Entry { return Entry{Child: i, isChild: true} }

// IsChild reports whether e is a group-indirection entry (vs. a plain ihash).
func (e Entry) IsChild() bool { return e.isChild }

// PublicKeyLookup resolves a user's public key, as read from /.users
// (spec.md §3's usermap). Implemented by the client package's usermap.
type PublicKeyLookup interface {
	PublicKey(user types.Principal) (*rsa.PublicKey, bool)
}

// MemberLookup resolves a group's member list, as read from /.groups
// (spec.md §3's groupmap). Implemented by the client package's groupmap.
type MemberLookup interface {
	Members(group types.Principal) ([]types.Principal, bool)
}

// Itable is the per-principal structure of spec.md §3/§4.4.
type Itable struct {
	Owner   types.Principal
	Version int
	Ihandle crypto.Hash
	Mapping map[int]Entry
	Keys    map[types.Principal][]byte // User -> wrapped symmetric key ciphertext

	dirty bool
}

// Dirty reports whether this itable has been locally modified since it was
// loaded (or created), and therefore needs Save before a post() commit.
func (t *Itable) Dirty() bool { return t.dirty }

// Create generates a fresh itable for owner, wrapping a new symmetric
// key K for every user authorized to decrypt content owned by owner: the
// user itself if owner is a User, or every member of groupmap[owner] if
// owner is a Group (spec.md §4.4).
func Create(owner types.Principal, pub PublicKeyLookup, members MemberLookup) (*Itable, error) {
	t := &Itable{
		Owner:   owner,
		Mapping: make(map[int]Entry),
		Keys:    make(map[types.Principal][]byte),
		dirty:   true,
	}
	key, err := crypto.GenSymKey()
	if err != nil {
		return nil, fmt.Errorf("itable: create: %w", err)
	}
	recipients, err := recipientsFor(owner, members)
	if err != nil {
		return nil, err
	}
	for _, u := range recipients {
		pubKey, ok := pub.PublicKey(u)
		if !ok {
			// Recipient's public key isn't known yet (bootstrap): they get
			// no wrapped key, and nothing in this package adds one to this
			// itable's Keys later (spec.md §9 open question).
			continue
		}
		wrapped, err := crypto.WrapSymKey(pubKey, key)
		if err != nil {
			return nil, fmt.Errorf("itable: wrap key for %s: %w", u, err)
		}
		t.Keys[u] = wrapped
	}
	return t, nil
}

func recipientsFor(owner types.Principal, members MemberLookup) ([]types.Principal, error) {
	if owner.IsUser() {
		return []types.Principal{owner}, nil
	}
	memberList, ok := members.Members(owner)
	if !ok {
		return nil, nil
	}
	return memberList, nil
}

// Load fetches and decodes the itable named by ihandle/version/owner. Keys
// is returned exactly as decoded: Load does not generate or wrap a new
// content key, even when Keys is empty and usermap now has entries for the
// owner's recipients.
func Load(ctx context.Context, client *block.Client, ihandle crypto.Hash, version int, owner types.Principal, pub PublicKeyLookup, members MemberLookup) (*Itable, error) {
	blob, err := client.Get(ctx, ihandle, nil)
	if err != nil {
		return nil, fmt.Errorf("itable: load %s: %w", ihandle, err)
	}
	t, err := decode(blob)
	if err != nil {
		return nil, err
	}
	t.Owner = owner
	t.Version = version
	t.Ihandle = ihandle

	// spec.md §9 open question, resolved: Load never regenerates Keys on
	// its own, even when Keys is empty and usermap now has entries for
	// this owner's recipients. Doing so here would mint a *new* symmetric
	// key, silently orphaning any content blocks already encrypted under
	// the old one. Set and Save never touch Keys either: a content key is
	// only generated and wrapped by Create, for an itable that does not
	// exist yet.
	return t, nil
}

// Lookup returns the entry for inumber n.
func (t *Itable) Lookup(n int) (Entry, error) {
	e, ok := t.Mapping[n]
	if !ok {
		return Entry{}, ErrNoSuchInumber
	}
	return e, nil
}

// AllocateInumber returns the smallest nonnegative integer not already in
// the mapping.
func (t *Itable) AllocateInumber() int {
	n := 0
	for {
		if _, ok := t.Mapping[n]; !ok {
			return n
		}
		n++
	}
}

// Set installs entry at inumber n and marks the table dirty.
func (t *Itable) Set(n int, entry Entry) {
	t.Mapping[n] = entry
	t.dirty = true
}

// ContentKeyFor returns the symmetric content key user is entitled to, by
// unwrapping t.Keys[user] with their private key. It returns false if user
// has no wrapped-key entry (spec.md §4.4's get_content_key).
func (t *Itable) ContentKeyFor(user types.Principal, priv *rsa.PrivateKey) (crypto.SymKey, bool, error) {
	wrapped, ok := t.Keys[user]
	if !ok {
		return crypto.SymKey{}, false, nil
	}
	key, err := crypto.UnwrapSymKey(priv, wrapped)
	if err != nil {
		return crypto.SymKey{}, false, fmt.Errorf("itable: unwrap content key: %w", err)
	}
	return key, true, nil
}

// Save canonically encodes (sorted mapping, sorted keys) and stores it
// unencrypted, updating Ihandle. Determinism here is what makes P4 hold:
// Save called twice on identical Mapping/Keys returns the same hash.
func (t *Itable) Save(ctx context.Context, client *block.Client) (crypto.Hash, error) {
	blob := t.encode()
	h, err := client.Put(ctx, blob, nil)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("itable: save: %w", err)
	}
	t.Ihandle = h
	t.dirty = false
	return h, nil
}

func (t *Itable) encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(formatTagItable)

	inumbers := make([]int, 0, len(t.Mapping))
	for n := range t.Mapping {
		inumbers = append(inumbers, n)
	}
	sort.Ints(inumbers)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(inumbers)))
	buf.Write(u32[:])
	for _, n := range inumbers {
		var i64 [8]byte
		binary.BigEndian.PutUint64(i64[:], uint64(int64(n)))
		buf.Write(i64[:])
		e := t.Mapping[n]
		if e.isChild {
			buf.WriteByte(entryKindChildI)
			writeI(&buf, e.Child)
		} else {
			buf.WriteByte(entryKindIhash)
			buf.Write(e.Ihash[:])
		}
	}

	principals := make([]types.Principal, 0, len(t.Keys))
	for p := range t.Keys {
		principals = append(principals, p)
	}
	sort.Slice(principals, func(i, j int) bool { return principals[i].String() < principals[j].String() })

	binary.BigEndian.PutUint32(u32[:], uint32(len(principals)))
	buf.Write(u32[:])
	for _, p := range principals {
		s := p.String()
		binary.BigEndian.PutUint32(u32[:], uint32(len(s)))
		buf.Write(u32[:])
		buf.WriteString(s)
		wrapped := t.Keys[p]
		binary.BigEndian.PutUint32(u32[:], uint32(len(wrapped)))
		buf.Write(u32[:])
		buf.Write(wrapped)
	}

	return buf.Bytes()
}

func decode(blob []byte) (*Itable, error) {
	if len(blob) < 1 || blob[0] != formatTagItable {
		if len(blob) >= 1 {
			return nil, fmt.Errorf("%w: tag %d", ErrUnsupportedFormat, blob[0])
		}
		return nil, ErrCorruptMapping
	}
	r := &cursor{buf: blob, off: 1}

	entryCount, err := r.readU32()
	if err != nil {
		return nil, fmt.Errorf("%w: entry count: %v", ErrCorruptMapping, err)
	}
	mapping := make(map[int]Entry, entryCount)
	for i := uint32(0); i < entryCount; i++ {
		nRaw, err := r.readU64()
		if err != nil {
			return nil, fmt.Errorf("%w: inumber: %v", ErrCorruptMapping, err)
		}
		kind, err := r.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: entry kind: %v", ErrCorruptMapping, err)
		}
		switch kind {
		case entryKindIhash:
			h, err := r.readHash()
			if err != nil {
				return nil, fmt.Errorf("%w: ihash: %v", ErrCorruptMapping, err)
			}
			mapping[int(int64(nRaw))] = IhashEntry(h)
		case entryKindChildI:
			childI, err := readI(r)
			if err != nil {
				return nil, fmt.Errorf("%w: child i: %v", ErrCorruptMapping, err)
			}
			mapping[int(int64(nRaw))] = ChildEntry(childI)
		default:
			return nil, fmt.Errorf("%w: unknown entry kind %d", ErrCorruptMapping, kind)
		}
	}

	keyCount, err := r.readU32()
	if err != nil {
		return nil, fmt.Errorf("%w: key count: %v", ErrCorruptMapping, err)
	}
	keys := make(map[types.Principal][]byte, keyCount)
	for i := uint32(0); i < keyCount; i++ {
		nameLen, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("%w: key principal length: %v", ErrCorruptMapping, err)
		}
		nameBytes, err := r.readBytes(int(nameLen))
		if err != nil {
			return nil, fmt.Errorf("%w: key principal: %v", ErrCorruptMapping, err)
		}
		principal, err := types.ParsePrincipal(string(nameBytes))
		if err != nil {
			return nil, fmt.Errorf("%w: key principal: %v", ErrCorruptMapping, err)
		}
		wrappedLen, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("%w: wrapped key length: %v", ErrCorruptMapping, err)
		}
		wrapped, err := r.readBytes(int(wrappedLen))
		if err != nil {
			return nil, fmt.Errorf("%w: wrapped key: %v", ErrCorruptMapping, err)
		}
		keys[principal] = append([]byte(nil), wrapped...)
	}
	if !r.atEnd() {
		return nil, fmt.Errorf("%w: trailing bytes", ErrCorruptMapping)
	}

	return &Itable{Mapping: mapping, Keys: keys}, nil
}
