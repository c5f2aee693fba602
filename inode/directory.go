package inode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/opaquefs/securefs/types"
)

// formatTagDirectory is the one-byte format tag at the head of every
// encoded directory payload blob (spec.md §9).
const formatTagDirectory byte = 1

// DirEntry is one (name, child) pair in a directory payload (spec.md §3).
// Names are unique within one directory.
type DirEntry struct {
	Name  string
	Child types.I
}

// EncodeDirectory canonically encodes a directory's entry list as
// length-prefixed (len(name), name, encoded(I)) tuples, per spec.md §4.3.
func EncodeDirectory(entries []DirEntry) []byte {
	var buf bytes.Buffer
	buf.WriteByte(formatTagDirectory)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(entries)))
	buf.Write(u32[:])

	for _, e := range entries {
		nameBytes := []byte(e.Name)
		binary.BigEndian.PutUint32(u32[:], uint32(len(nameBytes)))
		buf.Write(u32[:])
		buf.Write(nameBytes)
		writeI(&buf, e.Child)
	}
	return buf.Bytes()
}

// DecodeDirectory parses a blob produced by EncodeDirectory.
func DecodeDirectory(blob []byte) ([]DirEntry, error) {
	if len(blob) < 1 || blob[0] != formatTagDirectory {
		if len(blob) >= 1 {
			return nil, fmt.Errorf("%w: tag %d", ErrUnsupportedFormat, blob[0])
		}
		return nil, ErrCorruptDirectory
	}
	r := &reader{buf: blob, off: 1}

	count, err := r.readU32()
	if err != nil {
		return nil, fmt.Errorf("%w: entry count: %v", ErrCorruptDirectory, err)
	}
	entries := make([]DirEntry, 0, count)
	seen := make(map[string]struct{}, count)
	for idx := uint32(0); idx < count; idx++ {
		nameLen, err := r.readU32()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d name length: %v", ErrCorruptDirectory, idx, err)
		}
		nameBytes, err := r.readBytes(int(nameLen))
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d name: %v", ErrCorruptDirectory, idx, err)
		}
		name := string(nameBytes)
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrCorruptDirectory, name)
		}
		seen[name] = struct{}{}

		child, err := readI(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d child: %v", ErrCorruptDirectory, idx, err)
		}
		entries = append(entries, DirEntry{Name: name, Child: child})
	}
	if !r.atEnd() {
		return nil, fmt.Errorf("%w: trailing bytes", ErrCorruptDirectory)
	}
	return entries, nil
}

// writeI encodes an I as (principal tag byte, principal id as int64 BE,
// allocated flag byte, inumber as int64 BE).
func writeI(buf *bytes.Buffer, i types.I) {
	buf.WriteByte(byte(i.P.Tag))
	var i64 [8]byte
	binary.BigEndian.PutUint64(i64[:], uint64(int64(i.P.ID)))
	buf.Write(i64[:])
	if i.Allocated() {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	binary.BigEndian.PutUint64(i64[:], uint64(int64(i.N)))
	buf.Write(i64[:])
}

func readI(r *reader) (types.I, error) {
	tag, err := r.readByte()
	if err != nil {
		return types.I{}, err
	}
	idRaw, err := r.readU64()
	if err != nil {
		return types.I{}, err
	}
	id := int(int64(idRaw))
	var principal types.Principal
	switch tag {
	case byte(types.TagUser):
		principal = types.User(id)
	case byte(types.TagGroup):
		principal = types.Group(id)
	default:
		return types.I{}, fmt.Errorf("unknown principal tag %d", tag)
	}
	allocFlag, err := r.readByte()
	if err != nil {
		return types.I{}, err
	}
	nRaw, err := r.readU64()
	if err != nil {
		return types.I{}, err
	}
	i := types.NewI(principal)
	if allocFlag != 0 {
		i = i.WithInumber(int(int64(nRaw)))
	}
	return i, nil
}

// FindEntry returns the entry named name, if present.
func FindEntry(entries []DirEntry, name string) (DirEntry, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e, true
		}
	}
	return DirEntry{}, false
}

// UpsertEntry returns a copy of entries with name set to child, either
// replacing an existing entry or appending a new one. It never mutates the
// input slice.
func UpsertEntry(entries []DirEntry, name string, child types.I) []DirEntry {
	out := append([]DirEntry(nil), entries...)
	for idx, e := range out {
		if e.Name == name {
			out[idx].Child = child
			return out
		}
	}
	return append(out, DirEntry{Name: name, Child: child})
}
