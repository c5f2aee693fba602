package inode

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/opaquefs/securefs/crypto"
)

// Kind distinguishes directory inodes from file inodes.
type Kind uint8

const (
	KindDir  Kind = 0
	KindFile Kind = 1
)

// formatTagInode is the one-byte format tag at the head of every encoded
// inode blob (spec.md §9 — "add a one-byte format tag ... to permit future
// format evolution").
const formatTagInode byte = 1

// Inode is the metadata record spec.md §3 describes. Inodes are never
// encrypted (invariant I1): only the blocks they reference may be.
type Inode struct {
	Kind       Kind
	Size       uint64
	Encrypted  bool
	Executable bool
	Ctime      int64
	Mtime      int64
	Blocks     []crypto.Hash
}

// Bytes canonically encodes n. The encoding is a fixed field layout (no
// padding, no map iteration), so two Inode values with identical field
// values always produce byte-identical output and therefore hash
// identically (P4).
func (n Inode) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteByte(formatTagInode)
	buf.WriteByte(byte(n.Kind))

	var flags byte
	if n.Encrypted {
		flags |= 0x01
	}
	if n.Executable {
		flags |= 0x02
	}
	buf.WriteByte(flags)

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], n.Size)
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(n.Ctime))
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(n.Mtime))
	buf.Write(u64[:])

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(n.Blocks)))
	buf.Write(u32[:])
	for _, h := range n.Blocks {
		buf.Write(h[:])
	}
	return buf.Bytes()
}

// Decode parses a blob produced by Bytes.
func Decode(blob []byte) (Inode, error) {
	if len(blob) < 1 || blob[0] != formatTagInode {
		if len(blob) >= 1 {
			return Inode{}, fmt.Errorf("%w: tag %d", ErrUnsupportedFormat, blob[0])
		}
		return Inode{}, ErrCorruptInode
	}
	r := &reader{buf: blob, off: 1}

	kindByte, err := r.readByte()
	if err != nil {
		return Inode{}, fmt.Errorf("%w: kind: %v", ErrCorruptInode, err)
	}
	flags, err := r.readByte()
	if err != nil {
		return Inode{}, fmt.Errorf("%w: flags: %v", ErrCorruptInode, err)
	}
	size, err := r.readU64()
	if err != nil {
		return Inode{}, fmt.Errorf("%w: size: %v", ErrCorruptInode, err)
	}
	ctime, err := r.readU64()
	if err != nil {
		return Inode{}, fmt.Errorf("%w: ctime: %v", ErrCorruptInode, err)
	}
	mtime, err := r.readU64()
	if err != nil {
		return Inode{}, fmt.Errorf("%w: mtime: %v", ErrCorruptInode, err)
	}
	count, err := r.readU32()
	if err != nil {
		return Inode{}, fmt.Errorf("%w: block count: %v", ErrCorruptInode, err)
	}
	blocks := make([]crypto.Hash, 0, count)
	for i := uint32(0); i < count; i++ {
		h, err := r.readHash()
		if err != nil {
			return Inode{}, fmt.Errorf("%w: block %d: %v", ErrCorruptInode, i, err)
		}
		blocks = append(blocks, h)
	}
	if !r.atEnd() {
		return Inode{}, fmt.Errorf("%w: trailing bytes", ErrCorruptInode)
	}

	return Inode{
		Kind:       Kind(kindByte),
		Size:       size,
		Encrypted:  flags&0x01 != 0,
		Executable: flags&0x02 != 0,
		Ctime:      int64(ctime),
		Mtime:      int64(mtime),
		Blocks:     blocks,
	}, nil
}

// reader is a small cursor over a byte slice shared by inode.go and
// directory.go's decoders, in the spirit of the teacher's
// consensus/compactsize.go read-with-offset helpers.
type reader struct {
	buf []byte
	off int
}

func (r *reader) atEnd() bool { return r.off == len(r.buf) }

func (r *reader) readByte() (byte, error) {
	if r.off+1 > len(r.buf) {
		return 0, fmt.Errorf("truncated")
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) readU32() (uint32, error) {
	if r.off+4 > len(r.buf) {
		return 0, fmt.Errorf("truncated")
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v, nil
}

func (r *reader) readU64() (uint64, error) {
	if r.off+8 > len(r.buf) {
		return 0, fmt.Errorf("truncated")
	}
	v := binary.BigEndian.Uint64(r.buf[r.off : r.off+8])
	r.off += 8
	return v, nil
}

func (r *reader) readHash() (crypto.Hash, error) {
	if r.off+crypto.HashSize > len(r.buf) {
		return crypto.Hash{}, fmt.Errorf("truncated")
	}
	var h crypto.Hash
	copy(h[:], r.buf[r.off:r.off+crypto.HashSize])
	r.off += crypto.HashSize
	return h, nil
}

func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, fmt.Errorf("truncated")
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}
