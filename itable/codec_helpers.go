package itable

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/opaquefs/securefs/crypto"
	"github.com/opaquefs/securefs/types"
)

// cursor is a small read pointer over a byte slice, mirroring the
// inode package's reader and the teacher's consensus/compactsize.go
// read-with-offset helpers.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) atEnd() bool { return c.off == len(c.buf) }

func (c *cursor) readByte() (byte, error) {
	if c.off+1 > len(c.buf) {
		return 0, fmt.Errorf("truncated")
	}
	b := c.buf[c.off]
	c.off++
	return b, nil
}

func (c *cursor) readU32() (uint32, error) {
	if c.off+4 > len(c.buf) {
		return 0, fmt.Errorf("truncated")
	}
	v := binary.BigEndian.Uint32(c.buf[c.off : c.off+4])
	c.off += 4
	return v, nil
}

func (c *cursor) readU64() (uint64, error) {
	if c.off+8 > len(c.buf) {
		return 0, fmt.Errorf("truncated")
	}
	v := binary.BigEndian.Uint64(c.buf[c.off : c.off+8])
	c.off += 8
	return v, nil
}

func (c *cursor) readHash() (crypto.Hash, error) {
	if c.off+crypto.HashSize > len(c.buf) {
		return crypto.Hash{}, fmt.Errorf("truncated")
	}
	var h crypto.Hash
	copy(h[:], c.buf[c.off:c.off+crypto.HashSize])
	c.off += crypto.HashSize
	return h, nil
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	if n < 0 || c.off+n > len(c.buf) {
		return nil, fmt.Errorf("truncated")
	}
	out := c.buf[c.off : c.off+n]
	c.off += n
	return out, nil
}

// writeI/readI encode types.I the same way inode.DirEntry's child is
// encoded: (principal tag, principal id, allocated flag, inumber).
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

func readI(c *cursor) (types.I, error) {
	tag, err := c.readByte()
	if err != nil {
		return types.I{}, err
	}
	idRaw, err := c.readU64()
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
	allocFlag, err := c.readByte()
	if err != nil {
		return types.I{}, err
	}
	nRaw, err := c.readU64()
	if err != nil {
		return types.I{}, err
	}
	i := types.NewI(principal)
	if allocFlag != 0 {
		i = i.WithInumber(int(int64(nRaw)))
	}
	return i, nil
}
