// Package inode implements the canonical, deterministic encoding of an
// Inode record and of a directory's entry-list payload (spec.md §4.3).
package inode

import "errors"

var (
	// ErrCorruptInode is returned when an inode blob fails to decode.
	ErrCorruptInode = errors.New("inode: corrupt inode")

	// ErrCorruptDirectory is returned when a directory payload blob fails
	// to decode.
	ErrCorruptDirectory = errors.New("inode: corrupt directory")

	// ErrUnsupportedFormat is returned when a blob's leading format tag is
	// not one this build understands (spec.md §9).
	ErrUnsupportedFormat = errors.New("inode: unsupported format tag")
)
