// Package itable implements the per-principal inumber -> entry map and its
// wrapped per-itable symmetric content key (spec.md §3, §4.4).
package itable

import "errors"

var (
	// ErrNoSuchInumber is returned by Lookup for an inumber not present in
	// the mapping.
	ErrNoSuchInumber = errors.New("itable: no such inumber")

	// ErrCorruptMapping is returned when an itable blob decodes but its
	// entries are internally inconsistent (e.g. a user itable entry that
	// isn't a plain ihash, or vice versa).
	ErrCorruptMapping = errors.New("itable: corrupt mapping")

	// ErrUnsupportedFormat mirrors inode.ErrUnsupportedFormat for itable
	// blobs (spec.md §9's one-byte format tag).
	ErrUnsupportedFormat = errors.New("itable: unsupported format tag")
)
