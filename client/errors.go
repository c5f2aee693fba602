// Package client consolidates the process-wide state the original system
// keeps as package globals — keys, the VSL, itables, usermap, groupmap, and
// the server connection — into one explicit handle (spec.md §9), and
// implements the VSL engine and FS operations on top of it.
package client

import "errors"

var (
	// ErrPermissionDenied is returned when an operation's access check fails.
	ErrPermissionDenied = errors.New("client: permission denied")

	// ErrNoSuchName is returned when a directory lookup finds no entry with
	// the requested name.
	ErrNoSuchName = errors.New("client: no such name")

	// ErrNotADirectory is returned when an operation expecting a directory
	// inode is given a file inode.
	ErrNotADirectory = errors.New("client: not a directory")

	// ErrNameExists is returned by Link when the requested name is already
	// present in the parent directory.
	ErrNameExists = errors.New("client: name exists")

	// ErrForkDetected is returned by Pre/Post when the observed VSL is not
	// totally ordered, or a previously observed VS has regressed or
	// disappeared (spec.md §4.6).
	ErrForkDetected = errors.New("client: fork detected")

	// ErrBadSignature is returned by Pre when a VS's signature does not
	// verify against its claimed signer's public key.
	ErrBadSignature = errors.New("client: bad signature")

	// ErrKeyAbsent is returned when an operation needs a private key for a
	// user that was never registered with RegisterKey.
	ErrKeyAbsent = errors.New("client: key absent")

	// ErrServerUnavailable wraps transport failures surfaced from the
	// underlying block.Server.
	ErrServerUnavailable = errors.New("client: server unavailable")

	// ErrNoRoot is returned by operations that need a mounted share's root I
	// before one has been established via Init or SetRoot.
	ErrNoRoot = errors.New("client: no root set")

	// ErrIsADirectory is returned when an operation expecting a file inode
	// is given a directory inode.
	ErrIsADirectory = errors.New("client: is a directory")
)
