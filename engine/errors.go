package engine

import "errors"

var (
	// errInvalidEntrySize is returned by Entry.UnmarshalBinary when the
	// supplied buffer is not exactly EntrySize bytes.
	errInvalidEntrySize = errors.New("engine: entry buffer must be exactly 64 bytes")

	// ErrBadMagic is returned by Lookup when the named region does not carry
	// the expected magic value, guarding against accidental name collisions.
	ErrBadMagic = errors.New("engine: control region magic mismatch")

	// ErrNotRegistered is returned by Lookup when no region is published
	// under the requested name.
	ErrNotRegistered = errors.New("engine: no control region registered under that name")

	// ErrAlreadyRegistered is returned by Register when a region is already
	// published under the requested name.
	ErrAlreadyRegistered = errors.New("engine: a control region is already registered under that name")

	// ErrLibraryNotFound is a non-fatal error: the installer skips the
	// library and continues with the next one (spec.md §7).
	ErrLibraryNotFound = errors.New("engine: target library not present")

	// ErrRingOverflow is surfaced internally when a slot reservation
	// collides with the read position; producers never see it directly —
	// it only drives the overflow counter.
	ErrRingOverflow = errors.New("engine: ring buffer overflow")

	// ErrVersionTooLow is returned by accessors to version-2-only fields
	// (the target-task filter) when the region predates that field.
	ErrVersionTooLow = errors.New("engine: control region version does not support this field")
)
