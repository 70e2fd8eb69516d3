// Package engine implements the in-process interposition tracer: per-function
// stub generation, atomic vector-table patching, and the lock-free ring
// buffer of fixed-size trace events that stubs publish into.
package engine

import (
	"encoding/binary"
	"sync/atomic"
)

// EntrySize is the fixed on-wire size of one ring entry, in bytes. It is a
// hard invariant: the ring addresses slots by "entries + index<<6" and the
// daemon-side peer must agree on this exact layout.
const EntrySize = 64

// stringDataLen is the inline capacity of Entry.StringData, including the
// terminating NUL. A captured string longer than this is truncated.
const stringDataLen = 24

// Entry is one 64-byte trace event record. Valid is the publication flag:
// the producer must not set it until every other field is written, and a
// consumer must not read any other field until it has observed Valid true.
// Go expresses the acquire/release pair spec.md's design notes (§9) call
// for directly with atomic.Bool.Store/Load rather than a raw memory fence.
type Entry struct {
	Valid       atomic.Bool
	LibID       LibraryID
	LVO         int16
	Sequence    uint32
	CallerTask  uintptr
	Args        [4]uint32
	Retval      uint32
	ArgCount    uint8
	StringData  [stringDataLen]byte
}

// reset clears an entry for reuse by the next producer that reserves this
// slot. Valid must already be observed false by the sole consumer before
// this is called; no atomic is needed for the remaining fields because the
// consumer's prior Valid-false observation happens-before any subsequent
// producer write (the ring's reservation mutex provides that ordering).
func (e *Entry) reset() {
	e.LibID = 0
	e.LVO = 0
	e.Sequence = 0
	e.CallerTask = 0
	e.Args = [4]uint32{}
	e.Retval = 0
	e.ArgCount = 0
	e.StringData = [stringDataLen]byte{}
}

// setString copies up to stringDataLen-1 bytes of s into StringData and
// NUL-terminates it, matching the original's 23-byte-plus-NUL bound.
func (e *Entry) setString(s string) {
	n := len(s)
	if n > stringDataLen-1 {
		n = stringDataLen - 1
	}
	copy(e.StringData[:n], s[:n])
	e.StringData[n] = 0
}

// String returns the captured string argument up to its NUL terminator.
func (e *Entry) String() string {
	for i, b := range e.StringData {
		if b == 0 {
			return string(e.StringData[:i])
		}
	}
	return string(e.StringData[:])
}

// Truncated reports whether the captured string looks like it hit the
// 23-byte inline bound (no NUL observed before the last data byte), matching
// the formatter's "append an ellipsis" heuristic in spec.md §4.7.
func (e *Entry) Truncated() bool {
	return e.StringData[stringDataLen-2] != 0
}

// MarshalBinary renders Entry into the byte-exact 64-byte wire layout named
// in spec.md §3: valid(1) libid(1) lvo(2) sequence(4) caller_task(4)
// args[4](16) retval(4) arg_count(1) padding(1) string_data(24) reserved(6).
func (e *Entry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EntrySize)
	if e.Valid.Load() {
		buf[0] = 1
	}
	buf[1] = byte(e.LibID)
	binary.BigEndian.PutUint16(buf[2:4], uint16(e.LVO))
	binary.BigEndian.PutUint32(buf[4:8], e.Sequence)
	binary.BigEndian.PutUint32(buf[8:12], uint32(e.CallerTask))
	for i, a := range e.Args {
		off := 12 + i*4
		binary.BigEndian.PutUint32(buf[off:off+4], a)
	}
	binary.BigEndian.PutUint32(buf[28:32], e.Retval)
	buf[32] = e.ArgCount
	copy(buf[34:34+stringDataLen], e.StringData[:])
	return buf, nil
}

// UnmarshalBinary parses the 64-byte wire layout produced by MarshalBinary.
func (e *Entry) UnmarshalBinary(buf []byte) error {
	if len(buf) != EntrySize {
		return errInvalidEntrySize
	}
	e.Valid.Store(buf[0] != 0)
	e.LibID = LibraryID(buf[1])
	e.LVO = int16(binary.BigEndian.Uint16(buf[2:4]))
	e.Sequence = binary.BigEndian.Uint32(buf[4:8])
	e.CallerTask = uintptr(binary.BigEndian.Uint32(buf[8:12]))
	for i := range e.Args {
		off := 12 + i*4
		e.Args[i] = binary.BigEndian.Uint32(buf[off : off+4])
	}
	e.Retval = binary.BigEndian.Uint32(buf[28:32])
	e.ArgCount = buf[32]
	copy(e.StringData[:], buf[34:34+stringDataLen])
	return nil
}
