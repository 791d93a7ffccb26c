package session

import (
	"fmt"

	"github.com/ardnew/softboot/pkg"
)

// Session owns the receive buffer for one image upload.
type Session struct {
	capacity uint32
	buf      []byte
	active   bool
}

// New creates a session that refuses uploads larger than capacity bytes.
// The capacity models the memory the device can commit to one image.
func New(capacity uint32) *Session {
	return &Session{capacity: capacity}
}

// Begin allocates a zeroed receive buffer of total bytes. Any buffer
// from an earlier unfinished upload is discarded first: the most recent
// size announcement always wins. A request over capacity fails with
// [pkg.ErrAllocationFailed] and leaves the session empty, ready for a
// smaller retry.
func (s *Session) Begin(total uint32) error {
	s.buf = nil
	s.active = false

	if total > s.capacity {
		return fmt.Errorf("%w: %d bytes requested, %d available",
			pkg.ErrAllocationFailed, total, s.capacity)
	}

	s.buf = make([]byte, total)
	s.active = true
	pkg.LogDebug(pkg.ComponentSession, "receive buffer allocated", "size", total)
	return nil
}

// WriteChunk copies data into the receive buffer at offset. A chunk
// reaching past the end of the buffer fails with [pkg.ErrOutOfBounds]
// and leaves the buffer untouched.
func (s *Session) WriteChunk(offset uint32, data []byte) error {
	if !s.active {
		return pkg.ErrNoActiveSession
	}

	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(s.buf)) {
		return fmt.Errorf("%w: chunk [%d, %d) outside %d-byte buffer",
			pkg.ErrOutOfBounds, offset, end, len(s.buf))
	}

	copy(s.buf[offset:], data)
	return nil
}

// Finish ends the upload and transfers buffer ownership to the caller.
// The session drops its reference, so the returned image has a single
// owner by construction.
func (s *Session) Finish() ([]byte, error) {
	if !s.active {
		return nil, pkg.ErrNoActiveSession
	}

	buf := s.buf
	s.buf = nil
	s.active = false
	pkg.LogDebug(pkg.ComponentSession, "upload complete", "size", len(buf))
	return buf, nil
}

// Reset discards any active upload.
func (s *Session) Reset() {
	s.buf = nil
	s.active = false
}

// Active reports whether an upload is in progress.
func (s *Session) Active() bool {
	return s.active
}

// Size returns the receive buffer size, or 0 when no upload is active.
func (s *Session) Size() uint32 {
	return uint32(len(s.buf))
}
