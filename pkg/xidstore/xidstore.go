// Package xidstore implements the persistent transaction status file:
// an 8-byte counter followed by one status byte per XID.
package xidstore

import (
	"encoding/binary"
	"errors"
	"os"
	"sync"
)

// Status is a transaction's recorded state in the file.
type Status byte

const (
	Active    Status = 0
	Committed Status = 1
	Aborted   Status = 2
)

// SuperXID is always committed, never active, and never aborted.
const SuperXID uint64 = 0

const counterLen = 8

// ErrSizeMismatch is returned by Open when the file size does not
// match 8 + xidCounter, which spec.md §4.7 treats as a fatal integrity
// error — the store refuses to open rather than guess.
var ErrSizeMismatch = errors.New("xidstore: file size does not match xid counter")

// Store is the XID status file.
type Store struct {
	mu      sync.Mutex
	f       *os.File
	counter uint64
}

// Open opens (creating if absent) the XID file at path.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &Store{f: f}

	if stat.Size() == 0 {
		if err := s.writeCounter(0); err != nil {
			f.Close()
			return nil, err
		}
		return s, nil
	}

	if stat.Size() < counterLen {
		f.Close()
		return nil, ErrSizeMismatch
	}

	hdr := make([]byte, counterLen)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		f.Close()
		return nil, err
	}
	s.counter = binary.LittleEndian.Uint64(hdr)

	if stat.Size() != int64(counterLen)+int64(s.counter) {
		f.Close()
		return nil, ErrSizeMismatch
	}

	return s, nil
}

func (s *Store) writeCounter(c uint64) error {
	var hdr [counterLen]byte
	binary.LittleEndian.PutUint64(hdr[:], c)
	if _, err := s.f.WriteAt(hdr[:], 0); err != nil {
		return err
	}
	return s.f.Sync()
}

func statusOffset(xid uint64) int64 {
	return int64(counterLen) + int64(xid-1)
}

// Begin allocates a fresh, 1-based XID with status Active, durably.
func (s *Store) Begin() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	xid := s.counter + 1
	if _, err := s.f.WriteAt([]byte{byte(Active)}, statusOffset(xid)); err != nil {
		return 0, err
	}
	s.counter = xid
	if err := s.writeCounter(s.counter); err != nil {
		return 0, err
	}
	return xid, nil
}

// Commit marks xid committed.
func (s *Store) Commit(xid uint64) error {
	return s.setStatus(xid, Committed)
}

// Abort marks xid aborted.
func (s *Store) Abort(xid uint64) error {
	return s.setStatus(xid, Aborted)
}

func (s *Store) setStatus(xid uint64, status Status) error {
	if xid == SuperXID {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.f.WriteAt([]byte{byte(status)}, statusOffset(xid)); err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *Store) statusOf(xid uint64) (Status, error) {
	if xid == SuperXID {
		return Committed, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var b [1]byte
	if _, err := s.f.ReadAt(b[:], statusOffset(xid)); err != nil {
		return 0, err
	}
	return Status(b[0]), nil
}

// IsActive reports whether xid is currently active.
func (s *Store) IsActive(xid uint64) (bool, error) {
	if xid == SuperXID {
		return false, nil
	}
	st, err := s.statusOf(xid)
	return st == Active, err
}

// IsCommitted reports whether xid has committed.
func (s *Store) IsCommitted(xid uint64) (bool, error) {
	if xid == SuperXID {
		return true, nil
	}
	st, err := s.statusOf(xid)
	return st == Committed, err
}

// IsAborted reports whether xid has aborted.
func (s *Store) IsAborted(xid uint64) (bool, error) {
	if xid == SuperXID {
		return false, nil
	}
	st, err := s.statusOf(xid)
	return st == Aborted, err
}

// Counter returns the number of XIDs ever allocated.
func (s *Store) Counter() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// Close closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
