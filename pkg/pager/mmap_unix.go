//go:build unix || darwin || linux || freebsd || openbsd || netbsd

// pkg/pager/mmap_unix.go
package pager

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// openMappedFile opens or creates the heap file and maps it into
// memory. If the file is smaller than minSize, it is extended to
// exactly minSize first (a non-positive minSize means one page), so the
// header/control page always exists.
func openMappedFile(path string, minSize int64) (*mappedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := stat.Size()
	if minSize <= 0 {
		minSize = pageSize
	}
	if size < minSize {
		if err := f.Truncate(minSize); err != nil {
			f.Close()
			return nil, err
		}
		size = minSize
	}

	if size == 0 {
		f.Close()
		return nil, errors.New("pager: cannot map empty file")
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &mappedFile{handle: f, data: data, size: size}, nil
}

// Sync flushes the mapping to disk.
func (m *mappedFile) Sync() error {
	if len(m.data) == 0 {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Grow extends the file to exactly newSize bytes and remaps it. The
// tail beyond the previous end of file reads as zero, per ftruncate
// semantics on a sparse extension.
func (m *mappedFile) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}

	if len(m.data) > 0 {
		if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
			return err
		}
		if err := syscall.Munmap(m.data); err != nil {
			return err
		}
	}

	f := m.handle.(*os.File)
	if err := f.Truncate(newSize); err != nil {
		return err
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(newSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return err
	}

	m.data = data
	m.size = newSize
	return nil
}

// Shrink truncates the file down to exactly newSize bytes and remaps
// it. Used by recovery's pass-0 truncation when the heap file is
// longer than any page referenced by the log.
func (m *mappedFile) Shrink(newSize int64) error {
	if newSize >= m.size || newSize <= 0 {
		return nil
	}

	if len(m.data) > 0 {
		if err := unix.Msync(m.data, unix.MS_SYNC); err != nil {
			return err
		}
		if err := syscall.Munmap(m.data); err != nil {
			return err
		}
	}

	f := m.handle.(*os.File)
	if err := f.Truncate(newSize); err != nil {
		return err
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, int(newSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return err
	}

	m.data = data
	m.size = newSize
	return nil
}

// Close unmaps and closes the file.
func (m *mappedFile) Close() error {
	var firstErr error

	if m.data != nil {
		if err := syscall.Munmap(m.data); err != nil && firstErr == nil {
			firstErr = err
		}
		m.data = nil
	}

	if m.handle != nil {
		f := m.handle.(*os.File)
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		m.handle = nil
	}

	return firstErr
}
