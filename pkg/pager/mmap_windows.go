//go:build windows

// pkg/pager/mmap_windows.go
package pager

import (
	"errors"
	"os"
	"reflect"
	"unsafe"

	"golang.org/x/sys/windows"
)

// winMapping stores Windows-specific handles for memory mapping.
type winMapping struct {
	file       *os.File
	mapHandle  windows.Handle
	mappedSize int64
}

// openMappedFile opens or creates the heap file and maps it into
// memory, extending it to exactly minSize first (a non-positive
// minSize means one page).
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

	mapHandle, err := windows.CreateFileMapping(
		windows.Handle(f.Fd()), nil, windows.PAGE_READWRITE,
		uint32(size>>32), uint32(size&0xFFFFFFFF), nil)
	if err != nil {
		f.Close()
		return nil, err
	}

	addr, err := windows.MapViewOfFile(mapHandle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(mapHandle)
		f.Close()
		return nil, err
	}

	var data []byte
	header := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	header.Data = addr
	header.Len = int(size)
	header.Cap = int(size)

	return &mappedFile{
		handle: &winMapping{file: f, mapHandle: mapHandle, mappedSize: size},
		data:   data,
		size:   size,
	}, nil
}

// Sync flushes the mapping to disk.
func (m *mappedFile) Sync() error {
	if len(m.data) == 0 {
		return nil
	}
	return windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data)))
}

// Grow extends the file to exactly newSize bytes and remaps it.
func (m *mappedFile) Grow(newSize int64) error {
	if newSize <= m.size {
		return nil
	}
	return m.remap(newSize)
}

// Shrink truncates the file down to exactly newSize bytes and remaps it.
func (m *mappedFile) Shrink(newSize int64) error {
	if newSize >= m.size || newSize <= 0 {
		return nil
	}
	return m.remap(newSize)
}

func (m *mappedFile) remap(newSize int64) error {
	w := m.handle.(*winMapping)

	if len(m.data) > 0 {
		if err := windows.FlushViewOfFile(uintptr(unsafe.Pointer(&m.data[0])), uintptr(len(m.data))); err != nil {
			return err
		}
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil {
			return err
		}
	}
	if err := windows.CloseHandle(w.mapHandle); err != nil {
		return err
	}
	if err := w.file.Truncate(newSize); err != nil {
		return err
	}

	mapHandle, err := windows.CreateFileMapping(
		windows.Handle(w.file.Fd()), nil, windows.PAGE_READWRITE,
		uint32(newSize>>32), uint32(newSize&0xFFFFFFFF), nil)
	if err != nil {
		return err
	}
	addr, err := windows.MapViewOfFile(mapHandle, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, uintptr(newSize))
	if err != nil {
		windows.CloseHandle(mapHandle)
		return err
	}

	var data []byte
	header := (*reflect.SliceHeader)(unsafe.Pointer(&data))
	header.Data = addr
	header.Len = int(newSize)
	header.Cap = int(newSize)

	w.mapHandle = mapHandle
	w.mappedSize = newSize
	m.data = data
	m.size = newSize
	return nil
}

// Close unmaps and closes the file.
func (m *mappedFile) Close() error {
	var firstErr error

	w, ok := m.handle.(*winMapping)
	if !ok || w == nil {
		return nil
	}

	if len(m.data) > 0 {
		if err := windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&m.data[0]))); err != nil && firstErr == nil {
			firstErr = err
		}
		m.data = nil
	}
	if w.mapHandle != 0 {
		if err := windows.CloseHandle(w.mapHandle); err != nil && firstErr == nil {
			firstErr = err
		}
		w.mapHandle = 0
	}
	if w.file != nil {
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.file = nil
	}

	m.handle = nil
	return firstErr
}
