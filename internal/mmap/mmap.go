// Package mmap maps read-only index files into memory.
package mmap

import (
	"errors"
	"io"
	"os"
)

// File is a read-only view of a file's contents. On unix it is backed by a
// shared mapping; elsewhere the contents are read into memory.
type File struct {
	Data   []byte
	f      *os.File
	mapped bool
}

// Open maps the file at path. Empty files yield a File with nil Data.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := fi.Size()
	if size == 0 {
		return &File{f: f}, nil
	}
	if size < 0 || int64(int(size)) != size {
		f.Close()
		return nil, errors.New("mmap: file size out of range")
	}

	data, mapped, err := mmap(f, int(size))
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{Data: data, f: f, mapped: mapped}, nil
}

// Len returns the mapped size in bytes.
func (m *File) Len() int {
	return len(m.Data)
}

// ReadAt implements io.ReaderAt over the mapping.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.Data)) {
		return 0, io.EOF
	}
	n := copy(p, m.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the memory and closes the underlying file. Slices previously
// taken from Data must not be used afterwards.
func (m *File) Close() error {
	if m == nil {
		return nil
	}
	var err error
	if m.Data != nil && m.mapped {
		err = munmap(m.Data)
	}
	m.Data = nil
	if m.f != nil {
		if closeErr := m.f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		m.f = nil
	}
	return err
}
