// Package testhelper holds stubs shared by the package tests.
package testhelper

import (
	"errors"
	"io/fs"
)

type reader func(b []byte, offset int64) (int, error)
type writer func(b []byte, offset int64) (int, error)

// FileImpl implements backend.WritableFile with pluggable read and write
// functions, so tests can inject short reads, short writes and failures.
type FileImpl struct {
	Reader reader
	Writer writer
}

func (f *FileImpl) Stat() (fs.FileInfo, error) {
	return nil, nil
}

func (f *FileImpl) Read(b []byte) (int, error) {
	return f.Reader(b, 0)
}

func (f *FileImpl) Close() error {
	return nil
}

// ReadAt read at a particular offset
func (f *FileImpl) ReadAt(b []byte, offset int64) (int, error) {
	if f.Reader == nil {
		return 0, errors.New("FileImpl has no Reader")
	}
	return f.Reader(b, offset)
}

// WriteAt write at a particular offset
func (f *FileImpl) WriteAt(b []byte, offset int64) (int, error) {
	if f.Writer == nil {
		return 0, errors.New("FileImpl has no Writer")
	}
	return f.Writer(b, offset)
}

// Seek is not supported
//
//nolint:revive // to implement the interface
func (f *FileImpl) Seek(offset int64, whence int) (int64, error) {
	return 0, errors.New("FileImpl does not implement Seek()")
}
