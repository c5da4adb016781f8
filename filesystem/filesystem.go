// Package filesystem provides interfaces and constants required for filesystem implementations.
// All interesting implementations are in subpackages, e.g. github.com/diskfs/go-efiimg/filesystem/fat32
package filesystem

import (
	"errors"
	"os"
	"time"
)

var (
	ErrNotSupported       = errors.New("method not supported by this filesystem")
	ErrReadonlyFilesystem = errors.New("read-only filesystem")
)

// FileSystem is a reference to a single filesystem on a disk
type FileSystem interface {
	// Type return the type of filesystem
	Type() Type
	// Mkdir make a directory
	Mkdir(pathname string) error
	// ReadDir read the contents of a directory
	ReadDir(pathname string) ([]os.FileInfo, error)
	// OpenFile open a handle to read or write to a file
	OpenFile(pathname string, flag int) (File, error)
	// Chtimes changes the creation, access and modification times of the named file
	Chtimes(pathname string, ctime, atime, mtime time.Time) error
	// Label get the label for the filesystem, or "" if none
	Label() string
}

// Type represents the type of disk this is
type Type int

const (
	// TypeFat32 is a FAT12, FAT16 or FAT32 filesystem
	TypeFat32 Type = iota
)
