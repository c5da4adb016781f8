// Package part defines what a single partition of any partition table looks
// like to the disk package.
package part

import (
	"io"

	"github.com/diskfs/go-efiimg/backend"
)

// Partition reference to an individual partition on disk
type Partition interface {
	// GetIndex returns the 1-based slot of the partition in its table
	GetIndex() int
	// GetSize returns the size of the partition in bytes
	GetSize() int64
	// GetStart returns the byte offset of the partition from the start of the disk
	GetStart() int64
	ReadContents(backend.File, io.Writer) (int64, error)
	WriteContents(backend.WritableFile, io.Reader) (uint64, error)
	UUID() string
}
