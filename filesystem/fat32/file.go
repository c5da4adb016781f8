package fat32

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/diskfs/go-efiimg/filesystem"
)

// File represents a single file in a FAT filesystem
type File struct {
	*directoryEntry
	isReadWrite bool
	isAppend    bool
	offset      int64
	parent      *Directory
	filesystem  *FileSystem
	// clusters caches the chain of the file, nil until first needed
	clusters []uint32
}

// GetClusterChain returns the full cluster chain of the File, or nil for an empty file.
func (fl *File) GetClusterChain() ([]uint32, error) {
	if fl == nil || fl.filesystem == nil {
		return nil, os.ErrClosed
	}
	return fl.chain()
}

// DiskRange is a contiguous byte range of the volume
type DiskRange struct {
	Offset uint64
	Length uint64
}

// GetDiskRanges returns the ranges of the volume occupied by the File, relative
// to the start of the volume. Adjacent clusters are merged into one range.
func (fl *File) GetDiskRanges() ([]DiskRange, error) {
	clusters, err := fl.GetClusterChain()
	if err != nil {
		return nil, err
	}

	fs := fl.filesystem
	bytesPerCluster := uint64(fs.bytesPerCluster)

	var ranges []DiskRange
	var lastCluster uint32
	for _, cluster := range clusters {
		if lastCluster != 0 && cluster == lastCluster+1 {
			ranges[len(ranges)-1].Length += bytesPerCluster
		} else {
			ranges = append(ranges, DiskRange{
				Offset: uint64(fs.clusterOffset(cluster)),
				Length: bytesPerCluster,
			})
		}
		lastCluster = cluster
	}
	return ranges, nil
}

// chain returns the cached cluster chain, loading it on first use
func (fl *File) chain() ([]uint32, error) {
	if fl.clusters != nil || fl.clusterLocation == 0 {
		return fl.clusters, nil
	}
	clusters, err := fl.filesystem.getClusterList(fl.clusterLocation)
	if err != nil {
		return nil, fmt.Errorf("unable to get list of clusters for file: %w", err)
	}
	fl.clusters = clusters
	return clusters, nil
}

// Read reads up to len(b) bytes from the File.
// It returns the number of bytes read and any error encountered.
// At end of file, Read returns 0, io.EOF
// reads from the last known offset in the file from last read or write
// and increments the offset by the number of bytes read.
// Use Seek() to set at a particular point
func (fl *File) Read(b []byte) (int, error) {
	if fl == nil || fl.filesystem == nil {
		return 0, os.ErrClosed
	}
	remaining := int64(fl.fileSize) - fl.offset
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(b)) > remaining {
		b = b[:remaining]
	}
	clusters, err := fl.chain()
	if err != nil {
		return 0, err
	}

	fs := fl.filesystem
	bytesPerCluster := int64(fs.bytesPerCluster)
	totalRead := 0
	for totalRead < len(b) {
		pos := fl.offset + int64(totalRead)
		index := int(pos / bytesPerCluster)
		if index >= len(clusters) {
			return totalRead, fmt.Errorf("file size %d exceeds its %d clusters", fl.fileSize, len(clusters))
		}
		within := pos % bytesPerCluster
		toRead := bytesPerCluster - within
		if left := int64(len(b) - totalRead); toRead > left {
			toRead = left
		}
		chunk := b[totalRead : totalRead+int(toRead)]
		if err := fs.readAt(chunk, fs.clusterOffset(clusters[index])+within); err != nil {
			fl.offset += int64(totalRead)
			return totalRead, fmt.Errorf("unable to read from file: %w", err)
		}
		totalRead += int(toRead)
	}
	fl.offset += int64(totalRead)
	var retErr error
	if fl.offset >= int64(fl.fileSize) {
		retErr = io.EOF
	}
	return totalRead, retErr
}

// Write writes len(b) bytes to the File.
// It returns the number of bytes written and an error, if any.
// returns a non-nil error when n != len(b)
// writes to the last known offset in the file from last read or write
// and increments the offset by the number of bytes read.
// Use Seek() to set at a particular point
func (fl *File) Write(p []byte) (int, error) {
	if fl == nil || fl.filesystem == nil {
		return 0, os.ErrClosed
	}
	// if the file was not opened RDWR, nothing we can do
	if !fl.isReadWrite {
		return 0, filesystem.ErrReadonlyFilesystem
	}
	if len(p) == 0 {
		return 0, nil
	}
	if fl.isAppend {
		fl.offset = int64(fl.fileSize)
	}
	fs := fl.filesystem
	newSize := fl.offset + int64(len(p))
	if newSize > 0xffffffff {
		return 0, fmt.Errorf("file would grow to %d bytes, more than FAT can record", newSize)
	}
	oldSize := int64(fl.fileSize)
	if newSize < oldSize {
		newSize = oldSize
	}

	clusters, err := fl.chain()
	if err != nil {
		return 0, err
	}
	clusters, err = fs.resizeChain(clusters, uint64(newSize))
	if err != nil {
		return 0, fmt.Errorf("unable to allocate clusters for file: %w", err)
	}
	fl.clusters = clusters
	fl.clusterLocation = clusters[0]

	bytesPerCluster := int64(fs.bytesPerCluster)
	totalWritten := 0
	for totalWritten < len(p) {
		pos := fl.offset + int64(totalWritten)
		index := int(pos / bytesPerCluster)
		within := pos % bytesPerCluster
		toWrite := bytesPerCluster - within
		if left := int64(len(p) - totalWritten); toWrite > left {
			toWrite = left
		}
		chunk := p[totalWritten : totalWritten+int(toWrite)]
		if err := fs.writeAt(chunk, fs.clusterOffset(clusters[index])+within); err != nil {
			return totalWritten, fmt.Errorf("unable to write to file: %w", err)
		}
		totalWritten += int(toWrite)
	}
	fl.offset += int64(totalWritten)

	if newSize != oldSize || oldSize == 0 {
		fl.fileSize = uint32(newSize)
		// update the parent that we have changed the file size
		if err := fs.writeDirectoryEntries(fl.parent); err != nil {
			return totalWritten, fmt.Errorf("error writing directory entries to disk: %w", err)
		}
	}
	return totalWritten, nil
}

// truncate releases every cluster of the file and sets its size to 0
func (fl *File) truncate() error {
	clusters, err := fl.chain()
	if err != nil {
		return err
	}
	if err := fl.filesystem.freeChain(clusters); err != nil {
		return fmt.Errorf("unable to free clusters of file: %w", err)
	}
	fl.clusters = nil
	fl.clusterLocation = 0
	fl.fileSize = 0
	fl.offset = 0
	return fl.filesystem.writeDirectoryEntries(fl.parent)
}

// Seek set the offset to a particular point in the file
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	if fl == nil || fl.filesystem == nil {
		return 0, os.ErrClosed
	}
	var newOffset int64
	switch whence {
	case io.SeekStart:
		newOffset = offset
	case io.SeekEnd:
		newOffset = int64(fl.fileSize) + offset
	case io.SeekCurrent:
		newOffset = fl.offset + offset
	default:
		return fl.offset, fmt.Errorf("invalid whence %d", whence)
	}
	if newOffset < 0 {
		return fl.offset, fmt.Errorf("cannot set offset %d before start of file", offset)
	}
	fl.offset = newOffset
	return fl.offset, nil
}

// Stat returns the directory entry of the file
func (fl *File) Stat() (fs.FileInfo, error) {
	if fl == nil || fl.filesystem == nil {
		return nil, os.ErrClosed
	}
	return fl.directoryEntry, nil
}

// Close close the file
func (fl *File) Close() error {
	fl.filesystem = nil
	return nil
}
