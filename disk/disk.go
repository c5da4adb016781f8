// Package disk provides utilities for working directly with a disk
//
// Most of the provided functions are intelligent wrappers around implementations of
// github.com/diskfs/go-efiimg/partition and github.com/diskfs/go-efiimg/filesystem
package disk

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/diskfs/go-efiimg/backend"
	"github.com/diskfs/go-efiimg/filesystem"
	"github.com/diskfs/go-efiimg/filesystem/fat32"
	"github.com/diskfs/go-efiimg/partition"
	"github.com/diskfs/go-efiimg/partition/part"
)

// Disk is a reference to a single disk block device or image that has been Create() or Open()
type Disk struct {
	Backend           backend.Storage
	Size              int64
	LogicalBlocksize  int64
	PhysicalBlocksize int64
	Table             partition.Table
	Writable          bool
}

// GetPartitionTable retrieves a PartitionTable for a Disk
//
// returns an error if the Disk is invalid or does not exist, or the partition table is unknown.
// The table found becomes the disk's Table.
func (d *Disk) GetPartitionTable() (partition.Table, error) {
	t, err := partition.Read(d.Backend, int(d.LogicalBlocksize), int(d.PhysicalBlocksize))
	if err != nil {
		if errors.Is(err, partition.ErrUnknownTable) {
			return nil, &NoPartitionTableError{}
		}
		return nil, err
	}
	d.Table = t
	return t, nil
}

// Partition applies a partition.Table implementation to a Disk
//
// The Table can have zero, one or more Partitions, each of which is unique to its
// implementation. E.g. MBR partitions in mbr.Table look different from GPT partitions in gpt.Table
//
// Actual writing of the table is delegated to the individual implementation.
// Block devices are asked to re-read the table afterwards.
func (d *Disk) Partition(table partition.Table) error {
	rwBackingFile, err := d.Backend.Writable()
	if err != nil {
		return err
	}
	if err := table.Write(rwBackingFile, d.Size); err != nil {
		return fmt.Errorf("failed to write partition table: %w", err)
	}
	d.Table = table
	return d.ReReadPartitionTable()
}

// GetPartition returns the partition with the given 1-based index from the table
func (d *Disk) GetPartition(index int) (part.Partition, error) {
	if d.Table == nil {
		return nil, &NoPartitionTableError{}
	}
	for _, p := range d.Table.GetPartitions() {
		if p.GetIndex() == index {
			return p, nil
		}
	}
	return nil, NewInvalidPartitionError(index)
}

// WritePartitionContents writes the contents of an io.Reader to a given partition
//
// if successful, returns the number of bytes written
//
// returns an error if there was an error writing to the disk, reading from the reader, the table
// is invalid, or the partition is invalid
func (d *Disk) WritePartitionContents(index int, reader io.Reader) (int64, error) {
	rwBackingFile, err := d.Backend.Writable()
	if err != nil {
		return -1, err
	}
	p, err := d.GetPartition(index)
	if err != nil {
		return -1, err
	}
	written, err := p.WriteContents(rwBackingFile, reader)
	return int64(written), err
}

// ReadPartitionContents reads the contents of a partition to an io.Writer
//
// if successful, returns the number of bytes read
//
// returns an error if there was an error reading from the disk, writing to the writer, the table
// is invalid, or the partition is invalid
func (d *Disk) ReadPartitionContents(index int, writer io.Writer) (int64, error) {
	p, err := d.GetPartition(index)
	if err != nil {
		return -1, err
	}
	return p.ReadContents(d.Backend, writer)
}

// FilesystemSpec represents the details of a filesystem to be created
type FilesystemSpec struct {
	// Partition is the 1-based partition index, or 0 for the whole disk
	Partition int
	FSType    filesystem.Type
	// VolumeLabel shows under Linux in '/dev/disk/by-label/<label>'
	VolumeLabel string
	// FATType forces a FAT width, the default picks one from the size
	FATType fat32.FATType
	// VolumeID is the volume serial number, 0 generates one
	VolumeID uint32
	// Timestamp is stamped on every entry the filesystem creates, zero means now
	Timestamp time.Time
}

// region returns the byte range of a partition, or the whole disk for 0
func (d *Disk) region(index int) (start, size int64, err error) {
	if index == 0 {
		return 0, d.Size, nil
	}
	p, err := d.GetPartition(index)
	if err != nil {
		return 0, 0, err
	}
	return p.GetStart(), p.GetSize(), nil
}

// CreateFilesystem creates a filesystem on a disk image, the equivalent of mkfs.
//
// Required:
//   - desired partition number, or 0 to create the filesystem on the entire block device or
//     disk image,
//   - the filesystem type from github.com/diskfs/go-efiimg/filesystem
//
// The filesystem sees only its own byte range of the disk.
//
// returns error if there was an error creating the filesystem, or the partition table is invalid and did not
// request the entire disk.
func (d *Disk) CreateFilesystem(spec FilesystemSpec) (filesystem.FileSystem, error) {
	if !d.Writable {
		return nil, backend.ErrIncorrectOpenMode
	}
	start, size, err := d.region(spec.Partition)
	if err != nil {
		return nil, fmt.Errorf("error getting location of partition %d: %w", spec.Partition, err)
	}

	switch spec.FSType {
	case filesystem.TypeFat32:
		return fat32.Create(backend.Sub(d.Backend, start, size), size, 0, d.LogicalBlocksize, &fat32.Options{
			Label:     spec.VolumeLabel,
			FATType:   spec.FATType,
			VolumeID:  spec.VolumeID,
			Timestamp: spec.Timestamp,
		})
	default:
		return nil, filesystem.ErrNotSupported
	}
}

// GetFilesystem gets the filesystem that already exists on a disk image
//
// pass the desired partition number, or 0 to read the filesystem on the entire block device / disk image,
//
// if successful, returns a filesystem-implementing structure for the given filesystem type
//
// returns error if there was an error reading the filesystem, or the partition table is invalid and did not
// request the entire disk.
func (d *Disk) GetFilesystem(index int) (filesystem.FileSystem, error) {
	start, size, err := d.region(index)
	if err != nil {
		return nil, fmt.Errorf("error getting location of partition %d: %w", index, err)
	}
	// FAT volumes keep their own sector size, which need not match the disk's
	fatFS, err := fat32.Read(backend.Sub(d.Backend, start, size), size, 0, 0)
	if err == nil {
		return fatFS, nil
	}
	return nil, NewUnknownFilesystemError(index)
}

// Close the disk. Once successfully closed, it can no longer be used.
// Closing a closed disk does nothing.
func (d *Disk) Close() error {
	if d.Backend == nil {
		return nil
	}
	if err := d.Backend.Close(); err != nil {
		return err
	}
	*d = Disk{}
	return nil
}
