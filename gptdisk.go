package efiimg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/diskfs/go-efiimg/partition/gpt"
	"github.com/diskfs/go-efiimg/sync"
)

// DiskImage describes a finished GPT disk image.
type DiskImage struct {
	Path string
	Size int64
	// DiskGUID and PartitionGUID are the identifiers written to the GPT
	DiskGUID      string
	PartitionGUID string
	// PartitionIndex is the 1-based slot of the EFI System Partition
	PartitionIndex int
	// StartLBA is the first logical block of the partition
	StartLBA uint64
}

// BuildGPTDisk creates a disk image at diskPath that holds vol as its only
// partition. The disk is exactly vol.Size plus the reserve from opts. Any
// existing file at diskPath is replaced.
func BuildGPTDisk(vol *FatVolume, diskPath string, opts *GPTOptions) (*DiskImage, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, &PartitionTableError{Op: "check options", Err: err}
	}
	if vol == nil {
		return nil, &InternalError{Op: "assemble disk", Err: errors.New("no FAT volume given")}
	}
	log := opts.Logger.WithFields(logrus.Fields{"volume": vol.Path, "path": diskPath})

	blocksize := int64(opts.LogicalBlockSize)
	overhead := gpt.Overhead(opts.LogicalBlockSize, gpt.DefaultPartitionEntries)
	if opts.Reserve < overhead {
		return nil, &PartitionTableError{
			Op:  "check reserve",
			Err: fmt.Errorf("reserve of %d bytes is smaller than the %d bytes the GPT needs", opts.Reserve, overhead),
		}
	}
	if opts.Reserve%blocksize != 0 {
		return nil, &PartitionTableError{
			Op:  "check reserve",
			Err: fmt.Errorf("reserve of %d bytes is not a multiple of the block size %d", opts.Reserve, blocksize),
		}
	}
	if vol.Size <= 0 || vol.Size%blocksize != 0 {
		return nil, &PartitionTableError{
			Op:  "check volume",
			Err: fmt.Errorf("volume size %d is not a positive multiple of the block size %d", vol.Size, blocksize),
		}
	}

	src, err := os.Open(vol.Path)
	if err != nil {
		return nil, &IoError{Op: "open FAT volume", Err: err}
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return nil, &IoError{Op: "stat FAT volume", Err: err}
	}
	if info.Size() != vol.Size {
		return nil, &IoError{Op: "stat FAT volume", Err: fmt.Errorf("%s is %d bytes, expected %d", vol.Path, info.Size(), vol.Size)}
	}

	diskSize := vol.Size + opts.Reserve
	log.WithFields(logrus.Fields{"size": diskSize, "overhead": overhead}).Debug("sized disk")

	if err := removeExisting(diskPath); err != nil {
		return nil, &IoError{Op: "remove previous disk", Err: err}
	}
	d, err := Create(diskPath, diskSize, SectorSize(opts.LogicalBlockSize))
	if err != nil {
		return nil, &IoError{Op: "create disk", Err: err}
	}
	defer d.Close()

	table := &gpt.Table{
		LogicalSectorSize:  opts.LogicalBlockSize,
		PhysicalSectorSize: opts.LogicalBlockSize,
		ProtectiveMBR:      true,
		GUID:               strings.ToUpper(opts.DiskGUID),
	}
	if err := table.Initialize(diskSize); err != nil {
		return nil, &PartitionTableError{Op: "initialize", Err: err}
	}
	index, err := table.AddPartition(gpt.PartitionSpec{
		Name:      opts.PartitionName,
		Size:      uint64(vol.Size),
		Type:      opts.PartitionType,
		GUID:      strings.ToUpper(opts.PartitionGUID),
		Alignment: opts.Alignment,
	})
	if err != nil {
		return nil, &PartitionTableError{Op: "add partition", Err: err}
	}
	p, ok := table.GetPartition(index)
	if !ok {
		return nil, &InternalError{Op: "add partition", Err: fmt.Errorf("partition %d missing right after it was added", index)}
	}
	if p.Size != uint64(vol.Size) {
		return nil, &InternalError{Op: "add partition", Err: fmt.Errorf("partition %d is %d bytes, expected %d", index, p.Size, vol.Size)}
	}
	log.WithFields(logrus.Fields{
		"index":     index,
		"start_lba": p.Start,
		"end_lba":   p.End,
		"disk_guid": table.GUID,
		"part_guid": p.GUID,
	}).Debug("laid out partition")

	if err := d.Partition(table); err != nil {
		return nil, &PartitionTableError{Op: "write", Err: err}
	}

	written, err := d.WritePartitionContents(index, src)
	if err != nil {
		return nil, &IoError{Op: "write partition", Err: err}
	}
	log.WithField("written", written).Debug("copied FAT volume into partition")

	if opts.Verify {
		if err := table.Verify(d.Backend, diskSize); err != nil {
			return nil, &PartitionTableError{Op: "verify", Err: err}
		}
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return nil, &IoError{Op: "rewind FAT volume", Err: err}
		}
		if err := sync.VerifyPartitionContents(d, index, src); err != nil {
			return nil, &IoError{Op: "verify partition", Err: err}
		}
		log.Debug("verified disk")
	}

	img := &DiskImage{
		Path:           diskPath,
		Size:           diskSize,
		DiskGUID:       table.GUID,
		PartitionGUID:  p.GUID,
		PartitionIndex: index,
		StartLBA:       p.Start,
	}
	if err := d.Close(); err != nil {
		return nil, &IoError{Op: "close disk", Err: err}
	}
	log.WithField("size", diskSize).Info("disk image complete")
	return img, nil
}
