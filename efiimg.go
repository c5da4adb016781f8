// Package efiimg builds bootable disk images from a single EFI executable.
//
// The executable is placed at EFI/BOOT/BOOTX64.EFI on a freshly formatted FAT
// volume sized to the next whole MiB, and that volume is then embedded as the
// only partition of a GPT disk image, typed as an EFI System Partition. Both
// files are produced by manipulating bytes directly, no mounts or loop devices
// are involved.
//
// The simplest use is Build:
//
//	result, err := efiimg.Build("kernel.efi", "kernel.fat", "kernel.gdt", nil)
//
// BuildFatVolume and BuildGPTDisk run the two steps separately. Create and
// Open give access to the underlying disk.Disk for anything else, e.g.
// inspecting a finished image:
//
//	d, err := efiimg.Open("kernel.gdt", efiimg.WithOpenMode(efiimg.ReadOnly))
//	table, err := d.GetPartitionTable()
//	fs, err := d.GetFilesystem(1)
package efiimg

import (
	"errors"
	"fmt"
	"io"

	"github.com/diskfs/go-efiimg/backend"
	"github.com/diskfs/go-efiimg/backend/file"
	"github.com/diskfs/go-efiimg/disk"
)

// when we use a disk image with a GPT, we cannot get the logical sector size from the disk via the kernel
// so we use the default sector size of 512, per Rod Smith
const defaultBlocksize = 512

// SectorSize represents the sector size to use
type SectorSize int

const (
	// SectorSizeDefault uses the default of the device or 512 for images
	SectorSizeDefault SectorSize = 0
	// SectorSize512 override sector size to 512
	SectorSize512 SectorSize = 512
	// SectorSize4k override sector size to 4096
	SectorSize4k SectorSize = 4096
)

// OpenModeOption represents file open modes
type OpenModeOption int

const (
	// ReadOnly open file in read only mode
	ReadOnly OpenModeOption = iota
	// ReadWriteExclusive open file in read-write exclusive mode
	ReadWriteExclusive
)

// String returns the string representation of the mode
func (m OpenModeOption) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWriteExclusive:
		return "read-write exclusive"
	default:
		return "unknown"
	}
}

type openOpts struct {
	mode       OpenModeOption
	sectorSize SectorSize
}

// OpenOpt is a functional option for Open
type OpenOpt func(o *openOpts) error

// WithOpenMode sets the opening mode to the requested one
func WithOpenMode(mode OpenModeOption) OpenOpt {
	return func(o *openOpts) error {
		if mode != ReadOnly && mode != ReadWriteExclusive {
			return fmt.Errorf("unknown open mode %d", mode)
		}
		o.mode = mode
		return nil
	}
}

// WithSectorSize opens the disk file or block device with the provided sector size.
// Defaults to the physical block size.
func WithSectorSize(sectorSize SectorSize) OpenOpt {
	return func(o *openOpts) error {
		if err := checkSectorSize(sectorSize); err != nil {
			return err
		}
		o.sectorSize = sectorSize
		return nil
	}
}

func checkSectorSize(sectorSize SectorSize) error {
	switch sectorSize {
	case SectorSizeDefault, SectorSize512, SectorSize4k:
		return nil
	default:
		return fmt.Errorf("disk sector size must be one of 0, 512 or 4096, not %d", sectorSize)
	}
}

func initDisk(b backend.Storage, sectorSize SectorSize, writable bool) (*disk.Disk, error) {
	var (
		size     int64
		lblksize = int64(defaultBlocksize)
		pblksize = int64(defaultBlocksize)
	)

	devType, err := disk.DetermineDeviceType(b)
	if err != nil {
		return nil, fmt.Errorf("could not get info for device: %w", err)
	}
	devInfo, err := b.Stat()
	if err != nil {
		return nil, fmt.Errorf("could not get info for device: %w", err)
	}
	switch devType {
	case disk.DeviceTypeFile:
		size = devInfo.Size()
		if size <= 0 {
			return nil, fmt.Errorf("could not get file size for device %s", devInfo.Name())
		}
	case disk.DeviceTypeBlockDevice:
		f, err := b.Sys()
		if err != nil {
			return nil, fmt.Errorf("could not get os.File for device %s: %w", devInfo.Name(), err)
		}
		// a block device reports its length as the end offset
		size, err = f.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, fmt.Errorf("could not get size of device %s: %w", devInfo.Name(), err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("could not rewind device %s: %w", devInfo.Name(), err)
		}
		lblksize, pblksize, err = getSectorSizes(f)
		if err != nil {
			return nil, fmt.Errorf("unable to get block sizes for device %s: %w", devInfo.Name(), err)
		}
	}

	// an explicit sector size wins for the logical size; the physical size can
	// only be larger
	if sectorSize != SectorSizeDefault {
		lblksize = int64(sectorSize)
		if pblksize < lblksize {
			pblksize = lblksize
		}
	}

	return &disk.Disk{
		Backend:           b,
		Size:              size,
		LogicalBlocksize:  lblksize,
		PhysicalBlocksize: pblksize,
		Writable:          writable,
	}, nil
}

// Open a Disk from a path to a device in read-write exclusive mode.
// Should pass a path to a block device e.g. /dev/sda or a path to a file /tmp/foo.img
// The provided device must exist at the time you call Open().
func Open(device string, opts ...OpenOpt) (*disk.Disk, error) {
	o := &openOpts{
		mode:       ReadWriteExclusive,
		sectorSize: SectorSizeDefault,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	b, err := file.OpenFromPath(device, o.mode == ReadOnly)
	if err != nil {
		return nil, err
	}
	d, err := initDisk(b, o.sectorSize, o.mode != ReadOnly)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return d, nil
}

// Create a Disk from a path to an image file. The file must not exist at the
// time you call Create(); it is created with exactly size bytes before it is
// returned.
func Create(device string, size int64, sectorSize SectorSize) (*disk.Disk, error) {
	if device == "" {
		return nil, errors.New("must pass device name")
	}
	if err := checkSectorSize(sectorSize); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, errors.New("must pass valid device size to create")
	}
	if sectorSize != SectorSizeDefault && size%int64(sectorSize) != 0 {
		return nil, fmt.Errorf("size %d is not a multiple of the sector size %d", size, sectorSize)
	}
	b, err := file.CreateFromPath(device, size)
	if err != nil {
		return nil, err
	}
	d, err := initDisk(b, sectorSize, true)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return d, nil
}
