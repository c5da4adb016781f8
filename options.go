package efiimg

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/diskfs/go-efiimg/filesystem/fat32"
	"github.com/diskfs/go-efiimg/partition/gpt"
)

const (
	// KiB is one kibibyte
	KiB = 1024
	// MiB is one mebibyte, the granularity of FAT volume sizes
	MiB = 1024 * KiB

	// DefaultVolumeLabel is the FAT volume label
	DefaultVolumeLabel = "EFI"
	// DefaultPartitionName is the GPT name of the EFI System Partition
	DefaultPartitionName = "boot"
	// DefaultReserve is how many bytes the disk adds on top of the FAT volume
	// for the protective MBR and both GPT copies
	DefaultReserve = 64 * KiB
	// BootPath is where firmware looks for the removable-media boot loader
	BootPath = "/EFI/BOOT/BOOTX64.EFI"
)

// FatOptions controls how the FAT volume is formatted and populated.
type FatOptions struct {
	// VolumeLabel is stored in the boot sector and the root directory,
	// empty means DefaultVolumeLabel
	VolumeLabel string
	// FATType forces a FAT width, the default picks one from the volume size
	FATType fat32.FATType
	// VolumeID is the volume serial number, 0 generates one
	VolumeID uint32
	// Timestamp is stamped on every directory entry, zero means now
	Timestamp time.Time
	// PreserveTimes copies the executable's own times onto BOOTX64.EFI
	PreserveTimes bool
	// Logger nil means the logger of Options, or logrus.StandardLogger()
	Logger logrus.FieldLogger
}

// GPTOptions controls the layout of the disk image.
type GPTOptions struct {
	// LogicalBlockSize is 512 or 4096, 0 means 512
	LogicalBlockSize int
	// Reserve is added to the FAT volume size to give the disk size. It must
	// cover gpt.Overhead for the block size. 0 means DefaultReserve.
	Reserve       int64
	PartitionName string
	// PartitionType 0 means gpt.EFISystemPartition
	PartitionType gpt.Type
	// PartitionGUID and DiskGUID are generated when empty
	PartitionGUID string
	DiskGUID      string
	// Alignment of the partition start in logical blocks, 0 and 1 place it at
	// the first usable LBA
	Alignment uint64
	// Verify re-reads the partition after writing and compares it to the volume
	Verify bool
	// Logger nil means the logger of Options, or logrus.StandardLogger()
	Logger logrus.FieldLogger
}

// Options groups the settings of both steps of Build.
type Options struct {
	Fat    FatOptions
	GPT    GPTOptions
	Logger logrus.FieldLogger
}

// DefaultFatOptions returns the FAT settings used when none are given
func DefaultFatOptions() *FatOptions {
	return &FatOptions{
		VolumeLabel: DefaultVolumeLabel,
		FATType:     fat32.FATAuto,
	}
}

// DefaultGPTOptions returns the disk settings used when none are given
func DefaultGPTOptions() *GPTOptions {
	return &GPTOptions{
		LogicalBlockSize: int(SectorSize512),
		Reserve:          DefaultReserve,
		PartitionName:    DefaultPartitionName,
		PartitionType:    gpt.EFISystemPartition,
		Alignment:        1,
		Verify:           true,
	}
}

// DefaultOptions returns the settings used by Build when none are given
func DefaultOptions() *Options {
	return &Options{
		Fat:    *DefaultFatOptions(),
		GPT:    *DefaultGPTOptions(),
		Logger: logrus.StandardLogger(),
	}
}

// withDefaults returns a copy with every zero field that has a default filled in.
// Boolean switches are taken as given.
func (o *FatOptions) withDefaults() *FatOptions {
	if o == nil {
		o = DefaultFatOptions()
	}
	out := *o
	if out.VolumeLabel == "" {
		out.VolumeLabel = DefaultVolumeLabel
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return &out
}

func (o *GPTOptions) withDefaults() *GPTOptions {
	if o == nil {
		o = DefaultGPTOptions()
	}
	out := *o
	if out.LogicalBlockSize == 0 {
		out.LogicalBlockSize = int(SectorSize512)
	}
	if out.Reserve == 0 {
		out.Reserve = DefaultReserve
	}
	if out.PartitionName == "" {
		out.PartitionName = DefaultPartitionName
	}
	if out.PartitionType == "" {
		out.PartitionType = gpt.EFISystemPartition
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return &out
}

func (o *GPTOptions) validate() error {
	switch SectorSize(o.LogicalBlockSize) {
	case SectorSize512, SectorSize4k:
	default:
		return fmt.Errorf("logical block size must be 512 or 4096, not %d", o.LogicalBlockSize)
	}
	if o.Reserve < 0 {
		return fmt.Errorf("reserve must not be negative, got %d", o.Reserve)
	}
	for what, guid := range map[string]string{"partition": o.PartitionGUID, "disk": o.DiskGUID} {
		if guid == "" {
			continue
		}
		if _, err := uuid.Parse(guid); err != nil {
			return fmt.Errorf("invalid %s GUID %q: %w", what, guid, err)
		}
	}
	if _, err := uuid.Parse(string(o.PartitionType)); err != nil {
		return fmt.Errorf("invalid partition type %q: %w", o.PartitionType, err)
	}
	return nil
}
