package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	efiimg "github.com/diskfs/go-efiimg"
	"github.com/diskfs/go-efiimg/filesystem/fat32"
)

// fatTypeValue parses --fat-type
type fatTypeValue fat32.FATType

var _ pflag.Value = (*fatTypeValue)(nil)

func (v *fatTypeValue) String() string {
	return fat32.FATType(*v).String()
}

func (v *fatTypeValue) Set(s string) error {
	switch strings.ToLower(strings.TrimPrefix(strings.ToUpper(s), "FAT")) {
	case "", "auto":
		*v = fatTypeValue(fat32.FATAuto)
	case "12":
		*v = fatTypeValue(fat32.FAT12)
	case "16":
		*v = fatTypeValue(fat32.FAT16)
	case "32":
		*v = fatTypeValue(fat32.FAT32)
	default:
		return fmt.Errorf("unknown FAT type %q, must be auto, 12, 16 or 32", s)
	}
	return nil
}

func (v *fatTypeValue) Type() string {
	return "fat-type"
}

type buildOptions struct {
	fatPath       string
	diskPath      string
	label         string
	fatType       fatTypeValue
	reserve       int64
	blockSize     int
	alignment     uint64
	diskGUID      string
	partitionGUID string
	preserveTimes bool
	noVerify      bool
}

// outputPaths derives the FAT volume and disk image paths from the
// executable's path by replacing its extension
func outputPaths(executable string) (fatPath, diskPath string) {
	base := strings.TrimSuffix(executable, filepath.Ext(executable))
	return base + ".fat", base + ".gdt"
}

func newBuildCmd(logger logrus.FieldLogger) *cobra.Command {
	opts := &buildOptions{}

	cmd := &cobra.Command{
		Use:   "build <executable.efi>",
		Short: "Build a FAT volume and a GPT disk image from an EFI executable",
		Long: `Build writes two files next to the executable: <name>.fat, a FAT volume
holding the executable as EFI/BOOT/BOOTX64.EFI, and <name>.gdt, a GPT disk
image with that volume as its EFI System Partition. Existing outputs are
replaced.

Examples:
  # kernel.fat and kernel.gdt
  efiimg build kernel.efi

  # force FAT32 and keep the executable's timestamps
  efiimg build kernel.efi --fat-type 32 --preserve-times`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, logger, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.fatPath, "fat", "", "FAT volume output path (default <name>.fat)")
	flags.StringVar(&opts.diskPath, "disk", "", "disk image output path (default <name>.gdt)")
	flags.StringVar(&opts.label, "label", efiimg.DefaultVolumeLabel, "FAT volume label")
	flags.Var(&opts.fatType, "fat-type", "FAT width: auto, 12, 16 or 32")
	flags.Int64Var(&opts.reserve, "reserve", efiimg.DefaultReserve, "bytes added to the FAT volume size for the partition tables")
	flags.IntVar(&opts.blockSize, "block-size", int(efiimg.SectorSize512), "logical block size of the disk image, 512 or 4096")
	flags.Uint64Var(&opts.alignment, "alignment", 1, "partition start alignment in logical blocks")
	flags.StringVar(&opts.diskGUID, "disk-guid", "", "disk GUID (default random)")
	flags.StringVar(&opts.partitionGUID, "partition-guid", "", "partition GUID (default random)")
	flags.BoolVar(&opts.preserveTimes, "preserve-times", false, "copy the executable's timestamps onto BOOTX64.EFI")
	flags.BoolVar(&opts.noVerify, "no-verify", false, "skip reading the disk back after writing")
	return cmd
}

func runBuild(cmd *cobra.Command, logger logrus.FieldLogger, executable string, opts *buildOptions) error {
	fatPath, diskPath := outputPaths(executable)
	if opts.fatPath != "" {
		fatPath = opts.fatPath
	}
	if opts.diskPath != "" {
		diskPath = opts.diskPath
	}
	for _, out := range []string{fatPath, diskPath} {
		if filepath.Clean(out) == filepath.Clean(executable) {
			return fmt.Errorf("output %s would overwrite the executable", out)
		}
	}
	if filepath.Clean(fatPath) == filepath.Clean(diskPath) {
		return fmt.Errorf("FAT volume and disk image cannot both be written to %s", fatPath)
	}

	buildOpts := efiimg.DefaultOptions()
	buildOpts.Logger = logger
	buildOpts.Fat.VolumeLabel = opts.label
	buildOpts.Fat.FATType = fat32.FATType(opts.fatType)
	buildOpts.Fat.PreserveTimes = opts.preserveTimes
	buildOpts.GPT.Reserve = opts.reserve
	buildOpts.GPT.LogicalBlockSize = opts.blockSize
	buildOpts.GPT.Alignment = opts.alignment
	buildOpts.GPT.DiskGUID = opts.diskGUID
	buildOpts.GPT.PartitionGUID = opts.partitionGUID
	buildOpts.GPT.Verify = !opts.noVerify

	result, err := efiimg.Build(executable, fatPath, diskPath, buildOpts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\t%d bytes\n", result.Fat.Path, result.Fat.Size)
	fmt.Fprintf(out, "%s\t%d bytes\tdisk %s\tpartition %s\n", result.Disk.Path, result.Disk.Size, result.Disk.DiskGUID, result.Disk.PartitionGUID)
	return nil
}
