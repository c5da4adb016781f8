package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"text/tabwriter"

	"github.com/spf13/cobra"

	efiimg "github.com/diskfs/go-efiimg"
	"github.com/diskfs/go-efiimg/converter"
	"github.com/diskfs/go-efiimg/disk"
	"github.com/diskfs/go-efiimg/filesystem"
	"github.com/diskfs/go-efiimg/filesystem/fat32"
	"github.com/diskfs/go-efiimg/partition/gpt"
	"github.com/diskfs/go-efiimg/util"
)

type inspectOptions struct {
	dumpMBR bool
	noFiles bool
}

func newInspectCmd() *cobra.Command {
	opts := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect <image>",
		Short: "Show the partition table and files of a disk image or FAT volume",
		Long: `Inspect opens an image read-only. For a disk image it prints the partition
table and lists the files of every FAT formatted partition. A bare FAT volume
without a partition table is listed directly.

Examples:
  efiimg inspect kernel.gdt
  efiimg inspect kernel.gdt --dump-mbr
  efiimg inspect kernel.fat`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dumpMBR, "dump-mbr", false, "hex dump the first logical block")
	cmd.Flags().BoolVar(&opts.noFiles, "no-files", false, "do not list filesystem contents")
	return cmd
}

func runInspect(out io.Writer, image string, opts *inspectOptions) error {
	d, err := efiimg.Open(image, efiimg.WithOpenMode(efiimg.ReadOnly))
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Fprintf(out, "image %s: %d bytes, logical block %d\n", image, d.Size, d.LogicalBlocksize)

	if opts.dumpMBR {
		b := make([]byte, d.LogicalBlocksize)
		if _, err := d.Backend.ReadAt(b, 0); err != nil {
			return fmt.Errorf("unable to read first block: %w", err)
		}
		fmt.Fprint(out, util.DumpByteSlice(b, 16, true, true, false, nil))
	}

	// a bare FAT volume carries a boot signature that reads as an empty MBR,
	// so look for a filesystem spanning the whole image first
	if fsys, err := d.GetFilesystem(0); err == nil {
		fmt.Fprintln(out, "no partition table")
		return listFilesystem(out, 0, fsys, opts)
	}

	table, err := d.GetPartitionTable()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "table %s, disk GUID %s\n", table.Type(), table.UUID())
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tSTART\tSIZE\tTYPE\tNAME\tGUID")
	for _, p := range table.GetPartitions() {
		if p.GetSize() == 0 {
			continue
		}
		typ, name := "-", "-"
		if gp, ok := p.(*gpt.Partition); ok {
			typ, name = gp.Type.String(), gp.Name
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n", p.GetIndex(), p.GetStart(), p.GetSize(), typ, name, p.UUID())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, p := range table.GetPartitions() {
		if p.GetSize() == 0 {
			continue
		}
		fsys, err := d.GetFilesystem(p.GetIndex())
		var unknown *disk.UnknownFilesystemError
		switch {
		case errors.As(err, &unknown):
			fmt.Fprintf(out, "partition %d: no FAT filesystem\n", p.GetIndex())
			continue
		case err != nil:
			return err
		}
		if err := listFilesystem(out, p.GetIndex(), fsys, opts); err != nil {
			return err
		}
	}
	return nil
}

// listFilesystem describes the filesystem at index and prints its files
func listFilesystem(out io.Writer, index int, fsys filesystem.FileSystem, opts *inspectOptions) error {
	describeFilesystem(out, index, fsys)
	if opts.noFiles {
		return nil
	}
	return fs.WalkDir(converter.FS(fsys), ".", func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if entry.IsDir() {
			fmt.Fprintf(out, "  %s/\n", p)
			return nil
		}
		fmt.Fprintf(out, "  %s\t%d\t%s\n", p, info.Size(), info.ModTime().UTC().Format("2006-01-02 15:04:05"))
		return nil
	})
}

func describeFilesystem(out io.Writer, index int, fsys filesystem.FileSystem) {
	fat, ok := fsys.(*fat32.FileSystem)
	if !ok {
		fmt.Fprintf(out, "partition %d: label %q\n", index, fsys.Label())
		return
	}
	fmt.Fprintf(out, "partition %d: %s, label %q, serial %08X, cluster %d bytes, %d bytes free\n",
		index, fat.FATType(), fat.Label(), fat.VolumeID(), fat.BytesPerCluster(), fat.FreeBytes())
}
