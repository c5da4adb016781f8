package disk_test

/*
 These tests the exported functions
 We want to do full-in tests with files
*/

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/diskfs/go-efiimg/backend"
	"github.com/diskfs/go-efiimg/backend/file"
	"github.com/diskfs/go-efiimg/disk"
	"github.com/diskfs/go-efiimg/filesystem"
	"github.com/diskfs/go-efiimg/filesystem/fat32"
	"github.com/diskfs/go-efiimg/partition/gpt"
	"github.com/diskfs/go-efiimg/partition/mbr"
	"github.com/diskfs/go-efiimg/partition/part"
)

const (
	oneMB    = 1024 * 1024
	diskSize = 4 * oneMB
	partSize = 2 * oneMB
)

func tmpDisk(t *testing.T, size int64, writable bool) *disk.Disk {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "disk_test")
	if err != nil {
		t.Fatalf("failed to create tempfile: %v", err)
	}
	if err := f.Truncate(size); err != nil {
		t.Fatalf("failed to size tempfile: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return &disk.Disk{
		Backend:           file.New(f, !writable),
		Size:              size,
		LogicalBlocksize:  512,
		PhysicalBlocksize: 512,
		Writable:          writable,
	}
}

func espTable(t *testing.T, size int64) (*gpt.Table, int) {
	t.Helper()
	table := &gpt.Table{LogicalSectorSize: 512, ProtectiveMBR: true}
	if err := table.Initialize(size); err != nil {
		t.Fatalf("unable to initialize table: %v", err)
	}
	index, err := table.AddPartition(gpt.PartitionSpec{Name: "boot", Size: partSize, Type: gpt.EFISystemPartition})
	if err != nil {
		t.Fatalf("unable to add partition: %v", err)
	}
	return table, index
}

func TestGetPartitionTable(t *testing.T) {
	t.Run("gpt", func(t *testing.T) {
		d := tmpDisk(t, diskSize, true)
		table, _ := espTable(t, diskSize)
		if err := d.Partition(table); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		read, err := d.GetPartitionTable()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if read.Type() != "gpt" {
			t.Errorf("table type %s, expected gpt", read.Type())
		}
		if read.UUID() != table.UUID() {
			t.Errorf("disk GUID %s, expected %s", read.UUID(), table.UUID())
		}
		if d.Table != read {
			t.Error("table read from disk not kept")
		}
	})
	t.Run("empty disk", func(t *testing.T) {
		d := tmpDisk(t, diskSize, false)
		_, err := d.GetPartitionTable()
		var target *disk.NoPartitionTableError
		if !errors.As(err, &target) {
			t.Errorf("error %v, expected NoPartitionTableError", err)
		}
	})
}

func TestPartition(t *testing.T) {
	t.Run("gpt", func(t *testing.T) {
		d := tmpDisk(t, diskSize, true)
		table, index := espTable(t, diskSize)
		if err := d.Partition(table); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Table != table {
			t.Error("disk does not reference the written table")
		}
		if err := table.Verify(d.Backend, diskSize); err != nil {
			t.Errorf("written table does not verify: %v", err)
		}
		p, err := d.GetPartition(index)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.GetStart() != 34*512 || p.GetSize() != partSize {
			t.Errorf("partition at %d of %d bytes", p.GetStart(), p.GetSize())
		}
	})
	t.Run("protective mbr", func(t *testing.T) {
		d := tmpDisk(t, diskSize, true)
		if err := d.Partition(mbr.ProtectiveTable(diskSize, 512)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		read, err := d.GetPartitionTable()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if read.Type() != "mbr" {
			t.Errorf("table type %s, expected mbr", read.Type())
		}
	})
	t.Run("readonly", func(t *testing.T) {
		d := tmpDisk(t, diskSize, false)
		table, _ := espTable(t, diskSize)
		if err := d.Partition(table); !errors.Is(err, backend.ErrIncorrectOpenMode) {
			t.Errorf("error %v, expected %v", err, backend.ErrIncorrectOpenMode)
		}
	})
}

func TestGetPartition(t *testing.T) {
	d := tmpDisk(t, diskSize, true)
	if _, err := d.GetPartition(1); err == nil || err.Error() != "no partition table found on disk" {
		t.Errorf("unexpected error %v", err)
	}
	table, _ := espTable(t, diskSize)
	d.Table = table
	_, err := d.GetPartition(5)
	var target *disk.InvalidPartitionError
	if !errors.As(err, &target) || err.Error() != "requested partition 5 not found" {
		t.Errorf("unexpected error %v", err)
	}
}

func TestWritePartitionContents(t *testing.T) {
	content := make([]byte, partSize)
	if _, err := rand.Read(content); err != nil {
		t.Fatalf("unable to generate content: %v", err)
	}
	tests := []struct {
		name    string
		content []byte
		err     error
	}{
		{"exact", content, nil},
		{"short", content[:partSize-512], part.NewIncompletePartitionWriteError(partSize-512, partSize)},
		{"overflow", append(append([]byte{}, content...), 1), part.NewPartitionOverflowError(partSize)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tmpDisk(t, diskSize, true)
			table, index := espTable(t, diskSize)
			if err := d.Partition(table); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			written, err := d.WritePartitionContents(index, bytes.NewReader(tt.content))
			switch {
			case tt.err == nil && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case tt.err != nil && (err == nil || err.Error() != tt.err.Error()):
				t.Fatalf("error %v, expected %v", err, tt.err)
			}
			if tt.err != nil {
				return
			}
			if written != partSize {
				t.Errorf("wrote %d bytes, expected %d", written, partSize)
			}
			var out bytes.Buffer
			read, err := d.ReadPartitionContents(index, &out)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if read != partSize || !bytes.Equal(out.Bytes(), content) {
				t.Errorf("read back %d bytes that do not match", read)
			}
			// the partition starts at the first usable LBA
			raw := make([]byte, partSize)
			if _, err := d.Backend.ReadAt(raw, 34*512); err != nil && !errors.Is(err, io.EOF) {
				t.Fatalf("unable to read disk: %v", err)
			}
			if !bytes.Equal(raw, content) {
				t.Error("content not found at 34*512")
			}
		})
	}
	t.Run("readonly", func(t *testing.T) {
		d := tmpDisk(t, diskSize, false)
		if _, err := d.WritePartitionContents(1, nil); !errors.Is(err, backend.ErrIncorrectOpenMode) {
			t.Errorf("error %v, expected %v", err, backend.ErrIncorrectOpenMode)
		}
	})
}

func TestCreateFilesystem(t *testing.T) {
	t.Run("partition", func(t *testing.T) {
		d := tmpDisk(t, diskSize, true)
		table, index := espTable(t, diskSize)
		if err := d.Partition(table); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		fs, err := d.CreateFilesystem(disk.FilesystemSpec{Partition: index, FSType: filesystem.TypeFat32, VolumeLabel: "EFI"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fs.Type() != filesystem.TypeFat32 || fs.Label() != "EFI" {
			t.Errorf("filesystem type %v label %q", fs.Type(), fs.Label())
		}
		// the table must survive formatting
		if err := table.Verify(d.Backend, diskSize); err != nil {
			t.Errorf("table damaged by formatting: %v", err)
		}
		got, err := d.GetFilesystem(index)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if fat, ok := got.(*fat32.FileSystem); !ok || fat.FATType() != fat32.FAT12 {
			t.Errorf("read back %T", got)
		}
	})
	t.Run("whole disk", func(t *testing.T) {
		d := tmpDisk(t, diskSize, true)
		if _, err := d.CreateFilesystem(disk.FilesystemSpec{FSType: filesystem.TypeFat32}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := d.GetFilesystem(0); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
	t.Run("unsupported type", func(t *testing.T) {
		d := tmpDisk(t, diskSize, true)
		if _, err := d.CreateFilesystem(disk.FilesystemSpec{FSType: filesystem.Type(7)}); !errors.Is(err, filesystem.ErrNotSupported) {
			t.Errorf("error %v, expected %v", err, filesystem.ErrNotSupported)
		}
	})
	t.Run("readonly", func(t *testing.T) {
		d := tmpDisk(t, diskSize, false)
		if _, err := d.CreateFilesystem(disk.FilesystemSpec{FSType: filesystem.TypeFat32}); !errors.Is(err, backend.ErrIncorrectOpenMode) {
			t.Errorf("error %v, expected %v", err, backend.ErrIncorrectOpenMode)
		}
	})
	t.Run("no table", func(t *testing.T) {
		d := tmpDisk(t, diskSize, true)
		_, err := d.CreateFilesystem(disk.FilesystemSpec{Partition: 1, FSType: filesystem.TypeFat32})
		if err == nil || !strings.HasPrefix(err.Error(), "error getting location of partition 1") {
			t.Errorf("unexpected error %v", err)
		}
	})
}

func TestGetFilesystem(t *testing.T) {
	d := tmpDisk(t, diskSize, false)
	_, err := d.GetFilesystem(0)
	var target *disk.UnknownFilesystemError
	if !errors.As(err, &target) {
		t.Errorf("error %v, expected UnknownFilesystemError", err)
	}
}

func TestClose(t *testing.T) {
	d := tmpDisk(t, diskSize, false)
	if err := d.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Backend != nil {
		t.Error("backend still referenced after close")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestDetermineDeviceType(t *testing.T) {
	dir := t.TempDir()
	t.Run("image file", func(t *testing.T) {
		d := tmpDisk(t, oneMB, false)
		dt, err := disk.DetermineDeviceType(d.Backend)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dt != disk.DeviceTypeFile {
			t.Errorf("device type %s, expected %s", dt, disk.DeviceTypeFile)
		}
	})
	t.Run("directory", func(t *testing.T) {
		f, err := os.Open(dir)
		if err != nil {
			t.Fatalf("unable to open directory: %v", err)
		}
		defer f.Close()
		dt, err := disk.DetermineDeviceType(f)
		if err == nil || !strings.HasPrefix(err.Error(), "device ") {
			t.Errorf("error %v, expected a neither block device nor regular file error", err)
		}
		if dt != disk.DeviceTypeUnknown {
			t.Errorf("device type %s, expected %s", dt, disk.DeviceTypeUnknown)
		}
	})
	t.Run("closed file", func(t *testing.T) {
		f, err := os.CreateTemp(dir, "closed")
		if err != nil {
			t.Fatalf("unable to create file: %v", err)
		}
		_ = f.Close()
		if _, err := disk.DetermineDeviceType(f); !errors.Is(err, os.ErrClosed) {
			t.Errorf("error %v, expected %v", err, os.ErrClosed)
		}
	})
}

func TestReReadPartitionTableImageFile(t *testing.T) {
	d := tmpDisk(t, diskSize, true)
	if err := d.ReReadPartitionTable(); err != nil {
		t.Errorf("image file: unexpected error %v", err)
	}
}
