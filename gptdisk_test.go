package efiimg_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	efiimg "github.com/diskfs/go-efiimg"
	"github.com/diskfs/go-efiimg/partition/gpt"
	"github.com/diskfs/go-efiimg/partition/mbr"
	"github.com/diskfs/go-efiimg/util"
)

func buildVolume(t *testing.T, exeSize int) *efiimg.FatVolume {
	t.Helper()
	exe, _ := writeExecutable(t, exeSize)
	opts, _ := quietFatOptions()
	vol, err := efiimg.BuildFatVolume(exe, filepath.Join(t.TempDir(), "boot.fat"), opts)
	if err != nil {
		t.Fatalf("unable to build FAT volume: %v", err)
	}
	return vol
}

func quietGPTOptions() *efiimg.GPTOptions {
	logger, _ := test.NewNullLogger()
	opts := efiimg.DefaultGPTOptions()
	opts.Logger = logger
	return opts
}

func readBlock(t *testing.T, f *os.File, lba, blocksize int64) []byte {
	t.Helper()
	b := make([]byte, blocksize)
	if _, err := f.ReadAt(b, lba*blocksize); err != nil {
		t.Fatalf("unable to read LBA %d: %v", lba, err)
	}
	return b
}

// checkHeader validates the CRCs of the GPT header at lba and returns its
// current and backup LBA fields
func checkHeader(t *testing.T, f *os.File, lba, blocksize int64) (current, backup uint64) {
	t.Helper()
	b := readBlock(t, f, lba, blocksize)
	if !bytes.Equal(b[:8], []byte("EFI PART")) {
		t.Fatalf("no GPT signature at LBA %d", lba)
	}
	hdrSize := binary.LittleEndian.Uint32(b[12:16])
	hdr := make([]byte, hdrSize)
	copy(hdr, b[:hdrSize])
	expected := binary.LittleEndian.Uint32(hdr[16:20])
	copy(hdr[16:20], []byte{0, 0, 0, 0})
	if actual := crc32.ChecksumIEEE(hdr); actual != expected {
		t.Errorf("header at LBA %d: CRC %#x, stored %#x", lba, actual, expected)
	}

	arrayLBA := int64(binary.LittleEndian.Uint64(b[72:80]))
	entries := int64(binary.LittleEndian.Uint32(b[80:84]))
	entrySize := int64(binary.LittleEndian.Uint32(b[84:88]))
	array := make([]byte, entries*entrySize)
	if _, err := f.ReadAt(array, arrayLBA*blocksize); err != nil {
		t.Fatalf("unable to read partition array at LBA %d: %v", arrayLBA, err)
	}
	if actual, stored := crc32.ChecksumIEEE(array), binary.LittleEndian.Uint32(b[88:92]); actual != stored {
		t.Errorf("array of header at LBA %d: CRC %#x, stored %#x", lba, actual, stored)
	}
	return binary.LittleEndian.Uint64(b[24:32]), binary.LittleEndian.Uint64(b[32:40])
}

func TestBuildGPTDisk(t *testing.T) {
	vol := buildVolume(t, 2048)
	diskPath := filepath.Join(t.TempDir(), "boot.gdt")
	img, err := efiimg.BuildGPTDisk(vol, diskPath, quietGPTOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSize := vol.Size + efiimg.DefaultReserve
	if img.Size != expectedSize || img.Path != diskPath {
		t.Errorf("disk %+v, expected %s of %d bytes", img, diskPath, expectedSize)
	}
	if img.PartitionIndex != 1 || img.StartLBA != 34 {
		t.Errorf("partition %d at LBA %d, expected 1 at LBA 34", img.PartitionIndex, img.StartLBA)
	}
	if img.DiskGUID == "" || img.PartitionGUID == "" || img.DiskGUID != strings.ToUpper(img.DiskGUID) {
		t.Errorf("unexpected GUIDs %q and %q", img.DiskGUID, img.PartitionGUID)
	}

	f, err := os.Open(diskPath)
	if err != nil {
		t.Fatalf("unable to open disk: %v", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		t.Fatalf("unable to stat disk: %v", err)
	}
	if info.Size() != expectedSize {
		t.Errorf("disk file is %d bytes, expected %d", info.Size(), expectedSize)
	}

	t.Run("protective MBR", func(t *testing.T) {
		b := readBlock(t, f, 0, 512)
		last := uint32(expectedSize/512 - 1)
		expected := make([]byte, 66)
		copy(expected, []byte{0x00, 0x00, 0x02, 0x00, 0xee, 0xff, 0xff, 0xff, 0x01, 0x00, 0x00, 0x00})
		binary.LittleEndian.PutUint32(expected[12:16], last)
		copy(expected[64:], []byte{0x55, 0xaa})
		if different, diff := util.DumpByteSlicesWithDiffs(b[446:], expected, 16, false, true, false); different {
			t.Errorf("protective MBR entries, actual then expected\n%s", diff)
		}

		table, err := mbr.Read(f, 512, 512)
		if err != nil {
			t.Fatalf("unable to read protective MBR: %v", err)
		}
		parts := table.GetPartitions()
		if len(parts) != 1 {
			t.Fatalf("%d MBR partitions, expected 1", len(parts))
		}
		p := table.Partitions[0]
		if p.Type != mbr.EFIGPTProtective || p.Start != 1 || p.Size != last {
			t.Errorf("protective partition of type %#x at %d for %d sectors, expected 0xee at 1 for %d", p.Type, p.Start, p.Size, last)
		}
	})

	t.Run("headers", func(t *testing.T) {
		last := uint64(expectedSize/512 - 1)
		current, backup := checkHeader(t, f, 1, 512)
		if current != 1 || backup != last {
			t.Errorf("primary header at %d points at %d, expected 1 and %d", current, backup, last)
		}
		current, backup = checkHeader(t, f, int64(last), 512)
		if current != last || backup != 1 {
			t.Errorf("backup header at %d points at %d, expected %d and 1", current, backup, last)
		}
	})

	t.Run("partition contents", func(t *testing.T) {
		expected, err := os.ReadFile(vol.Path)
		if err != nil {
			t.Fatalf("unable to read volume: %v", err)
		}
		actual := make([]byte, vol.Size)
		if _, err := f.ReadAt(actual, 34*512); err != nil {
			t.Fatalf("unable to read partition: %v", err)
		}
		if !bytes.Equal(actual, expected) {
			t.Error("partition contents differ from the FAT volume")
		}
	})

	t.Run("table", func(t *testing.T) {
		d, err := efiimg.Open(diskPath, efiimg.WithOpenMode(efiimg.ReadOnly))
		if err != nil {
			t.Fatalf("unable to open disk: %v", err)
		}
		defer d.Close()
		pt, err := d.GetPartitionTable()
		if err != nil {
			t.Fatalf("unable to read partition table: %v", err)
		}
		table, ok := pt.(*gpt.Table)
		if !ok {
			t.Fatalf("partition table is %T, expected GPT", pt)
		}
		if err := table.Verify(d.Backend, expectedSize); err != nil {
			t.Errorf("table does not verify: %v", err)
		}
		if table.GUID != img.DiskGUID {
			t.Errorf("disk GUID %s, expected %s", table.GUID, img.DiskGUID)
		}
		p, ok := table.GetPartition(1)
		if !ok {
			t.Fatal("partition 1 missing")
		}
		if p.Name != efiimg.DefaultPartitionName || p.Type != gpt.EFISystemPartition || p.GUID != img.PartitionGUID {
			t.Errorf("partition %q of type %s with GUID %s", p.Name, p.Type, p.GUID)
		}
		if p.Start != 34 || p.Size != uint64(vol.Size) {
			t.Errorf("partition at %d of %d bytes, expected 34 and %d", p.Start, p.Size, vol.Size)
		}
	})
}

func TestBuildGPTDiskOptions(t *testing.T) {
	vol := buildVolume(t, 100)

	t.Run("fixed GUIDs and name", func(t *testing.T) {
		opts := quietGPTOptions()
		opts.DiskGUID = "5ca3360b-5de6-4fcf-b4ce-419cee433b51"
		opts.PartitionGUID = "8F1F5C44-9F4B-4E34-9B1D-7B1E6F3A7C21"
		opts.PartitionName = "ESP"
		img, err := efiimg.BuildGPTDisk(vol, filepath.Join(t.TempDir(), "fixed.gdt"), opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.DiskGUID != "5CA3360B-5DE6-4FCF-B4CE-419CEE433B51" || img.PartitionGUID != opts.PartitionGUID {
			t.Errorf("GUIDs %s and %s", img.DiskGUID, img.PartitionGUID)
		}
	})

	t.Run("aligned", func(t *testing.T) {
		opts := quietGPTOptions()
		opts.Alignment = 2048
		opts.Reserve = 2 * efiimg.MiB
		img, err := efiimg.BuildGPTDisk(vol, filepath.Join(t.TempDir(), "aligned.gdt"), opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.StartLBA != 2048 || img.Size != vol.Size+2*efiimg.MiB {
			t.Errorf("partition at LBA %d on %d bytes", img.StartLBA, img.Size)
		}
	})

	t.Run("4k blocks", func(t *testing.T) {
		opts := quietGPTOptions()
		opts.LogicalBlockSize = 4096
		diskPath := filepath.Join(t.TempDir(), "4k.gdt")
		img, err := efiimg.BuildGPTDisk(vol, diskPath, opts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if img.StartLBA != 6 {
			t.Errorf("partition at LBA %d, expected 6", img.StartLBA)
		}
		d, err := efiimg.Open(diskPath, efiimg.WithOpenMode(efiimg.ReadOnly), efiimg.WithSectorSize(efiimg.SectorSize4k))
		if err != nil {
			t.Fatalf("unable to open disk: %v", err)
		}
		defer d.Close()
		if _, err := d.GetPartitionTable(); err != nil {
			t.Fatalf("unable to read partition table: %v", err)
		}
		fs, err := d.GetFilesystem(img.PartitionIndex)
		if err != nil {
			t.Fatalf("unable to read filesystem: %v", err)
		}
		if fs.Label() != efiimg.DefaultVolumeLabel {
			t.Errorf("label %q", fs.Label())
		}
	})

	t.Run("no verify", func(t *testing.T) {
		opts := quietGPTOptions()
		opts.Verify = false
		if _, err := efiimg.BuildGPTDisk(vol, filepath.Join(t.TempDir(), "unverified.gdt"), opts); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("replaces existing", func(t *testing.T) {
		diskPath := filepath.Join(t.TempDir(), "old.gdt")
		if err := os.WriteFile(diskPath, make([]byte, 10*efiimg.MiB), 0o644); err != nil {
			t.Fatalf("unable to write stale disk: %v", err)
		}
		img, err := efiimg.BuildGPTDisk(vol, diskPath, quietGPTOptions())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		info, err := os.Stat(diskPath)
		if err != nil {
			t.Fatalf("unable to stat disk: %v", err)
		}
		if info.Size() != img.Size {
			t.Errorf("disk is %d bytes, expected %d", info.Size(), img.Size)
		}
	})
}

func TestBuildGPTDiskErrors(t *testing.T) {
	vol := buildVolume(t, 100)
	dir := t.TempDir()

	tableErrors := []struct {
		name   string
		modify func(*efiimg.GPTOptions)
	}{
		{"reserve below overhead", func(o *efiimg.GPTOptions) { o.Reserve = gpt.Overhead(512, gpt.DefaultPartitionEntries) - 512 }},
		{"reserve of one page", func(o *efiimg.GPTOptions) { o.Reserve = 4096 }},
		{"reserve not block aligned", func(o *efiimg.GPTOptions) { o.Reserve = 64*efiimg.KiB + 100 }},
		{"negative reserve", func(o *efiimg.GPTOptions) { o.Reserve = -1 }},
		{"bad block size", func(o *efiimg.GPTOptions) { o.LogicalBlockSize = 1024 }},
		{"bad disk GUID", func(o *efiimg.GPTOptions) { o.DiskGUID = "not-a-guid" }},
		{"bad partition GUID", func(o *efiimg.GPTOptions) { o.PartitionGUID = "1234" }},
		{"bad partition type", func(o *efiimg.GPTOptions) { o.PartitionType = "EFI" }},
		{"name too long", func(o *efiimg.GPTOptions) { o.PartitionName = strings.Repeat("x", 37) }},
		{"alignment past the end", func(o *efiimg.GPTOptions) { o.Alignment = 1 << 20 }},
	}
	for _, tt := range tableErrors {
		t.Run(tt.name, func(t *testing.T) {
			opts := quietGPTOptions()
			tt.modify(opts)
			_, err := efiimg.BuildGPTDisk(vol, filepath.Join(dir, "table.gdt"), opts)
			var ptErr *efiimg.PartitionTableError
			if !errors.As(err, &ptErr) {
				t.Errorf("error %v, expected PartitionTableError", err)
			}
		})
	}

	t.Run("no volume", func(t *testing.T) {
		_, err := efiimg.BuildGPTDisk(nil, filepath.Join(dir, "nil.gdt"), quietGPTOptions())
		var internal *efiimg.InternalError
		if !errors.As(err, &internal) {
			t.Errorf("error %v, expected InternalError", err)
		}
	})
	t.Run("volume missing", func(t *testing.T) {
		missing := &efiimg.FatVolume{Path: filepath.Join(dir, "gone.fat"), Size: efiimg.MiB}
		_, err := efiimg.BuildGPTDisk(missing, filepath.Join(dir, "missing.gdt"), quietGPTOptions())
		var ioErr *efiimg.IoError
		if !errors.As(err, &ioErr) || !errors.Is(err, os.ErrNotExist) {
			t.Errorf("error %v, expected IoError for a missing file", err)
		}
	})
	t.Run("volume size mismatch", func(t *testing.T) {
		wrong := &efiimg.FatVolume{Path: vol.Path, Size: 2 * efiimg.MiB}
		_, err := efiimg.BuildGPTDisk(wrong, filepath.Join(dir, "mismatch.gdt"), quietGPTOptions())
		var ioErr *efiimg.IoError
		if !errors.As(err, &ioErr) {
			t.Errorf("error %v, expected IoError", err)
		}
	})
	t.Run("volume size unaligned", func(t *testing.T) {
		wrong := &efiimg.FatVolume{Path: vol.Path, Size: vol.Size - 100}
		_, err := efiimg.BuildGPTDisk(wrong, filepath.Join(dir, "unaligned.gdt"), quietGPTOptions())
		var ptErr *efiimg.PartitionTableError
		if !errors.As(err, &ptErr) {
			t.Errorf("error %v, expected PartitionTableError", err)
		}
	})
}
