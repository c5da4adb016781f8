package efiimg_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	efiimg "github.com/diskfs/go-efiimg"
	"github.com/diskfs/go-efiimg/converter"
	"github.com/diskfs/go-efiimg/partition/gpt"
	"github.com/diskfs/go-efiimg/sync"
)

func TestBuild(t *testing.T) {
	exe, content := writeExecutable(t, 2048)
	dir := t.TempDir()
	fatPath := filepath.Join(dir, "kernel.fat")
	diskPath := filepath.Join(dir, "kernel.gdt")

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts := efiimg.DefaultOptions()
	opts.Logger = logger

	result, err := efiimg.Build(exe, fatPath, diskPath, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Fat.Size != efiimg.MiB || result.Disk.Size != efiimg.MiB+efiimg.DefaultReserve {
		t.Errorf("sizes %d and %d", result.Fat.Size, result.Disk.Size)
	}

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
	p, ok := table.GetPartition(result.Disk.PartitionIndex)
	if !ok {
		t.Fatalf("partition %d missing", result.Disk.PartitionIndex)
	}
	if p.Name != "boot" || p.Type != gpt.EFISystemPartition {
		t.Errorf("partition %q of type %s", p.Name, p.Type)
	}

	fs, err := d.GetFilesystem(result.Disk.PartitionIndex)
	if err != nil {
		t.Fatalf("unable to read filesystem: %v", err)
	}
	if fs.Label() != "EFI" {
		t.Errorf("label %q", fs.Label())
	}
	expected := fstest.MapFS{
		"EFI/BOOT/BOOTX64.EFI": &fstest.MapFile{Data: content},
	}
	if err := sync.CompareFS(expected, converter.FS(fs)); err != nil {
		t.Errorf("filesystem contents: %v", err)
	}

	// both steps and the summary were logged through the one logger
	messages := map[string]bool{}
	for _, e := range hook.AllEntries() {
		messages[e.Message] = true
	}
	for _, m := range []string{"FAT volume complete", "disk image complete", "build complete"} {
		if !messages[m] {
			t.Errorf("missing log entry %q", m)
		}
	}
}

func TestBuildNilOptions(t *testing.T) {
	logrus.SetLevel(logrus.WarnLevel)
	defer logrus.SetLevel(logrus.InfoLevel)

	exe, _ := writeExecutable(t, 10)
	dir := t.TempDir()
	result, err := efiimg.Build(exe, filepath.Join(dir, "a.fat"), filepath.Join(dir, "a.gdt"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Disk.StartLBA != 34 {
		t.Errorf("partition at LBA %d, expected 34", result.Disk.StartLBA)
	}
}

func TestBuildFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()
	dir := t.TempDir()

	t.Run("FAT step", func(t *testing.T) {
		opts := efiimg.DefaultOptions()
		opts.Logger = logger
		fatPath := filepath.Join(dir, "missing.fat")
		result, err := efiimg.Build(filepath.Join(dir, "missing.efi"), fatPath, filepath.Join(dir, "missing.gdt"), opts)
		var ioErr *efiimg.IoError
		if !errors.As(err, &ioErr) {
			t.Errorf("error %v, expected IoError", err)
		}
		if result != nil {
			t.Errorf("unexpected result %+v", result)
		}
		if _, err := os.Stat(fatPath); !errors.Is(err, os.ErrNotExist) {
			t.Error("FAT volume written despite the failure")
		}
		if last := hook.LastEntry(); last == nil || last.Level != logrus.ErrorLevel {
			t.Errorf("last log entry %v, expected an error", last)
		}
	})

	t.Run("disk step keeps the volume", func(t *testing.T) {
		exe, _ := writeExecutable(t, 10)
		opts := efiimg.DefaultOptions()
		opts.Logger = logger
		opts.GPT.Reserve = 512
		fatPath := filepath.Join(dir, "kept.fat")
		result, err := efiimg.Build(exe, fatPath, filepath.Join(dir, "kept.gdt"), opts)
		var ptErr *efiimg.PartitionTableError
		if !errors.As(err, &ptErr) {
			t.Errorf("error %v, expected PartitionTableError", err)
		}
		if result == nil || result.Fat == nil || result.Disk != nil {
			t.Fatalf("unexpected result %+v", result)
		}
		if _, err := os.Stat(fatPath); err != nil {
			t.Errorf("FAT volume gone: %v", err)
		}
	})
}
