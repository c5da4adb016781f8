package efiimg_test

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	efiimg "github.com/diskfs/go-efiimg"
	"github.com/diskfs/go-efiimg/filesystem"
	"github.com/diskfs/go-efiimg/filesystem/fat32"
)

func writeExecutable(t *testing.T, size int) (string, []byte) {
	t.Helper()
	content := make([]byte, size)
	if _, err := rand.Read(content); err != nil {
		t.Fatalf("unable to generate executable: %v", err)
	}
	p := filepath.Join(t.TempDir(), "BOOT.efi")
	if err := os.WriteFile(p, content, 0o644); err != nil {
		t.Fatalf("unable to write executable: %v", err)
	}
	return p, content
}

// quietFatOptions logs to a test hook instead of stderr
func quietFatOptions() (*efiimg.FatOptions, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	opts := efiimg.DefaultFatOptions()
	opts.Logger = logger
	return opts, hook
}

// openVolume reads the filesystem of an image holding nothing but a FAT volume
func openVolume(t *testing.T, p string) filesystem.FileSystem {
	t.Helper()
	d, err := efiimg.Open(p, efiimg.WithOpenMode(efiimg.ReadOnly))
	if err != nil {
		t.Fatalf("unable to open %s: %v", p, err)
	}
	t.Cleanup(func() { _ = d.Close() })
	fs, err := d.GetFilesystem(0)
	if err != nil {
		t.Fatalf("unable to read filesystem of %s: %v", p, err)
	}
	return fs
}

func readBootFile(t *testing.T, fs filesystem.FileSystem) []byte {
	t.Helper()
	f, err := fs.OpenFile(efiimg.BootPath, os.O_RDONLY)
	if err != nil {
		t.Fatalf("unable to open %s: %v", efiimg.BootPath, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("unable to read %s: %v", efiimg.BootPath, err)
	}
	return b
}

func TestFatVolumeSize(t *testing.T) {
	tests := []struct {
		exe      int64
		expected int64
	}{
		{1, oneMB},
		{oneMB - 1, oneMB},
		{oneMB, oneMB},
		{oneMB + 1, 2 * oneMB},
		{10 * oneMB, 10 * oneMB},
		{10*oneMB + 1, 11 * oneMB},
	}
	for _, tt := range tests {
		size, err := efiimg.FatVolumeSize(tt.exe)
		if err != nil {
			t.Errorf("FatVolumeSize(%d) unexpected error: %v", tt.exe, err)
			continue
		}
		if size != tt.expected {
			t.Errorf("FatVolumeSize(%d) = %d, expected %d", tt.exe, size, tt.expected)
		}
		if size < tt.exe || size%oneMB != 0 || size-tt.exe >= oneMB {
			t.Errorf("FatVolumeSize(%d) = %d is not the smallest whole MiB holding it", tt.exe, size)
		}
	}
	if _, err := efiimg.FatVolumeSize(0); !errors.Is(err, efiimg.ErrEmptyExecutable) {
		t.Errorf("error %v, expected %v", err, efiimg.ErrEmptyExecutable)
	}
	if _, err := efiimg.FatVolumeSize(-1); err == nil {
		t.Error("negative size accepted")
	}
}

func TestBuildFatVolume(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		fatType fat32.FATType
	}{
		{"one byte", 1, fat32.FAT12},
		{"2KiB", 2048, fat32.FAT12},
		{"just over a MiB", oneMB + 1, fat32.FAT12},
		{"3MiB", 3*oneMB + 5, fat32.FAT16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exe, content := writeExecutable(t, tt.size)
			fatPath := filepath.Join(t.TempDir(), "boot.fat")
			opts, hook := quietFatOptions()
			vol, err := efiimg.BuildFatVolume(exe, fatPath, opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			expectedSize, _ := efiimg.FatVolumeSize(int64(tt.size))
			if vol.Path != fatPath || vol.Size != expectedSize {
				t.Errorf("volume %+v, expected %s of %d bytes", vol, fatPath, expectedSize)
			}
			info, err := os.Stat(fatPath)
			if err != nil {
				t.Fatalf("unable to stat volume: %v", err)
			}
			if info.Size() != expectedSize {
				t.Errorf("volume file is %d bytes, expected %d", info.Size(), expectedSize)
			}

			fs := openVolume(t, fatPath)
			fat, ok := fs.(*fat32.FileSystem)
			if !ok {
				t.Fatalf("filesystem is %T", fs)
			}
			if fat.FATType() != tt.fatType {
				t.Errorf("FAT type %s, expected %s", fat.FATType(), tt.fatType)
			}
			if fat.Label() != efiimg.DefaultVolumeLabel {
				t.Errorf("label %q, expected %q", fat.Label(), efiimg.DefaultVolumeLabel)
			}
			if got := readBootFile(t, fs); !bytes.Equal(got, content) {
				t.Errorf("BOOTX64.EFI holds %d bytes that differ from the %d byte executable", len(got), len(content))
			}
			if last := hook.LastEntry(); last == nil || last.Message != "FAT volume complete" {
				t.Errorf("last log entry %v, expected completion", last)
			}
		})
	}
}

func TestBuildFatVolumeOptions(t *testing.T) {
	exe, _ := writeExecutable(t, 4096)
	fatPath := filepath.Join(t.TempDir(), "boot.fat")
	stamp := time.Date(2022, 2, 22, 22, 22, 22, 0, time.UTC)
	opts, _ := quietFatOptions()
	opts.VolumeLabel = "my esp"
	opts.VolumeID = 0xCAFEF00D
	opts.Timestamp = stamp
	if _, err := efiimg.BuildFatVolume(exe, fatPath, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fs := openVolume(t, fatPath)
	fat := fs.(*fat32.FileSystem)
	if fat.Label() != "MY ESP" {
		t.Errorf("label %q, expected MY ESP", fat.Label())
	}
	if fat.VolumeID() != 0xCAFEF00D {
		t.Errorf("volume ID %#x", fat.VolumeID())
	}
	entries, err := fs.ReadDir("/EFI/BOOT")
	if err != nil {
		t.Fatalf("unable to read boot directory: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "BOOTX64.EFI" {
		t.Fatalf("unexpected boot directory contents %v", entries)
	}
	if !entries[0].ModTime().Equal(stamp) {
		t.Errorf("modification time %v, expected %v", entries[0].ModTime(), stamp)
	}
}

func TestBuildFatVolumePreserveTimes(t *testing.T) {
	exe, _ := writeExecutable(t, 100)
	mtime := time.Date(2019, 5, 6, 10, 20, 30, 0, time.UTC)
	if err := os.Chtimes(exe, mtime, mtime); err != nil {
		t.Fatalf("unable to set times: %v", err)
	}
	fatPath := filepath.Join(t.TempDir(), "boot.fat")
	opts, _ := quietFatOptions()
	opts.PreserveTimes = true
	opts.Timestamp = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := efiimg.BuildFatVolume(exe, fatPath, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries, err := openVolume(t, fatPath).ReadDir("/EFI/BOOT")
	if err != nil {
		t.Fatalf("unable to read boot directory: %v", err)
	}
	if !entries[0].ModTime().Equal(mtime) {
		t.Errorf("modification time %v, expected %v", entries[0].ModTime(), mtime)
	}
}

func TestBuildFatVolumeReplacesOutput(t *testing.T) {
	exe, content := writeExecutable(t, 1000)
	fatPath := filepath.Join(t.TempDir(), "boot.fat")
	if err := os.WriteFile(fatPath, bytes.Repeat([]byte{0xff}, 3*oneMB), 0o644); err != nil {
		t.Fatalf("unable to write stale output: %v", err)
	}
	opts, _ := quietFatOptions()
	if _, err := efiimg.BuildFatVolume(exe, fatPath, opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	info, err := os.Stat(fatPath)
	if err != nil {
		t.Fatalf("unable to stat volume: %v", err)
	}
	if info.Size() != oneMB {
		t.Errorf("volume is %d bytes, expected %d", info.Size(), oneMB)
	}
	if !bytes.Equal(readBootFile(t, openVolume(t, fatPath)), content) {
		t.Error("executable not found on the replaced volume")
	}
}

func TestBuildFatVolumeErrors(t *testing.T) {
	dir := t.TempDir()
	opts, _ := quietFatOptions()

	t.Run("missing executable", func(t *testing.T) {
		_, err := efiimg.BuildFatVolume(filepath.Join(dir, "missing.efi"), filepath.Join(dir, "a.fat"), opts)
		var ioErr *efiimg.IoError
		if !errors.As(err, &ioErr) || !errors.Is(err, os.ErrNotExist) {
			t.Errorf("error %v, expected IoError for a missing file", err)
		}
	})
	t.Run("directory as executable", func(t *testing.T) {
		_, err := efiimg.BuildFatVolume(dir, filepath.Join(dir, "b.fat"), opts)
		var ioErr *efiimg.IoError
		if !errors.As(err, &ioErr) {
			t.Errorf("error %v, expected IoError", err)
		}
	})
	t.Run("empty executable", func(t *testing.T) {
		exe := filepath.Join(dir, "empty.efi")
		if err := os.WriteFile(exe, nil, 0o644); err != nil {
			t.Fatalf("unable to write executable: %v", err)
		}
		_, err := efiimg.BuildFatVolume(exe, filepath.Join(dir, "c.fat"), opts)
		var ioErr *efiimg.IoError
		if !errors.As(err, &ioErr) || !errors.Is(err, efiimg.ErrEmptyExecutable) {
			t.Errorf("error %v, expected IoError wrapping %v", err, efiimg.ErrEmptyExecutable)
		}
		if _, err := os.Stat(filepath.Join(dir, "c.fat")); !errors.Is(err, os.ErrNotExist) {
			t.Error("volume created for an empty executable")
		}
	})
	t.Run("output is a directory", func(t *testing.T) {
		exe, _ := writeExecutable(t, 10)
		out := filepath.Join(dir, "taken")
		if err := os.Mkdir(out, 0o755); err != nil {
			t.Fatalf("unable to create directory: %v", err)
		}
		_, err := efiimg.BuildFatVolume(exe, out, opts)
		var ioErr *efiimg.IoError
		if !errors.As(err, &ioErr) {
			t.Errorf("error %v, expected IoError", err)
		}
	})
	t.Run("executable fills the volume", func(t *testing.T) {
		// the volume is not grown for filesystem overhead
		exe, _ := writeExecutable(t, oneMB)
		_, err := efiimg.BuildFatVolume(exe, filepath.Join(dir, "d.fat"), opts)
		var fsErr *efiimg.FilesystemError
		if !errors.As(err, &fsErr) || !errors.Is(err, fat32.ErrNoSpace) {
			t.Errorf("error %v, expected FilesystemError wrapping %v", err, fat32.ErrNoSpace)
		}
	})
	t.Run("bad label", func(t *testing.T) {
		exe, _ := writeExecutable(t, 10)
		bad := *opts
		bad.VolumeLabel = "LABEL TOO LONG"
		_, err := efiimg.BuildFatVolume(exe, filepath.Join(dir, "e.fat"), &bad)
		var fsErr *efiimg.FilesystemError
		if !errors.As(err, &fsErr) {
			t.Errorf("error %v, expected FilesystemError", err)
		}
	})
	t.Run("forced type does not fit", func(t *testing.T) {
		exe, _ := writeExecutable(t, 10)
		bad := *opts
		bad.FATType = fat32.FAT32
		_, err := efiimg.BuildFatVolume(exe, filepath.Join(dir, "f.fat"), &bad)
		var fsErr *efiimg.FilesystemError
		if !errors.As(err, &fsErr) {
			t.Errorf("error %v, expected FilesystemError", err)
		}
	})
}
