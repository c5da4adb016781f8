package efiimg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/sirupsen/logrus"
	"gopkg.in/djherbis/times.v1"

	"github.com/diskfs/go-efiimg/disk"
	"github.com/diskfs/go-efiimg/filesystem"
	"github.com/diskfs/go-efiimg/filesystem/fat32"
)

// copyBufferSize is how much of the executable goes to the volume per write,
// every write may grow the cluster chain and rewrite the directory entry
const copyBufferSize = MiB

// FatVolume is a finished FAT volume image. Only its location and length are
// needed to embed it in a disk.
type FatVolume struct {
	Path string
	Size int64
}

// FatVolumeSize returns the size of the FAT volume that holds an executable
// of exeSize bytes: exeSize rounded up to a whole MiB. Exact multiples are
// not rounded further.
func FatVolumeSize(exeSize int64) (int64, error) {
	if exeSize < 0 {
		return 0, fmt.Errorf("invalid executable size %d", exeSize)
	}
	if exeSize == 0 {
		return 0, ErrEmptyExecutable
	}
	return ((exeSize-1)/MiB + 1) * MiB, nil
}

// removeExisting deletes a previous output at p so the new one can be created
// exclusively. Anything but a regular file is left alone and reported.
func removeExisting(p string) error {
	info, err := os.Lstat(p)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	case !info.Mode().IsRegular():
		return fmt.Errorf("%s exists and is not a regular file", p)
	}
	return os.Remove(p)
}

// BuildFatVolume formats a FAT volume at fatPath just large enough for the
// executable and copies the executable to EFI/BOOT/BOOTX64.EFI on it. Any
// existing file at fatPath is replaced.
func BuildFatVolume(executablePath, fatPath string, opts *FatOptions) (*FatVolume, error) {
	opts = opts.withDefaults()
	log := opts.Logger.WithFields(logrus.Fields{"executable": executablePath, "path": fatPath})

	info, err := os.Stat(executablePath)
	if err != nil {
		return nil, &IoError{Op: "stat executable", Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &IoError{Op: "stat executable", Err: fmt.Errorf("%s is not a regular file", executablePath)}
	}
	size, err := FatVolumeSize(info.Size())
	if err != nil {
		return nil, &IoError{Op: "size FAT volume", Err: err}
	}
	log.WithFields(logrus.Fields{"exe_size": info.Size(), "size": size}).Debug("sized FAT volume")

	if err := removeExisting(fatPath); err != nil {
		return nil, &IoError{Op: "remove previous FAT volume", Err: err}
	}
	d, err := Create(fatPath, size, SectorSize512)
	if err != nil {
		return nil, &IoError{Op: "create FAT volume", Err: err}
	}
	defer d.Close()

	fs, err := d.CreateFilesystem(disk.FilesystemSpec{
		Partition:   0,
		FSType:      filesystem.TypeFat32,
		VolumeLabel: opts.VolumeLabel,
		FATType:     opts.FATType,
		VolumeID:    opts.VolumeID,
		Timestamp:   opts.Timestamp,
	})
	if err != nil {
		return nil, &FilesystemError{Op: "format", Err: err}
	}
	if fat, ok := fs.(*fat32.FileSystem); ok {
		log.WithFields(logrus.Fields{
			"fat_type":     fat.FATType().String(),
			"cluster_size": fat.BytesPerCluster(),
			"free":         fat.FreeBytes(),
		}).Debug("formatted FAT volume")
	}

	if err := populate(fs, executablePath, info.Size()); err != nil {
		return nil, err
	}

	if opts.PreserveTimes {
		ts, err := times.Stat(executablePath)
		if err != nil {
			return nil, &IoError{Op: "read executable times", Err: err}
		}
		ctime := ts.ModTime()
		if ts.HasBirthTime() {
			ctime = ts.BirthTime()
		}
		if err := fs.Chtimes(BootPath, ctime, ts.AccessTime(), ts.ModTime()); err != nil {
			return nil, &FilesystemError{Op: "set times", Err: err}
		}
	}

	if err := d.Close(); err != nil {
		return nil, &IoError{Op: "close FAT volume", Err: err}
	}
	log.WithField("size", size).Info("FAT volume complete")
	return &FatVolume{Path: fatPath, Size: size}, nil
}

// populate creates the boot directory tree and copies exeSize bytes of the
// executable to BootPath.
func populate(fs filesystem.FileSystem, executablePath string, exeSize int64) error {
	for _, dir := range []string{path.Dir(path.Dir(BootPath)), path.Dir(BootPath)} {
		if err := fs.Mkdir(dir); err != nil {
			return &FilesystemError{Op: "mkdir " + dir, Err: err}
		}
	}

	src, err := os.Open(executablePath)
	if err != nil {
		return &IoError{Op: "open executable", Err: err}
	}
	defer src.Close()

	dst, err := fs.OpenFile(BootPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return &FilesystemError{Op: "create " + BootPath, Err: err}
	}
	defer dst.Close()

	// the LimitReader hides os.File's WriterTo so our buffer size is used
	written, err := io.CopyBuffer(dst, io.LimitReader(src, exeSize), make([]byte, copyBufferSize))
	switch {
	case errors.Is(err, fat32.ErrNoSpace):
		return &FilesystemError{Op: "copy executable", Err: err}
	case err != nil:
		return &IoError{Op: "copy executable", Err: err}
	case written != exeSize:
		return &IoError{Op: "copy executable", Err: fmt.Errorf("copied %d bytes of %d, executable shrank while reading", written, exeSize)}
	}
	return nil
}
