package efiimg

import (
	"github.com/sirupsen/logrus"
)

// Result holds both outputs of Build.
type Result struct {
	Fat  *FatVolume
	Disk *DiskImage
}

// Build turns the EFI executable at executablePath into a FAT volume at
// fatPath and a GPT disk image at diskPath that carries the volume as its EFI
// System Partition. nil opts means DefaultOptions. A failure leaves whatever
// was already written in place.
func Build(executablePath, fatPath, diskPath string, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	fatOpts := opts.Fat
	if fatOpts.Logger == nil {
		fatOpts.Logger = logger
	}
	gptOpts := opts.GPT
	if gptOpts.Logger == nil {
		gptOpts.Logger = logger
	}
	log := logger.WithField("executable", executablePath)

	log.Debug("building FAT volume")
	vol, err := BuildFatVolume(executablePath, fatPath, &fatOpts)
	if err != nil {
		log.WithError(err).Error("FAT volume failed")
		return nil, err
	}

	log.Debug("assembling disk")
	img, err := BuildGPTDisk(vol, diskPath, &gptOpts)
	if err != nil {
		log.WithError(err).Error("disk assembly failed")
		return &Result{Fat: vol}, err
	}

	log.WithFields(logrus.Fields{
		"fat":       vol.Path,
		"fat_size":  vol.Size,
		"disk":      img.Path,
		"disk_size": img.Size,
	}).Info("build complete")
	return &Result{Fat: vol, Disk: img}, nil
}
