package disk

import (
	"fmt"
	iofs "io/fs"
	"os"
)

// DeviceType tells image files apart from block devices
type DeviceType int

const (
	DeviceTypeUnknown DeviceType = iota
	DeviceTypeFile
	DeviceTypeBlockDevice
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeFile:
		return "file"
	case DeviceTypeBlockDevice:
		return "block device"
	default:
		return "unknown"
	}
}

// DetermineDeviceType reports whether f is a regular file or a block device.
// Anything else is an error.
func DetermineDeviceType(f iofs.File) (DeviceType, error) {
	info, err := f.Stat()
	if err != nil {
		return DeviceTypeUnknown, fmt.Errorf("could not stat file: %w", err)
	}
	mode := info.Mode()
	switch {
	case mode.IsRegular():
		return DeviceTypeFile, nil
	case mode&os.ModeDevice != 0:
		return DeviceTypeBlockDevice, nil
	default:
		return DeviceTypeUnknown, fmt.Errorf("device %s is neither a block device nor a regular file", info.Name())
	}
}
