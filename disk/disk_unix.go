//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package disk

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	blkrrpart = 0x125f
)

// ReReadPartitionTable asks the kernel to pick up a freshly written table
// with BLKRRPART. Image files have nothing to re-read.
func (d *Disk) ReReadPartitionTable() error {
	devType, err := DetermineDeviceType(d.Backend)
	if err != nil {
		return err
	}
	if devType != DeviceTypeBlockDevice {
		return nil
	}
	f, err := d.Backend.Sys()
	if err != nil {
		return fmt.Errorf("unable to get device of disk: %w", err)
	}
	if _, err := unix.IoctlGetInt(int(f.Fd()), blkrrpart); err != nil {
		return fmt.Errorf("unable to re-read the partition table of %s, kernel still uses the old one: %w", f.Name(), err)
	}
	return nil
}
