//go:build !(aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris)

package disk

// ReReadPartitionTable is a no-op on platforms without BLKRRPART
func (d *Disk) ReReadPartitionTable() error {
	return nil
}
