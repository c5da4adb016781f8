package fat32

import (
	"fmt"
)

const (
	KB int64 = 1024
	MB int64 = 1024 * KB
	GB int64 = 1024 * MB

	maxClusterSize = 32 * KB
	fatCount       = 2

	// root directory entries on FAT12 and FAT16, where the root is a fixed region
	legacyRootEntries = 512
	dirEntrySize      = 32
	fat32Reserved     = 32
	legacyReserved    = 1
	fsInfoSector      = 1
	backupBootSector  = 6
	rootCluster       = 2
	sectorsPerTrack   = 63
	heads             = 255
	driveNumberFixed  = 0x80
	maxLayoutAttempts = 8
)

// layout is the on-disk geometry of a volume
type layout struct {
	fatType           FATType
	bytesPerSector    int
	sectorsPerCluster int
	reservedSectors   int
	rootEntries       int
	rootDirSectors    int
	sectorsPerFat     int
	totalSectors      int
	clusterCount      uint32
}

func (l *layout) bytesPerCluster() int {
	return l.bytesPerSector * l.sectorsPerCluster
}

func (l *layout) fatStart() int64 {
	return int64(l.reservedSectors) * int64(l.bytesPerSector)
}

func (l *layout) rootDirStart() int64 {
	return l.fatStart() + int64(fatCount*l.sectorsPerFat)*int64(l.bytesPerSector)
}

func (l *layout) dataStart() int64 {
	return l.rootDirStart() + int64(l.rootDirSectors)*int64(l.bytesPerSector)
}

// selectFATType picks the narrowest type whose cluster-count range a volume of size bytes lands in
func selectFATType(size int64) FATType {
	switch {
	case size < 4*MB:
		return FAT12
	case size < 512*MB:
		return FAT16
	default:
		return FAT32
	}
}

// defaultClusterSize is the starting point for the cluster size search
func defaultClusterSize(fatType FATType, size, sectorSize int64) int64 {
	var c int64
	switch fatType {
	case FAT12:
		c = nextPow2(size) / MB * 512
	case FAT16:
		switch {
		case size <= 16*MB:
			c = KB
		case size <= 128*MB:
			c = 2 * KB
		default:
			c = nextPow2(size) / (64 * MB) * KB
		}
	default:
		switch {
		case size <= 260*MB:
			c = 512
		case size <= 8*GB:
			c = 4 * KB
		case size <= 16*GB:
			c = 8 * KB
		case size <= 32*GB:
			c = 16 * KB
		default:
			c = 32 * KB
		}
	}
	if c < sectorSize {
		c = sectorSize
	}
	if c > maxClusterSize {
		c = maxClusterSize
	}
	return c
}

// computeLayout works out the geometry of a volume of size bytes. When
// fatType is FATAuto the type follows from the size. The cluster size starts
// from a size-based default and is doubled or halved until the cluster count
// is valid for the type.
func computeLayout(size, sectorSize int64, fatType FATType) (*layout, error) {
	if !validSectorSize(uint16(sectorSize)) {
		return nil, fmt.Errorf("invalid sector size %d, must be 512, 1024, 2048 or 4096", sectorSize)
	}
	if fatType == FATAuto {
		fatType = selectFATType(size)
	}
	switch fatType {
	case FAT12, FAT16, FAT32:
	default:
		return nil, fmt.Errorf("unsupported FAT type %d", fatType)
	}
	totalSectors := size / sectorSize
	if totalSectors > 0xffffffff {
		return nil, fmt.Errorf("volume of %d bytes has more sectors than FAT can address", size)
	}

	l := &layout{
		fatType:         fatType,
		bytesPerSector:  int(sectorSize),
		reservedSectors: legacyReserved,
		rootEntries:     legacyRootEntries,
		totalSectors:    int(totalSectors),
	}
	if fatType == FAT32 {
		l.reservedSectors = fat32Reserved
		l.rootEntries = 0
	}
	l.rootDirSectors = (l.rootEntries*dirEntrySize + l.bytesPerSector - 1) / l.bytesPerSector

	clusterSize := defaultClusterSize(fatType, size, sectorSize)
	for attempt := 0; attempt < maxLayoutAttempts; attempt++ {
		l.sectorsPerCluster = int(clusterSize / sectorSize)
		if err := l.solveFat(); err != nil {
			return nil, err
		}
		switch {
		case l.clusterCount > fatType.maxClusters():
			clusterSize *= 2
			if clusterSize > maxClusterSize {
				return nil, fmt.Errorf("volume of %d bytes is too large for %s", size, fatType)
			}
		case l.clusterCount < fatType.minClusters():
			clusterSize /= 2
			if clusterSize < sectorSize {
				return nil, fmt.Errorf("volume of %d bytes is too small for %s", size, fatType)
			}
		default:
			return l, nil
		}
	}
	return nil, fmt.Errorf("could not find a valid cluster size for a %s volume of %d bytes", fatType, size)
}

// solveFat sizes the FAT to cover every cluster of the data area left over
// once that FAT is placed. Growing the FAT only shrinks the data area, so the
// loop terminates.
func (l *layout) solveFat() error {
	fatSectors := 1
	for {
		dataSectors := l.totalSectors - l.reservedSectors - fatCount*fatSectors - l.rootDirSectors
		if dataSectors < l.sectorsPerCluster {
			return fmt.Errorf("volume of %d sectors too small to hold any data clusters", l.totalSectors)
		}
		clusters := dataSectors / l.sectorsPerCluster
		// entries 0 and 1 are reserved
		fatBytes := ((clusters+2)*int(l.fatType) + 7) / 8
		need := (fatBytes + l.bytesPerSector - 1) / l.bytesPerSector
		if need <= fatSectors {
			l.sectorsPerFat = fatSectors
			l.clusterCount = uint32(clusters)
			return nil
		}
		fatSectors = need
	}
}
