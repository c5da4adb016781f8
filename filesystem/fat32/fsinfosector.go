package fat32

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const fsInfoSectorSize = 512

var (
	fsInfoLeadSignature   = []byte{0x52, 0x52, 0x61, 0x41}
	fsInfoStructSignature = []byte{0x72, 0x72, 0x41, 0x61}
	fsInfoTrailSignature  = []byte{0x00, 0x00, 0x55, 0xaa}
)

// FSInformationSector is a structure holding the FAT32 filesystem information sector
type FSInformationSector struct {
	freeDataClustersCount uint32
	lastAllocatedCluster  uint32
}

// fsInformationSectorFromBytes create an FSInformationSector struct from bytes
func fsInformationSectorFromBytes(b []byte) (*FSInformationSector, error) {
	if len(b) != fsInfoSectorSize {
		return nil, fmt.Errorf("cannot read FAT32 FS Information Sector from %d bytes instead of expected %d", len(b), fsInfoSectorSize)
	}
	if !bytes.Equal(b[0:4], fsInfoLeadSignature) {
		return nil, fmt.Errorf("invalid signature at beginning of FAT 32 Filesystem Information Sector: %x", b[0:4])
	}
	if !bytes.Equal(b[484:488], fsInfoStructSignature) {
		return nil, fmt.Errorf("invalid signature at middle of FAT 32 Filesystem Information Sector: %x", b[484:488])
	}
	if !bytes.Equal(b[508:512], fsInfoTrailSignature) {
		return nil, fmt.Errorf("invalid signature at end of FAT 32 Filesystem Information Sector: %x", b[508:512])
	}
	return &FSInformationSector{
		freeDataClustersCount: binary.LittleEndian.Uint32(b[488:492]),
		lastAllocatedCluster:  binary.LittleEndian.Uint32(b[492:496]),
	}, nil
}

// toBytes returns a FAT32 FS information sector ready to be written to disk
func (fsis *FSInformationSector) toBytes() []byte {
	b := make([]byte, fsInfoSectorSize)
	copy(b[0:4], fsInfoLeadSignature)
	copy(b[484:488], fsInfoStructSignature)
	binary.LittleEndian.PutUint32(b[488:492], fsis.freeDataClustersCount)
	binary.LittleEndian.PutUint32(b[492:496], fsis.lastAllocatedCluster)
	copy(b[508:512], fsInfoTrailSignature)
	return b
}
