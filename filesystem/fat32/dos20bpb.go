package fat32

import (
	"encoding/binary"
	"fmt"
)

const dos20BPBSize = 13

// dos20BPB is a DOS 2.0 BIOS Parameter Block structure
type dos20BPB struct {
	bytesPerSector       uint16 // BytesPerSector is bytes in each sector - always should be 512
	sectorsPerCluster    uint8  // SectorsPerCluster is number of sectors per cluster
	reservedSectors      uint16 // ReservedSectors is number of reserved sectors
	fatCount             uint8  // FatCount is total number of FAT tables in the filesystem
	rootDirectoryEntries uint16 // RootDirectoryEntries is maximum number of root directory entries; 0 for FAT32
	totalSectors         uint16 // TotalSectors is total number of sectors in the filesystem if it fits, else 0
	mediaType            uint8  // MediaType is the type of media, mostly unused
	sectorsPerFat        uint16 // SectorsPerFat is number of sectors per each table; 0 for FAT32
}

func validSectorSize(size uint16) bool {
	switch size {
	case 512, 1024, 2048, 4096:
		return true
	}
	return false
}

// toBytes returns the bytes for a DOS 2.0 BIOS Parameter Block, ready to be written to disk
func (bpb *dos20BPB) toBytes() []byte {
	b := make([]byte, dos20BPBSize)
	binary.LittleEndian.PutUint16(b[0:2], bpb.bytesPerSector)
	b[2] = bpb.sectorsPerCluster
	binary.LittleEndian.PutUint16(b[3:5], bpb.reservedSectors)
	b[5] = bpb.fatCount
	binary.LittleEndian.PutUint16(b[6:8], bpb.rootDirectoryEntries)
	binary.LittleEndian.PutUint16(b[8:10], bpb.totalSectors)
	b[10] = bpb.mediaType
	binary.LittleEndian.PutUint16(b[11:13], bpb.sectorsPerFat)
	return b
}

// dos20BPBFromBytes reads the DOS 2.0 BIOS Parameter Block from a slice of exactly 13 bytes
func dos20BPBFromBytes(b []byte) (*dos20BPB, error) {
	if len(b) != dos20BPBSize {
		return nil, fmt.Errorf("cannot read DOS 2.0 BPB from invalid byte slice, must be precisely %d bytes", dos20BPBSize)
	}
	bpb := dos20BPB{}
	sectorSize := binary.LittleEndian.Uint16(b[0:2])
	if !validSectorSize(sectorSize) {
		return nil, fmt.Errorf("invalid sector size %d provided in DOS 2.0 BPB. Must be 512, 1024, 2048 or 4096", sectorSize)
	}
	bpb.bytesPerSector = sectorSize
	bpb.sectorsPerCluster = b[2]
	bpb.reservedSectors = binary.LittleEndian.Uint16(b[3:5])
	bpb.fatCount = b[5]
	bpb.rootDirectoryEntries = binary.LittleEndian.Uint16(b[6:8])
	bpb.totalSectors = binary.LittleEndian.Uint16(b[8:10])
	bpb.mediaType = b[10]
	bpb.sectorsPerFat = binary.LittleEndian.Uint16(b[11:13])
	return &bpb, nil
}
