package fat32

import (
	"encoding/binary"
	"fmt"
)

const dos331BPBSize = 25

// dos331BPB is the DOS 3.31 BIOS Parameter Block
type dos331BPB struct {
	dos20BPB        *dos20BPB // Dos20BPB holds the embedded DOS 2.0 BPB
	sectorsPerTrack uint16    // SectorsPerTrack is number of sectors per track. May be unused when LBA-only access is in place, but should store some value for safety.
	heads           uint16    // Heads is the number of heads. May be unused when LBA-only access is in place, but should store some value for safety. Maximum 255.
	hiddenSectors   uint32    // HiddenSectors is the number of hidden sectors preceding the partition that contains the FAT volume. Should be 0 on non-partitioned media.
	totalSectors    uint32    // TotalSectors is the total sectors if too many to fit into the DOS 2.0 BPB TotalSectors. In practice, if the DOS 2.0 TotalSectors is 0 and this is non-zero, use this one.
}

// sectors returns the total sector count from whichever field holds it
func (bpb *dos331BPB) sectors() uint32 {
	if bpb.dos20BPB.totalSectors != 0 {
		return uint32(bpb.dos20BPB.totalSectors)
	}
	return bpb.totalSectors
}

// toBytes returns the bytes for a DOS 3.31 BIOS Parameter Block, ready to be written to disk
func (bpb *dos331BPB) toBytes() []byte {
	b := make([]byte, dos331BPBSize)
	copy(b[0:dos20BPBSize], bpb.dos20BPB.toBytes())
	binary.LittleEndian.PutUint16(b[13:15], bpb.sectorsPerTrack)
	binary.LittleEndian.PutUint16(b[15:17], bpb.heads)
	binary.LittleEndian.PutUint32(b[17:21], bpb.hiddenSectors)
	binary.LittleEndian.PutUint32(b[21:25], bpb.totalSectors)
	return b
}

// dos331BPBFromBytes reads the DOS 3.31 BIOS Parameter Block from a slice of exactly 25 bytes
func dos331BPBFromBytes(b []byte) (*dos331BPB, error) {
	if len(b) != dos331BPBSize {
		return nil, fmt.Errorf("cannot read DOS 3.31 BPB from invalid byte slice, must be precisely %d bytes", dos331BPBSize)
	}
	dos20bpb, err := dos20BPBFromBytes(b[0:dos20BPBSize])
	if err != nil {
		return nil, fmt.Errorf("error reading embedded DOS 2.0 BPB: %w", err)
	}
	return &dos331BPB{
		dos20BPB:        dos20bpb,
		sectorsPerTrack: binary.LittleEndian.Uint16(b[13:15]),
		heads:           binary.LittleEndian.Uint16(b[15:17]),
		hiddenSectors:   binary.LittleEndian.Uint32(b[17:21]),
		totalSectors:    binary.LittleEndian.Uint32(b[21:25]),
	}, nil
}
