package fat32

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// dos40EBPBSize covers offsets 11 through 61 of a FAT12 or FAT16 boot sector
const dos40EBPBSize = 51

// dos40EBPB is the DOS 4.0 Extended BIOS Parameter Block used by FAT12 and FAT16
type dos40EBPB struct {
	dos331BPB             *dos331BPB
	driveNumber           uint8  // 0x80 for a fixed disk
	reservedFlags         uint8  // mostly unused
	extendedBootSignature uint8  // 0x29 when the three fields below are present
	volumeSerialNumber    uint32 // usually generated from the format time
	volumeLabel           string // 11 bytes, space padded
	fileSystemType        string // 8 bytes, informational only
}

// toBytes returns the Extended BIOS Parameter Block in a slice of bytes directly ready to write to disk
func (bpb *dos40EBPB) toBytes() ([]byte, error) {
	b := make([]byte, dos40EBPBSize)
	copy(b[0:dos331BPBSize], bpb.dos331BPB.toBytes())
	b[25] = bpb.driveNumber
	b[26] = bpb.reservedFlags
	b[27] = bpb.extendedBootSignature
	binary.LittleEndian.PutUint32(b[28:32], bpb.volumeSerialNumber)
	if len(bpb.volumeLabel) > 11 {
		return nil, fmt.Errorf("invalid volume label: too long at %d characters, maximum is %d", len(bpb.volumeLabel), 11)
	}
	copy(b[32:43], padRight(bpb.volumeLabel, 11))
	if len(bpb.fileSystemType) > 8 {
		return nil, fmt.Errorf("invalid filesystem type: too long at %d characters, maximum is %d", len(bpb.fileSystemType), 8)
	}
	copy(b[43:51], padRight(bpb.fileSystemType, 8))
	return b, nil
}

// dos40EBPBFromBytes reads the FAT12/16 Extended BIOS Parameter Block from a slice of exactly 51 bytes
func dos40EBPBFromBytes(b []byte) (*dos40EBPB, error) {
	if len(b) != dos40EBPBSize {
		return nil, fmt.Errorf("cannot read DOS 4.0 EBPB from invalid byte slice, must be precisely %d bytes", dos40EBPBSize)
	}
	dos331bpb, err := dos331BPBFromBytes(b[0:dos331BPBSize])
	if err != nil {
		return nil, fmt.Errorf("could not read embedded DOS 3.31 BPB: %w", err)
	}
	bpb := dos40EBPB{
		dos331BPB:             dos331bpb,
		driveNumber:           b[25],
		reservedFlags:         b[26],
		extendedBootSignature: b[27],
	}
	// the serial number, label and type exist only with the 0x29 signature
	if bpb.extendedBootSignature == longEBPBSignature {
		bpb.volumeSerialNumber = binary.LittleEndian.Uint32(b[28:32])
		bpb.volumeLabel = strings.TrimRight(string(b[32:43]), " ")
		bpb.fileSystemType = strings.TrimRight(string(b[43:51]), " ")
	}
	return &bpb, nil
}
