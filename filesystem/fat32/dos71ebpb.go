package fat32

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// dos71EBPBSize covers offsets 11 through 89 of a FAT32 boot sector
	dos71EBPBSize = 79
	// longEBPBSignature marks an extended BPB that carries serial, label and type
	longEBPBSignature = 0x29
)

// dos71EBPB is the FAT32 Extended BIOS Parameter Block
type dos71EBPB struct {
	dos331BPB             *dos331BPB // Dos331BPB holds the embedded DOS 3.31 BIOS Parameter Block
	sectorsPerFat         uint32     // SectorsPerFat is number of sectors per each table
	mirrorFlags           uint16     // MirrorFlags determines how FAT mirroring is done. If bit 7 is set, use bits 3-0 to determine active number of FATs (zero-based); if bit 7 is clear, use normal FAT mirroring
	version               uint16     // Version is the version of the FAT, must be 0
	rootDirectoryCluster  uint32     // RootDirectoryCluster is the cluster containing the filesystem root directory, normally 2
	fsInformationSector   uint16     // FSInformationSector holds the sector which contains the FSIS
	backupBootSector      uint16     // BackupBootSector holds the sector which contains the backup boot sector
	bootFileName          [12]byte   // BootFileName is reserved and should be all 0x00
	driveNumber           uint8      // DriveNumber is the code for the relevant DOS drive
	reservedFlags         uint8      // ReservedFlags are flags used by the operating system and/or BIOS for various purposes, e.g. Windows NT CHKDSK status, OS/2 desired drive letter, etc.
	extendedBootSignature uint8      // ExtendedBootSignature contains the extended boot signature, 0x29
	volumeSerialNumber    uint32     // VolumeSerialNumber usually generated by some form of date+time
	volumeLabel           string     // VolumeLabel, an arbitrary 11-byte string
	fileSystemType        string     // FileSystemType is the 8-byte string holding the name of the file system type
}

func (bpb *dos71EBPB) equal(a *dos71EBPB) bool {
	if (bpb == nil && a != nil) || (a == nil && bpb != nil) {
		return false
	}
	if bpb == nil && a == nil {
		return true
	}
	return *bpb.dos331BPB.dos20BPB == *a.dos331BPB.dos20BPB &&
		bpb.dos331BPB.sectorsPerTrack == a.dos331BPB.sectorsPerTrack &&
		bpb.dos331BPB.heads == a.dos331BPB.heads &&
		bpb.dos331BPB.hiddenSectors == a.dos331BPB.hiddenSectors &&
		bpb.dos331BPB.totalSectors == a.dos331BPB.totalSectors &&
		bpb.sectorsPerFat == a.sectorsPerFat &&
		bpb.mirrorFlags == a.mirrorFlags &&
		bpb.version == a.version &&
		bpb.rootDirectoryCluster == a.rootDirectoryCluster &&
		bpb.fsInformationSector == a.fsInformationSector &&
		bpb.backupBootSector == a.backupBootSector &&
		bpb.bootFileName == a.bootFileName &&
		bpb.driveNumber == a.driveNumber &&
		bpb.reservedFlags == a.reservedFlags &&
		bpb.extendedBootSignature == a.extendedBootSignature &&
		bpb.volumeSerialNumber == a.volumeSerialNumber &&
		bpb.volumeLabel == a.volumeLabel &&
		bpb.fileSystemType == a.fileSystemType
}

// dos71EBPBFromBytes reads the FAT32 Extended BIOS Parameter Block from a slice of exactly 79 bytes
func dos71EBPBFromBytes(b []byte) (*dos71EBPB, error) {
	if len(b) != dos71EBPBSize {
		return nil, fmt.Errorf("cannot read DOS 7.1 EBPB from invalid byte slice, must be precisely %d bytes", dos71EBPBSize)
	}
	dos331bpb, err := dos331BPBFromBytes(b[0:dos331BPBSize])
	if err != nil {
		return nil, fmt.Errorf("could not read embedded DOS 3.31 BPB: %w", err)
	}
	bpb := dos71EBPB{
		dos331BPB:             dos331bpb,
		sectorsPerFat:         binary.LittleEndian.Uint32(b[25:29]),
		mirrorFlags:           binary.LittleEndian.Uint16(b[29:31]),
		version:               binary.LittleEndian.Uint16(b[31:33]),
		rootDirectoryCluster:  binary.LittleEndian.Uint32(b[33:37]),
		fsInformationSector:   binary.LittleEndian.Uint16(b[37:39]),
		backupBootSector:      binary.LittleEndian.Uint16(b[39:41]),
		driveNumber:           b[53],
		reservedFlags:         b[54],
		extendedBootSignature: b[55],
	}
	copy(bpb.bootFileName[:], b[41:53])
	if bpb.version != 0 {
		return nil, fmt.Errorf("unsupported FAT32 version %d", bpb.version)
	}
	if bpb.extendedBootSignature == longEBPBSignature {
		bpb.volumeSerialNumber = binary.LittleEndian.Uint32(b[56:60])
		bpb.volumeLabel = strings.TrimRight(string(b[60:71]), " ")
		bpb.fileSystemType = strings.TrimRight(string(b[71:79]), " ")
	}
	return &bpb, nil
}

// toBytes returns the Extended BIOS Parameter Block in a slice of bytes directly ready to write to disk
func (bpb *dos71EBPB) toBytes() ([]byte, error) {
	b := make([]byte, dos71EBPBSize)
	copy(b[0:dos331BPBSize], bpb.dos331BPB.toBytes())
	binary.LittleEndian.PutUint32(b[25:29], bpb.sectorsPerFat)
	binary.LittleEndian.PutUint16(b[29:31], bpb.mirrorFlags)
	binary.LittleEndian.PutUint16(b[31:33], bpb.version)
	binary.LittleEndian.PutUint32(b[33:37], bpb.rootDirectoryCluster)
	binary.LittleEndian.PutUint16(b[37:39], bpb.fsInformationSector)
	binary.LittleEndian.PutUint16(b[39:41], bpb.backupBootSector)
	copy(b[41:53], bpb.bootFileName[:])
	b[53] = bpb.driveNumber
	b[54] = bpb.reservedFlags
	b[55] = bpb.extendedBootSignature
	binary.LittleEndian.PutUint32(b[56:60], bpb.volumeSerialNumber)
	if len(bpb.volumeLabel) > 11 {
		return nil, fmt.Errorf("invalid volume label: too long at %d characters, maximum is %d", len(bpb.volumeLabel), 11)
	}
	copy(b[60:71], padRight(bpb.volumeLabel, 11))
	if len(bpb.fileSystemType) > 8 {
		return nil, fmt.Errorf("invalid filesystem type: too long at %d characters, maximum is %d", len(bpb.fileSystemType), 8)
	}
	copy(b[71:79], padRight(bpb.fileSystemType, 8))
	return b, nil
}
