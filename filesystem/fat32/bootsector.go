package fat32

import (
	"bytes"
	"fmt"
	"strings"
)

const (
	bootSectorSize = 512
	// offset of the BIOS Parameter Block in the boot sector
	bpbOffset = 11
	// mediaFixed is the media descriptor for a fixed disk
	mediaFixed = 0xf8
	oemName    = "MSWIN4.1"
)

var (
	bootSectorSignature = []byte{0x55, 0xaa}
	// hlt; jmp $-1, so a machine that tries to boot the volume parks itself
	bootCodeStub = []byte{0xf4, 0xeb, 0xfd}
)

// msDosBootSector is the structure representing an msdos boot structure.
// Exactly one of the two parameter blocks is set.
type msDosBootSector struct {
	jumpInstruction [3]byte    // JumpInstruction is the instruction set to jump to for booting
	oemName         string     // OEMName is the 8-byte OEM Name
	fat32BPB        *dos71EBPB // parameter block of a FAT32 volume
	fat16BPB        *dos40EBPB // parameter block of a FAT12 or FAT16 volume
	bootCode        []byte     // BootCode represents the actual boot code
}

func (m *msDosBootSector) dos331() *dos331BPB {
	if m.fat32BPB != nil {
		return m.fat32BPB.dos331BPB
	}
	return m.fat16BPB.dos331BPB
}

func (m *msDosBootSector) sectorsPerFat() uint32 {
	if m.fat32BPB != nil {
		return m.fat32BPB.sectorsPerFat
	}
	return uint32(m.fat16BPB.dos331BPB.dos20BPB.sectorsPerFat)
}

func (m *msDosBootSector) volumeLabel() string {
	if m.fat32BPB != nil {
		return m.fat32BPB.volumeLabel
	}
	return m.fat16BPB.volumeLabel
}

func (m *msDosBootSector) volumeSerialNumber() uint32 {
	if m.fat32BPB != nil {
		return m.fat32BPB.volumeSerialNumber
	}
	return m.fat16BPB.volumeSerialNumber
}

// bpbBytes returns the parameter block and the offset at which boot code starts
func (m *msDosBootSector) bpbBytes() ([]byte, error) {
	if m.fat32BPB != nil {
		return m.fat32BPB.toBytes()
	}
	if m.fat16BPB != nil {
		return m.fat16BPB.toBytes()
	}
	return nil, fmt.Errorf("boot sector has no BIOS Parameter Block")
}

func (m *msDosBootSector) toBytes() ([]byte, error) {
	b := make([]byte, bootSectorSize)
	copy(b[0:3], m.jumpInstruction[:])
	if len(m.oemName) > 8 {
		return nil, fmt.Errorf("cannot use OEM Name > 8 bytes long: %s", m.oemName)
	}
	copy(b[3:11], padRight(m.oemName, 8))

	bpb, err := m.bpbBytes()
	if err != nil {
		return nil, fmt.Errorf("error getting BIOS Parameter Block: %w", err)
	}
	copy(b[bpbOffset:], bpb)
	codeStart := bpbOffset + len(bpb)
	if len(m.bootCode) > signatureOffset()-codeStart {
		return nil, fmt.Errorf("boot code too long at %d bytes, maximum is %d", len(m.bootCode), signatureOffset()-codeStart)
	}
	copy(b[codeStart:], m.bootCode)
	copy(b[510:], bootSectorSignature)
	return b, nil
}

func signatureOffset() int {
	return bootSectorSize - len(bootSectorSignature)
}

// msDosBootSectorFromBytes create an msDosBootSector from a byte slice
func msDosBootSectorFromBytes(b []byte) (*msDosBootSector, error) {
	if len(b) != bootSectorSize {
		return nil, fmt.Errorf("cannot parse MS-DOS Boot Sector from %d bytes, must be exactly %d", len(b), bootSectorSize)
	}
	if !bytes.Equal(b[510:], bootSectorSignature) {
		return nil, fmt.Errorf("invalid signature in last 2 bytes of boot sector: %v", b[510:])
	}
	bs := msDosBootSector{
		oemName: strings.TrimRight(string(b[3:11]), " \x00"),
	}
	copy(bs.jumpInstruction[:], b[0:3])

	// the 16-bit sectors-per-FAT field is zero only on FAT32
	legacy, err := dos331BPBFromBytes(b[bpbOffset : bpbOffset+dos331BPBSize])
	if err != nil {
		return nil, fmt.Errorf("could not read BIOS Parameter Block: %w", err)
	}
	if legacy.dos20BPB.sectorsPerFat == 0 {
		bpb, err := dos71EBPBFromBytes(b[bpbOffset : bpbOffset+dos71EBPBSize])
		if err != nil {
			return nil, fmt.Errorf("could not read FAT32 BIOS Parameter Block: %w", err)
		}
		bs.fat32BPB = bpb
		bs.bootCode = b[bpbOffset+dos71EBPBSize : 510]
	} else {
		bpb, err := dos40EBPBFromBytes(b[bpbOffset : bpbOffset+dos40EBPBSize])
		if err != nil {
			return nil, fmt.Errorf("could not read FAT12/16 BIOS Parameter Block: %w", err)
		}
		bs.fat16BPB = bpb
		bs.bootCode = b[bpbOffset+dos40EBPBSize : 510]
	}
	return &bs, nil
}
