package mbr

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/diskfs/go-efiimg/backend"
	"github.com/diskfs/go-efiimg/partition/part"
)

const (
	partitionEntrySize = 16
	// geometry used to translate LBA to CHS, the usual fake 255/63 layout
	chsHeads          = 255
	chsSectorsPerHead = 63
	maxCylinder       = 1023
)

// Partition represents the structure of a single partition on the disk
//
// note that start and end cylinder, head, sector (CHS) are ignored, for the most part.
// modern OSes use LBA to read and write; CHS is only filled in for legacy tools.
type Partition struct {
	Bootable      bool
	Type          Type
	Start         uint32 // Start first absolute LBA sector for partition
	Size          uint32 // Size number of sectors in partition
	StartCylinder byte
	StartHead     byte
	StartSector   byte
	EndCylinder   byte
	EndHead       byte
	EndSector     byte
	// we need this for calculations
	logicalSectorSize  int
	physicalSectorSize int
	index              int
}

// Equal compares the LBA-relevant fields of two partitions
func (p *Partition) Equal(p2 *Partition) bool {
	if p2 == nil {
		return false
	}
	return p.Bootable == p2.Bootable &&
		p.Type == p2.Type &&
		p.Start == p2.Start &&
		p.Size == p2.Size
}

// toBytes return the 16 bytes for this partition
func (p *Partition) toBytes() []byte {
	b := make([]byte, partitionEntrySize)
	if p.Bootable {
		b[0] = 0x80
	}
	b[1] = p.StartHead
	b[2] = p.StartSector
	b[3] = p.StartCylinder
	b[4] = byte(p.Type)
	b[5] = p.EndHead
	b[6] = p.EndSector
	b[7] = p.EndCylinder
	binary.LittleEndian.PutUint32(b[8:12], p.Start)
	binary.LittleEndian.PutUint32(b[12:16], p.Size)
	return b
}

// partitionFromBytes create a partition entry from 16 bytes
func partitionFromBytes(b []byte, logicalSectorSize, physicalSectorSize int) (*Partition, error) {
	if len(b) != partitionEntrySize {
		return nil, fmt.Errorf("data for partition was %d bytes instead of expected %d", len(b), partitionEntrySize)
	}
	var bootable bool
	switch b[0] {
	case 0x00:
		bootable = false
	case 0x80:
		bootable = true
	default:
		return nil, fmt.Errorf("invalid partition bootable flag 0x%02x", b[0])
	}

	return &Partition{
		Bootable:           bootable,
		StartHead:          b[1],
		StartSector:        b[2],
		StartCylinder:      b[3],
		Type:               Type(b[4]),
		EndHead:            b[5],
		EndSector:          b[6],
		EndCylinder:        b[7],
		Start:              binary.LittleEndian.Uint32(b[8:12]),
		Size:               binary.LittleEndian.Uint32(b[12:16]),
		logicalSectorSize:  logicalSectorSize,
		physicalSectorSize: physicalSectorSize,
	}, nil
}

// PartitionEqualBytes compares two 16-byte entries, ignoring the CHS fields
func PartitionEqualBytes(b1, b2 []byte) bool {
	if len(b1) != partitionEntrySize || len(b2) != partitionEntrySize {
		return false
	}
	return b1[0] == b2[0] &&
		b1[4] == b2[4] &&
		binary.LittleEndian.Uint32(b1[8:12]) == binary.LittleEndian.Uint32(b2[8:12]) &&
		binary.LittleEndian.Uint32(b1[12:16]) == binary.LittleEndian.Uint32(b2[12:16])
}

// lbaToCHS converts an LBA into the packed head, sector, cylinder bytes.
// Addresses past the CHS range saturate to 1023/254/63.
func lbaToCHS(lba uint32) (head, sector, cylinder byte) {
	c := lba / (chsHeads * chsSectorsPerHead)
	if c > maxCylinder {
		return 0xfe, 0xff, 0xff
	}
	h := (lba / chsSectorsPerHead) % chsHeads
	s := lba%chsSectorsPerHead + 1
	return byte(h), byte(s) | byte((c>>2)&0xc0), byte(c & 0xff)
}

func (p *Partition) fillCHS() {
	p.StartHead, p.StartSector, p.StartCylinder = lbaToCHS(p.Start)
	end := p.Start
	if p.Size > 0 {
		end = p.Start + p.Size - 1
	}
	p.EndHead, p.EndSector, p.EndCylinder = lbaToCHS(end)
}

func (p *Partition) sectorSize() int {
	if p.logicalSectorSize == 0 {
		return logicalSectorSize
	}
	return p.logicalSectorSize
}

// GetIndex returns the 1-based slot of the partition
func (p *Partition) GetIndex() int {
	return p.index
}

// GetSize returns the size of the partition in bytes
func (p *Partition) GetSize() int64 {
	return int64(p.Size) * int64(p.sectorSize())
}

// GetStart returns the start position of the partition in bytes
func (p *Partition) GetStart() int64 {
	return int64(p.Start) * int64(p.sectorSize())
}

// UUID MBR partitions have no identifiers of their own
func (p *Partition) UUID() string {
	return ""
}

// ReadContents reads the contents of the partition into a writer
func (p *Partition) ReadContents(f backend.File, out io.Writer) (int64, error) {
	r := io.NewSectionReader(f, p.GetStart(), p.GetSize())
	read, err := io.Copy(out, r)
	if err != nil {
		return read, fmt.Errorf("error reading from file: %w", err)
	}
	return read, nil
}

// WriteContents fills the partition from a reader
func (p *Partition) WriteContents(f backend.WritableFile, contents io.Reader) (uint64, error) {
	size := uint64(p.GetSize())
	w := io.NewOffsetWriter(f, p.GetStart())
	written, err := io.Copy(w, io.LimitReader(contents, int64(size)))
	if err != nil {
		return uint64(written), fmt.Errorf("error writing to file: %w", err)
	}
	// anything left over does not fit
	var extra [1]byte
	if n, _ := contents.Read(extra[:]); n > 0 {
		return uint64(written), part.NewPartitionOverflowError(size)
	}
	if uint64(written) != size {
		return uint64(written), part.NewIncompletePartitionWriteError(uint64(written), size)
	}
	return uint64(written), nil
}
