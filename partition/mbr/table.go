// Package mbr reads and writes legacy Master Boot Record partition tables,
// including the protective MBR that guards a GPT disk.
package mbr

import (
	"bytes"
	"fmt"

	"github.com/diskfs/go-efiimg/backend"
	"github.com/diskfs/go-efiimg/partition/part"
)

// Table represents an MBR partition table to be applied to a disk or read from a disk
type Table struct {
	Partitions         []*Partition
	LogicalSectorSize  int // logical size of a sector
	PhysicalSectorSize int // physical size of the sector
	partitionTableUUID string
}

const (
	mbrSize               = 512
	logicalSectorSize     = 512
	physicalSectorSize    = 512
	partitionEntriesStart = 446
	partitionEntriesCount = 4
	signatureStart        = 510
	diskSignatureStart    = 440

	// maxProtectiveSize is the largest value the 32-bit size field can hold
	maxProtectiveSize = 0xffffffff
)

// mbrSignature is the two-byte marker at the end of every MBR
var mbrSignature = []byte{0x55, 0xaa}

// Equal checks if another table is equal to this one, ignoring CHS start and end for the partitions
func (t *Table) Equal(t2 *Table) bool {
	if t2 == nil {
		return false
	}
	// neither is nil, so now we need to compare
	basicMatch := t.LogicalSectorSize == t2.LogicalSectorSize &&
		t.PhysicalSectorSize == t2.PhysicalSectorSize
	partMatch := comparePartitionArray(t.Partitions, t2.Partitions)
	return basicMatch && partMatch
}

func comparePartitionArray(p1, p2 []*Partition) bool {
	if (p1 == nil && p2 != nil) || (p2 == nil && p1 != nil) {
		return false
	}
	if p1 == nil && p2 == nil {
		return true
	}
	// neither is nil, so now we need to compare
	if len(p1) != len(p2) {
		return false
	}
	for i, p := range p1 {
		if !p.Equal(p2[i]) {
			return false
		}
	}
	return true
}

// ProtectiveSize returns the value stored in the size field of a protective
// MBR entry for a disk of diskSize bytes: every LBA after LBA 0, saturated at
// the 32-bit maximum for disks beyond what the field can describe.
func ProtectiveSize(diskSize int64, sectorSize int) uint32 {
	if sectorSize <= 0 {
		sectorSize = logicalSectorSize
	}
	sectors := diskSize / int64(sectorSize)
	if sectors < 1 {
		return 0
	}
	last := uint64(sectors - 1)
	if last > maxProtectiveSize {
		return maxProtectiveSize
	}
	return uint32(last)
}

// ProtectiveTable returns the MBR that shields a GPT disk of diskSize bytes:
// one entry of type 0xEE starting at LBA 1 and spanning the rest of the disk.
func ProtectiveTable(diskSize int64, sectorSize int) *Table {
	if sectorSize <= 0 {
		sectorSize = logicalSectorSize
	}
	p := &Partition{
		Bootable:           false,
		Type:               EFIGPTProtective,
		Start:              1,
		Size:               ProtectiveSize(diskSize, sectorSize),
		StartHead:          0x00,
		StartSector:        0x02,
		StartCylinder:      0x00,
		EndHead:            0xff,
		EndSector:          0xff,
		EndCylinder:        0xff,
		logicalSectorSize:  sectorSize,
		physicalSectorSize: sectorSize,
		index:              1,
	}
	parts := []*Partition{p}
	for i := 1; i < partitionEntriesCount; i++ {
		parts = append(parts, &Partition{Type: Empty, index: i + 1})
	}
	return &Table{
		Partitions:         parts,
		LogicalSectorSize:  sectorSize,
		PhysicalSectorSize: sectorSize,
	}
}

// tableFromBytes read a partition table from a byte slice
func tableFromBytes(b []byte) (*Table, error) {
	// check length
	if len(b) != mbrSize {
		return nil, fmt.Errorf("data for partition was %d bytes instead of expected %d", len(b), mbrSize)
	}
	if !bytes.Equal(b[signatureStart:], mbrSignature) {
		return nil, fmt.Errorf("invalid MBR Signature %v", b[signatureStart:])
	}

	parts := make([]*Partition, 0, partitionEntriesCount)
	for i := 0; i < partitionEntriesCount; i++ {
		start := partitionEntriesStart + i*partitionEntrySize
		end := start + partitionEntrySize
		p, err := partitionFromBytes(b[start:end], logicalSectorSize, physicalSectorSize)
		if err != nil {
			return nil, fmt.Errorf("error reading partition entry %d: %w", i, err)
		}
		p.index = i + 1
		parts = append(parts, p)
	}

	return &Table{
		Partitions:         parts,
		LogicalSectorSize:  logicalSectorSize,
		PhysicalSectorSize: physicalSectorSize,
		partitionTableUUID: fmt.Sprintf("%x", b[diskSignatureStart:diskSignatureStart+4]),
	}, nil
}

// Type report the type of table, always the string "mbr"
func (t *Table) Type() string {
	return "mbr"
}

// toBytes returns the 66 bytes from the start of the partition entries
// through the boot signature
func (t *Table) toBytes() []byte {
	b := make([]byte, 0, mbrSize-partitionEntriesStart)
	for i := 0; i < partitionEntriesCount; i++ {
		if i < len(t.Partitions) && t.Partitions[i] != nil {
			b = append(b, t.Partitions[i].toBytes()...)
			continue
		}
		b = append(b, make([]byte, partitionEntrySize)...)
	}
	return append(b, mbrSignature...)
}

// Read read a partition table from a disk, given the logical block size and physical block size
func Read(f backend.File, logicalBlockSize, physicalBlockSize int) (*Table, error) {
	b := make([]byte, mbrSize)
	read, err := f.ReadAt(b, 0)
	if err != nil {
		return nil, fmt.Errorf("error reading MBR from file: %w", err)
	}
	if read != len(b) {
		return nil, fmt.Errorf("read only %d bytes of MBR from file instead of expected %d", read, len(b))
	}
	table, err := tableFromBytes(b)
	if err != nil {
		return nil, err
	}
	if logicalBlockSize > 0 {
		table.LogicalSectorSize = logicalBlockSize
	}
	if physicalBlockSize > 0 {
		table.PhysicalSectorSize = physicalBlockSize
	}
	for _, p := range table.Partitions {
		p.logicalSectorSize = table.LogicalSectorSize
		p.physicalSectorSize = table.PhysicalSectorSize
	}
	return table, nil
}

// Write writes the partition entries and signature to LBA 0. Boot code and
// disk signature bytes are left untouched. Partitions of type Empty keep
// zeroed CHS fields; all others get CHS filled in from their LBAs unless
// already set.
func (t *Table) Write(f backend.WritableFile, size int64) error {
	sectorSize := t.LogicalSectorSize
	if sectorSize == 0 {
		sectorSize = logicalSectorSize
	}
	for i, p := range t.Partitions {
		if p == nil {
			continue
		}
		p.index = i + 1
		p.logicalSectorSize = sectorSize
		p.physicalSectorSize = t.PhysicalSectorSize
		if p.Type == Empty {
			continue
		}
		if p.GetStart()+p.GetSize() > size {
			return fmt.Errorf("partition %d ends at byte %d beyond disk size %d", i+1, p.GetStart()+p.GetSize(), size)
		}
		if p.StartSector == 0 && p.EndSector == 0 {
			p.fillCHS()
		}
	}
	b := t.toBytes()
	written, err := f.WriteAt(b, partitionEntriesStart)
	if err != nil {
		return fmt.Errorf("error writing partition table to disk: %w", err)
	}
	if written != len(b) {
		return fmt.Errorf("partition table wrote %d bytes to disk instead of the expected %d", written, len(b))
	}
	return nil
}

// GetPartitions returns the non-empty partitions
func (t *Table) GetPartitions() []part.Partition {
	parts := make([]part.Partition, 0, len(t.Partitions))
	for _, p := range t.Partitions {
		if p == nil || p.Type == Empty {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}

// UUID returns the disk signature as hex
func (t *Table) UUID() string {
	return t.partitionTableUUID
}
