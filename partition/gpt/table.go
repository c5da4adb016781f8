// Package gpt reads and writes GUID Partition Tables: the protective MBR,
// primary and backup headers and both copies of the partition entry array.
package gpt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/diskfs/go-efiimg/backend"
	"github.com/diskfs/go-efiimg/partition/mbr"
	"github.com/diskfs/go-efiimg/partition/part"
)

// gpt-specific sizes and constants
const (
	gptHeaderSize      = 92
	logicalSectorSize  = 512
	physicalSectorSize = 512

	// DefaultPartitionEntries is the number of entries in a standard partition array
	DefaultPartitionEntries = 128
)

var (
	efiSignature  = []byte{0x45, 0x46, 0x49, 0x20, 0x50, 0x41, 0x52, 0x54}
	efiRevision   = []byte{0x00, 0x00, 0x01, 0x00}
	efiHeaderSize = []byte{0x5c, 0x00, 0x00, 0x00}
	efiZeroes     = []byte{0x00, 0x00, 0x00, 0x00}
)

// ErrNotInitialized is returned by AddPartition before Initialize was called
var ErrNotInitialized = errors.New("partition table not initialized")

// Table represents a partition table to be applied to a disk or read from a disk
type Table struct {
	Partitions         []*Partition // slice of Partition
	LogicalSectorSize  int          // logical size of a sector
	PhysicalSectorSize int          // physical size of the sector
	GUID               string       // disk GUID, can be left blank to auto-generate
	ProtectiveMBR      bool         // whether or not a protective MBR is in place
	partitionArraySize int          // how many entries are in the partition array size
	partitionEntrySize uint32       // size of the partition entry in the table, usually 128 bytes
	primaryHeader      uint64       // LBA of primary header, always 1
	secondaryHeader    uint64       // LBA of secondary header, always last sectors on disk
	firstDataSector    uint64       // LBA of first data sector
	lastDataSector     uint64       // LBA of last data sector
	initialized        bool
}

// PartitionSpec describes a partition to be placed by AddPartition
type PartitionSpec struct {
	Name string
	// Size in bytes, rounded up to whole logical sectors
	Size       uint64
	Type       Type
	GUID       string
	Attributes uint64
	// Alignment of the first sector, in logical sectors. 0 and 1 both mean none.
	Alignment uint64
}

// header is the parsed form of a GPT header sector
type header struct {
	currentLBA      uint64
	backupLBA       uint64
	firstDataSector uint64
	lastDataSector  uint64
	diskGUID        string
	arrayStart      uint64
	entries         uint32
	entrySize       uint32
	arrayCRC        uint32
}

func arraySectors(sectorSize, entries int) int {
	arrayBytes := entries * PartitionEntrySize
	sectors := arrayBytes / sectorSize
	if arrayBytes%sectorSize > 0 {
		sectors++
	}
	return sectors
}

// Overhead returns how many bytes of a disk a GPT consumes that no partition
// can use: LBA 0, both headers and both partition arrays.
func Overhead(sectorSize, entries int) int64 {
	if sectorSize <= 0 {
		sectorSize = logicalSectorSize
	}
	if entries <= 0 {
		entries = DefaultPartitionEntries
	}
	return int64(1+2*(1+arraySectors(sectorSize, entries))) * int64(sectorSize)
}

// Equal check if another table is functionally equal to this one
func (t *Table) Equal(t2 *Table) bool {
	if t2 == nil {
		return false
	}
	// neither is nil, so now we need to compare
	basicMatch := t.LogicalSectorSize == t2.LogicalSectorSize &&
		t.PhysicalSectorSize == t2.PhysicalSectorSize &&
		t.partitionEntrySize == t2.partitionEntrySize &&
		t.primaryHeader == t2.primaryHeader &&
		t.secondaryHeader == t2.secondaryHeader &&
		t.firstDataSector == t2.firstDataSector &&
		t.lastDataSector == t2.lastDataSector &&
		t.partitionArraySize == t2.partitionArraySize &&
		t.ProtectiveMBR == t2.ProtectiveMBR &&
		t.GUID == t2.GUID
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

// initTable sets up the geometry for a disk of size bytes. Partitions are left alone.
func (t *Table) initTable(size int64) {
	if t.LogicalSectorSize == 0 {
		t.LogicalSectorSize = logicalSectorSize
	}
	if t.PhysicalSectorSize == 0 {
		t.PhysicalSectorSize = physicalSectorSize
	}
	if t.partitionArraySize == 0 {
		t.partitionArraySize = DefaultPartitionEntries
	}
	if t.partitionEntrySize == 0 {
		t.partitionEntrySize = PartitionEntrySize
	}
	if t.GUID == "" {
		t.GUID = newGUID()
	}
	sectors := uint64(arraySectors(t.LogicalSectorSize, t.partitionArraySize))
	t.primaryHeader = 1
	t.secondaryHeader = uint64(size/int64(t.LogicalSectorSize)) - 1
	t.firstDataSector = 2 + sectors
	t.lastDataSector = t.secondaryHeader - sectors - 1
	t.initialized = true
}

// Initialize prepares an empty table for a disk of diskSize bytes, dropping
// any partitions already present.
func (t *Table) Initialize(diskSize int64) error {
	sectorSize := t.LogicalSectorSize
	if sectorSize == 0 {
		sectorSize = logicalSectorSize
	}
	entries := t.partitionArraySize
	if entries == 0 {
		entries = DefaultPartitionEntries
	}
	// at least one usable sector beyond the overhead
	if diskSize < Overhead(sectorSize, entries)+int64(sectorSize) {
		return fmt.Errorf("disk of %d bytes is too small for a GPT needing %d bytes of overhead", diskSize, Overhead(sectorSize, entries))
	}
	t.Partitions = nil
	t.initTable(diskSize)
	return nil
}

// FirstUsableLBA returns the first sector a partition may occupy
func (t *Table) FirstUsableLBA() uint64 {
	return t.firstDataSector
}

// LastUsableLBA returns the last sector a partition may occupy
func (t *Table) LastUsableLBA() uint64 {
	return t.lastDataSector
}

// AddPartition places a new partition after the last existing one, at the
// first sector satisfying the requested alignment, in the lowest free slot of
// the array. It returns the 1-based index of the new partition.
func (t *Table) AddPartition(spec PartitionSpec) (int, error) {
	if !t.initialized {
		return 0, ErrNotInitialized
	}
	if spec.Size == 0 {
		return 0, fmt.Errorf("partition %q must have a size", spec.Name)
	}
	if spec.Type == "" || spec.Type == Unused {
		return 0, fmt.Errorf("partition %q must have a type", spec.Name)
	}
	used := make(map[int]bool, len(t.Partitions))
	start := t.firstDataSector
	for _, p := range t.Partitions {
		used[p.Index] = true
		if p.End+1 > start {
			start = p.End + 1
		}
	}
	index := 0
	for i := 1; i <= t.partitionArraySize; i++ {
		if !used[i] {
			index = i
			break
		}
	}
	if index == 0 {
		return 0, fmt.Errorf("no free slot in partition array of %d entries", t.partitionArraySize)
	}
	if spec.Alignment > 1 {
		start = (start + spec.Alignment - 1) / spec.Alignment * spec.Alignment
	}
	blocksize := uint64(t.LogicalSectorSize)
	sectors := spec.Size / blocksize
	if spec.Size%blocksize > 0 {
		sectors++
	}
	end := start + sectors - 1
	if end > t.lastDataSector {
		return 0, fmt.Errorf("not enough space for partition %q of %d sectors: would end at sector %d, last usable sector is %d", spec.Name, sectors, end, t.lastDataSector)
	}
	p := &Partition{
		Start:              start,
		End:                end,
		Size:               sectors * blocksize,
		Type:               spec.Type,
		Name:               spec.Name,
		GUID:               spec.GUID,
		Attributes:         spec.Attributes,
		Index:              index,
		logicalSectorSize:  t.LogicalSectorSize,
		physicalSectorSize: t.PhysicalSectorSize,
	}
	if err := p.initEntry(blocksize, start); err != nil {
		return 0, err
	}
	// validate the name and GUIDs now rather than at write time
	if _, err := p.toBytes(); err != nil {
		return 0, err
	}
	t.Partitions = append(t.Partitions, p)
	return index, nil
}

// GetPartition returns the partition in the given 1-based slot
func (t *Table) GetPartition(index int) (*Partition, bool) {
	for _, p := range t.Partitions {
		if p.Index == index {
			return p, true
		}
	}
	return nil, false
}

// toPartitionArrayBytes write the bytes for the partition array
func (t *Table) toPartitionArrayBytes() ([]byte, error) {
	blocksize := uint64(t.LogicalSectorSize)
	realArraySize := int(t.partitionEntrySize) * t.partitionArraySize
	bArray := make([]byte, realArraySize)

	seen := make(map[int]bool, len(t.Partitions))
	for _, p := range t.Partitions {
		if p.Index <= 0 || p.Index > t.partitionArraySize {
			return nil, fmt.Errorf("partition index %d out of range 1 to %d", p.Index, t.partitionArraySize)
		}
		if seen[p.Index] {
			return nil, fmt.Errorf("duplicate partition index %d", p.Index)
		}
		seen[p.Index] = true
		if err := p.initEntry(blocksize, t.firstDataSector); err != nil {
			return nil, err
		}
		b, err := p.toBytes()
		if err != nil {
			return nil, fmt.Errorf("error preparing partition %d to write to disk: %w", p.Index, err)
		}
		slot := (p.Index - 1) * int(t.partitionEntrySize)
		copy(bArray[slot:slot+PartitionEntrySize], b)
	}
	return bArray, nil
}

// toHeaderBytes returns one sector holding the primary or backup header
func (t *Table) toHeaderBytes(primary bool, arrayCRC uint32) ([]byte, error) {
	b := make([]byte, t.LogicalSectorSize)
	copy(b[0:8], efiSignature)
	copy(b[8:12], efiRevision)
	copy(b[12:16], efiHeaderSize)
	// 16:20 is the header checksum, filled in last
	copy(b[20:24], efiZeroes)

	sectors := uint64(arraySectors(t.LogicalSectorSize, t.partitionArraySize))
	current, backup, arrayStart := t.primaryHeader, t.secondaryHeader, t.primaryHeader+1
	if !primary {
		current, backup, arrayStart = t.secondaryHeader, t.primaryHeader, t.secondaryHeader-sectors
	}
	binary.LittleEndian.PutUint64(b[24:32], current)
	binary.LittleEndian.PutUint64(b[32:40], backup)
	binary.LittleEndian.PutUint64(b[40:48], t.firstDataSector)
	binary.LittleEndian.PutUint64(b[48:56], t.lastDataSector)

	guid, err := guidToBytes(t.GUID)
	if err != nil {
		return nil, fmt.Errorf("invalid disk GUID %s: %w", t.GUID, err)
	}
	copy(b[56:72], guid)

	binary.LittleEndian.PutUint64(b[72:80], arrayStart)
	binary.LittleEndian.PutUint32(b[80:84], uint32(t.partitionArraySize))
	binary.LittleEndian.PutUint32(b[84:88], t.partitionEntrySize)
	binary.LittleEndian.PutUint32(b[88:92], arrayCRC)

	binary.LittleEndian.PutUint32(b[16:20], crc32.ChecksumIEEE(b[:gptHeaderSize]))
	return b, nil
}

// headerFromBytes parses and validates one header sector
func headerFromBytes(b []byte) (*header, error) {
	if len(b) < gptHeaderSize {
		return nil, fmt.Errorf("data for partition was %d bytes instead of expected %d", len(b), gptHeaderSize)
	}
	if !bytes.Equal(b[0:8], efiSignature) {
		return nil, fmt.Errorf("invalid EFI Signature %v", b[0:8])
	}
	if !bytes.Equal(b[8:12], efiRevision) {
		return nil, fmt.Errorf("invalid EFI Revision %v", b[8:12])
	}
	if !bytes.Equal(b[12:16], efiHeaderSize) {
		return nil, fmt.Errorf("invalid EFI Header size %v", b[12:16])
	}
	if !bytes.Equal(b[20:24], efiZeroes) {
		return nil, fmt.Errorf("invalid EFI Header, expected zeroes, got %v", b[20:24])
	}
	checksum := binary.LittleEndian.Uint32(b[16:20])
	hb := make([]byte, gptHeaderSize)
	copy(hb, b[:gptHeaderSize])
	copy(hb[16:20], efiZeroes)
	if actual := crc32.ChecksumIEEE(hb); actual != checksum {
		return nil, fmt.Errorf("invalid EFI Header Checksum, expected %v, got %v", checksum, actual)
	}
	return &header{
		currentLBA:      binary.LittleEndian.Uint64(b[24:32]),
		backupLBA:       binary.LittleEndian.Uint64(b[32:40]),
		firstDataSector: binary.LittleEndian.Uint64(b[40:48]),
		lastDataSector:  binary.LittleEndian.Uint64(b[48:56]),
		diskGUID:        bytesToGUID(b[56:72]),
		arrayStart:      binary.LittleEndian.Uint64(b[72:80]),
		entries:         binary.LittleEndian.Uint32(b[80:84]),
		entrySize:       binary.LittleEndian.Uint32(b[84:88]),
		arrayCRC:        binary.LittleEndian.Uint32(b[88:92]),
	}, nil
}

// tableFromBytes builds a table from a primary header sector and the partition array it points at
func tableFromBytes(hdr []byte, array []byte, logicalBlockSize, physicalBlockSize int) (*Table, error) {
	h, err := headerFromBytes(hdr)
	if err != nil {
		return nil, err
	}
	if h.entrySize != PartitionEntrySize {
		return nil, fmt.Errorf("unsupported partition entry size %d", h.entrySize)
	}
	arrayBytes := int(h.entries) * int(h.entrySize)
	if len(array) < arrayBytes {
		return nil, fmt.Errorf("partition array was %d bytes instead of expected %d", len(array), arrayBytes)
	}
	array = array[:arrayBytes]
	if actual := crc32.ChecksumIEEE(array); actual != h.arrayCRC {
		return nil, fmt.Errorf("invalid EFI Partition Entry Checksum, expected %v, got %v", h.arrayCRC, actual)
	}

	parts := make([]*Partition, 0, 4)
	for i := 0; i < int(h.entries); i++ {
		start := i * int(h.entrySize)
		p, err := partitionFromBytes(array[start:start+int(h.entrySize)], logicalBlockSize, physicalBlockSize)
		if err != nil {
			return nil, fmt.Errorf("error reading partition entry %d: %w", i, err)
		}
		// skip over empty entries
		if p.Type == Unused {
			continue
		}
		p.Index = i + 1
		parts = append(parts, p)
	}

	return &Table{
		LogicalSectorSize:  logicalBlockSize,
		PhysicalSectorSize: physicalBlockSize,
		partitionEntrySize: h.entrySize,
		primaryHeader:      h.currentLBA,
		secondaryHeader:    h.backupLBA,
		firstDataSector:    h.firstDataSector,
		lastDataSector:     h.lastDataSector,
		partitionArraySize: int(h.entries),
		GUID:               h.diskGUID,
		Partitions:         parts,
		initialized:        true,
	}, nil
}

// Type report the type of table, always "gpt"
func (t *Table) Type() string {
	return "gpt"
}

func writeAt(f backend.WritableFile, b []byte, offset int64, what string) error {
	written, err := f.WriteAt(b, offset)
	if err != nil {
		return fmt.Errorf("error writing %s to disk: %w", what, err)
	}
	if written != len(b) {
		return fmt.Errorf("wrote %d bytes of %s instead of %d", written, what, len(b))
	}
	return nil
}

// Write writes a GPT to disk: the protective MBR if requested, the primary
// header and array at the start of the disk and the backup array and header
// at the end.
func (t *Table) Write(f backend.WritableFile, size int64) error {
	if !t.initialized || t.secondaryHeader != uint64(size/int64(t.sectorSize()))-1 {
		t.initTable(size)
	}
	array, err := t.toPartitionArrayBytes()
	if err != nil {
		return fmt.Errorf("error converting partition array to bytes: %w", err)
	}
	for _, p := range t.Partitions {
		if p.Start < t.firstDataSector || p.End > t.lastDataSector {
			return fmt.Errorf("partition %d at sectors %d-%d outside usable range %d-%d", p.Index, p.Start, p.End, t.firstDataSector, t.lastDataSector)
		}
	}

	if t.ProtectiveMBR {
		pmbr := mbr.ProtectiveTable(size, t.LogicalSectorSize)
		if err := pmbr.Write(f, size); err != nil {
			return fmt.Errorf("error writing protective MBR to disk: %w", err)
		}
	}

	arrayCRC := crc32.ChecksumIEEE(array)
	sectorSize := int64(t.LogicalSectorSize)
	sectors := uint64(arraySectors(t.LogicalSectorSize, t.partitionArraySize))

	primary, err := t.toHeaderBytes(true, arrayCRC)
	if err != nil {
		return err
	}
	if err := writeAt(f, primary, int64(t.primaryHeader)*sectorSize, "primary GPT header"); err != nil {
		return err
	}
	if err := writeAt(f, array, int64(t.primaryHeader+1)*sectorSize, "primary partition array"); err != nil {
		return err
	}

	backup, err := t.toHeaderBytes(false, arrayCRC)
	if err != nil {
		return err
	}
	if err := writeAt(f, array, int64(t.secondaryHeader-sectors)*sectorSize, "backup partition array"); err != nil {
		return err
	}
	if err := writeAt(f, backup, int64(t.secondaryHeader)*sectorSize, "backup GPT header"); err != nil {
		return err
	}
	return nil
}

// Read read a partition table from a disk
// must be passed the backend.File from which to read, and the logical and physical block sizes
//
// if successful, returns a gpt.Table struct
// returns errors if fails at any stage reading the disk or processing the bytes on disk as a GPT
func Read(f backend.File, logicalBlockSize, physicalBlockSize int) (*Table, error) {
	if logicalBlockSize == 0 {
		logicalBlockSize = logicalSectorSize
	}
	if physicalBlockSize == 0 {
		physicalBlockSize = physicalSectorSize
	}
	hdr := make([]byte, logicalBlockSize)
	read, err := f.ReadAt(hdr, int64(logicalBlockSize))
	if err != nil {
		return nil, fmt.Errorf("error reading GPT from file: %w", err)
	}
	if read != len(hdr) {
		return nil, fmt.Errorf("read only %d bytes of GPT from file instead of expected %d", read, len(hdr))
	}
	h, err := headerFromBytes(hdr)
	if err != nil {
		return nil, err
	}
	array, err := readArray(f, h, logicalBlockSize)
	if err != nil {
		return nil, err
	}
	table, err := tableFromBytes(hdr, array, logicalBlockSize, physicalBlockSize)
	if err != nil {
		return nil, err
	}
	if pmbr, err := mbr.Read(f, logicalBlockSize, physicalBlockSize); err == nil {
		for _, p := range pmbr.Partitions {
			if p.Type == mbr.EFIGPTProtective {
				table.ProtectiveMBR = true
			}
		}
	}
	return table, nil
}

func readArray(f backend.File, h *header, sectorSize int) ([]byte, error) {
	if h.entrySize == 0 || h.entries == 0 {
		return nil, fmt.Errorf("invalid partition array of %d entries of %d bytes", h.entries, h.entrySize)
	}
	array := make([]byte, int(h.entries)*int(h.entrySize))
	read, err := f.ReadAt(array, int64(h.arrayStart)*int64(sectorSize))
	if err != nil {
		return nil, fmt.Errorf("error reading GPT partition array from file: %w", err)
	}
	if read != len(array) {
		return nil, fmt.Errorf("read only %d bytes of GPT partition array instead of expected %d", read, len(array))
	}
	return array, nil
}

// Verify checks that the backup header at the end of a disk of diskSize bytes
// is valid, points back at the primary and describes the same partition array.
func (t *Table) Verify(f backend.File, diskSize int64) error {
	sectorSize := t.sectorSize()
	last := uint64(diskSize/int64(sectorSize)) - 1
	if t.secondaryHeader != last {
		return fmt.Errorf("primary header points at backup LBA %d, last LBA of disk is %d", t.secondaryHeader, last)
	}
	hdr := make([]byte, sectorSize)
	read, err := f.ReadAt(hdr, int64(last)*int64(sectorSize))
	if err != nil {
		return fmt.Errorf("error reading backup GPT from file: %w", err)
	}
	if read != len(hdr) {
		return fmt.Errorf("read only %d bytes of backup GPT from file instead of expected %d", read, len(hdr))
	}
	h, err := headerFromBytes(hdr)
	if err != nil {
		return fmt.Errorf("invalid backup GPT header: %w", err)
	}
	if h.currentLBA != last || h.backupLBA != t.primaryHeader {
		return fmt.Errorf("backup header at LBA %d points at %d and %d instead of %d and %d", last, h.currentLBA, h.backupLBA, last, t.primaryHeader)
	}
	if h.firstDataSector != t.firstDataSector || h.lastDataSector != t.lastDataSector || h.diskGUID != t.GUID {
		return fmt.Errorf("backup header does not match primary header")
	}
	array, err := readArray(f, h, sectorSize)
	if err != nil {
		return err
	}
	if actual := crc32.ChecksumIEEE(array); actual != h.arrayCRC {
		return fmt.Errorf("invalid EFI Partition Entry Checksum on backup array, expected %v, got %v", h.arrayCRC, actual)
	}
	primary, err := t.toPartitionArrayBytes()
	if err != nil {
		return err
	}
	if !bytes.Equal(primary, array) {
		return fmt.Errorf("backup partition array differs from primary")
	}
	return nil
}

func (t *Table) sectorSize() int {
	if t.LogicalSectorSize == 0 {
		return logicalSectorSize
	}
	return t.LogicalSectorSize
}

// GetPartitions get the partitions
func (t *Table) GetPartitions() []part.Partition {
	// each Partition matches the part.Partition interface, but golang does not accept passing them in a slice
	parts := make([]part.Partition, len(t.Partitions))
	for i, p := range t.Partitions {
		parts[i] = p
	}
	return parts
}

// UUID returns the disk GUID
func (t *Table) UUID() string {
	return t.GUID
}
