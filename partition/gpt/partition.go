package gpt

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/diskfs/go-efiimg/backend"
	"github.com/diskfs/go-efiimg/partition/part"
)

// PartitionEntrySize fixed size of a GPT partition entry
const PartitionEntrySize = 128

// Partition represents the structure of a single partition on the disk
type Partition struct {
	Start              uint64 // start sector for the partition
	End                uint64 // end sector for the partition
	Size               uint64 // size of the partition in bytes
	Type               Type   // parttype for the partition
	Name               string // name for the partition
	GUID               string // partition GUID, can be left blank to auto-generate
	Attributes         uint64 // Attributes flags
	Index              int    // 1-based slot in the partition array
	logicalSectorSize  int
	physicalSectorSize int
}

// Equal compares the on-disk fields of two partitions. Size is derived from
// Start and End, so it is not compared directly.
func (p *Partition) Equal(p2 *Partition) bool {
	if p2 == nil {
		return false
	}
	return p.Start == p2.Start &&
		p.End == p2.End &&
		p.Name == p2.Name &&
		p.GUID == p2.GUID &&
		p.Type == p2.Type &&
		p.Attributes == p2.Attributes
}

func (p *Partition) sectorSize() int {
	if p.logicalSectorSize == 0 {
		return logicalSectorSize
	}
	return p.logicalSectorSize
}

// initEntry fills in the fields a caller may leave blank: a fresh GUID, and
// whichever of End and Size is missing.
func (p *Partition) initEntry(blocksize uint64, starting uint64) error {
	if p.Type == Unused {
		return nil
	}
	if p.GUID == "" {
		p.GUID = newGUID()
	}
	if p.Start == 0 {
		p.Start = starting
	}
	switch {
	case p.End == 0 && p.Size == 0:
		return fmt.Errorf("partition %d must have at least one of End or Size", p.Index)
	case p.End == 0:
		sectors := p.Size / blocksize
		if p.Size%blocksize > 0 {
			sectors++
		}
		p.End = p.Start + sectors - 1
	case p.Size == 0:
		p.Size = (p.End - p.Start + 1) * blocksize
	default:
		if p.End < p.Start {
			return fmt.Errorf("partition %d end sector %d before start sector %d", p.Index, p.End, p.Start)
		}
		if (p.End-p.Start+1)*blocksize != p.Size {
			return fmt.Errorf("partition %d size %d does not match start %d and end %d sectors", p.Index, p.Size, p.Start, p.End)
		}
	}
	return nil
}

// toBytes return the 128 bytes for this partition
func (p *Partition) toBytes() ([]byte, error) {
	b := make([]byte, PartitionEntrySize)

	// if the Type is Unused, just return all zeroes
	if p.Type == Unused {
		return b, nil
	}

	typeBytes, err := guidToBytes(string(p.Type))
	if err != nil {
		return nil, fmt.Errorf("unable to parse partition type GUID: %s: %w", p.Type, err)
	}
	copy(b[0:16], typeBytes)

	guidBytes, err := guidToBytes(p.GUID)
	if err != nil {
		return nil, fmt.Errorf("unable to parse partition identifier GUID: %s: %w", p.GUID, err)
	}
	copy(b[16:32], guidBytes)

	binary.LittleEndian.PutUint64(b[32:40], p.Start)
	binary.LittleEndian.PutUint64(b[40:48], p.End)
	binary.LittleEndian.PutUint64(b[48:56], p.Attributes)

	nameBytes, err := encodeName(p.Name)
	if err != nil {
		return nil, err
	}
	copy(b[56:128], nameBytes)

	return b, nil
}

// partitionFromBytes create a partition entry from bytes
func partitionFromBytes(b []byte, logicalSectorSize, physicalSectorSize int) (*Partition, error) {
	if len(b) != PartitionEntrySize {
		return nil, fmt.Errorf("data for partition was %d bytes instead of expected %d", len(b), PartitionEntrySize)
	}
	if logicalSectorSize == 0 {
		logicalSectorSize = 512
	}
	start := binary.LittleEndian.Uint64(b[32:40])
	end := binary.LittleEndian.Uint64(b[40:48])
	var size uint64
	if end >= start {
		size = (end - start + 1) * uint64(logicalSectorSize)
	}

	return &Partition{
		Start:              start,
		End:                end,
		Size:               size,
		Name:               decodeName(b[56:128]),
		GUID:               bytesToGUID(b[16:32]),
		Attributes:         binary.LittleEndian.Uint64(b[48:56]),
		Type:               Type(bytesToGUID(b[0:16])),
		logicalSectorSize:  logicalSectorSize,
		physicalSectorSize: physicalSectorSize,
	}, nil
}

// GetIndex returns the 1-based slot of the partition in the array
func (p *Partition) GetIndex() int {
	return p.Index
}

// GetSize returns the size of the partition in bytes
func (p *Partition) GetSize() int64 {
	// size already is in Bytes
	return int64(p.Size)
}

// GetStart returns the start position of the partition in bytes
func (p *Partition) GetStart() int64 {
	return int64(p.Start) * int64(p.sectorSize())
}

// UUID returns the partition's unique GUID
func (p *Partition) UUID() string {
	return p.GUID
}

// WriteContents fills the partition with the contents provided
// reads from beginning of reader to exactly size of partition in bytes
func (p *Partition) WriteContents(f backend.WritableFile, contents io.Reader) (uint64, error) {
	size := p.Size
	w := io.NewOffsetWriter(f, p.GetStart())
	written, err := io.Copy(w, io.LimitReader(contents, int64(size)))
	if err != nil {
		return uint64(written), fmt.Errorf("error writing to file: %w", err)
	}
	var extra [1]byte
	if n, _ := contents.Read(extra[:]); n > 0 {
		return uint64(written), part.NewPartitionOverflowError(size)
	}
	if uint64(written) != size {
		return uint64(written), part.NewIncompletePartitionWriteError(uint64(written), size)
	}
	return uint64(written), nil
}

// ReadContents reads the contents of the partition into a writer
// streams the entire partition to the writer
func (p *Partition) ReadContents(f backend.File, out io.Writer) (int64, error) {
	r := io.NewSectionReader(f, p.GetStart(), p.GetSize())
	read, err := io.Copy(out, r)
	if err != nil {
		return read, fmt.Errorf("error reading from file: %w", err)
	}
	return read, nil
}
