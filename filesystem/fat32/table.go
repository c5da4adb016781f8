package fat32

import (
	"encoding/binary"
)

// FATType is the width of a FAT entry, 12, 16 or 32 bits
type FATType int

const (
	// FATAuto picks the narrowest type valid for the volume size
	FATAuto FATType = 0
	FAT12   FATType = 12
	FAT16   FATType = 16
	FAT32   FATType = 32
)

func (t FATType) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "auto"
	}
}

// table one copy of the file allocation table, kept in its on-disk encoding so
// that changes can be written back a sector at a time
type table struct {
	fatType FATType
	b       []byte
	// entries is how many cluster numbers b can describe
	entries uint32
	// dirty byte range of b since the last flush, hi exclusive
	dirtyLo, dirtyHi int
}

func newTable(fatType FATType, size int) *table {
	t := &table{
		fatType: fatType,
		b:       make([]byte, size),
	}
	t.entries = uint32(size * 8 / int(fatType))
	t.set(0, fatType.mediaEntry(mediaFixed))
	t.set(1, fatType.eoc())
	return t
}

func tableFromBytes(b []byte, fatType FATType) *table {
	return &table{
		fatType: fatType,
		b:       b,
		entries: uint32(len(b) * 8 / int(fatType)),
		dirtyLo: len(b),
	}
}

// eoc is the end-of-chain marker written by this package
func (t FATType) eoc() uint32 {
	switch t {
	case FAT12:
		return 0xfff
	case FAT16:
		return 0xffff
	default:
		return 0x0fffffff
	}
}

// mediaEntry is the value of FAT entry 0 for a given media descriptor
func (t FATType) mediaEntry(media uint8) uint32 {
	switch t {
	case FAT12:
		return 0xf00 | uint32(media)
	case FAT16:
		return 0xff00 | uint32(media)
	default:
		return 0x0fffff00 | uint32(media)
	}
}

// maxClusters is the largest number of data clusters the type can address
func (t FATType) maxClusters() uint32 {
	switch t {
	case FAT12:
		return 4084
	case FAT16:
		return 65524
	default:
		return 0x0ffffff5
	}
}

// minClusters is the smallest number of data clusters a volume of the type may have
func (t FATType) minClusters() uint32 {
	switch t {
	case FAT16:
		return 4085
	case FAT32:
		return 65525
	default:
		return 1
	}
}

// fatTypeForClusters decides the type purely from the cluster count, which is
// the only rule that counts when reading a volume
func fatTypeForClusters(clusters uint32) FATType {
	switch {
	case clusters < 4085:
		return FAT12
	case clusters < 65525:
		return FAT16
	default:
		return FAT32
	}
}

func (t *table) fatID() uint32 {
	return t.get(0)
}

func (t *table) eocMarker() uint32 {
	return t.get(1)
}

func (t *table) get(cluster uint32) uint32 {
	if cluster >= t.entries {
		return 0
	}
	switch t.fatType {
	case FAT12:
		return uint32(getFAT12Entry(t.b, cluster))
	case FAT16:
		return uint32(binary.LittleEndian.Uint16(t.b[cluster*2:]))
	default:
		return binary.LittleEndian.Uint32(t.b[cluster*4:]) & 0x0fffffff
	}
}

func (t *table) set(cluster, value uint32) {
	if cluster >= t.entries {
		return
	}
	var lo, hi int
	switch t.fatType {
	case FAT12:
		setFat12Entry(t.b, cluster, uint16(value))
		lo = int(cluster * 3 / 2)
		hi = lo + 2
	case FAT16:
		lo = int(cluster * 2)
		hi = lo + 2
		binary.LittleEndian.PutUint16(t.b[lo:hi], uint16(value))
	default:
		lo = int(cluster * 4)
		hi = lo + 4
		// the top four bits are reserved and must be preserved
		old := binary.LittleEndian.Uint32(t.b[lo:hi])
		binary.LittleEndian.PutUint32(t.b[lo:hi], old&0xf0000000|value&0x0fffffff)
	}
	if lo < t.dirtyLo {
		t.dirtyLo = lo
	}
	if hi > t.dirtyHi {
		t.dirtyHi = hi
	}
}

func (t *table) markClean() {
	t.dirtyLo, t.dirtyHi = len(t.b), 0
}

// takeDirty returns the byte range changed since the last call, widened to
// whole sectors, and resets it. ok is false when nothing changed.
func (t *table) takeDirty(sectorSize int) (lo, hi int, ok bool) {
	if t.dirtyHi <= t.dirtyLo {
		return 0, 0, false
	}
	lo = t.dirtyLo / sectorSize * sectorSize
	hi = (t.dirtyHi + sectorSize - 1) / sectorSize * sectorSize
	if hi > len(t.b) {
		hi = len(t.b)
	}
	t.markClean()
	return lo, hi, true
}

func getFAT12Entry(b []byte, cluster uint32) uint16 {
	bytePos := (cluster * 3) / 2
	if bytePos+1 >= uint32(len(b)) {
		return 0
	}
	if cluster%2 == 0 {
		// even cluster numbers take 12 bits: 8 from first byte and 4 from second byte
		return uint16(b[bytePos]) | ((uint16(b[bytePos+1]) & 0x0F) << 8)
	}
	// odd cluster numbers take 12 bits: 4 from first byte and 8 from second byte
	return uint16(b[bytePos]>>4) | (uint16(b[bytePos+1]) << 4)
}

func setFat12Entry(b []byte, cluster uint32, value uint16) {
	bytePos := (cluster * 3) / 2
	if bytePos+1 >= uint32(len(b)) {
		return
	}
	if cluster%2 == 0 {
		// Even cluster numbers: 8 bits to first byte and 4 bits to second byte
		b[bytePos] = byte(value & 0xFF)
		b[bytePos+1] = (b[bytePos+1] & 0xF0) | byte((value>>8)&0x0F)
		return
	}
	// Odd cluster numbers: 4 bits to first byte and 8 bits to second byte
	b[bytePos] = (b[bytePos] & 0x0F) | byte((value&0x0F)<<4)
	b[bytePos+1] = byte(value >> 4)
}

// isEoc any value from 0x?ff8 upwards ends a chain, see http://elm-chan.org/docs/fat_e.html#file_cluster
func (t *table) isEoc(value uint32) bool {
	switch t.fatType {
	case FAT12:
		return value&0xFF8 == 0xFF8
	case FAT16:
		return value&0xFFF8 == 0xFFF8
	default:
		return value&0xFFFFFF8 == 0xFFFFFF8
	}
}
