package fat32

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"strings"
	"time"
)

// AttrReadOnly etc. are the attribute bits of a directory entry
const (
	AttrReadOnly    uint8 = 0x01
	AttrHidden      uint8 = 0x02
	AttrSystem      uint8 = 0x04
	AttrVolumeLabel uint8 = 0x08
	AttrDirectory   uint8 = 0x10
	AttrArchive     uint8 = 0x20
	// attrLongName marks a VFAT long-name slot, skipped when reading
	attrLongName uint8 = 0x0f
)

const (
	deletedEntryMarker = 0xe5
	// a name starting with 0xe5 is stored with 0x05 instead
	escapedE5 = 0x05
)

// directoryEntry is a single 32-byte directory entry. It implements fs.FileInfo.
type directoryEntry struct {
	filenameShort   string
	fileExtension   string
	attributes      uint8
	createTime      time.Time
	modifyTime      time.Time
	accessTime      time.Time
	clusterLocation uint32
	fileSize        uint32
	filesystem      *FileSystem
}

func (de *directoryEntry) isSubdirectory() bool {
	return de.attributes&AttrDirectory != 0
}

func (de *directoryEntry) isVolumeLabel() bool {
	return de.attributes&AttrVolumeLabel != 0
}

func (de *directoryEntry) isDotEntry() bool {
	return de.filenameShort == "." || de.filenameShort == ".."
}

// matches reports whether the entry has the given normalized short name
func (de *directoryEntry) matches(base, ext string) bool {
	return !de.isVolumeLabel() && de.filenameShort == base && de.fileExtension == ext
}

// Name returns the name as BASE.EXT, or BASE when there is no extension
func (de *directoryEntry) Name() string {
	if de.fileExtension == "" {
		return de.filenameShort
	}
	return de.filenameShort + "." + de.fileExtension
}

// Size returns the length of the file in bytes, 0 for directories
func (de *directoryEntry) Size() int64 {
	return int64(de.fileSize)
}

// Mode returns permission bits derived from the attributes
func (de *directoryEntry) Mode() fs.FileMode {
	mode := fs.FileMode(0o644)
	if de.attributes&AttrReadOnly != 0 {
		mode = 0o444
	}
	if de.isSubdirectory() {
		mode |= fs.ModeDir | 0o111
	}
	return mode
}

// ModTime returns the last modification time
func (de *directoryEntry) ModTime() time.Time {
	return de.modifyTime
}

// IsDir is true for subdirectories
func (de *directoryEntry) IsDir() bool {
	return de.isSubdirectory()
}

// Sys returns the raw attribute byte
func (de *directoryEntry) Sys() any {
	return de.attributes
}

func (de *directoryEntry) toBytes() ([]byte, error) {
	b := make([]byte, dirEntrySize)

	if de.isVolumeLabel() {
		label := de.filenameShort + de.fileExtension
		if len(label) > shortNameLength+shortExtensionLength {
			return nil, fmt.Errorf("volume label %q too long", label)
		}
		copy(b[0:11], padRight(label, 11))
	} else {
		if len(de.filenameShort) > shortNameLength || len(de.fileExtension) > shortExtensionLength {
			return nil, fmt.Errorf("cannot store %s as a short name", de.Name())
		}
		copy(b[0:8], padRight(de.filenameShort, shortNameLength))
		copy(b[8:11], padRight(de.fileExtension, shortExtensionLength))
		if b[0] == deletedEntryMarker {
			b[0] = escapedE5
		}
	}
	b[11] = de.attributes

	ctime, cdate, tenths := timeToBytes(de.createTime)
	b[13] = tenths
	binary.LittleEndian.PutUint16(b[14:16], ctime)
	binary.LittleEndian.PutUint16(b[16:18], cdate)
	_, adate, _ := timeToBytes(de.accessTime)
	binary.LittleEndian.PutUint16(b[18:20], adate)
	mtime, mdate, _ := timeToBytes(de.modifyTime)
	binary.LittleEndian.PutUint16(b[22:24], mtime)
	binary.LittleEndian.PutUint16(b[24:26], mdate)

	binary.LittleEndian.PutUint16(b[20:22], uint16(de.clusterLocation>>16))
	binary.LittleEndian.PutUint16(b[26:28], uint16(de.clusterLocation))
	binary.LittleEndian.PutUint32(b[28:32], de.fileSize)
	return b, nil
}

func directoryEntryFromBytes(b []byte) (*directoryEntry, error) {
	if len(b) != dirEntrySize {
		return nil, fmt.Errorf("directory entry was %d bytes instead of expected %d", len(b), dirEntrySize)
	}
	name := make([]byte, 11)
	copy(name, b[0:11])
	if name[0] == escapedE5 {
		name[0] = deletedEntryMarker
	}
	de := directoryEntry{
		attributes:      b[11],
		createTime:      timeFromBytes(binary.LittleEndian.Uint16(b[14:16]), binary.LittleEndian.Uint16(b[16:18]), b[13]),
		accessTime:      timeFromBytes(0, binary.LittleEndian.Uint16(b[18:20]), 0),
		modifyTime:      timeFromBytes(binary.LittleEndian.Uint16(b[22:24]), binary.LittleEndian.Uint16(b[24:26]), 0),
		clusterLocation: uint32(binary.LittleEndian.Uint16(b[20:22]))<<16 | uint32(binary.LittleEndian.Uint16(b[26:28])),
		fileSize:        binary.LittleEndian.Uint32(b[28:32]),
	}
	if de.isVolumeLabel() {
		de.filenameShort = strings.TrimRight(string(name), " ")
		return &de, nil
	}
	de.filenameShort = strings.TrimRight(string(name[0:8]), " ")
	de.fileExtension = strings.TrimRight(string(name[8:11]), " ")
	return &de, nil
}

// parseDirEntries reads entries until the end-of-directory marker, skipping
// deleted entries and long-name slots
func parseDirEntries(b []byte) ([]*directoryEntry, error) {
	entries := make([]*directoryEntry, 0, 4)
	for i := 0; i+dirEntrySize <= len(b); i += dirEntrySize {
		switch {
		case b[i] == 0x00:
			return entries, nil
		case b[i] == deletedEntryMarker:
			continue
		case b[i+11] == attrLongName:
			continue
		}
		de, err := directoryEntryFromBytes(b[i : i+dirEntrySize])
		if err != nil {
			return nil, fmt.Errorf("error reading directory entry %d: %w", i/dirEntrySize, err)
		}
		entries = append(entries, de)
	}
	return entries, nil
}
