package fat32

import (
	"time"
)

// Directory represents a single directory in a FAT filesystem
type Directory struct {
	directoryEntry
	// isRoot marks the root directory; on FAT12 and FAT16 it lives in a fixed region
	isRoot  bool
	entries []*directoryEntry
}

// entriesFromBytes loads the directory entries from the raw bytes
func (d *Directory) entriesFromBytes(b []byte) error {
	entries, err := parseDirEntries(b)
	if err != nil {
		return err
	}
	for _, e := range entries {
		e.filesystem = d.filesystem
	}
	d.entries = entries
	return nil
}

// entriesToBytes convert our entries to raw bytes, zero padded to a multiple of padTo
func (d *Directory) entriesToBytes(padTo int) ([]byte, error) {
	b := make([]byte, 0, (len(d.entries)+1)*dirEntrySize)
	for _, de := range d.entries {
		b2, err := de.toBytes()
		if err != nil {
			return nil, err
		}
		b = append(b, b2...)
	}
	if remainder := len(b) % padTo; remainder != 0 || len(b) == 0 {
		b = append(b, make([]byte, padTo-remainder)...)
	}
	return b, nil
}

// findEntry returns the entry with the given short name, matched case-insensitively
func (d *Directory) findEntry(name string) *directoryEntry {
	base, ext, err := convertSfn(name)
	if err != nil {
		return nil
	}
	for _, e := range d.entries {
		if e.matches(base, ext) {
			return e
		}
	}
	return nil
}

// createEntry creates an entry in the given directory, and returns the handle to it
func (d *Directory) createEntry(name string, cluster uint32, dir bool, now time.Time) (*directoryEntry, error) {
	shortName, extension, err := convertSfn(name)
	if err != nil {
		return nil, err
	}
	attributes := AttrArchive
	if dir {
		attributes = AttrDirectory
	}
	entry := directoryEntry{
		filenameShort:   shortName,
		fileExtension:   extension,
		attributes:      attributes,
		fileSize:        uint32(0),
		clusterLocation: cluster,
		filesystem:      d.filesystem,
		createTime:      now,
		modifyTime:      now,
		accessTime:      now,
	}
	d.entries = append(d.entries, &entry)
	return &entry, nil
}

// createVolumeLabel create a volume label entry in the given directory, and return the handle to it
func (d *Directory) createVolumeLabel(name string, now time.Time) *directoryEntry {
	entry := directoryEntry{
		filenameShort: name,
		attributes:    AttrVolumeLabel,
		filesystem:    d.filesystem,
		createTime:    now,
		modifyTime:    now,
		accessTime:    now,
	}
	d.entries = append(d.entries, &entry)
	return &entry
}

// dotEntries returns the "." and ".." entries that open every subdirectory.
// ".." of a directory directly under the root points at cluster 0.
func dotEntries(self, parent uint32, fs *FileSystem, now time.Time) []*directoryEntry {
	return []*directoryEntry{
		{
			filenameShort:   ".",
			attributes:      AttrDirectory,
			clusterLocation: self,
			filesystem:      fs,
			createTime:      now,
			modifyTime:      now,
			accessTime:      now,
		},
		{
			filenameShort:   "..",
			attributes:      AttrDirectory,
			clusterLocation: parent,
			filesystem:      fs,
			createTime:      now,
			modifyTime:      now,
			accessTime:      now,
		},
	}
}
