// Package fat32 formats, reads and writes FAT12, FAT16 and FAT32 volumes.
// Only 8.3 short names are supported; long file names are neither written nor
// returned, and long-name slots found on disk are skipped.
package fat32

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/diskfs/go-efiimg/backend"
	"github.com/diskfs/go-efiimg/filesystem"
	"github.com/google/uuid"
)

// ErrNoSpace is returned when the volume has no free cluster left, or the
// fixed FAT12/16 root directory has no free slot left
var ErrNoSpace = errors.New("no space left on FAT volume")

// Options control how a volume is formatted
type Options struct {
	// Label is the volume label, up to 11 characters; stored uppercase
	Label string
	// FATType forces a FAT width; FATAuto picks one from the size
	FATType FATType
	// VolumeID is the serial number; 0 means generate one
	VolumeID uint32
	// Timestamp is used for every directory entry this filesystem creates; zero means time.Now()
	Timestamp time.Time
}

// FileSystem implements the FileSystem interface
type FileSystem struct {
	bootSector      msDosBootSector
	fsis            FSInformationSector
	table           *table
	fatType         FATType
	bytesPerSector  int
	bytesPerCluster int
	clusterCount    uint32
	fatStart        int64 // byte offset of the first FAT from the start of the volume
	fatSize         int64 // bytes in one FAT
	fatCount        int
	rootDirStart    int64 // byte offset of the fixed root directory, FAT12/16 only
	rootDirSize     int64
	dataStart       int64 // byte offset of cluster 2
	rootCluster     uint32
	size            int64
	start           int64
	backend         backend.Storage
	timestamp       time.Time
}

// Equal compare if two filesystems are equal
func (fs *FileSystem) Equal(a *FileSystem) bool {
	localMatch := fs.backend == a.backend && fs.dataStart == a.dataStart && fs.bytesPerCluster == a.bytesPerCluster
	return localMatch && fs.fatType == a.fatType && fs.fsis == a.fsis
}

// Create creates a FAT filesystem in a given file or device
//
// requires the backend.Storage where to create the filesystem, size is the size of the filesystem in bytes,
// start is how far in bytes from the beginning of the backend.Storage to create the filesystem,
// and blocksize is is the logical blocksize to use for creating the filesystem
//
// note that you are *not* required to create the filesystem on the entire disk. You could have a disk of size
// 20GB, and create a small filesystem of size 50MB that begins 2GB into the disk.
// This is extremely useful for creating filesystems on disk partitions.
func Create(b backend.Storage, size, start, blocksize int64, opts *Options) (*FileSystem, error) {
	if opts == nil {
		opts = &Options{}
	}
	if blocksize == 0 {
		blocksize = 512
	}
	writable, err := b.Writable()
	if err != nil {
		return nil, err
	}
	l, err := computeLayout(size, blocksize, opts.FATType)
	if err != nil {
		return nil, fmt.Errorf("unable to lay out filesystem: %w", err)
	}
	label, err := normalizeLabel(opts.Label)
	if err != nil {
		return nil, err
	}
	volumeID := opts.VolumeID
	if volumeID == 0 {
		u := uuid.New()
		volumeID = binary.LittleEndian.Uint32(u[0:4])
	}
	now := opts.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	bs := newBootSector(l, label, volumeID)
	fs := newFileSystem(b, l, *bs, start, size, now)
	fs.table = newTable(l.fatType, int(fs.fatSize))
	fs.fsis = FSInformationSector{
		freeDataClustersCount: l.clusterCount,
		lastAllocatedCluster:  1,
	}
	if l.fatType == FAT32 {
		// the root directory is a one-cluster chain
		fs.table.set(rootCluster, l.fatType.eoc())
		fs.fsis.freeDataClustersCount--
		fs.fsis.lastAllocatedCluster = rootCluster
	}

	bsBytes, err := bs.toBytes()
	if err != nil {
		return nil, fmt.Errorf("could not create boot sector: %w", err)
	}
	if err := writeFull(writable, bsBytes, start); err != nil {
		return nil, fmt.Errorf("unable to write boot sector: %w", err)
	}
	if l.fatType == FAT32 {
		if err := writeFull(writable, bsBytes, start+int64(backupBootSector*l.bytesPerSector)); err != nil {
			return nil, fmt.Errorf("unable to write backup boot sector: %w", err)
		}
		if err := fs.writeFsis(); err != nil {
			return nil, err
		}
	}

	// every FAT in full, then nothing is dirty
	fatBytes := fs.table.b
	for i := 0; i < fs.fatCount; i++ {
		if err := writeFull(writable, fatBytes, start+fs.fatStart+int64(i)*fs.fatSize); err != nil {
			return nil, fmt.Errorf("unable to write FAT %d: %w", i, err)
		}
	}
	fs.table.markClean()

	root := fs.rootDirectory()
	if label != "" {
		root.createVolumeLabel(label, now)
	}
	if err := fs.writeDirectoryEntries(root); err != nil {
		return nil, fmt.Errorf("unable to write root directory: %w", err)
	}
	return fs, nil
}

func newBootSector(l *layout, label string, volumeID uint32) *msDosBootSector {
	dos20 := &dos20BPB{
		bytesPerSector:       uint16(l.bytesPerSector),
		sectorsPerCluster:    uint8(l.sectorsPerCluster),
		reservedSectors:      uint16(l.reservedSectors),
		fatCount:             fatCount,
		rootDirectoryEntries: uint16(l.rootEntries),
		mediaType:            mediaFixed,
	}
	dos331 := &dos331BPB{
		dos20BPB:        dos20,
		sectorsPerTrack: sectorsPerTrack,
		heads:           heads,
		hiddenSectors:   0,
	}
	if l.totalSectors < 0x10000 && l.fatType != FAT32 {
		dos20.totalSectors = uint16(l.totalSectors)
	} else {
		dos331.totalSectors = uint32(l.totalSectors)
	}
	if label == "" {
		label = "NO NAME"
	}
	bs := &msDosBootSector{
		oemName:  oemName,
		bootCode: bootCodeStub,
	}
	if l.fatType == FAT32 {
		bs.jumpInstruction = [3]byte{0xeb, 0x58, 0x90}
		bs.fat32BPB = &dos71EBPB{
			dos331BPB:             dos331,
			sectorsPerFat:         uint32(l.sectorsPerFat),
			rootDirectoryCluster:  rootCluster,
			fsInformationSector:   fsInfoSector,
			backupBootSector:      backupBootSector,
			driveNumber:           driveNumberFixed,
			extendedBootSignature: longEBPBSignature,
			volumeSerialNumber:    volumeID,
			volumeLabel:           label,
			fileSystemType:        "FAT32",
		}
		return bs
	}
	dos20.sectorsPerFat = uint16(l.sectorsPerFat)
	bs.jumpInstruction = [3]byte{0xeb, 0x3c, 0x90}
	bs.fat16BPB = &dos40EBPB{
		dos331BPB:             dos331,
		driveNumber:           driveNumberFixed,
		extendedBootSignature: longEBPBSignature,
		volumeSerialNumber:    volumeID,
		volumeLabel:           label,
		fileSystemType:        l.fatType.String(),
	}
	return bs
}

func newFileSystem(b backend.Storage, l *layout, bs msDosBootSector, start, size int64, now time.Time) *FileSystem {
	fs := &FileSystem{
		bootSector:      bs,
		fatType:         l.fatType,
		bytesPerSector:  l.bytesPerSector,
		bytesPerCluster: l.bytesPerCluster(),
		clusterCount:    l.clusterCount,
		fatStart:        l.fatStart(),
		fatSize:         int64(l.sectorsPerFat) * int64(l.bytesPerSector),
		fatCount:        fatCount,
		rootDirStart:    l.rootDirStart(),
		rootDirSize:     int64(l.rootDirSectors) * int64(l.bytesPerSector),
		dataStart:       l.dataStart(),
		size:            size,
		start:           start,
		backend:         b,
		timestamp:       now,
	}
	if l.fatType == FAT32 {
		fs.rootCluster = rootCluster
	}
	return fs
}

// Read reads a filesystem from a given disk.
//
// requires the backend.Storage where to read the filesystem, size is the size of the filesystem in bytes,
// start is how far in bytes from the beginning of the backend.Storage the filesystem is expected to begin,
// and blocksize is is the logical blocksize to use for reading the filesystem, 0 accepts whatever
// sector size the boot sector declares
func Read(b backend.Storage, size, start, blocksize int64) (*FileSystem, error) {
	if size < bootSectorSize {
		return nil, fmt.Errorf("requested size %d is smaller than a boot sector", size)
	}
	bsb := make([]byte, bootSectorSize)
	n, err := b.ReadAt(bsb, start)
	if err != nil {
		return nil, fmt.Errorf("could not read bytes from file: %w", err)
	}
	if n != len(bsb) {
		return nil, fmt.Errorf("only could read %d bytes from file", n)
	}
	bs, err := msDosBootSectorFromBytes(bsb)
	if err != nil {
		return nil, fmt.Errorf("error reading MS-DOS Boot Sector: %w", err)
	}

	dos331 := bs.dos331()
	dos20 := dos331.dos20BPB
	if blocksize != 0 && int64(dos20.bytesPerSector) != blocksize {
		return nil, fmt.Errorf("sector size %d in boot sector does not match logical block size %d", dos20.bytesPerSector, blocksize)
	}
	if dos20.sectorsPerCluster == 0 || dos20.sectorsPerCluster&(dos20.sectorsPerCluster-1) != 0 {
		return nil, fmt.Errorf("invalid sectors per cluster %d", dos20.sectorsPerCluster)
	}
	if dos20.fatCount == 0 {
		return nil, fmt.Errorf("volume has no FAT")
	}
	l := &layout{
		bytesPerSector:    int(dos20.bytesPerSector),
		sectorsPerCluster: int(dos20.sectorsPerCluster),
		reservedSectors:   int(dos20.reservedSectors),
		rootEntries:       int(dos20.rootDirectoryEntries),
		sectorsPerFat:     int(bs.sectorsPerFat()),
		totalSectors:      int(dos331.sectors()),
	}
	l.rootDirSectors = (l.rootEntries*dirEntrySize + l.bytesPerSector - 1) / l.bytesPerSector
	if int64(l.totalSectors)*int64(l.bytesPerSector) > size {
		return nil, fmt.Errorf("boot sector claims %d sectors, more than the %d bytes available", l.totalSectors, size)
	}
	metaSectors := l.reservedSectors + int(dos20.fatCount)*l.sectorsPerFat + l.rootDirSectors
	if metaSectors >= l.totalSectors {
		return nil, fmt.Errorf("no data area left after %d metadata sectors of %d", metaSectors, l.totalSectors)
	}
	l.clusterCount = uint32((l.totalSectors - metaSectors) / l.sectorsPerCluster)
	l.fatType = fatTypeForClusters(l.clusterCount)
	if (l.fatType == FAT32) != (bs.fat32BPB != nil) {
		return nil, fmt.Errorf("cluster count %d implies %s, boot sector disagrees", l.clusterCount, l.fatType)
	}
	if l.fatType == FAT32 && bs.fat32BPB.rootDirectoryCluster < 2 {
		return nil, fmt.Errorf("invalid root directory cluster %d", bs.fat32BPB.rootDirectoryCluster)
	}

	fs := newFileSystem(b, l, *bs, start, size, time.Now())
	fs.fatCount = int(dos20.fatCount)
	fs.rootDirStart = fs.fatStart + int64(fs.fatCount)*fs.fatSize
	fs.dataStart = fs.rootDirStart + fs.rootDirSize
	if l.fatType == FAT32 {
		fs.rootCluster = bs.fat32BPB.rootDirectoryCluster
	}
	if int64(l.clusterCount+2)*int64(l.fatType)/8 > fs.fatSize {
		return nil, fmt.Errorf("FAT of %d bytes too small for %d clusters", fs.fatSize, l.clusterCount)
	}

	fatBytes := make([]byte, fs.fatSize)
	n, err = b.ReadAt(fatBytes, start+fs.fatStart)
	if err != nil {
		return nil, fmt.Errorf("unable to read FAT: %w", err)
	}
	if int64(n) != fs.fatSize {
		return nil, fmt.Errorf("read only %d bytes of FAT instead of %d", n, fs.fatSize)
	}
	fs.table = tableFromBytes(fatBytes, l.fatType)

	if l.fatType == FAT32 {
		fsisBytes := make([]byte, fsInfoSectorSize)
		offset := start + int64(bs.fat32BPB.fsInformationSector)*int64(l.bytesPerSector)
		if _, err := b.ReadAt(fsisBytes, offset); err != nil {
			return nil, fmt.Errorf("unable to read FS Information Sector: %w", err)
		}
		fsis, err := fsInformationSectorFromBytes(fsisBytes)
		if err != nil {
			return nil, fmt.Errorf("error reading FileSystem Information Sector: %w", err)
		}
		fs.fsis = *fsis
	}
	// the stored hint may be stale, so always count
	fs.fsis.freeDataClustersCount = fs.countFree()
	return fs, nil
}

// Type returns the type code for the filesystem. Always returns filesystem.TypeFat32
func (fs *FileSystem) Type() filesystem.Type {
	return filesystem.TypeFat32
}

// FATType returns the FAT width in use
func (fs *FileSystem) FATType() FATType {
	return fs.fatType
}

// BytesPerCluster returns the allocation unit size
func (fs *FileSystem) BytesPerCluster() int {
	return fs.bytesPerCluster
}

// VolumeID returns the volume serial number
func (fs *FileSystem) VolumeID() uint32 {
	return fs.bootSector.volumeSerialNumber()
}

// FreeBytes returns how much space is left for data
func (fs *FileSystem) FreeBytes() int64 {
	return int64(fs.fsis.freeDataClustersCount) * int64(fs.bytesPerCluster)
}

// Label get the label of the filesystem from the boot sector, without padding
func (fs *FileSystem) Label() string {
	label := fs.bootSector.volumeLabel()
	if label == "NO NAME" {
		return ""
	}
	return label
}

// Mkdir make a directory at the given path. It is equivalent to `mkdir -p`, i.e. idempotent, in that:
//
//   - It will make the entire tree path if it does not exist
//   - It will not return an error if the path already exists
func (fs *FileSystem) Mkdir(p string) error {
	_, _, err := fs.readDirWithMkdir(p, true)
	if err != nil {
		return fmt.Errorf("error creating directory %s: %w", p, err)
	}
	return nil
}

// ReadDir return the contents of a given directory in a given filesystem.
//
// Returns a slice of os.FileInfo with all of the entries in the directory.
// The volume label and the "." and ".." entries are not included.
func (fs *FileSystem) ReadDir(p string) ([]os.FileInfo, error) {
	dir, _, err := fs.readDirWithMkdir(p, false)
	if err != nil {
		return nil, fmt.Errorf("error reading directory %s: %w", p, err)
	}
	ret := make([]os.FileInfo, 0, len(dir.entries))
	for _, e := range dir.entries {
		if e.isVolumeLabel() || e.isDotEntry() {
			continue
		}
		ret = append(ret, e)
	}
	return ret, nil
}

// OpenFile returns an io.ReadWriter from which you can read the contents of a file
// or write contents to the file
//
// accepts normal os.OpenFile flags
//
// returns an error if the file does not exist
func (fs *FileSystem) OpenFile(p string, flag int) (filesystem.File, error) {
	dir, filename := path.Split(path.Clean("/" + p))
	if filename == "" {
		return nil, fmt.Errorf("cannot open the root directory as a file")
	}
	parentDir, _, err := fs.readDirWithMkdir(dir, false)
	if err != nil {
		return nil, fmt.Errorf("could not read directory entries for %s: %w", dir, err)
	}
	entry := parentDir.findEntry(filename)
	readWrite := flag&(os.O_RDWR|os.O_WRONLY) != 0
	switch {
	case entry == nil && flag&os.O_CREATE == 0:
		return nil, fmt.Errorf("target file %s does not exist and was not asked to create: %w", p, os.ErrNotExist)
	case entry == nil:
		if !readWrite {
			return nil, fmt.Errorf("cannot create file %s in read-only mode", p)
		}
		entry, err = parentDir.createEntry(filename, 0, false, fs.timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to create file %s: %w", p, err)
		}
		if err := fs.writeDirectoryEntries(parentDir); err != nil {
			return nil, fmt.Errorf("error writing directory file %s to disk: %w", p, err)
		}
	case flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL:
		return nil, fmt.Errorf("file %s already exists: %w", p, os.ErrExist)
	case entry.isSubdirectory():
		return nil, fmt.Errorf("cannot open directory %s as file", p)
	}

	fl := &File{
		directoryEntry: entry,
		isReadWrite:    readWrite,
		isAppend:       flag&os.O_APPEND != 0,
		parent:         parentDir,
		filesystem:     fs,
	}
	if flag&os.O_TRUNC != 0 && readWrite && entry.fileSize > 0 {
		if err := fl.truncate(); err != nil {
			return nil, err
		}
	}
	if fl.isAppend {
		fl.offset = int64(entry.fileSize)
	}
	return fl, nil
}

// Chtimes sets the creation, access and modification times of a file or directory
func (fs *FileSystem) Chtimes(p string, ctime, atime, mtime time.Time) error {
	dir, filename := path.Split(path.Clean("/" + p))
	if filename == "" {
		return fmt.Errorf("cannot set times on the root directory")
	}
	parentDir, _, err := fs.readDirWithMkdir(dir, false)
	if err != nil {
		return fmt.Errorf("could not read directory entries for %s: %w", dir, err)
	}
	entry := parentDir.findEntry(filename)
	if entry == nil {
		return fmt.Errorf("target %s does not exist: %w", p, os.ErrNotExist)
	}
	entry.createTime = ctime
	entry.accessTime = atime
	entry.modifyTime = mtime
	return fs.writeDirectoryEntries(parentDir)
}

// rootDirectory returns an empty handle on the root directory
func (fs *FileSystem) rootDirectory() *Directory {
	return &Directory{
		directoryEntry: directoryEntry{
			clusterLocation: fs.rootCluster,
			attributes:      AttrDirectory,
			filesystem:      fs,
		},
		isRoot: true,
	}
}

// readDirWithMkdir walks the tree to the directory p. Missing components are
// created when doMake is set, otherwise they are an error. It returns the
// directory and the chain of entries leading to it.
func (fs *FileSystem) readDirWithMkdir(p string, doMake bool) (*Directory, []*directoryEntry, error) {
	paths := splitPath(p)
	currentDir := fs.rootDirectory()
	if err := fs.readDirectory(currentDir); err != nil {
		return nil, nil, fmt.Errorf("failed to read root directory: %w", err)
	}
	chain := make([]*directoryEntry, 0, len(paths))
	for i, subp := range paths {
		entry := currentDir.findEntry(subp)
		switch {
		case entry == nil && !doMake:
			return nil, nil, fmt.Errorf("path %s not found: %w", "/"+strings.Join(paths[0:i+1], "/"), os.ErrNotExist)
		case entry == nil:
			var err error
			entry, err = fs.mkSubdir(currentDir, subp)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create subdirectory %s: %w", "/"+strings.Join(paths[0:i+1], "/"), err)
			}
		case !entry.isSubdirectory():
			return nil, nil, fmt.Errorf("cannot create directory at %s since it is a file", "/"+strings.Join(paths[0:i+1], "/"))
		}
		chain = append(chain, entry)
		next := &Directory{directoryEntry: *entry}
		next.filesystem = fs
		if err := fs.readDirectory(next); err != nil {
			return nil, nil, fmt.Errorf("could not read directory %s: %w", "/"+strings.Join(paths[0:i+1], "/"), err)
		}
		currentDir = next
	}
	return currentDir, chain, nil
}

// mkSubdir creates a subdirectory named name in parent: one cluster holding
// the dot entries, then the entry in the parent
func (fs *FileSystem) mkSubdir(parent *Directory, name string) (*directoryEntry, error) {
	// validate the name before anything is allocated
	if _, _, err := convertSfn(name); err != nil {
		return nil, err
	}
	clusters, err := fs.allocateSpace(uint64(fs.bytesPerCluster), 0)
	if err != nil {
		return nil, fmt.Errorf("could not allocate disk space for directory %s: %w", name, err)
	}
	parentCluster := parent.clusterLocation
	if parent.isRoot {
		parentCluster = 0
	}
	subdir := &Directory{
		directoryEntry: directoryEntry{
			clusterLocation: clusters[0],
			attributes:      AttrDirectory,
			filesystem:      fs,
		},
		entries: dotEntries(clusters[0], parentCluster, fs, fs.timestamp),
	}
	if err := fs.writeDirectoryEntries(subdir); err != nil {
		return nil, fmt.Errorf("error writing new directory entries to disk: %w", err)
	}
	entry, err := parent.createEntry(name, clusters[0], true, fs.timestamp)
	if err != nil {
		return nil, err
	}
	if err := fs.writeDirectoryEntries(parent); err != nil {
		return nil, fmt.Errorf("error writing directory entries to disk: %w", err)
	}
	return entry, nil
}

// readDirectory loads the entries of d from disk
func (fs *FileSystem) readDirectory(d *Directory) error {
	var b []byte
	if d.isRoot && fs.fatType != FAT32 {
		b = make([]byte, fs.rootDirSize)
		if err := fs.readAt(b, fs.rootDirStart); err != nil {
			return fmt.Errorf("unable to read root directory: %w", err)
		}
	} else {
		clusters, err := fs.getClusterList(d.clusterLocation)
		if err != nil {
			return fmt.Errorf("could not read cluster list: %w", err)
		}
		b = make([]byte, len(clusters)*fs.bytesPerCluster)
		for i, cluster := range clusters {
			chunk := b[i*fs.bytesPerCluster : (i+1)*fs.bytesPerCluster]
			if err := fs.readAt(chunk, fs.clusterOffset(cluster)); err != nil {
				return fmt.Errorf("unable to read directory cluster %d: %w", cluster, err)
			}
		}
	}
	return d.entriesFromBytes(b)
}

// writeDirectoryEntries writes the entries of d to disk, growing its cluster
// chain if needed. The fixed FAT12/16 root cannot grow.
func (fs *FileSystem) writeDirectoryEntries(d *Directory) error {
	if d.isRoot && fs.fatType != FAT32 {
		if int64(len(d.entries)*dirEntrySize) > fs.rootDirSize {
			return fmt.Errorf("root directory holds at most %d entries: %w", fs.rootDirSize/dirEntrySize, ErrNoSpace)
		}
		b, err := d.entriesToBytes(int(fs.rootDirSize))
		if err != nil {
			return fmt.Errorf("could not create a valid byte stream for a FAT directory: %w", err)
		}
		return fs.writeAt(b, fs.rootDirStart)
	}
	b, err := d.entriesToBytes(fs.bytesPerCluster)
	if err != nil {
		return fmt.Errorf("could not create a valid byte stream for a FAT directory: %w", err)
	}
	clusters, err := fs.allocateSpace(uint64(len(b)), d.clusterLocation)
	if err != nil {
		return fmt.Errorf("unable to allocate space for directory entries: %w", err)
	}
	d.clusterLocation = clusters[0]
	for i, cluster := range clusters {
		chunk := b[i*fs.bytesPerCluster : (i+1)*fs.bytesPerCluster]
		if err := fs.writeAt(chunk, fs.clusterOffset(cluster)); err != nil {
			return fmt.Errorf("unable to write directory cluster %d: %w", cluster, err)
		}
	}
	return nil
}

// clusterOffset is the byte offset of a cluster from the start of the volume
func (fs *FileSystem) clusterOffset(cluster uint32) int64 {
	return fs.dataStart + int64(cluster-2)*int64(fs.bytesPerCluster)
}

// getClusterList returns the chain of clusters starting at firstCluster
func (fs *FileSystem) getClusterList(firstCluster uint32) ([]uint32, error) {
	lastCluster := fs.clusterCount + 1
	if firstCluster < 2 || firstCluster > lastCluster || fs.table.get(firstCluster) == 0 {
		return nil, fmt.Errorf("invalid start cluster: %d", firstCluster)
	}
	clusterList := make([]uint32, 0, 1)
	for cluster := firstCluster; ; {
		clusterList = append(clusterList, cluster)
		if uint32(len(clusterList)) > fs.clusterCount {
			return nil, fmt.Errorf("invalid cluster chain at %d: loops", cluster)
		}
		next := fs.table.get(cluster)
		if fs.table.isEoc(next) {
			return clusterList, nil
		}
		if next < 2 || next > lastCluster {
			return nil, fmt.Errorf("invalid cluster chain at %d: next %d", cluster, next)
		}
		cluster = next
	}
}

// allocateSpace ensures the chain starting at previous holds exactly enough
// clusters for size bytes, growing or shrinking it, and returns the chain.
// previous of 0 starts a new chain. At least one cluster is always kept.
func (fs *FileSystem) allocateSpace(size uint64, previous uint32) ([]uint32, error) {
	var clusters []uint32
	if previous != 0 {
		var err error
		clusters, err = fs.getClusterList(previous)
		if err != nil {
			return nil, fmt.Errorf("unable to get cluster list: %w", err)
		}
	}
	return fs.resizeChain(clusters, size)
}

// resizeChain is allocateSpace for a caller that already holds the chain
func (fs *FileSystem) resizeChain(clusters []uint32, size uint64) ([]uint32, error) {
	bpc := uint64(fs.bytesPerCluster)
	count := int((size + bpc - 1) / bpc)
	if count == 0 {
		count = 1
	}
	eoc := fs.fatType.eoc()
	switch {
	case len(clusters) < count:
		extra := count - len(clusters)
		if uint32(extra) > fs.fsis.freeDataClustersCount {
			return nil, fmt.Errorf("need %d clusters, %d free: %w", extra, fs.fsis.freeDataClustersCount, ErrNoSpace)
		}
		free, err := fs.findFree(extra)
		if err != nil {
			return nil, err
		}
		if len(clusters) > 0 {
			fs.table.set(clusters[len(clusters)-1], free[0])
		}
		for i, c := range free {
			next := eoc
			if i+1 < len(free) {
				next = free[i+1]
			}
			fs.table.set(c, next)
		}
		clusters = append(clusters, free...)
		fs.fsis.freeDataClustersCount -= uint32(extra)
		fs.fsis.lastAllocatedCluster = free[len(free)-1]
	case len(clusters) > count:
		fs.table.set(clusters[count-1], eoc)
		for _, c := range clusters[count:] {
			fs.table.set(c, 0)
		}
		fs.fsis.freeDataClustersCount += uint32(len(clusters) - count)
		clusters = clusters[:count]
	default:
		return clusters, nil
	}
	if err := fs.writeFat(); err != nil {
		return nil, err
	}
	return clusters, nil
}

// freeChain releases every cluster of the chain
func (fs *FileSystem) freeChain(clusters []uint32) error {
	for _, c := range clusters {
		fs.table.set(c, 0)
	}
	fs.fsis.freeDataClustersCount += uint32(len(clusters))
	return fs.writeFat()
}

// findFree returns n free clusters, searching from just after the last allocation
func (fs *FileSystem) findFree(n int) ([]uint32, error) {
	free := make([]uint32, 0, n)
	lastCluster := fs.clusterCount + 1
	hint := fs.fsis.lastAllocatedCluster + 1
	if hint < 2 || hint > lastCluster {
		hint = 2
	}
	c := hint
	for scanned := uint32(0); scanned < fs.clusterCount && len(free) < n; scanned++ {
		if fs.table.get(c) == 0 {
			free = append(free, c)
		}
		c++
		if c > lastCluster {
			c = 2
		}
	}
	if len(free) < n {
		return nil, fmt.Errorf("found %d of %d clusters: %w", len(free), n, ErrNoSpace)
	}
	return free, nil
}

func (fs *FileSystem) countFree() uint32 {
	var free uint32
	for c := uint32(2); c <= fs.clusterCount+1; c++ {
		if fs.table.get(c) == 0 {
			free++
		}
	}
	return free
}

// writeFat writes the changed sectors of the FAT to every copy, and the FSIS on FAT32
func (fs *FileSystem) writeFat() error {
	lo, hi, ok := fs.table.takeDirty(fs.bytesPerSector)
	if !ok {
		return nil
	}
	for i := 0; i < fs.fatCount; i++ {
		offset := fs.fatStart + int64(i)*fs.fatSize + int64(lo)
		if err := fs.writeAt(fs.table.b[lo:hi], offset); err != nil {
			return fmt.Errorf("unable to write FAT %d: %w", i, err)
		}
	}
	if fs.fatType == FAT32 {
		return fs.writeFsis()
	}
	return nil
}

func (fs *FileSystem) writeFsis() error {
	b := fs.fsis.toBytes()
	if err := fs.writeAt(b, int64(fsInfoSector*fs.bytesPerSector)); err != nil {
		return fmt.Errorf("unable to write FS Information Sector: %w", err)
	}
	// the backup copy follows the backup boot sector
	if err := fs.writeAt(b, int64((backupBootSector+1)*fs.bytesPerSector)); err != nil {
		return fmt.Errorf("unable to write backup FS Information Sector: %w", err)
	}
	return nil
}

// readAt reads exactly len(b) bytes at offset from the start of the volume
func (fs *FileSystem) readAt(b []byte, offset int64) error {
	n, err := fs.backend.ReadAt(b, fs.start+offset)
	if err != nil && n != len(b) {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("read %d bytes instead of %d", n, len(b))
	}
	return nil
}

// writeAt writes all of b at offset from the start of the volume
func (fs *FileSystem) writeAt(b []byte, offset int64) error {
	writable, err := fs.backend.Writable()
	if err != nil {
		return err
	}
	return writeFull(writable, b, fs.start+offset)
}

func writeFull(w backend.WritableFile, b []byte, offset int64) error {
	n, err := w.WriteAt(b, offset)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("wrote %d bytes instead of %d", n, len(b))
	}
	return nil
}

// splitPath splits a path into its components, dropping the root
func splitPath(p string) []string {
	cleaned := strings.Trim(path.Clean("/"+p), "/")
	if cleaned == "" {
		return nil
	}
	return strings.Split(cleaned, "/")
}
