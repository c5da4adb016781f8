// Package converter exposes a filesystem.FileSystem as a read-only io/fs.FS,
// so the standard walking and comparison helpers work on disk images.
package converter

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/diskfs/go-efiimg/filesystem"
)

type fsCompatible struct {
	fs filesystem.FileSystem
}

// rootInfo stands in for the root directory, which has no directory entry
type rootInfo struct{}

func (rootInfo) Name() string       { return "." }
func (rootInfo) Size() int64        { return 0 }
func (rootInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o755 }
func (rootInfo) ModTime() time.Time { return time.Time{} }
func (rootInfo) IsDir() bool        { return true }
func (rootInfo) Sys() any           { return nil }

// dirFile is an open directory
type dirFile struct {
	info    fs.FileInfo
	entries []fs.DirEntry
	offset  int
}

func (d *dirFile) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *dirFile) Close() error               { return nil }

func (d *dirFile) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.Name(), Err: errors.New("is a directory")}
}

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	remaining := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return remaining, nil
	}
	if len(remaining) == 0 {
		return nil, io.EOF
	}
	if n > len(remaining) {
		n = len(remaining)
	}
	d.offset += n
	return remaining[:n], nil
}

// absolute maps an io/fs name to a path in the wrapped filesystem
func absolute(op, name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return "/", nil
	}
	return "/" + name, nil
}

func (f *fsCompatible) Stat(name string) (fs.FileInfo, error) {
	p, err := absolute("stat", name)
	if err != nil {
		return nil, err
	}
	if p == "/" {
		return rootInfo{}, nil
	}
	infos, err := f.fs.ReadDir(path.Dir(p))
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	base := path.Base(p)
	for _, info := range infos {
		if strings.EqualFold(info.Name(), base) {
			return info, nil
		}
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

func (f *fsCompatible) Open(name string) (fs.File, error) {
	info, err := f.Stat(name)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			pathErr.Op = "open"
		}
		return nil, err
	}
	if info.IsDir() {
		entries, err := f.ReadDir(name)
		if err != nil {
			return nil, err
		}
		return &dirFile{info: info, entries: entries}, nil
	}
	p, _ := absolute("open", name)
	file, err := f.fs.OpenFile(p, os.O_RDONLY)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return file, nil
}

func (f *fsCompatible) ReadDir(name string) ([]fs.DirEntry, error) {
	p, err := absolute("readdir", name)
	if err != nil {
		return nil, err
	}
	entries, err := f.fs.ReadDir(p)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	direntries := make([]fs.DirEntry, len(entries))
	for i := range entries {
		direntries[i] = fs.FileInfoToDirEntry(entries[i])
	}
	sort.Slice(direntries, func(i, j int) bool { return direntries[i].Name() < direntries[j].Name() })
	return direntries, nil
}

// ReadOnlyFS is what FS returns
type ReadOnlyFS interface {
	fs.ReadDirFS
	fs.StatFS
}

// FS converts a FileSystem to a fs.FS for compatibility with
// other utilities
func FS(f filesystem.FileSystem) ReadOnlyFS {
	return &fsCompatible{f}
}
