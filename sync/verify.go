// Package sync compares the contents of disks and filesystems.
package sync

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/diskfs/go-efiimg/disk"
)

// VerifyPartitionContents checks that partition index of d holds exactly the
// bytes of expected, comparing SHA-256 digests of both.
func VerifyPartitionContents(d *disk.Disk, index int, expected io.Reader) error {
	p, err := d.GetPartition(index)
	if err != nil {
		return err
	}
	expectedHasher := sha256.New()
	expectedSize, err := io.Copy(expectedHasher, expected)
	if err != nil {
		return fmt.Errorf("unable to read expected contents: %w", err)
	}
	if p.GetSize() != expectedSize {
		return fmt.Errorf("partition %d size %d is different than expected size %d", index, p.GetSize(), expectedSize)
	}

	partHasher := sha256.New()
	size, err := d.ReadPartitionContents(index, partHasher)
	if err != nil {
		return fmt.Errorf("unable to read partition %d: %w", index, err)
	}
	if size != expectedSize {
		return fmt.Errorf("read %d bytes from partition %d, expected %d", size, index, expectedSize)
	}

	if !bytes.Equal(expectedHasher.Sum(nil), partHasher.Sum(nil)) {
		return fmt.Errorf("data mismatch between partition %d and expected contents", index)
	}
	return nil
}

// CompareFS compares two fs.FS instances for identical structure and contents.
func CompareFS(origFS, targetFS fs.FS) error {
	seen := make(map[string]struct{})

	// Walk original FS
	err := fs.WalkDir(origFS, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		seen[p] = struct{}{}

		// Check existence in target FS
		td, err := fs.Stat(targetFS, p)
		if err != nil {
			return fmt.Errorf("path %q missing in target FS: %w", p, err)
		}

		// Compare type
		if d.IsDir() != td.IsDir() {
			return fmt.Errorf("type mismatch at %q", p)
		}

		if d.IsDir() {
			return nil
		}

		// Compare file size
		od, err := d.Info()
		if err != nil {
			return err
		}
		if od.Size() != td.Size() {
			return fmt.Errorf("size mismatch at %q", p)
		}

		// Compare file contents
		return compareFileContents(origFS, targetFS, p)
	})
	if err != nil {
		return err
	}

	// Ensure target FS has no extra files
	//
	//nolint:revive // keeping args for clarity of intent.
	return fs.WalkDir(targetFS, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if _, ok := seen[p]; !ok {
			return fmt.Errorf("extra path %q in target FS", p)
		}
		return nil
	})
}

func compareFileContents(a, b fs.FS, name string) error {
	af, err := a.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = af.Close() }()

	bf, err := b.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = bf.Close() }()

	const bufSize = 32 * 1024
	bufA := make([]byte, bufSize)
	bufB := make([]byte, bufSize)

	for {
		na, ea := af.Read(bufA)
		nb, eb := bf.Read(bufB)

		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return fmt.Errorf("content mismatch at %q", path.Clean(name))
		}

		if ea == io.EOF && eb == io.EOF {
			return nil
		}
		if ea != nil && ea != io.EOF {
			return ea
		}
		if eb != nil && eb != io.EOF {
			return eb
		}
	}
}
