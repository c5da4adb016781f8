// Package partition provides ability to work with individual partitions.
// All useful implementations are subpackages of this package, e.g. github.com/diskfs/go-efiimg/partition/gpt
package partition

import (
	"errors"

	"github.com/diskfs/go-efiimg/backend"
	"github.com/diskfs/go-efiimg/partition/gpt"
	"github.com/diskfs/go-efiimg/partition/mbr"
)

// ErrUnknownTable is returned by Read when neither a GPT nor an MBR is found
var ErrUnknownTable = errors.New("unknown disk partition type")

// Read reads a partition table from a disk. A GPT wins over the protective
// MBR that precedes it.
func Read(f backend.File, logicalBlocksize, physicalBlocksize int) (Table, error) {
	gptTable, err := gpt.Read(f, logicalBlocksize, physicalBlocksize)
	if err == nil {
		return gptTable, nil
	}
	mbrTable, err := mbr.Read(f, logicalBlocksize, physicalBlocksize)
	if err == nil {
		return mbrTable, nil
	}
	return nil, ErrUnknownTable
}
