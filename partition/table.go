package partition

import (
	"github.com/diskfs/go-efiimg/backend"
	"github.com/diskfs/go-efiimg/partition/part"
)

// Table reference to a partitioning table on disk
type Table interface {
	Type() string
	Write(backend.WritableFile, int64) error
	GetPartitions() []part.Partition
	UUID() string
}
