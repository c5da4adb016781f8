package part

import "fmt"

// IncompletePartitionWriteError is returned when the reader ran dry before the
// partition was filled.
type IncompletePartitionWriteError struct {
	writtenBytes uint64
	totalBytes   uint64
}

func (e *IncompletePartitionWriteError) Error() string {
	return fmt.Sprintf("wrote %d bytes to partition of size %d", e.writtenBytes, e.totalBytes)
}

// Written returns how many bytes made it to the partition
func (e *IncompletePartitionWriteError) Written() uint64 {
	return e.writtenBytes
}

func NewIncompletePartitionWriteError(written, total uint64) error {
	return &IncompletePartitionWriteError{
		writtenBytes: written,
		totalBytes:   total,
	}
}

// PartitionOverflowError is returned when the reader holds more data than the
// partition can take.
type PartitionOverflowError struct {
	size uint64
}

func (e *PartitionOverflowError) Error() string {
	return fmt.Sprintf("requested to write more than the %d bytes available in the partition", e.size)
}

func NewPartitionOverflowError(size uint64) error {
	return &PartitionOverflowError{size: size}
}
