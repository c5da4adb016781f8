package disk

import "fmt"

type UnknownFilesystemError struct {
	partition int
}

func (e *UnknownFilesystemError) Error() string {
	return fmt.Sprintf("unknown filesystem type on partition %d", e.partition)
}

func NewUnknownFilesystemError(partition int) *UnknownFilesystemError {
	return &UnknownFilesystemError{
		partition: partition,
	}
}

type NoPartitionTableError struct{}

func (e *NoPartitionTableError) Error() string {
	return "no partition table found on disk"
}

type InvalidPartitionError struct {
	requested int
}

func (e *InvalidPartitionError) Error() string {
	return fmt.Sprintf("requested partition %d not found", e.requested)
}

func NewInvalidPartitionError(requested int) *InvalidPartitionError {
	return &InvalidPartitionError{
		requested: requested,
	}
}
