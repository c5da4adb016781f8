package efiimg

import "errors"

// ErrEmptyExecutable is returned when the executable to embed holds no bytes
var ErrEmptyExecutable = errors.New("executable is empty")

// IoError is a failure to read the executable or to create, write or verify an
// output file.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string {
	return "i/o error during " + e.Op + ": " + e.Err.Error()
}

func (e *IoError) Unwrap() error {
	return e.Err
}

// FilesystemError is a failure to format the FAT volume or to populate it.
type FilesystemError struct {
	Op  string
	Err error
}

func (e *FilesystemError) Error() string {
	return "filesystem error during " + e.Op + ": " + e.Err.Error()
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// PartitionTableError is a failure to lay out or write the GPT.
type PartitionTableError struct {
	Op  string
	Err error
}

func (e *PartitionTableError) Error() string {
	return "partition table error during " + e.Op + ": " + e.Err.Error()
}

func (e *PartitionTableError) Unwrap() error {
	return e.Err
}

// InternalError is a state the builder should never reach, such as a
// partition that disappears right after it was added.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return "internal error during " + e.Op + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
