package vfs

import "errors"

var (
	// ErrNotFound is returned when a path does not exist in the mounted
	// view.
	ErrNotFound = errors.New("no such file or directory")

	// ErrNotDirectory is returned when a directory operation targets a
	// file.
	ErrNotDirectory = errors.New("not a directory")

	// ErrIsDirectory is returned when a file operation targets a
	// directory.
	ErrIsDirectory = errors.New("is a directory")

	// ErrReadOnly is returned when a write operation targets a
	// read-only mount.
	ErrReadOnly = errors.New("filesystem is read-only")

	// ErrSeekNotSupported is returned when a read at a non-sequential
	// offset is attempted on a streamed payload handle.
	ErrSeekNotSupported = errors.New("seek not supported on this handle")

	// ErrBadHandle is returned when an operation references an unknown
	// or released handle.
	ErrBadHandle = errors.New("unknown file handle")
)
