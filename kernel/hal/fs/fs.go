// Package fs declares the narrow filesystem interface the kernel-load
// pipeline consumes. On-disk formats, partition parsing and path resolution
// are owned by external filesystem drivers; the loader only ever opens a
// path, reads at an offset, iterates a directory and closes the handle.
package fs

import "github.com/gil0mendes/LAOS/kernel"

// FileType classifies an open handle.
type FileType uint8

const (
	// TypeRegular is a regular file.
	TypeRegular FileType = iota

	// TypeDir is a directory.
	TypeDir
)

// Handle is an open file or directory.
type Handle interface {
	// Size returns the file size in bytes (0 for directories).
	Size() uint64

	// FileType returns whether the handle refers to a file or directory.
	FileType() FileType

	// ReadAt reads len(buf) bytes starting at offset. Reads block until
	// the underlying driver completes the request. Short reads are
	// errors.
	ReadAt(buf []byte, offset uint64) *kernel.Error

	// Close releases the handle.
	Close()
}

// Entry describes a directory entry yielded by Iterate.
type Entry struct {
	Name string
}

// FS is a mounted filesystem the loader can open paths on.
type FS interface {
	// Open opens the file or directory at path.
	Open(path string) (Handle, *kernel.Error)

	// Iterate calls fn for every entry of the directory handle, in the
	// driver's native order, until fn returns false.
	Iterate(h Handle, fn func(Entry) bool) *kernel.Error
}

// Mount describes a mounted filesystem's identity, used to construct the
// boot device handoff tag.
type Mount struct {
	UUID  string
	Label string
}
