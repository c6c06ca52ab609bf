// Package memfs is a RAM-backed filesystem. It backs ramdisk images handed
// over by the firmware and doubles as the filesystem implementation the
// loader tests run against. Paths are flat: a file named "boot/kernel" has
// the directory "boot" as its parent, one level only.
package memfs

import (
	"github.com/gil0mendes/LAOS/kernel"
	"github.com/gil0mendes/LAOS/kernel/hal/fs"
)

var (
	errNotFound  = &kernel.Error{Module: "memfs", Message: "file not found"}
	errShortRead = &kernel.Error{Module: "memfs", Message: "read past end of file"}
	errNotDir    = &kernel.Error{Module: "memfs", Message: "not a directory"}
)

// FS is a RAM-backed filesystem. The zero value is an empty filesystem.
type FS struct {
	files map[string][]byte
}

// Add registers a file's content under path, replacing any previous entry.
func (f *FS) Add(path string, content []byte) {
	if f.files == nil {
		f.files = make(map[string][]byte)
	}
	f.files[path] = content
}

type handle struct {
	fileType fs.FileType
	data     []byte
	entries  []string
}

func (h *handle) Size() uint64 {
	return uint64(len(h.data))
}

func (h *handle) FileType() fs.FileType {
	return h.fileType
}

func (h *handle) ReadAt(buf []byte, offset uint64) *kernel.Error {
	if offset+uint64(len(buf)) > uint64(len(h.data)) {
		return errShortRead
	}
	copy(buf, h.data[offset:])
	return nil
}

func (h *handle) Close() {}

// Open opens path as a regular file, or as a directory if any registered
// file lives directly under it.
func (f *FS) Open(path string) (fs.Handle, *kernel.Error) {
	if data, ok := f.files[path]; ok {
		return &handle{fileType: fs.TypeRegular, data: data}, nil
	}

	prefix := path + "/"
	var entries []string
	for name := range f.files {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			child := name[len(prefix):]
			if !containsSlash(child) {
				entries = append(entries, child)
			}
		}
	}
	if entries == nil {
		return nil, errNotFound
	}

	// Map iteration order is randomized; keep directory listings stable.
	sortStrings(entries)
	return &handle{fileType: fs.TypeDir, entries: entries}, nil
}

// Iterate yields the entries of a directory handle.
func (f *FS) Iterate(h fs.Handle, fn func(fs.Entry) bool) *kernel.Error {
	dir, ok := h.(*handle)
	if !ok || dir.fileType != fs.TypeDir {
		return errNotDir
	}

	for _, name := range dir.entries {
		if !fn(fs.Entry{Name: name}) {
			break
		}
	}
	return nil
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}

// sortStrings is a small insertion sort; the package avoids pulling in
// sort's reflection-based helpers for a handful of directory entries.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
