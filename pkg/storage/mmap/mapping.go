// Package mmap maps index files into memory so a persisted index can be
// served without copying its vector arena onto the heap.
package mmap

import (
	"fmt"
	"os"
)

// Mapping is a read-only memory mapped view of a file. The view stays valid
// until Close; slices handed out from Bytes must not outlive it.
type Mapping struct {
	data []byte
}

// Open maps the whole file at path. The file descriptor is closed before
// returning; the mapping keeps the pages alive on its own.
func Open(path string) (*Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size == 0 {
		return &Mapping{}, nil
	}
	if size != int64(int(size)) {
		return nil, fmt.Errorf("mmap: file %s too large to map", path)
	}

	data, err := mmapFile(f.Fd(), int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap: mapping %s: %w", path, err)
	}
	return &Mapping{data: data}, nil
}

// Bytes returns the mapped region.
func (m *Mapping) Bytes() []byte { return m.data }

// Close releases the mapping. Safe to call on an empty mapping.
func (m *Mapping) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return munmapFile(data)
}
