//go:build unix

package mmap

import (
	"golang.org/x/sys/unix"
)

// mmapFile maps a file descriptor read-only. MAP_SHARED lets the kernel
// share pages across processes serving the same index file.
func mmapFile(fd uintptr, size int) ([]byte, error) {
	return unix.Mmap(int(fd), 0, size, unix.PROT_READ, unix.MAP_SHARED)
}

func munmapFile(data []byte) error {
	return unix.Munmap(data)
}
