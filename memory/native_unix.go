//go:build unix

package memory

import "golang.org/x/sys/unix"

// mapChunk obtains size bytes of zeroed, page-aligned memory outside the Go
// heap.
func mapChunk(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func unmapChunk(b []byte) error {
	return unix.Munmap(b)
}

func pageSize() int {
	return unix.Getpagesize()
}
