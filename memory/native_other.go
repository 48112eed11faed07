//go:build !unix

package memory

// Without mmap the chunks come from the Go heap. The region keeps every
// chunk reachable until the arena is released, and the collector does not
// move heap objects, so addresses stay valid for the arena's lifetime.
func mapChunk(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapChunk([]byte) error { return nil }

func pageSize() int { return 4096 }
