package engine

import (
	"testing"

	"github.com/wippyai/foreign/errors"
)

func TestScratchAlloc(t *testing.T) {
	s := scratch{base: 1001, size: 64}

	tests := []struct {
		size, align uint64
		want        uint32
	}{
		{3, 1, 1001},
		{4, 4, 1004},
		{8, 8, 1016},
		{1, 0, 1024},
		{16, 16, 1040},
	}
	for _, tt := range tests {
		got, err := s.alloc(tt.size, tt.align)
		if err != nil {
			t.Fatalf("alloc(%d, %d): %v", tt.size, tt.align, err)
		}
		if got != tt.want {
			t.Errorf("alloc(%d, %d) = %d, want %d", tt.size, tt.align, got, tt.want)
		}
	}

	if _, err := s.alloc(16, 1); !errors.IsKind(err, errors.KindAllocation) {
		t.Errorf("expected allocation failure, got %v", err)
	}

	s.reset()
	if got, err := s.alloc(64, 1); err != nil || got != 1001 {
		t.Errorf("after reset alloc = %d, %v", got, err)
	}

	var empty scratch
	if _, err := empty.alloc(1, 1); !errors.IsKind(err, errors.KindUnsupported) {
		t.Errorf("expected unsupported, got %v", err)
	}
}
