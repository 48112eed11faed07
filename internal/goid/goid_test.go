package goid

import "testing"

func TestGetStableWithinGoroutine(t *testing.T) {
	a, b := Get(), Get()
	if a == 0 || a != b {
		t.Fatalf("Get() = %d then %d", a, b)
	}
}

func TestGetDiffersAcrossGoroutines(t *testing.T) {
	mine := Get()
	ch := make(chan int64)
	go func() { ch <- Get() }()
	if other := <-ch; other == mine || other == 0 {
		t.Errorf("other goroutine id = %d, mine = %d", other, mine)
	}
}
