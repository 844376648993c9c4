package parallel

import (
	"runtime"
	"sync/atomic"
	"testing"
)

func TestParallelizeN_CoversEveryItemOnce(t *testing.T) {
	for _, workers := range []int{-1, 1, 3, 8, 200} {
		seen := make([]int32, 100)
		ParallelizeN(len(seen), workers, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
		})
		for i, n := range seen {
			if n != 1 {
				t.Fatalf("workers=%d: item %d visited %d times", workers, i, n)
			}
		}
	}
}

func TestParallelizeN_ZeroItems(t *testing.T) {
	called := false
	ParallelizeN(0, 4, func(start, end int) { called = true })
	if called {
		t.Error("fn should not be called for zero items")
	}
}

func TestResolveJobs(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-1, runtime.NumCPU()},
		{0, 1},
		{1, 1},
		{4, 4},
	}
	for _, tt := range tests {
		if got := ResolveJobs(tt.in); got != tt.want {
			t.Errorf("ResolveJobs(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
