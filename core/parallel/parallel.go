// Package parallel runs index ranges across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// ParallelizeN splits [0, items) into contiguous ranges and runs fn on each
// range in its own goroutine.
// workers <= 0 means one worker per CPU core; workers == 1 runs fn(0, items)
// on the calling goroutine.
func ParallelizeN(items, workers int, fn func(start, end int)) {
	if items == 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items // No need for more workers than items
	}
	if workers == 1 {
		fn(0, items)
		return
	}

	// Calculate the number of items each worker handles (ceiling division)
	chunkSize := (items + workers - 1) / workers

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}

	wg.Wait()
}

// ResolveJobs maps a scikit-learn style n_jobs value to a worker count:
// -1 (or any negative value) means all cores, 0 is treated as 1.
func ResolveJobs(nJobs int) int {
	switch {
	case nJobs < 0:
		return runtime.NumCPU()
	case nJobs == 0:
		return 1
	default:
		return nJobs
	}
}
