// Package parallel provides chunked parallel iteration helpers. The
// estimator uses them to split rate computations across the neuron axis,
// which is embarrassingly parallel: no two chunks share mutable state.
package parallel

import (
	"runtime"
	"sync"
)

// Parallelize splits [0, items) into per-CPU chunks and runs fn on each
// chunk concurrently, blocking until all chunks finish.
func Parallelize(items int, fn func(start, end int)) {
	if items == 0 {
		return
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items
	}

	// ceiling division
	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
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

// ParallelizeWithThreshold runs fn sequentially when items is at or below
// threshold, and parallelizes otherwise. Small neuron counts are cheaper to
// process without goroutine overhead.
func ParallelizeWithThreshold(items, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}
