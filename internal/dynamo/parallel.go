package dynamo

import (
	"runtime"
	"sync"
)

// Workers is the number of goroutines ParallelFor fans out to.
var Workers = runtime.NumCPU()

// ParallelFor executes a function in parallel over a range [0, n).
// Each index belongs to exactly one chunk, so per-index results do not
// depend on the worker count.
func ParallelFor(n, minChunk int, fn func(start, end int)) {
	numWorkers := Workers
	if minChunk < 1 {
		minChunk = 1
	}
	if n <= minChunk || numWorkers <= 1 {
		fn(0, n)
		return
	}

	workers := numWorkers
	if n/minChunk < workers {
		workers = n / minChunk
	}
	if workers < 1 {
		workers = 1
	}

	chunkSize := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}

	wg.Wait()
}
