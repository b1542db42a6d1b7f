package tensor

import (
	"runtime"
	"sync"
)

// parallelFor splits [0, total) into contiguous chunks, one goroutine per chunk, and waits.
func parallelFor(total, workers int, fn func(start, end int)) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if total <= 0 {
		return
	}
	if workers == 1 || total == 1 {
		fn(0, total)
		return
	}

	perGo := (total + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start, end := w*perGo, (w+1)*perGo
		if end > total {
			end = total
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
