package parallelizer

import (
	"sync"

	"github.com/panjf2000/ants/v2"
)

// runConcurrently submits each task to a bounded ants pool sized to the
// sinker count (spec §5 "the dispatcher spawns one concurrent task per
// worker per dispatch phase") and waits for all of them, returning the
// first error encountered (later errors are discarded).
func runConcurrently(poolSize int, tasks []func() error) error {
	if len(tasks) == 0 {
		return nil
	}
	if poolSize <= 0 {
		poolSize = 1
	}

	pool, err := ants.NewPool(poolSize, ants.WithPreAlloc(false))
	if err != nil {
		return runConcurrentlyFallback(tasks)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, task := range tasks {
		task := task
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if err := task(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = submitErr
			}
			mu.Unlock()
		}
	}
	wg.Wait()
	return firstErr
}

// runConcurrentlyFallback is used only if the ants pool itself fails to
// construct (misconfiguration); it still runs every task concurrently
// with raw goroutines rather than silently dropping work.
func runConcurrentlyFallback(tasks []func() error) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	for _, task := range tasks {
		task := task
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := task(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}
