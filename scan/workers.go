package scan

import (
	"context"
	"sync"
)

// runWorkerPool applies fn to every item using up to slots goroutines. It
// stops handing out items once ctx is done and returns the first error
// produced by fn, or the context error if the pool was cancelled from
// outside before every item completed.
func runWorkerPool[T, R any](ctx context.Context, slots int, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	if slots <= 1 || len(items) <= 1 {
		results := make([]R, 0, len(items))
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			res, err := fn(ctx, item)
			if err != nil {
				return nil, err
			}
			results = append(results, res)
		}
		return results, nil
	}

	tasks := make(chan T)
	type outcome struct {
		res R
		err error
	}
	outcomes := make(chan outcome)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for item := range tasks {
			if ctx.Err() != nil {
				continue
			}
			res, err := fn(ctx, item)
			outcomes <- outcome{res: res, err: err}
		}
	}

	for i := 0; i < slots; i++ {
		wg.Add(1)
		go worker()
	}

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	go func() {
		defer close(tasks)
		for _, item := range items {
			select {
			case <-ctx.Done():
				return
			case tasks <- item:
			}
		}
	}()

	results := make([]R, 0, len(items))
	var firstErr error
	for out := range outcomes {
		if out.err != nil {
			if firstErr == nil {
				firstErr = out.err
			}
			continue
		}
		results = append(results, out.res)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil && len(results) < len(items) {
		return nil, err
	}
	return results, nil
}
