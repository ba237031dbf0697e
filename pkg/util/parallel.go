package util

import (
	"context"
	"sync"
)

// Parallel calls fn for every input using at most limit goroutines. The
// first error cancels the context handed to the remaining calls and is
// returned once all workers have stopped.
func Parallel[T any](ctx context.Context, inputs []T, limit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 1
	}
	if limit > len(inputs) {
		limit = len(inputs)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		once     sync.Once
		firstErr error
		wg       sync.WaitGroup
	)
	feed := make(chan T)

	for range limit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range feed {
				if ctx.Err() != nil {
					continue
				}
				if err := fn(ctx, item); err != nil {
					once.Do(func() {
						firstErr = err
						cancel(err)
					})
				}
			}
		}()
	}

	for _, item := range inputs {
		if ctx.Err() != nil {
			break
		}
		select {
		case feed <- item:
		case <-ctx.Done():
		}
	}
	close(feed)
	wg.Wait()
	return firstErr
}
