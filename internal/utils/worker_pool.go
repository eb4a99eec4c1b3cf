package utils

import (
	"context"
	"sync"
)

type CompletedTask[T any] struct {
	Result T
	Error  error
}

// RunInPool drains queue with up to maxWorkers goroutines and closes completed
// once every task has finished. The queue must be closed by the caller.
func RunInPool[In any, Out any](worker func(In) (Out, error), queue chan In, completed chan CompletedTask[Out], maxWorkers int) {
	workers := max(1, min(len(queue), maxWorkers))

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for next := range queue {
					res, err := worker(next)
					completed <- CompletedTask[Out]{Result: res, Error: err}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()
}

type indexed[T any] struct {
	index int
	value T
}

// MapInPool applies fn to every item using RunInPool and returns the results
// in input order. On failure the error of the earliest failing item is
// returned. Items not started before ctx is done fail with ctx.Err().
func MapInPool[In any, Out any](ctx context.Context, items []In, maxWorkers int, fn func(In) (Out, error)) ([]Out, error) {
	queue := make(chan indexed[In], len(items))
	for i, item := range items {
		queue <- indexed[In]{index: i, value: item}
	}
	close(queue)

	worker := func(task indexed[In]) (indexed[Out], error) {
		if err := ctx.Err(); err != nil {
			return indexed[Out]{index: task.index}, err
		}
		out, err := fn(task.value)
		return indexed[Out]{index: task.index, value: out}, err
	}

	completed := make(chan CompletedTask[indexed[Out]], len(items))
	RunInPool(worker, queue, completed, maxWorkers)

	results := make([]Out, len(items))
	errs := make([]error, len(items))
	for task := range completed {
		results[task.Result.index] = task.Result.value
		errs[task.Result.index] = task.Error
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
