package utils_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"textclf/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInpool(t *testing.T) {
	worker := func(i int) (string, error) {
		if i%4 == 3 {
			time.Sleep(time.Duration(10-i) * time.Millisecond)
			return "", fmt.Errorf("error")
		}
		return fmt.Sprintf("%d-%d", i, i), nil
	}

	queue := make(chan int, 10)

	for i := 0; i < 10; i++ {
		queue <- i
	}

	close(queue)

	output := make(chan utils.CompletedTask[string], 10)

	utils.RunInPool(worker, queue, output, 5)

	success, errors := 0, 0
	for result := range output {
		if result.Error != nil {
			errors++
		} else {
			success++
		}
	}

	assert.Equal(t, 8, success)
	assert.Equal(t, 2, errors)
}

func TestRunInPoolEmptyQueue(t *testing.T) {
	queue := make(chan int)
	close(queue)

	output := make(chan utils.CompletedTask[int])
	utils.RunInPool(func(i int) (int, error) { return i, nil }, queue, output, 4)

	count := 0
	for range output {
		count++
	}
	assert.Zero(t, count)
}

func TestMapInPoolKeepsOrder(t *testing.T) {
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}

	out, err := utils.MapInPool(context.Background(), items, 7, func(i int) (string, error) {
		time.Sleep(time.Duration(i%3) * time.Millisecond)
		return fmt.Sprintf("item-%d", i), nil
	})
	require.NoError(t, err)
	require.Len(t, out, 50)
	for i, v := range out {
		assert.Equal(t, fmt.Sprintf("item-%d", i), v)
	}
}

func TestMapInPoolReturnsEarliestError(t *testing.T) {
	_, err := utils.MapInPool(context.Background(), []int{0, 1, 2, 3, 4, 5}, 3, func(i int) (int, error) {
		if i == 2 || i == 5 {
			return 0, fmt.Errorf("item %d failed", i)
		}
		return i, nil
	})
	require.EqualError(t, err, "item 2 failed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = utils.MapInPool(ctx, []int{1, 2}, 2, func(i int) (int, error) { return i, nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestNumWorkers(t *testing.T) {
	n, err := utils.NumWorkers(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	four := 4
	n, err = utils.NumWorkers(&four)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	all := -1
	n, err = utils.NumWorkers(&all)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	zero := 0
	_, err = utils.NumWorkers(&zero)
	require.Error(t, err)
}
