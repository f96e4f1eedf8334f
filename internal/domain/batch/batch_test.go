package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk(t *testing.T) {
	items := make([]int, 250)
	for i := range items {
		items[i] = i
	}
	chunks := Chunk(items, 100)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	assert.Len(t, chunks[2], 50)
	assert.Equal(t, 200, chunks[2][0])

	assert.Nil(t, Chunk([]int{}, 10))
	assert.Len(t, Chunk(items, 0), 3)
}

func TestChunkDoesNotAliasAppends(t *testing.T) {
	items := []int{1, 2, 3, 4}
	chunks := Chunk(items, 2)
	chunks[0] = append(chunks[0], 99)
	assert.Equal(t, []int{1, 2, 3, 4}, items)
}

func TestRunAggregatesOutcome(t *testing.T) {
	items := make([]string, 205)
	var calls atomic.Int32
	res := Run(context.Background(), items, 100, 2, func(_ context.Context, chunk []string) error {
		calls.Add(1)
		if len(chunk) == 5 {
			return errors.New("rejected")
		}
		return nil
	})

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 205, res.Total)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 200, res.Succeeded)
	assert.Equal(t, 5, res.Failed)
	assert.False(t, res.OK())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Index)
	assert.ErrorContains(t, res.Err(), "rejected")
}

func TestRunRespectsLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	done := make(chan Result)

	go func() {
		done <- Run(context.Background(), make([]int, 50), 10, 2, func(context.Context, []int) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			inFlight.Add(-1)
			return nil
		})
	}()
	for i := 0; i < 5; i++ {
		release <- struct{}{}
	}
	res := <-done
	assert.True(t, res.OK())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunEmpty(t *testing.T) {
	res := Run(context.Background(), []int(nil), 100, 4, func(context.Context, []int) error {
		t.Fatal("fn must not be called")
		return nil
	})
	assert.Equal(t, Result{}, res)
	assert.NoError(t, res.Err())
}

func TestRunCancelledContextFailsChunks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Run(ctx, make([]int, 20), 10, 1, func(context.Context, []int) error { return nil })
	assert.Equal(t, 20, res.Failed)
	assert.ErrorIs(t, res.Err(), context.Canceled)
}
