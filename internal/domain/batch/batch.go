// Package batch splits large writes into fixed-size chunks and issues them
// concurrently, aggregating one combined outcome.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

const DefaultChunkSize = 100

// Chunk splits items into consecutive sublists of at most size elements.
// A non-positive size falls back to DefaultChunkSize.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end:end])
	}
	return out
}

type ChunkError struct {
	Index int   `json:"index"`
	Size  int   `json:"size"`
	Err   error `json:"-"`
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%d items): %v", e.Index, e.Size, e.Err)
}

func (e ChunkError) Unwrap() error { return e.Err }

// Result is the combined outcome of Run. Succeeded and Failed count items,
// not chunks.
type Result struct {
	Total     int          `json:"total"`
	Chunks    int          `json:"chunks"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Errors    []ChunkError `json:"errors,omitempty"`
}

func (r Result) OK() bool {
	return r.Failed == 0
}

// Err joins every chunk failure, or returns nil.
func (r Result) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Run sends each chunk through fn with at most limit chunks in flight. A
// failing chunk does not stop the others; all outcomes are collected.
func Run[T any](ctx context.Context, items []T, size, limit int, fn func(context.Context, []T) error) Result {
	chunks := Chunk(items, size)
	res := Result{Total: len(items), Chunks: len(chunks)}
	if len(chunks) == 0 {
		return res
	}
	if limit <= 0 {
		limit = len(chunks)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			err := gctx.Err()
			if err == nil {
				err = fn(gctx, chunk)
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed += len(chunk)
				res.Errors = append(res.Errors, ChunkError{Index: i, Size: len(chunk), Err: err})
				return nil
			}
			res.Succeeded += len(chunk)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(res.Errors, func(i, j int) bool { return res.Errors[i].Index < res.Errors[j].Index })
	return res
}
