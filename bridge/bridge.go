// Package bridge runs blocking operations (RPC calls, filesystem scans,
// uploads, process spawns) off the command dispatch path. Each submission
// returns a Future; callers sequence dependent operations by awaiting one
// future before submitting the next. No ordering is implied between
// independent submissions.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/onnwee/obs-relay/telemetry"
)

// DefaultWorkers is used when New is given a non-positive worker count.
const DefaultWorkers = 4

// Pool bounds how many blocking operations run at once.
type Pool struct {
	sem     *semaphore.Weighted
	workers int
	wg      sync.WaitGroup
}

// New returns a pool running at most workers operations concurrently.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	slog.Info("bridge pool initialized", slog.Int("workers", workers), slog.String("component", "bridge"))
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), workers: workers}
}

// Workers returns the configured concurrency bound.
func (p *Pool) Workers() int { return p.workers }

// Wait blocks until every submitted operation has finished.
func (p *Pool) Wait() { p.wg.Wait() }

// Future is the pending result of a submitted operation.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the operation finishes or ctx is done. Abandoning the
// future through ctx does not stop the operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Run submits fn to the pool. ctx only governs waiting for a free worker;
// once fn starts it runs to completion. A panic in fn is converted to an error.
func Run[T any](ctx context.Context, p *Pool, name string, fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(f.done)
		if err := p.sem.Acquire(ctx, 1); err != nil {
			f.err = fmt.Errorf("bridge %s: waiting for worker: %w", name, err)
			return
		}
		defer p.sem.Release(1)

		telemetry.AddBridgeInFlight(1)
		start := time.Now()
		defer func() {
			telemetry.AddBridgeInFlight(-1)
			telemetry.ObserveBridge(name, time.Since(start))
			if r := recover(); r != nil {
				slog.Error("bridged operation panicked", slog.String("op", name), slog.Any("panic", r), slog.String("component", "bridge"))
				f.err = fmt.Errorf("bridge %s: panic: %v", name, r)
			}
		}()
		f.val, f.err = fn()
	}()
	return f
}

// Do submits fn and waits for its result.
func Do[T any](ctx context.Context, p *Pool, name string, fn func() (T, error)) (T, error) {
	return Run(ctx, p, name, fn).Await(ctx)
}

// Exec is Do for operations that only return an error.
func Exec(ctx context.Context, p *Pool, name string, fn func() error) error {
	_, err := Do(ctx, p, name, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}
