// Package future is the module's async primitive adapter: a thin, composable
// future type with Resolved, Rejected, Map, Then, and an All join over a
// slice. The host future primitive is, per the core spec, an external
// collaborator the core merely adapts — Go has no built-in equivalent, so
// this is that adapter, backed by a channel and a sync.Once.
package future

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arborfetch/arbor/sched"
)

// Future[T] is a single-assignment, one-shot asynchronous result. It is safe
// to read (via Get or a callback registered through Map/Then) from multiple
// goroutines; it is written exactly once, by whoever constructed it.
type Future[T any] struct {
	done chan struct{}
	res  *result[T]
}

// result is the settled outcome, shared by every copy of a Future.
type result[T any] struct {
	value T
	err   error
}

// newPending returns a Future and the settle function that completes it.
// settle must be called exactly once; subsequent calls are ignored.
func newPending[T any]() (Future[T], func(T, error)) {
	f := Future[T]{done: make(chan struct{}), res: &result[T]{}}
	var once sync.Once
	settle := func(v T, err error) {
		once.Do(func() {
			f.res.value = v
			f.res.err = err
			close(f.done)
		})
	}
	return f, settle
}

// Resolved returns a Future already completed with v.
func Resolved[T any](v T) Future[T] {
	f := Future[T]{done: make(chan struct{}), res: &result[T]{value: v}}
	close(f.done)
	return f
}

// Rejected returns a Future already completed with err.
func Rejected[T any](err error) Future[T] {
	f := Future[T]{done: make(chan struct{}), res: &result[T]{err: err}}
	close(f.done)
	return f
}

// Go runs fn on its own goroutine and returns a Future for its result. It is
// the escape hatch callers use to adapt arbitrary asynchronous work (e.g. a
// sched.Executor submission) into a Future.
func Go[T any](fn func() (T, error)) Future[T] {
	f, settle := newPending[T]()
	go func() {
		v, err := fn()
		settle(v, err)
	}()
	return f
}

// Schedule runs fn on ex and returns a Future for its result. This is how
// the runner turns a dispatched fetch into both a scheduled unit of work
// (via the Executor) and a joinable result (via the Future) in one call.
func Schedule[T any](ex sched.Executor, fn func() (T, error)) Future[T] {
	f, settle := newPending[T]()
	ex.Execute(func() {
		v, err := fn()
		settle(v, err)
	})
	return f
}

// Get blocks until f is settled and returns its value or error.
func (f Future[T]) Get() (T, error) {
	<-f.done
	return f.res.value, f.res.err
}

// Map applies f to the resolved value, passing through a rejection
// unchanged. f runs on its own goroutine as soon as f's input Future settles,
// not lazily on a later Get/Then/All call against the returned Future.
func Map[T, U any](f Future[T], fn func(T) U) Future[U] {
	out, settle := newPending[U]()
	go func() {
		v, err := f.Get()
		if err != nil {
			var zero U
			settle(zero, err)
			return
		}
		settle(fn(v), nil)
	}()
	return out
}

// Then chains a Future-returning continuation onto f's resolution, passing
// through a rejection unchanged.
func Then[T, U any](f Future[T], fn func(T) Future[U]) Future[U] {
	out, settle := newPending[U]()
	go func() {
		v, err := f.Get()
		if err != nil {
			var zero U
			settle(zero, err)
			return
		}
		u, err := fn(v).Get()
		settle(u, err)
	}()
	return out
}

// All joins a slice of futures, resolving to their values in the same order
// once every one has settled, or rejecting with the first error encountered
// (other futures are still drained to completion; their results are
// discarded). This is the runner's sole suspension point per iteration.
func All[T any](fs []Future[T]) Future[[]T] {
	out, settle := newPending[[]T]()
	go func() {
		results := make([]T, len(fs))
		var g errgroup.Group
		for i, f := range fs {
			i, f := i, f
			g.Go(func() error {
				v, err := f.Get()
				if err != nil {
					return err
				}
				results[i] = v
				return nil
			})
		}
		err := g.Wait()
		settle(results, err)
	}()
	return out
}
