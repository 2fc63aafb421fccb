// Package sched implements the executor abstraction: the single-method
// capability the runner uses to schedule a unit of work without committing
// to a specific threading primitive. The runner's default is Goroutine, one
// goroutine per task; Pool bounds concurrency, Inline runs tasks on the
// caller, and callers may supply their own (e.g. to route work onto an
// existing worker pool or a single-threaded cooperative queue).
package sched

import (
	"golang.org/x/sync/errgroup"
)

// Executor schedules task to run, eventually. Execute may run task before
// returning (Inline) or block while a concurrency limit is reached (a bounded
// Pool); the runner calls Execute once per single fetch or batch in a
// dispatch and then waits on the futures those tasks settle, not on Execute
// itself.
type Executor interface {
	Execute(task func())
}

// Pool is a bounded worker pool backed by golang.org/x/sync/errgroup's
// concurrency limiter. The zero value is not usable; call NewPool.
type Pool struct {
	limit int
	group *errgroup.Group
}

// NewPool returns a Pool that runs at most maxConcurrent tasks at once.
// maxConcurrent <= 0 means unbounded.
func NewPool(maxConcurrent int) *Pool {
	g := &errgroup.Group{}
	if maxConcurrent > 0 {
		g.SetLimit(maxConcurrent)
	}
	return &Pool{limit: maxConcurrent, group: g}
}

// Execute schedules task on the pool. Execute never returns an error itself;
// task is expected to report failure through whatever Future it's settling,
// per the sched.Executor contract.
func (p *Pool) Execute(task func()) {
	p.group.Go(func() error {
		task()
		return nil
	})
}

// Wait blocks until every task submitted to p has returned. It is not part
// of the Executor interface: callers that need to know when a batch of
// Execute calls has drained (rather than relying on the futures those tasks
// settle) can use it directly on a *Pool.
func (p *Pool) Wait() {
	_ = p.group.Wait()
}

// Inline is an Executor that runs task synchronously on the calling
// goroutine. Useful for tests and for hosts with a genuinely single-threaded
// cooperative model, where "scheduling" a task means running it to the next
// yield point immediately.
type Inline struct{}

func (Inline) Execute(task func()) { task() }

// Goroutine is an Executor that runs every task on its own, unbounded
// goroutine. This is the "default" an application with no particular
// concurrency ceiling in mind would reach for.
type Goroutine struct{}

func (Goroutine) Execute(task func()) { go task() }
