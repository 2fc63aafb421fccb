// Package runner implements the runner loop: the level-synchronous algorithm
// that alternates frontier extraction and batch dispatch until a fetch
// description collapses to a value.
//
// One iteration is: analyze the current frontier, partition its misses from
// cache hits, dispatch one batched or N single fetches per source-name group
// concurrently, join on all of them, merge results into the cache, and plant
// the cache against the tree. The next iteration begins only once every
// fetch in the current one has settled — this is the run's sole suspension
// point, and is what lets every sibling in a Product co-dispatch and every
// identity fetch at most once.
package runner

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arborfetch/arbor/ast"
	"github.com/arborfetch/arbor/cache"
	"github.com/arborfetch/arbor/frontier"
	"github.com/arborfetch/arbor/future"
	"github.com/arborfetch/arbor/planter"
	"github.com/arborfetch/arbor/sched"
	"github.com/arborfetch/arbor/source"

	eventbus "github.com/arborfetch/arbor/internal/eventbus"
	events "github.com/arborfetch/arbor/internal/events"
	reqid "github.com/arborfetch/arbor/internal/reqid"
)

// Options configures a run. The zero value is valid: an empty Cache is
// created, a Goroutine-per-task Executor is used, and Env is nil.
type Options struct {
	// Env is threaded unchanged to every Fetch/FetchMulti call.
	Env any

	// Cache seeds (and, at run end, is grown and returned as) the run's
	// cache. If nil, a fresh cache.New() is used.
	Cache *cache.Cache

	// Executor schedules dispatched fetches. If nil, sched.Goroutine{} is
	// used — one goroutine per dispatched fetch, with no concurrency cap.
	Executor sched.Executor
}

// Outcome is the result of a completed Execute call.
type Outcome struct {
	Value any
	Cache *cache.Cache
}

// Execute runs a to completion, returning both its value and the final
// cache. It is the only place in this package that actually drives the
// loop; Run and RunBlocking are conveniences built on top of it.
func Execute(ctx context.Context, a ast.AST, opts Options) future.Future[Outcome] {
	return future.Go(func() (Outcome, error) {
		return execute(ctx, a, opts)
	})
}

// Run is Execute with only the resolved value, discarding the final cache.
func Run(ctx context.Context, a ast.AST, opts Options) future.Future[any] {
	return future.Map(Execute(ctx, a, opts), func(o Outcome) any { return o.Value })
}

// RunBlocking blocks the calling goroutine until a has run to completion, for
// hosts that permit blocking.
func RunBlocking(ctx context.Context, a ast.AST, opts Options) (any, error) {
	return Run(ctx, a, opts).Get()
}

// fetched is one resolved (sourceName, identity) -> value triple produced by
// a single dispatch.
type fetched struct {
	sourceName string
	identity   any
	value      any
}

func execute(ctx context.Context, a ast.AST, opts Options) (Outcome, error) {
	c := opts.Cache
	if c == nil {
		c = cache.New()
	}
	ex := opts.Executor
	if ex == nil {
		ex = sched.Goroutine{}
	}
	sf := &singleflight.Group{}

	ctx, rid := reqid.NewContext(ctx)
	runStart := time.Now()
	eventbus.Publish(ctx, events.RunStart{RunID: rid})

	finish := func(o Outcome, err error) (Outcome, error) {
		eventbus.Publish(ctx, events.RunFinish{RunID: rid, Err: err, Duration: time.Since(runStart)})
		if err != nil {
			return Outcome{}, runErr(err)
		}
		return o, nil
	}

	cur := a
	for {
		if v, ok := ast.ValueOf(cur); ok {
			return finish(Outcome{Value: v, Cache: c}, nil)
		}

		groups := frontier.Analyze(cur)
		before := identitySetOf(groups)

		futures, missCount := dispatchGroups(ctx, ex, sf, c, groups, opts.Env)
		if len(futures) > 0 {
			eventbus.Publish(ctx, events.FetchDispatchStart{RunID: rid, Count: missCount})
			dispatchStart := time.Now()
			results, err := future.All(futures).Get()
			eventbus.Publish(ctx, events.FetchDispatchFinish{RunID: rid, Err: err, Duration: time.Since(dispatchStart)})
			if err != nil {
				return finish(Outcome{}, err)
			}
			for _, batch := range results {
				for _, f := range batch {
					c.Insert(f.sourceName, f.identity, f.value)
				}
			}
		}

		resolver := planter.Resolver(func(name string, id any) (any, bool) { return c.Lookup(name, id) })
		next, perr := safePlant(cur, resolver)
		if perr != nil {
			return finish(Outcome{}, perr)
		}

		if _, ok := ast.ValueOf(next); ok {
			cur = next
			continue
		}

		if err := checkProgress(before, c, frontier.Analyze(next)); err != nil {
			return finish(Outcome{}, err)
		}
		cur = next
	}
}

// dispatchGroups partitions each group's identities into cache hits (no
// dispatch needed) and misses, and schedules one fetch per miss group:
// a single BatchedSource.FetchMulti call when >=2 misses share a source that
// supports batching, N parallel DataSource.Fetch calls otherwise.
func dispatchGroups(ctx context.Context, ex sched.Executor, sf *singleflight.Group, c *cache.Cache, groups []frontier.Group, env any) ([]future.Future[[]fetched], int) {
	var futures []future.Future[[]fetched]
	missCount := 0
	for _, g := range groups {
		var misses []source.DataSource
		for id, s := range g.Sources {
			if _, hit := c.Lookup(g.SourceName, id); !hit {
				misses = append(misses, s)
			}
		}
		if len(misses) == 0 {
			continue
		}
		missCount += len(misses)

		if len(misses) >= 2 {
			if bs, ok := misses[0].(source.BatchedSource); ok {
				futures = append(futures, dispatchBatch(ctx, ex, g.SourceName, bs, misses, env))
				continue
			}
		}
		for _, s := range misses {
			futures = append(futures, dispatchSingle(ctx, ex, sf, g.SourceName, s, env))
		}
	}
	return futures, missCount
}

func dispatchSingle(ctx context.Context, ex sched.Executor, sf *singleflight.Group, sourceName string, s source.DataSource, env any) future.Future[[]fetched] {
	id := s.Identity()
	key := fmt.Sprintf("%s\x00%v", sourceName, id)
	return future.Schedule(ex, func() ([]fetched, error) {
		v, err, _ := sf.Do(key, func() (any, error) {
			return s.Fetch(ctx, env).Get()
		})
		if err != nil {
			return nil, &FetchError{SourceName: sourceName, Identity: id, Err: err}
		}
		return []fetched{{sourceName: sourceName, identity: id, value: v}}, nil
	})
}

func dispatchBatch(ctx context.Context, ex sched.Executor, sourceName string, bs source.BatchedSource, misses []source.DataSource, env any) future.Future[[]fetched] {
	ids := make([]any, len(misses))
	for i, s := range misses {
		ids[i] = s.Identity()
	}
	return future.Schedule(ex, func() ([]fetched, error) {
		m, err := bs.FetchMulti(ctx, misses, env).Get()
		if err != nil {
			return nil, &FetchError{SourceName: sourceName, Identity: ids, Err: err}
		}
		out := make([]fetched, 0, len(misses))
		var missing []any
		for _, id := range ids {
			v, ok := m[id]
			if !ok {
				missing = append(missing, id)
				continue
			}
			out = append(out, fetched{sourceName: sourceName, identity: id, value: v})
		}
		if len(missing) > 0 {
			return nil, &BatchShapeError{SourceName: sourceName, Missing: missing}
		}
		return out, nil
	})
}

// safePlant runs planter.Plant, converting a panicking Bind continuation
// into a BindPanicError instead of crashing the run.
func safePlant(a ast.AST, r planter.Resolver) (next ast.AST, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &BindPanicError{Recovered: rec}
		}
	}()
	next = planter.Plant(a, r)
	return
}

// identitySet is a (sourceName, identity) membership set, used by
// checkProgress to decide whether an iteration actually consumed the
// frontier entries it had cache entries for.
type identitySet map[string]map[any]struct{}

func identitySetOf(groups []frontier.Group) identitySet {
	out := make(identitySet, len(groups))
	for _, g := range groups {
		inner := make(map[any]struct{}, len(g.Sources))
		for id := range g.Sources {
			inner[id] = struct{}{}
		}
		out[g.SourceName] = inner
	}
	return out
}

// checkProgress implements the progress invariant: any (sourceName,
// identity) that was on the prior frontier and now has a cache entry must
// not still be on the frontier. A Bind expanding into newly-revealed sources
// is unaffected, since those identities were never in `before`.
func checkProgress(before identitySet, c *cache.Cache, afterGroups []frontier.Group) error {
	after := identitySetOf(afterGroups)
	for name, ids := range before {
		for id := range ids {
			if _, cached := c.Lookup(name, id); !cached {
				continue
			}
			if innerAfter, ok := after[name]; ok {
				if _, stillThere := innerAfter[id]; stillThere {
					return &NoProgressError{SourceName: name, Identity: id}
				}
			}
		}
	}
	return nil
}
