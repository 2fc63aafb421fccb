package runner

import (
	"context"
	"sync"

	"github.com/arborfetch/arbor/future"
	"github.com/arborfetch/arbor/source"
)

// call is one recorded DataSource invocation, used by the scenario and
// property tests to assert dispatch counts and shapes by diffing a recorded
// call log against a literal expectation.
type call struct {
	Source   string
	Identity any
	Kind     string // "fetch" or "fetch_multi"
}

type callLog struct {
	mu    sync.Mutex
	calls []call
}

func (l *callLog) record(c call) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *callLog) snapshot() []call {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]call, len(l.calls))
	copy(out, l.calls)
	return out
}

func (l *callLog) countOf(sourceName string, kind string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c.Source == sourceName && c.Kind == kind {
			n++
		}
	}
	return n
}

// recordingSource is a DataSource whose Fetch is a caller-supplied function,
// recording every invocation to a shared callLog.
type recordingSource struct {
	name    string
	id      any
	log     *callLog
	fetchFn func(id any, env any) (any, error)
}

func (s recordingSource) SourceName() string { return s.name }
func (s recordingSource) Identity() any      { return s.id }

func (s recordingSource) Fetch(ctx context.Context, env any) future.Future[any] {
	s.log.record(call{Source: s.name, Identity: s.id, Kind: "fetch"})
	return future.Go(func() (any, error) { return s.fetchFn(s.id, env) })
}

// recordingBatchedSource additionally implements FetchMulti.
type recordingBatchedSource struct {
	recordingSource
	fetchMultiFn func(ids []any, env any) (map[any]any, error)
}

func (s recordingBatchedSource) FetchMulti(ctx context.Context, sources []source.DataSource, env any) future.Future[map[any]any] {
	ids := make([]any, len(sources))
	for i, ss := range sources {
		ids[i] = ss.Identity()
	}
	s.log.record(call{Source: s.name, Identity: ids, Kind: "fetch_multi"})
	return future.Go(func() (map[any]any, error) { return s.fetchMultiFn(ids, env) })
}

// friendsOf(n) resolves to the sorted slice [0, 1, ..., n-1], the set
// represented deterministically for equality assertions.
func friendsOf(log *callLog, n int) recordingSource {
	return recordingSource{
		name: "FriendsOf",
		id:   n,
		log:  log,
		fetchFn: func(id any, env any) (any, error) {
			count := id.(int)
			xs := make([]int, count)
			for i := range xs {
				xs[i] = i
			}
			return xs, nil
		},
	}
}

// activityScore is a BatchedSource: fetch_multi(ids) -> {i: i+1}.
func activityScore(log *callLog, id int) recordingBatchedSource {
	return recordingBatchedSource{
		recordingSource: recordingSource{
			name: "ActivityScore",
			id:   id,
			log:  log,
			fetchFn: func(id any, env any) (any, error) {
				return id.(int) + 1, nil
			},
		},
		fetchMultiFn: func(ids []any, env any) (map[any]any, error) {
			out := make(map[any]any, len(ids))
			for _, id := range ids {
				out[id] = id.(int) + 1
			}
			return out, nil
		},
	}
}

// pet(u) resolves to "dog". Deliberately does not implement BatchedSource,
// per scenario S3's expectation of N parallel single fetches.
func pet(log *callLog, u int) recordingSource {
	return recordingSource{
		name: "Pet",
		id:   u,
		log:  log,
		fetchFn: func(id any, env any) (any, error) {
			return "dog", nil
		},
	}
}

func simple(log *callLog, id int, value any) recordingSource {
	return recordingSource{
		name: "Simple",
		id:   id,
		log:  log,
		fetchFn: func(any, any) (any, error) { return value, nil },
	}
}

// envResult is S6's (i, env) tuple.
type envResult struct {
	ID  int
	Env any
}

// failing always rejects with err, for error-propagation scenarios.
func failing(log *callLog, name string, id int, err error) recordingSource {
	return recordingSource{
		name:    name,
		id:      id,
		log:     log,
		fetchFn: func(any, any) (any, error) { return nil, err },
	}
}

// envSource is a BatchedSource whose fetch_multi threads env through.
func envSource(log *callLog, id int) recordingBatchedSource {
	return recordingBatchedSource{
		recordingSource: recordingSource{
			name: "E",
			id:   id,
			log:  log,
			fetchFn: func(id any, env any) (any, error) {
				return envResult{ID: id.(int), Env: env}, nil
			},
		},
		fetchMultiFn: func(ids []any, env any) (map[any]any, error) {
			out := make(map[any]any, len(ids))
			for _, id := range ids {
				out[id] = envResult{ID: id.(int), Env: env}
			}
			return out, nil
		},
	}
}
