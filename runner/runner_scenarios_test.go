package runner

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/arborfetch/arbor/ast"
	"github.com/arborfetch/arbor/cache"
)

// S1 — dedup inside a product: three Source nodes, two distinct identities,
// the repeated identity must not cause a second fetch.
func TestScenario_S1_DedupInsideProduct(t *testing.T) {
	log := &callLog{}
	a := ast.Product(
		ast.Src(friendsOf(log, 1)),
		ast.Src(friendsOf(log, 2)),
		ast.Src(friendsOf(log, 2)),
	)

	got, err := RunBlocking(context.Background(), a, Options{})
	if err != nil {
		t.Fatalf("RunBlocking: %v", err)
	}

	want := []any{[]int{0}, []int{0, 1}, []int{0, 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if n := log.countOf("FriendsOf", "fetch"); n != 2 {
		t.Fatalf("expected exactly 2 FriendsOf fetches, got %d: %+v", n, log.snapshot())
	}
}

// S2 — N+1 reduces to 2 dispatches via a Bind-introduced batch.
func TestScenario_S2_BindThenBatch(t *testing.T) {
	log := &callLog{}
	a := ast.Bind(func(v any) ast.AST {
		xs := v.([]int)
		sorted := append([]int(nil), xs...)
		sort.Ints(sorted)
		children := make([]ast.AST, len(sorted))
		for i, x := range sorted {
			children[i] = ast.Src(activityScore(log, x))
		}
		return ast.Collect(children)
	}, ast.Src(friendsOf(log, 5)))

	got, err := RunBlocking(context.Background(), a, Options{})
	if err != nil {
		t.Fatalf("RunBlocking: %v", err)
	}

	want := []any{1, 2, 3, 4, 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if n := len(log.snapshot()); n != 2 {
		t.Fatalf("expected exactly 2 total dispatches, got %d: %+v", n, log.snapshot())
	}
	if n := log.countOf("FriendsOf", "fetch"); n != 1 {
		t.Fatalf("expected exactly 1 FriendsOf fetch, got %d", n)
	}
	if n := log.countOf("ActivityScore", "fetch_multi"); n != 1 {
		t.Fatalf("expected exactly 1 ActivityScore fetch_multi, got %d", n)
	}
	if n := log.countOf("ActivityScore", "fetch"); n != 0 {
		t.Fatalf("expected 0 individual ActivityScore fetches, got %d", n)
	}
}

// S3 — conditional fan-out: odd identities resolve to a pure value without
// ever touching Pet, even identities dispatch concurrently.
func TestScenario_S3_ConditionalFanOut(t *testing.T) {
	log := &callLog{}
	fetchPet := func(u int) ast.AST {
		if u%2 != 0 {
			return ast.Value("no-pet")
		}
		return ast.Src(pet(log, u))
	}
	a := ast.Bind(func(v any) ast.AST {
		xs := v.([]int)
		children := make([]ast.AST, len(xs))
		for i, x := range xs {
			children[i] = fetchPet(x)
		}
		return ast.Collect(children)
	}, ast.Src(friendsOf(log, 3)))

	got, err := RunBlocking(context.Background(), a, Options{})
	if err != nil {
		t.Fatalf("RunBlocking: %v", err)
	}

	want := []any{"dog", "no-pet", "dog"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if n := log.countOf("Pet", "fetch"); n != 2 {
		t.Fatalf("expected exactly 2 Pet fetches, got %d: %+v", n, log.snapshot())
	}
}

// S4 — a cache-seeded identity dispatches nothing.
func TestScenario_S4_CacheSeedElidesFetch(t *testing.T) {
	log := &callLog{}
	a := ast.Src(simple(log, 1, 42))
	seed := cache.Seed(map[string]map[any]any{"Simple": {1: 42}})

	outcome, err := Execute(context.Background(), a, Options{Cache: seed}).Get()
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Value != 42 {
		t.Fatalf("expected 42, got %v", outcome.Value)
	}
	if n := len(log.snapshot()); n != 0 {
		t.Fatalf("expected no dispatches, got %d: %+v", n, log.snapshot())
	}
	if diff := cmp.Diff(seed.Snapshot(), outcome.Cache.Snapshot()); diff != "" {
		t.Fatalf("final cache must equal the seed (-want +got):\n%s", diff)
	}
}

// S5 — a rejected fetch anywhere in the dispatch rejects the whole run.
func TestScenario_S5_ErrorPropagation(t *testing.T) {
	log := &callLog{}
	wantErr := errors.New("E")
	a := ast.Product(
		ast.Src(simple(log, 1, "a-value")),
		ast.Src(failing(log, "B", 2, wantErr)),
	)

	_, err := RunBlocking(context.Background(), a, Options{})
	if err == nil {
		t.Fatalf("expected an error, got none")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected the run error to wrap %v, got %v", wantErr, err)
	}
}

// S6 — environment threading: a BatchedSource's fetch_multi receives env
// and one fetch_multi call serves both identities.
func TestScenario_S6_EnvironmentThreading(t *testing.T) {
	log := &callLog{}
	a := ast.Product(
		ast.Src(envSource(log, 1)),
		ast.Src(envSource(log, 2)),
	)

	got, err := RunBlocking(context.Background(), a, Options{Env: "C"})
	if err != nil {
		t.Fatalf("RunBlocking: %v", err)
	}

	want := []any{envResult{ID: 1, Env: "C"}, envResult{ID: 2, Env: "C"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if n := log.countOf("E", "fetch_multi"); n != 1 {
		t.Fatalf("expected exactly 1 fetch_multi call, got %d: %+v", n, log.snapshot())
	}
}
