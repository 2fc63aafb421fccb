// Package source defines the external DataSource contract: the narrow
// capability set a fetch tree's leaves implement so the runner can identify,
// batch, and dispatch them without knowing anything about the concrete
// backend.
//
// Implementations should be stateless or otherwise safe for concurrent use:
// the runner may invoke Fetch and FetchMulti concurrently, possibly for the
// same or different sources, within one dispatch. Implementations must not
// mutate the values they're handed.
package source

import (
	"context"

	"github.com/arborfetch/arbor/future"
)

// DataSource is the required capability set. SourceName and Identity must be
// deterministic and stable for the lifetime of the instance: they are the
// runner's sole notion of equality for caching and batch-grouping purposes,
// never Go object identity.
type DataSource interface {
	// SourceName identifies the concrete source type. It is the outer cache
	// key and the batch-grouping key.
	SourceName() string

	// Identity is a comparable key unique within this source type. It is the
	// inner cache key.
	Identity() any

	// Fetch performs the single-item fetch. env is the opaque value
	// threaded through from the run's Options, uninterpreted by the core.
	Fetch(ctx context.Context, env any) future.Future[any]
}

// BatchedSource is the optional capability. The runner type-asserts a
// DataSource to BatchedSource and prefers FetchMulti whenever two or more
// distinct, uncached identities of the same SourceName are on the frontier
// at once; a source that doesn't implement this interface is fetched with N
// parallel Fetch calls instead.
type BatchedSource interface {
	DataSource

	// FetchMulti fetches a homogeneous batch: every element of sources has
	// this source's SourceName(). The returned map's key set must equal
	// {Identity(s) | s in sources}; a missing identity is a fetch failure
	// for that identity (see the runner package's BatchShapeError).
	FetchMulti(ctx context.Context, sources []DataSource, env any) future.Future[map[any]any]
}

// ResourceName equals s.SourceName(). It is exposed as a free function so
// callers can preconstruct a seed cache without depending on the runner
// package: map[ResourceName(s)][CacheID(s)] = value.
func ResourceName(s DataSource) string { return s.SourceName() }

// CacheID equals s.Identity(). See ResourceName.
func CacheID(s DataSource) any { return s.Identity() }
