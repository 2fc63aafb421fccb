// Package ast defines the fetch description tree: a closed, five-variant sum
// type built by pure combinators (Value, Source, Map, Bind, Product) and
// consumed by the frontier analyzer, the planter, and the runner loop.
//
// An AST is immutable. Every combinator below produces a new tree; nothing
// mutates an existing one. A fully-resolved AST is exactly a Value node.
package ast

import "github.com/arborfetch/arbor/source"

// Kind tags the variant of an AST node.
type Kind int

const (
	KindValue Kind = iota
	KindSource
	KindMap
	KindBind
	KindProduct
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "Value"
	case KindSource:
		return "Source"
	case KindMap:
		return "Map"
	case KindBind:
		return "Bind"
	case KindProduct:
		return "Product"
	default:
		return "Unknown"
	}
}

// AST is the closed sum type. Dispatch is by Kind; fields unused by a given
// Kind are left zero. This mirrors the node-variant-by-struct-tag shape used
// throughout the fetch description, rather than an open interface hierarchy,
// so that frontier/planter/runner can switch exhaustively over Kind.
type AST struct {
	kind Kind

	// KindValue
	value any

	// KindSource
	source source.DataSource

	// KindMap
	mapFn    func(any) any
	mapChild AST

	// KindBind
	bindFn    func(any) AST
	bindChild AST

	// KindProduct
	children []AST
}

// Kind reports the variant of a.
func (a AST) Kind() Kind { return a.kind }

// Value lifts a pure value into an AST. Adds no fetches.
func Value(v any) AST {
	return AST{kind: KindValue, value: v}
}

// ValueOf returns the carried value and true if a is a Value node.
func ValueOf(a AST) (any, bool) {
	if a.kind == KindValue {
		return a.value, true
	}
	return nil, false
}

// Src wraps a DataSource as a Source node.
func Src(s source.DataSource) AST {
	return AST{kind: KindSource, source: s}
}

// SourceOf returns the carried DataSource and true if a is a Source node.
func SourceOf(a AST) (source.DataSource, bool) {
	if a.kind == KindSource {
		return a.source, true
	}
	return nil, false
}

// Map applies a pure transformation f once a resolves. If a is already a
// Value, f is applied eagerly and the result is a new Value — the optional
// optimization the spec allows, implemented here for predictable tree size.
func Map(f func(any) any, a AST) AST {
	if v, ok := ValueOf(a); ok {
		return Value(f(v))
	}
	return AST{kind: KindMap, mapFn: f, mapChild: a}
}

// MapOf returns the transform and child of a Map node.
func MapOf(a AST) (func(any) any, AST, bool) {
	if a.kind == KindMap {
		return a.mapFn, a.mapChild, true
	}
	return nil, AST{}, false
}

// Bind is the monadic continuation: f is deferred until a resolves, then
// evaluated to produce the next AST. Bind(Value, a) observationally equals
// a; Bind(f, Value(x)) observationally equals f(x) — both identities hold by
// construction in the planter, not here, so that a Bind node is always
// inspectable as such by the frontier analyzer.
func Bind(f func(any) AST, a AST) AST {
	return AST{kind: KindBind, bindFn: f, bindChild: a}
}

// BindOf returns the continuation and child of a Bind node.
func BindOf(a AST) (func(any) AST, AST, bool) {
	if a.kind == KindBind {
		return a.bindFn, a.bindChild, true
	}
	return nil, AST{}, false
}

// Product resolves every child concurrently, preserving child order in the
// result regardless of completion order. Concurrency between siblings is the
// frontier analyzer's concern, not this constructor's.
func Product(children ...AST) AST {
	cp := make([]AST, len(children))
	copy(cp, children)
	return AST{kind: KindProduct, children: cp}
}

// Collect is Product over a slice, for call sites building children
// dynamically (e.g. inside a Bind continuation).
func Collect(children []AST) AST {
	return Product(children...)
}

// ProductOf returns the children of a Product node.
func ProductOf(a AST) ([]AST, bool) {
	if a.kind == KindProduct {
		return a.children, true
	}
	return nil, false
}

// Traverse maps f over a resolved slice and collects the results, deferring
// both until a resolves. It is defined purely in terms of Bind/Collect/Map;
// its behavior follows from theirs.
func Traverse(f func(any) AST, a AST) AST {
	return Bind(func(v any) AST {
		items, ok := v.([]any)
		if !ok {
			// Fall back to reflection-free single-item traversal isn't
			// meaningful here: traverse is defined over slices.
			return Value(nil)
		}
		children := make([]AST, len(items))
		for i, item := range items {
			children[i] = f(item)
		}
		return Collect(children)
	}, a)
}
