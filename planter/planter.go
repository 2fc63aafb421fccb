// Package planter implements substitution and collapse: given a fetch
// description and a resolver function, it produces a new AST with every
// resolvable Source node replaced by its resolved Value, folding pure
// combinators whose children became fully resolved.
//
// The recursion has one case per node kind, completing bottom-up, with a
// Bind treated specially — once its child resolves, the continuation is
// invoked to produce the *next* AST, which is handed back unplanted. Planting
// that new AST in the same pass would let a Bind silently consume a resolver
// that was only ever meant to cover the frontier as it stood at the start of
// this iteration; leaving it unplanted preserves the level-synchronous
// barrier the runner loop depends on.
package planter

import "github.com/arborfetch/arbor/ast"

// Resolver looks up a resolved value for (sourceName, identity), typically
// backed by a cache.Cache populated by the current iteration's dispatch.
type Resolver func(sourceName string, identity any) (any, bool)

// Plant substitutes every Source node in a that r can resolve, and collapses
// any Map/Product whose child(ren) became a Value as a result. It is pure
// and runs in O(size of a).
func Plant(a ast.AST, r Resolver) ast.AST {
	switch a.Kind() {
	case ast.KindValue:
		return a

	case ast.KindSource:
		s, _ := ast.SourceOf(a)
		if v, ok := r(s.SourceName(), s.Identity()); ok {
			return ast.Value(v)
		}
		return a

	case ast.KindMap:
		f, child, _ := ast.MapOf(a)
		plantedChild := Plant(child, r)
		if v, ok := ast.ValueOf(plantedChild); ok {
			return ast.Value(f(v))
		}
		return ast.Map(f, plantedChild)

	case ast.KindProduct:
		children, _ := ast.ProductOf(a)
		planted := make([]ast.AST, len(children))
		allValues := true
		values := make([]any, len(children))
		for i, c := range children {
			pc := Plant(c, r)
			planted[i] = pc
			if v, ok := ast.ValueOf(pc); ok {
				values[i] = v
			} else {
				allValues = false
			}
		}
		if allValues {
			return ast.Value(values)
		}
		return ast.Collect(planted)

	case ast.KindBind:
		f, child, _ := ast.BindOf(a)
		plantedChild := Plant(child, r)
		if v, ok := ast.ValueOf(plantedChild); ok {
			return f(v)
		}
		return ast.Bind(f, plantedChild)

	default:
		return a
	}
}
