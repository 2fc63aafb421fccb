// Package frontier implements the frontier analyzer: given a fetch
// description, it returns the Source nodes ready to be fetched now, grouped
// by source name with identities deduplicated within a group.
//
// The walk collects into every Product child and stops at the near side of a
// Bind: Value contributes nothing; Source contributes itself; Map recurses
// into its child; Product recurses into every child and unions the results —
// this is what makes siblings concurrent; Bind recurses only into its child,
// never touching its continuation, since the right-hand side isn't known yet.
package frontier

import (
	"github.com/arborfetch/arbor/ast"
	"github.com/arborfetch/arbor/source"
)

// Group is the set of distinct, same-source-name Sources reachable at the
// current frontier. Sources is keyed by Identity() so a single identity
// appearing in multiple subtrees contributes one entry.
type Group struct {
	SourceName string
	Sources    map[any]source.DataSource
}

// Analyze walks a and returns its frontier, partitioned into one Group per
// distinct source name. Group order is unspecified; callers that need
// determinism should sort by SourceName.
func Analyze(a ast.AST) []Group {
	byName := make(map[string]map[any]source.DataSource)
	var order []string

	var walk func(ast.AST)
	walk = func(node ast.AST) {
		switch node.Kind() {
		case ast.KindValue:
			// Contributes nothing.
		case ast.KindSource:
			s, _ := ast.SourceOf(node)
			name := s.SourceName()
			id := s.Identity()
			byIdentity, ok := byName[name]
			if !ok {
				byIdentity = make(map[any]source.DataSource)
				byName[name] = byIdentity
				order = append(order, name)
			}
			if _, seen := byIdentity[id]; !seen {
				byIdentity[id] = s
			}
		case ast.KindMap:
			_, child, _ := ast.MapOf(node)
			walk(child)
		case ast.KindProduct:
			children, _ := ast.ProductOf(node)
			for _, c := range children {
				walk(c)
			}
		case ast.KindBind:
			_, child, _ := ast.BindOf(node)
			walk(child)
		}
	}
	walk(a)

	groups := make([]Group, 0, len(order))
	for _, name := range order {
		groups = append(groups, Group{SourceName: name, Sources: byName[name]})
	}
	return groups
}
