package capsule

import (
	"fmt"
	"go/ast"
	"go/token"
)

// resultCount returns the number of values a function returns.
func resultCount(results *ast.FieldList) int {
	if results == nil {
		return 0
	}
	n := 0
	for _, field := range results.List {
		if len(field.Names) == 0 {
			n++
			continue
		}
		n += len(field.Names)
	}
	return n
}

// wrapUnit returns the capsule entry point for decl, whose source is src as
// positioned by fset. The function is renamed to UnitName and loses its
// results; its body moves unchanged into a function literal with the
// original result list, and whatever that literal returns is reported:
//
//	func offloadUnit(n int) {
//		offloadReport(func() (out int) { ... }())
//	}
//
// Returns at any depth, deferred calls, recover and named results therefore
// behave exactly as in a direct call. A function without results keeps its
// body as is.
func wrapUnit(fset *token.FileSet, src []byte, decl *ast.FuncDecl) string {
	text := func(n ast.Node) string {
		return string(src[fset.Position(n.Pos()).Offset:fset.Position(n.End()).Offset])
	}

	params, body := text(decl.Type.Params), text(decl.Body)
	if resultCount(decl.Type.Results) == 0 {
		return fmt.Sprintf("func %s%s %s", UnitName, params, body)
	}
	return fmt.Sprintf("func %s%s {\n\toffloadReport(func() %s %s())\n}",
		UnitName, params, text(decl.Type.Results), body)
}
