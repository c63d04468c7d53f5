package capsule

import (
	"go/ast"
	"go/token"

	"golang.org/x/tools/go/ast/astutil"
)

// freeNames returns the identifiers the given nodes refer to without
// declaring them, in order of first appearance. Selector names, struct
// field and method names, labels and anything declared inside a function
// (parameters, results, := and var/const/type statements, range variables)
// are left out, so a local that shadows a package-level name does not pull
// that declaration in.
func freeNames(nodes ...ast.Node) []string {
	w := &nameWalker{
		skip: make(map[*ast.Ident]bool),
		seen: make(map[string]bool),
	}
	for _, n := range nodes {
		if n != nil {
			astutil.Apply(n, w.pre, w.post)
		}
	}
	return w.names
}

type nameWalker struct {
	scopes []map[string]bool
	skip   map[*ast.Ident]bool // identifiers that declare or select, never refer
	seen   map[string]bool
	names  []string
}

func (w *nameWalker) push() {
	w.scopes = append(w.scopes, make(map[string]bool))
}

func (w *nameWalker) pop() {
	w.scopes = w.scopes[:len(w.scopes)-1]
}

// declare binds ids in the innermost scope. Outside any function nothing is
// bound: package-level names are what callers look for.
func (w *nameWalker) declare(ids ...*ast.Ident) {
	for _, id := range ids {
		if id == nil {
			continue
		}
		w.skip[id] = true
		if len(w.scopes) > 0 {
			w.scopes[len(w.scopes)-1][id.Name] = true
		}
	}
}

func (w *nameWalker) declareFields(lists ...*ast.FieldList) {
	for _, list := range lists {
		if list == nil {
			continue
		}
		for _, field := range list.List {
			w.declare(field.Names...)
		}
	}
}

func (w *nameWalker) skipFields(lists ...*ast.FieldList) {
	for _, list := range lists {
		if list == nil {
			continue
		}
		for _, field := range list.List {
			for _, id := range field.Names {
				w.skip[id] = true
			}
		}
	}
}

func (w *nameWalker) local(name string) bool {
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if w.scopes[i][name] {
			return true
		}
	}
	return false
}

func (w *nameWalker) pre(c *astutil.Cursor) bool {
	switch n := c.Node().(type) {
	case *ast.Ident:
		if w.skip[n] || n.Name == "_" || w.seen[n.Name] || w.local(n.Name) {
			return true
		}
		w.seen[n.Name] = true
		w.names = append(w.names, n.Name)

	case *ast.File:
		w.skip[n.Name] = true
	case *ast.SelectorExpr:
		w.skip[n.Sel] = true
	case *ast.LabeledStmt:
		w.skip[n.Label] = true
	case *ast.BranchStmt:
		if n.Label != nil {
			w.skip[n.Label] = true
		}
	case *ast.StructType:
		w.skipFields(n.Fields)
	case *ast.InterfaceType:
		w.skipFields(n.Methods)
	case *ast.FuncType:
		w.skipFields(n.TypeParams, n.Params, n.Results)

	case *ast.FuncDecl:
		w.skip[n.Name] = true
		w.push()
		w.declareFields(n.Type.TypeParams)
		if n.Recv != nil {
			w.skipFields(n.Recv)
			if len(n.Recv.List) > 0 {
				w.declare(receiverTypeParams(n.Recv.List[0].Type)...)
			}
		}
	case *ast.FuncLit:
		w.push()

	case *ast.BlockStmt:
		w.push()
		// Parameters and range variables are in scope in the body only, not
		// in their own types or the ranged expression.
		switch p := c.Parent().(type) {
		case *ast.FuncDecl:
			w.declareFields(p.Recv, p.Type.Params, p.Type.Results)
		case *ast.FuncLit:
			w.declareFields(p.Type.Params, p.Type.Results)
		case *ast.RangeStmt:
			if p.Body == n && p.Tok == token.DEFINE {
				w.declare(identOf(p.Key), identOf(p.Value))
			}
		}
	case *ast.RangeStmt:
		w.push()
		if n.Tok == token.DEFINE {
			for _, id := range []*ast.Ident{identOf(n.Key), identOf(n.Value)} {
				if id != nil {
					w.skip[id] = true
				}
			}
		}
	case *ast.IfStmt, *ast.ForStmt, *ast.SwitchStmt, *ast.TypeSwitchStmt, *ast.CaseClause, *ast.CommClause:
		w.push()

	case *ast.AssignStmt:
		// The left side is bound in post, after the right side was walked.
		if n.Tok == token.DEFINE {
			for _, lhs := range n.Lhs {
				if id := identOf(lhs); id != nil {
					w.skip[id] = true
				}
			}
		}
	case *ast.ValueSpec:
		for _, id := range n.Names {
			w.skip[id] = true
		}
	case *ast.TypeSpec:
		// The name is visible in its own definition; type parameters only
		// there.
		if len(w.scopes) > 0 {
			w.declare(n.Name)
		} else {
			w.skip[n.Name] = true
		}
		w.push()
		w.declareFields(n.TypeParams)
	}
	return true
}

func (w *nameWalker) post(c *astutil.Cursor) bool {
	switch n := c.Node().(type) {
	case *ast.FuncDecl, *ast.FuncLit, *ast.BlockStmt, *ast.RangeStmt, *ast.IfStmt, *ast.ForStmt,
		*ast.SwitchStmt, *ast.TypeSwitchStmt, *ast.CaseClause, *ast.CommClause, *ast.TypeSpec:
		w.pop()
	case *ast.AssignStmt:
		if n.Tok == token.DEFINE {
			for _, lhs := range n.Lhs {
				w.declare(identOf(lhs))
			}
		}
	case *ast.ValueSpec:
		if len(w.scopes) > 0 {
			w.declare(n.Names...)
		}
	}
	return true
}

func identOf(e ast.Expr) *ast.Ident {
	id, _ := e.(*ast.Ident)
	return id
}

// receiverTypeParams returns the type parameter names of a generic
// receiver such as *List[T].
func receiverTypeParams(expr ast.Expr) []*ast.Ident {
	if star, ok := expr.(*ast.StarExpr); ok {
		expr = star.X
	}
	var indices []ast.Expr
	switch t := expr.(type) {
	case *ast.IndexExpr:
		indices = []ast.Expr{t.Index}
	case *ast.IndexListExpr:
		indices = t.Indices
	}
	var ids []*ast.Ident
	for _, idx := range indices {
		if id := identOf(idx); id != nil {
			ids = append(ids, id)
		}
	}
	return ids
}
