package capsule

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"strings"
)

// unitInfo identifies a function value by its runtime symbol.
type unitInfo struct {
	qualified string // pkgPath.name as reported by the runtime
	pkgPath   string
	name      string
	file      string // defining file
	generic   bool
}

// locate resolves fn to its runtime symbol and defining file. Methods,
// method values and closures are rejected.
func locate(fn any) (unitInfo, error) {
	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func {
		return unitInfo{}, fmt.Errorf("%w: %T is not a function", ErrUnsupportedUnit, fn)
	}
	if v.IsNil() {
		return unitInfo{}, fmt.Errorf("%w: nil function", ErrUnsupportedUnit)
	}

	rf := runtime.FuncForPC(v.Pointer())
	if rf == nil {
		return unitInfo{}, fmt.Errorf("%w: no symbol for function", ErrUnitNotFound)
	}
	file, _ := rf.FileLine(rf.Entry())

	info := unitInfo{file: file}
	info.pkgPath, info.name = splitSymbol(rf.Name())
	info.qualified = info.pkgPath + "." + info.name

	if strings.HasSuffix(info.name, "[...]") {
		info.generic = true
		info.name = strings.TrimSuffix(info.name, "[...]")
		info.qualified = info.pkgPath + "." + info.name
	}

	switch {
	case strings.HasSuffix(info.name, "-fm"):
		return info, fmt.Errorf("%w: %s is a method value", ErrUnsupportedUnit, info.qualified)
	case strings.ContainsAny(info.name, "()"):
		return info, fmt.Errorf("%w: %s is a method", ErrUnsupportedUnit, info.qualified)
	case strings.Contains(info.name, "."):
		return info, fmt.Errorf("%w: %s is a closure", ErrUnsupportedUnit, info.qualified)
	}
	return info, nil
}

// splitSymbol splits a runtime symbol such as "example.com/x/y.F" into its
// package path and name. The runtime escapes dots in the last path element.
func splitSymbol(symbol string) (pkgPath, name string) {
	slash := strings.LastIndex(symbol, "/")
	dot := strings.Index(symbol[slash+1:], ".")
	if dot < 0 {
		return "", symbol
	}
	dot += slash + 1
	return strings.ReplaceAll(symbol[:dot], "%2e", "."), symbol[dot+1:]
}

// ============================================================================
// Parsed source files
// ============================================================================

type declKind int

const (
	declVar declKind = iota
	declConst
	declType
)

// topDecl is a package-level var, const or type.
type topDecl struct {
	kind declKind
	name string
	gen  *ast.GenDecl
	spec ast.Spec
}

// key identifies the text a declaration is emitted as. Grouped consts are
// emitted whole so iota keeps its meaning.
func (d *topDecl) key() ast.Node {
	if d.kind == declConst {
		return d.gen
	}
	return d.spec
}

// sourceFile is a parsed Go file indexed by its top-level declarations.
type sourceFile struct {
	path    string
	src     []byte
	fset    *token.FileSet
	file    *ast.File
	imports []importSpec
	funcs   map[string]*ast.FuncDecl
	methods map[string][]*ast.FuncDecl
	decls   map[string]*topDecl
}

func parseSourceFile(path string) (*sourceFile, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return newSourceFile(path, src)
}

func newSourceFile(path string, src []byte) (*sourceFile, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}

	f := &sourceFile{
		path:    path,
		src:     src,
		fset:    fset,
		file:    file,
		funcs:   make(map[string]*ast.FuncDecl),
		methods: make(map[string][]*ast.FuncDecl),
		decls:   make(map[string]*topDecl),
	}

	for _, is := range file.Imports {
		p, err := strconv.Unquote(is.Path.Value)
		if err != nil {
			continue
		}
		spec := importSpec{path: p}
		if is.Name != nil {
			spec.name = is.Name.Name
		}
		f.imports = append(f.imports, spec)
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil {
				f.funcs[d.Name.Name] = d
				continue
			}
			if recv := receiverType(d); recv != "" {
				f.methods[recv] = append(f.methods[recv], d)
			}
		case *ast.GenDecl:
			f.indexGenDecl(d)
		}
	}
	return f, nil
}

func (f *sourceFile) indexGenDecl(gen *ast.GenDecl) {
	for _, spec := range gen.Specs {
		switch s := spec.(type) {
		case *ast.ValueSpec:
			kind := declVar
			if gen.Tok == token.CONST {
				kind = declConst
			}
			for _, name := range s.Names {
				if name.Name == "_" {
					continue
				}
				f.decls[name.Name] = &topDecl{kind: kind, name: name.Name, gen: gen, spec: s}
			}
		case *ast.TypeSpec:
			f.decls[s.Name.Name] = &topDecl{kind: declType, name: s.Name.Name, gen: gen, spec: s}
		}
	}
}

// text returns the source text spanned by n.
func (f *sourceFile) text(n ast.Node) string {
	start := f.fset.Position(n.Pos()).Offset
	end := f.fset.Position(n.End()).Offset
	return string(f.src[start:end])
}

// declSource returns a standalone declaration for d.
func (f *sourceFile) declSource(d *topDecl) string {
	switch d.kind {
	case declConst:
		return f.text(d.gen)
	case declType:
		return "type " + f.text(d.spec)
	default:
		return "var " + f.text(d.spec)
	}
}

// packageClause returns the file's package name.
func (f *sourceFile) packageClause() string {
	return f.file.Name.Name
}

// receiverType returns the base type name of a method receiver.
func receiverType(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return ""
	}
	expr := fn.Recv.List[0].Type
	for {
		switch t := expr.(type) {
		case *ast.StarExpr:
			expr = t.X
		case *ast.IndexExpr:
			expr = t.X
		case *ast.IndexListExpr:
			expr = t.X
		case *ast.ParenExpr:
			expr = t.X
		case *ast.Ident:
			return t.Name
		default:
			return ""
		}
	}
}
