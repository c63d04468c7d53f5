package capsule

import (
	"encoding/json"
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/parser"
	"go/token"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/marmos91/offload/internal/logger"
)

// ModulePath is the import path prefix of this module. Capsules never import
// it: the worker only has the standard library and the capsule itself.
const ModulePath = "github.com/marmos91/offload"

// Builder assembles capsules. Its entry file, global and helper registries
// are safe for concurrent use and only ever grow.
type Builder struct {
	mu       sync.RWMutex
	entry    *sourceFile
	globals  map[string]reflect.Value
	helpers  []helper
	excluded []string
	maxSize  int
}

// helper is an always-included declaration.
type helper struct {
	names  []string
	source string
}

// Option configures a Builder.
type Option func(*Builder)

// WithExcludedImports drops imports under the given path prefixes in
// addition to ModulePath.
func WithExcludedImports(prefixes ...string) Option {
	return func(b *Builder) {
		b.excluded = append(b.excluded, prefixes...)
	}
}

// WithMaxSize rejects capsules whose source exceeds n bytes. Zero means
// no limit.
func WithMaxSize(n int) Option {
	return func(b *Builder) {
		b.maxSize = n
	}
}

// NewBuilder creates a Builder with no entry file bound.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		globals:  make(map[string]reflect.Value),
		excluded: []string{ModulePath},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ============================================================================
// Registration
// ============================================================================

// BindEntryFile parses the file whose imports and package-level declarations
// capsules draw from. It is usually the caller's main.go. Binding again
// replaces the previous file.
func (b *Builder) BindEntryFile(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return buildError("", "bind", err)
	}
	f, err := parseSourceFile(abs)
	if err != nil {
		return buildError("", "bind", err)
	}

	b.mu.Lock()
	b.entry = f
	b.mu.Unlock()

	logger.Debug("Entry file bound",
		logger.KeyFile, abs,
		logger.KeyImports, len(f.imports),
		logger.KeyGlobals, len(f.decls))
	return nil
}

// EntryFile returns the bound entry file path, or "" when none is bound.
func (b *Builder) EntryFile() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.entry == nil {
		return ""
	}
	return b.entry.path
}

// Global registers ptr as the live value of the entry file's package-level
// variable name. Capsules embed a snapshot of *ptr taken at build time.
// Registering a name again replaces the pointer.
func (b *Builder) Global(name string, ptr any) error {
	if !token.IsIdentifier(name) {
		return fmt.Errorf("%w: %q is not an identifier", ErrInvalidArguments, name)
	}
	v := reflect.ValueOf(ptr)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("%w: global %s needs a non-nil pointer, got %T", ErrInvalidArguments, name, ptr)
	}

	b.mu.Lock()
	b.globals[name] = v
	b.mu.Unlock()
	return nil
}

// Include registers fn's declaration to be copied into every capsule.
func (b *Builder) Include(fn any) error {
	info, err := locate(fn)
	if err != nil {
		return buildError(info.qualified, "include", err)
	}

	b.mu.RLock()
	entry := b.entry
	b.mu.RUnlock()

	decl, file, err := findDecl(info, entry)
	if err != nil {
		return buildError(info.qualified, "include", err)
	}
	b.addHelper(helper{names: []string{info.name}, source: file.text(decl)})
	return nil
}

// IncludeSource registers Go declarations to be copied into every capsule.
// The source must not contain a package clause or imports; capsules take
// their imports from the entry file.
func (b *Builder) IncludeSource(src string) error {
	f, err := newSourceFile("helper.go", []byte("package main\n\n"+src))
	if err != nil {
		return buildError("", "include", err)
	}
	if len(f.file.Imports) > 0 {
		return buildError("", "include", errors.New("helper source cannot declare imports"))
	}

	for _, decl := range f.file.Decls {
		h := helper{source: f.text(decl)}
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil {
				h.names = append(h.names, d.Name.Name)
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.ValueSpec:
					for _, n := range s.Names {
						h.names = append(h.names, n.Name)
					}
				case *ast.TypeSpec:
					h.names = append(h.names, s.Name.Name)
				}
			}
		}
		b.addHelper(h)
	}
	return nil
}

func (b *Builder) addHelper(h helper) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.helpers {
		if existing.source == h.source {
			return
		}
	}
	b.helpers = append(b.helpers, h)
}

// snapshot copies the registries so a build never holds the lock.
func (b *Builder) snapshot() (*sourceFile, map[string]reflect.Value, []helper) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	globals := make(map[string]reflect.Value, len(b.globals))
	for k, v := range b.globals {
		globals[k] = v
	}
	return b.entry, globals, append([]helper(nil), b.helpers...)
}

// findDecl looks up a top-level function in the entry file, then in its
// defining file.
func findDecl(info unitInfo, entry *sourceFile) (*ast.FuncDecl, *sourceFile, error) {
	if entry != nil && (entry.path == info.file || entry.packageClause() == guessImportName(info.pkgPath)) {
		if decl, ok := entry.funcs[info.name]; ok {
			return decl, entry, nil
		}
	}
	if info.file == "" {
		return nil, nil, ErrUnitNotFound
	}
	f, err := parseSourceFile(info.file)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnitNotFound, err)
	}
	decl, ok := f.funcs[info.name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s in %s", ErrUnitNotFound, info.name, info.file)
	}
	return decl, f, nil
}

// ============================================================================
// Building
// ============================================================================

// unitSource is everything assemble needs about one call.
type unitSource struct {
	qualified string
	pkgPath   string
	declSrc   string
	prelude   []string // statements run in main before the call
	callArgs  []string
	decode    bool
	types     []string // local types referenced by the arguments
}

// Build creates a capsule that calls fn with args. fn must be a top-level,
// non-generic function; args are embedded as Go literals.
func (b *Builder) Build(fn any, args ...any) (*Capsule, error) {
	info, err := locate(fn)
	if err != nil {
		return nil, buildError(info.qualified, "locate", err)
	}
	if info.generic {
		return nil, buildError(info.qualified, "locate", fmt.Errorf("%w: generic function", ErrUnsupportedUnit))
	}

	entry, globals, helpers := b.snapshot()
	if entry == nil {
		logger.Warn("No entry file bound; capsule has no imports or globals", logger.Unit(info.qualified))
	}

	decl, file, err := findDecl(info, entry)
	if err != nil {
		return nil, buildError(info.qualified, "locate", err)
	}

	values, err := PrepareArgs(reflect.ValueOf(fn), args)
	if err != nil {
		return nil, buildError(info.qualified, "args", err)
	}

	r := newRenderer(info.pkgPath, entryImports(entry))
	exprs := make([]string, len(values))
	for i, v := range values {
		if exprs[i], err = r.literal(v); err != nil {
			return nil, buildError(info.qualified, "args", fmt.Errorf("argument %d: %w", i, err))
		}
	}

	return b.assemble(unitSource{
		qualified: info.qualified,
		pkgPath:   info.pkgPath,
		declSrc:   file.text(decl),
		callArgs:  exprs,
		types:     r.localTypes(),
	}, entry, globals, helpers)
}

// BuildSource creates a capsule for the entry file function name. Each
// argument is JSON decoded into the declared parameter type inside the
// capsule; extra arguments of a variadic function are decoded one by one.
func (b *Builder) BuildSource(name string, args []json.RawMessage) (*Capsule, error) {
	entry, globals, helpers := b.snapshot()
	if entry == nil {
		return nil, buildError(name, "locate", fmt.Errorf("%w: no entry file bound", ErrUnitNotFound))
	}
	qualified := entry.packageClause() + "." + name

	decl, ok := entry.funcs[name]
	if !ok {
		return nil, buildError(qualified, "locate", fmt.Errorf("%w: %s in %s", ErrUnitNotFound, name, entry.path))
	}
	if decl.Type.TypeParams != nil {
		return nil, buildError(qualified, "locate", fmt.Errorf("%w: generic function", ErrUnsupportedUnit))
	}

	types, variadic := paramTypes(entry, decl.Type.Params)
	switch {
	case variadic && len(args) < len(types)-1:
		return nil, buildError(qualified, "args", fmt.Errorf("%w: want at least %d arguments, got %d", ErrInvalidArguments, len(types)-1, len(args)))
	case !variadic && len(args) != len(types):
		return nil, buildError(qualified, "args", fmt.Errorf("%w: want %d arguments, got %d", ErrInvalidArguments, len(types), len(args)))
	}

	u := unitSource{
		qualified: qualified,
		pkgPath:   "main",
		declSrc:   entry.text(decl),
		decode:    true,
	}
	for i, raw := range args {
		if !json.Valid(raw) {
			return nil, buildError(qualified, "args", fmt.Errorf("%w: argument %d is not valid JSON", ErrInvalidArguments, i))
		}
		typ := types[min(i, len(types)-1)]
		arg := fmt.Sprintf("offloadArg%d", i)
		u.prelude = append(u.prelude,
			fmt.Sprintf("var %s %s", arg, typ),
			fmt.Sprintf("offloadDecodeArg(%s, &%s)", strconv.Quote(string(raw)), arg))
		u.callArgs = append(u.callArgs, arg)
	}

	return b.assemble(u, entry, globals, helpers)
}

// paramTypes returns the source spelling of each parameter type, one entry
// per parameter. For a variadic function the last entry is the element type.
func paramTypes(f *sourceFile, params *ast.FieldList) ([]string, bool) {
	var types []string
	variadic := false
	if params == nil {
		return nil, false
	}
	for _, field := range params.List {
		expr := field.Type
		if ell, ok := expr.(*ast.Ellipsis); ok {
			variadic = true
			expr = ell.Elt
		}
		n := max(len(field.Names), 1)
		for range n {
			types = append(types, f.text(expr))
		}
	}
	return types, variadic
}

func entryImports(entry *sourceFile) []importSpec {
	if entry == nil {
		return nil
	}
	return entry.imports
}

// emitted is a declaration copied into a capsule, ordered by its position
// in the entry file.
type emitted struct {
	pos    token.Pos
	source string
}

// assemble resolves everything the unit refers to and produces the final
// program text.
func (b *Builder) assemble(u unitSource, entry *sourceFile, globals map[string]reflect.Value, helpers []helper) (*Capsule, error) {
	fail := func(op string, err error) (*Capsule, error) {
		return nil, buildError(u.qualified, op, err)
	}

	// Parse the declaration on its own so the entry file AST is never
	// modified.
	fset := token.NewFileSet()
	unitSrc := []byte("package main\n\n" + u.declSrc)
	unitFile, err := parser.ParseFile(fset, "unit.go", unitSrc, parser.SkipObjectResolution)
	if err != nil {
		return fail("parse", err)
	}
	decl, ok := unitFile.Decls[0].(*ast.FuncDecl)
	if !ok || decl.Recv != nil {
		return fail("parse", fmt.Errorf("%w: not a plain function", ErrUnsupportedUnit))
	}
	if decl.Type.TypeParams != nil {
		return fail("parse", fmt.Errorf("%w: generic function", ErrUnsupportedUnit))
	}

	original := decl.Name.Name
	arity := resultCount(decl.Type.Results)
	if decl.Body == nil {
		return fail("parse", fmt.Errorf("%w: function has no body", ErrUnsupportedUnit))
	}
	refs := freeNames(decl)

	helperNames := make(map[string]bool)
	var helperNodes []ast.Node
	for _, h := range helpers {
		for _, n := range h.names {
			helperNames[n] = true
		}
		hf, err := parser.ParseFile(token.NewFileSet(), "helper.go", "package main\n\n"+h.source, parser.SkipObjectResolution)
		if err != nil {
			return fail("helper", err)
		}
		helperNodes = append(helperNodes, hf)
	}
	refs = append(refs, freeNames(helperNodes...)...)
	refs = append(refs, u.types...)

	// A recursive unit, or a helper calling it, needs the original too.
	selfRef := false
	for _, name := range refs {
		if name == original {
			selfRef = true
			break
		}
	}

	entryPoint := wrapUnit(fset, unitSrc, decl)

	decls, bindings := resolveGlobals(u, entry, globals, refs, original, helperNames)

	var body strings.Builder
	fmt.Fprintf(&body, reporterSource, Marker)
	if u.decode {
		body.WriteString(decodeArgSource)
	}
	for _, d := range decls {
		body.WriteString("\n" + d.source + "\n")
	}
	for _, h := range helpers {
		body.WriteString("\n" + h.source + "\n")
	}
	if selfRef && !helperNames[original] {
		body.WriteString("\n" + u.declSrc + "\n")
	}
	body.WriteString("\n" + entryPoint + "\n")
	body.WriteString("\nfunc main() {\n")
	for _, stmt := range u.prelude {
		body.WriteString("\t" + stmt + "\n")
	}
	body.WriteString("\t" + UnitName + "(" + strings.Join(u.callArgs, ", ") + ")\n}\n")

	bodyFile, err := parser.ParseFile(token.NewFileSet(), "capsule.go", "package main\n"+body.String(), parser.SkipObjectResolution)
	if err != nil {
		return fail("format", err)
	}
	kept := pruneImports(entryImports(entry), usedPackages(bodyFile), b.excluded)

	var src strings.Builder
	src.WriteString("package main\n\n")
	renderImports(&src, append(append([]importSpec(nil), reporterImports...), kept...))
	src.WriteString(body.String())

	formatted, err := format.Source([]byte(src.String()))
	if err != nil {
		return fail("format", err)
	}
	if b.maxSize > 0 && len(formatted) > b.maxSize {
		return fail("size", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(formatted), b.maxSize))
	}

	c := &Capsule{
		Unit:    u.qualified,
		Source:  formatted,
		Arity:   arity,
		Globals: bindings,
		Helpers: len(helpers),
	}
	for _, spec := range kept {
		c.Imports = append(c.Imports, spec.path)
	}

	logger.Debug("Capsule built",
		logger.Unit(c.Unit),
		logger.KeyBytes, c.Size(),
		logger.KeyImports, len(c.Imports),
		logger.KeyGlobals, len(c.Globals))
	return c, nil
}

// resolveGlobals walks the entry file declarations reachable from refs.
// Registered single-name variables become literal snapshots; everything
// else is copied as written. Types bring their methods along.
func resolveGlobals(u unitSource, entry *sourceFile, globals map[string]reflect.Value, refs []string, unit string, helperNames map[string]bool) ([]emitted, map[string]Binding) {
	bindings := make(map[string]Binding)
	if entry == nil {
		return nil, bindings
	}

	var out []emitted
	done := make(map[ast.Node]bool)
	seen := make(map[string]bool)
	queue := append([]string(nil), refs...)

	emit := func(key ast.Node, source string) {
		if done[key] {
			return
		}
		done[key] = true
		out = append(out, emitted{pos: key.Pos(), source: source})
		queue = append(queue, freeNames(key)...)
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] || helperNames[name] {
			continue
		}
		seen[name] = true

		d, ok := entry.decls[name]
		if !ok {
			if _, isFunc := entry.funcs[name]; isFunc && name != unit && name != "main" && name != "init" {
				logger.Warn("Capsule refers to a function that is not included",
					logger.Unit(u.qualified), logger.KeyGlobal, name)
			}
			continue
		}

		switch d.kind {
		case declVar:
			spec := d.spec.(*ast.ValueSpec)
			if ptr, registered := globals[name]; registered && len(spec.Names) == 1 {
				src, types, err := snapshotVar(entry, spec, ptr, u.pkgPath)
				if err == nil {
					done[spec] = true
					out = append(out, emitted{pos: spec.Pos(), source: src})
					bindings[name] = BindingSnapshot
					queue = append(queue, types...)
					if spec.Type != nil {
						queue = append(queue, freeNames(spec.Type)...)
					}
					continue
				}
				logger.Warn("Global cannot be snapshotted; embedding its declaration",
					logger.Unit(u.qualified), logger.KeyGlobal, name, logger.Err(err))
			}
			for _, n := range spec.Names {
				bindings[n.Name] = BindingSource
			}
			emit(spec, entry.declSource(d))

		case declConst:
			emit(d.gen, entry.declSource(d))

		case declType:
			emit(d.spec, entry.declSource(d))
			for _, m := range entry.methods[name] {
				emit(m, entry.text(m))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	return out, bindings
}

// snapshotVar renders `var name [Type] = <literal>` for the current value
// behind ptr.
func snapshotVar(entry *sourceFile, spec *ast.ValueSpec, ptr reflect.Value, pkgPath string) (string, []string, error) {
	r := newRenderer(pkgPath, entry.imports)
	lit, err := r.literal(ptr.Elem())
	if err != nil {
		return "", nil, err
	}
	name := spec.Names[0].Name
	if spec.Type == nil {
		if lit == "nil" {
			return "", nil, fmt.Errorf("%w: untyped nil for %s", ErrUnrenderable, name)
		}
		return fmt.Sprintf("var %s = %s", name, lit), r.localTypes(), nil
	}
	return fmt.Sprintf("var %s %s = %s", name, entry.text(spec.Type), lit), r.localTypes(), nil
}
