package capsule

import (
	"encoding/json"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const entryFile = "units_test.go"

func newBoundBuilder(t *testing.T) *Builder {
	t.Helper()
	b := NewBuilder()
	require.NoError(t, b.BindEntryFile(entryFile))
	return b
}

// parseCapsule checks that the capsule is valid Go and returns its
// offloadUnit declaration.
func parseCapsule(t *testing.T, c *Capsule) *ast.FuncDecl {
	t.Helper()
	f, err := parser.ParseFile(token.NewFileSet(), "capsule.go", c.Source, 0)
	require.NoError(t, err, string(c.Source))
	assert.Equal(t, "main", f.Name.Name)

	var unit *ast.FuncDecl
	for _, decl := range f.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == UnitName {
			unit = fn
		}
	}
	require.NotNil(t, unit, "capsule has no %s", UnitName)
	return unit
}

// assertCode checks that src contains snippet, ignoring whitespace so the
// assertion does not depend on gofmt spacing.
func assertCode(t *testing.T, src []byte, snippet string) {
	t.Helper()
	compact := func(s string) string { return strings.Join(strings.Fields(s), "") }
	assert.Contains(t, compact(string(src)), compact(snippet), string(src))
}

// reportedLiteral returns the function literal whose results fn reports.
func reportedLiteral(t *testing.T, fn *ast.FuncDecl) *ast.FuncLit {
	t.Helper()
	require.Len(t, fn.Body.List, 1)
	stmt, ok := fn.Body.List[0].(*ast.ExprStmt)
	require.True(t, ok)
	report, ok := stmt.X.(*ast.CallExpr)
	require.True(t, ok)
	require.Equal(t, "offloadReport", report.Fun.(*ast.Ident).Name)
	require.Len(t, report.Args, 1)
	call, ok := report.Args[0].(*ast.CallExpr)
	require.True(t, ok)
	lit, ok := call.Fun.(*ast.FuncLit)
	require.True(t, ok)
	return lit
}

func TestBindEntryFile(t *testing.T) {
	t.Run("Parses", func(t *testing.T) {
		b := newBoundBuilder(t)
		assert.True(t, strings.HasSuffix(b.EntryFile(), entryFile))
	})

	t.Run("MissingFile", func(t *testing.T) {
		b := NewBuilder()
		var buildErr *BuildError
		require.ErrorAs(t, b.BindEntryFile("does-not-exist.go"), &buildErr)
		assert.Equal(t, "bind", buildErr.Op)
		assert.Empty(t, b.EntryFile())
	})
}

func TestBuildSimpleUnit(t *testing.T) {
	b := newBoundBuilder(t)

	c, err := b.Build(unitAdd, 2, 3)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(c.Unit, ".unitAdd"))
	assert.Equal(t, 1, c.Arity)
	assert.Equal(t, len(c.Source), c.Size())

	src := string(c.Source)
	assertCode(t, c.Source, "func offloadUnit(a, b int) {")
	assertCode(t, c.Source, "offloadReport(func() int {")
	assertCode(t, c.Source, "return a + b")
	assertCode(t, c.Source, "offloadUnit(2, 3)")
	assertCode(t, c.Source, `"offload.capsule.return "`)
	assert.NotContains(t, src, "func unitAdd")

	unit := parseCapsule(t, c)
	assert.Nil(t, unit.Type.Results)
	lit := reportedLiteral(t, unit)
	require.NotNil(t, lit.Type.Results)
	assert.Len(t, lit.Type.Results.List, 1)
}

func TestBuildMaxSize(t *testing.T) {
	b := NewBuilder(WithMaxSize(64))
	require.NoError(t, b.BindEntryFile(entryFile))

	_, err := b.Build(unitAdd, 2, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLarge)

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Equal(t, "size", buildErr.Op)

	b = NewBuilder(WithMaxSize(1 << 20))
	require.NoError(t, b.BindEntryFile(entryFile))
	_, err = b.Build(unitAdd, 2, 3)
	assert.NoError(t, err)
}

func TestBuildUnitWithoutResults(t *testing.T) {
	b := newBoundBuilder(t)

	c, err := b.Build(unitNoResult, "hi")
	require.NoError(t, err)

	assert.Equal(t, 0, c.Arity)
	// Only the reporter declaration mentions it; nothing calls it.
	assert.Equal(t, 1, strings.Count(string(c.Source), "offloadReport("))
	assert.Equal(t, []string{"fmt"}, c.Imports)
}

func TestBuildKeepsNestedReturns(t *testing.T) {
	b := newBoundBuilder(t)

	c, err := b.Build(unitNested, 4)
	require.NoError(t, err)

	reportedLiteral(t, parseCapsule(t, c))
	assertCode(t, c.Source, "return -1")
	assertCode(t, c.Source, "return i")
	assert.Equal(t, 2, strings.Count(string(c.Source), "offloadReport("))
}

func TestBuildKeepsDeferredResults(t *testing.T) {
	b := newBoundBuilder(t)

	t.Run("NamedResultChangedByDefer", func(t *testing.T) {
		c, err := b.Build(unitDeferred, 21)
		require.NoError(t, err)

		assert.Equal(t, 1, c.Arity)
		assertCode(t, c.Source, "offloadReport(func() (out int) {")
		assertCode(t, c.Source, "defer func() { out *= 2 }()")
		assertCode(t, c.Source, "return n")
		reportedLiteral(t, parseCapsule(t, c))
	})

	t.Run("Recover", func(t *testing.T) {
		c, err := b.Build(unitRecover, 1, 0)
		require.NoError(t, err)

		assert.Equal(t, 2, c.Arity)
		assertCode(t, c.Source, "offloadReport(func() (q int, err error) {")
		assertCode(t, c.Source, "recover()")
		assertCode(t, c.Source, "return a / b, nil")
		reportedLiteral(t, parseCapsule(t, c))
	})
}

func TestBuildLeavesFunctionLiteralsAlone(t *testing.T) {
	b := newBoundBuilder(t)

	c, err := b.Build(unitClosure, 4)
	require.NoError(t, err)

	assertCode(t, c.Source, "return x * 2")
	assertCode(t, c.Source, "return double(n)")
	reportedLiteral(t, parseCapsule(t, c))
}

func TestBuildNamedResults(t *testing.T) {
	b := newBoundBuilder(t)

	c, err := b.Build(unitNamed, 3)
	require.NoError(t, err)

	assert.Equal(t, 2, c.Arity)
	assertCode(t, c.Source, "offloadReport(func() (total int, err error) {")
	lit := reportedLiteral(t, parseCapsule(t, c))
	last, ok := lit.Body.List[len(lit.Body.List)-1].(*ast.ReturnStmt)
	require.True(t, ok)
	assert.Empty(t, last.Results)
}

func TestBuildMultipleResults(t *testing.T) {
	b := newBoundBuilder(t)

	c, err := b.Build(unitMulti, "abc")
	require.NoError(t, err)

	assert.Equal(t, 2, c.Arity)
	assert.Equal(t, []string{"errors", "strings"}, c.Imports)
	src := string(c.Source)
	assertCode(t, c.Source, "offloadReport(func() (string, error) {")
	assertCode(t, c.Source, `return "", errors.New("empty")`)
	assertCode(t, c.Source, "return strings.ToUpper(s), nil")
	assertCode(t, c.Source, `offloadUnit("abc")`)
	assert.NotContains(t, src, `"time"`)
}

func TestBuildGlobals(t *testing.T) {
	t.Run("RegisteredSnapshot", func(t *testing.T) {
		b := newBoundBuilder(t)
		require.NoError(t, b.Global("origin", &origin))

		saved := origin
		origin = point{X: 5}
		defer func() { origin = saved }()

		c, err := b.Build(unitPoint, point{X: 1, Y: 1})
		require.NoError(t, err)

		assert.Equal(t, BindingSnapshot, c.Globals["origin"])
		assertCode(t, c.Source, "var origin = point{X: 5}")
		assertCode(t, c.Source, "type point struct")
		assertCode(t, c.Source, "func (p point) sum() int")
		assertCode(t, c.Source, "offloadUnit(point{X: 1, Y: 1})")
		parseCapsule(t, c)
	})

	t.Run("UnregisteredUsesSource", func(t *testing.T) {
		b := newBoundBuilder(t)

		c, err := b.Build(unitNamed, 3)
		require.NoError(t, err)

		assert.Equal(t, BindingSource, c.Globals["threshold"])
		assertCode(t, c.Source, "var threshold = 10")
	})

	t.Run("ExplicitTypeKept", func(t *testing.T) {
		b := newBoundBuilder(t)
		require.NoError(t, b.Global("greeting", &greeting))

		c, err := b.Build(unitGreeting)
		require.NoError(t, err)

		assert.Equal(t, BindingSnapshot, c.Globals["greeting"])
		assertCode(t, c.Source, `var greeting string = "hello"`)
	})

	t.Run("ForeignTypeKeepsImport", func(t *testing.T) {
		b := newBoundBuilder(t)
		require.NoError(t, b.Global("timeout", &timeout))

		c, err := b.Build(unitTimeout)
		require.NoError(t, err)

		assert.Equal(t, BindingSnapshot, c.Globals["timeout"])
		assertCode(t, c.Source, "var timeout = time.Duration(3000000000)")
		assert.Equal(t, []string{"time"}, c.Imports)
	})

	t.Run("UnrenderableFallsBackToSource", func(t *testing.T) {
		b := NewBuilder()
		require.NoError(t, b.BindEntryFile(entryFile))
		ch := make(chan int)
		require.NoError(t, b.Global("threshold", &ch))

		c, err := b.Build(unitNamed, 3)
		require.NoError(t, err)

		assert.Equal(t, BindingSource, c.Globals["threshold"])
		assertCode(t, c.Source, "var threshold = 10")
	})

	t.Run("InvalidRegistration", func(t *testing.T) {
		b := NewBuilder()
		assert.ErrorIs(t, b.Global("threshold", threshold), ErrInvalidArguments)
		assert.ErrorIs(t, b.Global("not valid", &threshold), ErrInvalidArguments)
		var nilPtr *int
		assert.ErrorIs(t, b.Global("threshold", nilPtr), ErrInvalidArguments)
	})
}

func TestBuildIgnoresShadowedGlobals(t *testing.T) {
	b := newBoundBuilder(t)

	t.Run("LocalVariable", func(t *testing.T) {
		c, err := b.Build(unitShadow)
		require.NoError(t, err)

		src := string(c.Source)
		assert.NotContains(t, src, "newEndpoint")
		assert.NotContains(t, src, "var endpoint")
		assert.NotContains(t, c.Globals, "endpoint")
		parseCapsule(t, c)
	})

	t.Run("Parameter", func(t *testing.T) {
		c, err := b.Build(unitShadowParam, 3)
		require.NoError(t, err)

		assert.NotContains(t, string(c.Source), "var threshold")
		assert.NotContains(t, c.Globals, "threshold")
	})

	t.Run("OuterUseStillResolved", func(t *testing.T) {
		c, err := b.Build(unitShadowLater)
		require.NoError(t, err)

		assertCode(t, c.Source, "var threshold = 10")
		assert.Equal(t, BindingSource, c.Globals["threshold"])
	})
}

func TestBuildConstGroup(t *testing.T) {
	b := newBoundBuilder(t)

	c, err := b.Build(unitLevel)
	require.NoError(t, err)

	assertCode(t, c.Source, "levelLow level = iota")
	assertCode(t, c.Source, "levelHigh")
	assertCode(t, c.Source, "type level int")
	parseCapsule(t, c)
}

func TestBuildRecursiveUnit(t *testing.T) {
	b := newBoundBuilder(t)

	c, err := b.Build(unitFactorial, 5)
	require.NoError(t, err)

	assertCode(t, c.Source, "func unitFactorial(n int) int")
	assertCode(t, c.Source, "offloadReport(func() int {")
	assertCode(t, c.Source, "return n * unitFactorial(n-1)")
}

func TestBuildVariadic(t *testing.T) {
	b := newBoundBuilder(t)

	c, err := b.Build(unitSum, 1, 2, 3)
	require.NoError(t, err)
	assertCode(t, c.Source, "offloadUnit(1, 2, 3)")

	c, err = b.Build(unitSum)
	require.NoError(t, err)
	assertCode(t, c.Source, "offloadUnit()")
}

func TestBuildHelpers(t *testing.T) {
	t.Run("Include", func(t *testing.T) {
		b := newBoundBuilder(t)
		require.NoError(t, b.Include(shout))
		require.NoError(t, b.Include(shout))

		c, err := b.Build(unitShout, "hey")
		require.NoError(t, err)

		assert.Equal(t, 1, c.Helpers)
		assertCode(t, c.Source, "func shout(s string) string")
		assert.Equal(t, []string{"strings"}, c.Imports)
	})

	t.Run("NotIncludedStillBuilds", func(t *testing.T) {
		b := newBoundBuilder(t)

		c, err := b.Build(unitShout, "hey")
		require.NoError(t, err)
		assert.NotContains(t, string(c.Source), "func shout(")
	})

	t.Run("IncludeGeneric", func(t *testing.T) {
		b := newBoundBuilder(t)
		require.NoError(t, b.Include(unitGeneric[int]))

		c, err := b.Build(unitAdd, 1, 1)
		require.NoError(t, err)
		assertCode(t, c.Source, "func unitGeneric[T any](v T) T")
	})

	t.Run("IncludeSource", func(t *testing.T) {
		b := newBoundBuilder(t)
		require.NoError(t, b.IncludeSource("func twice(n int) int { return 2 * n }\n\ntype pair struct{ A, B int }"))

		c, err := b.Build(unitAdd, 1, 1)
		require.NoError(t, err)

		assert.Equal(t, 2, c.Helpers)
		assertCode(t, c.Source, "func twice(n int) int")
		assertCode(t, c.Source, "type pair struct")
	})

	t.Run("IncludeSourceRejectsImports", func(t *testing.T) {
		b := NewBuilder()
		var buildErr *BuildError
		require.ErrorAs(t, b.IncludeSource(`import "os"`), &buildErr)
		assert.Equal(t, "include", buildErr.Op)
	})

	t.Run("IncludeSourceSyntaxError", func(t *testing.T) {
		b := NewBuilder()
		assert.Error(t, b.IncludeSource("func broken( {"))
	})
}

func TestBuildRejectsUnsupportedUnits(t *testing.T) {
	b := newBoundBuilder(t)

	tests := []struct {
		name string
		fn   any
	}{
		{"NotAFunction", 42},
		{"Nil", nil},
		{"Closure", func() int { return 1 }},
		{"MethodValue", point{}.sum},
		{"MethodExpression", point.sum},
		{"Generic", unitGeneric[int]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(tt.fn)
			assert.ErrorIs(t, err, ErrUnsupportedUnit)

			var buildErr *BuildError
			assert.ErrorAs(t, err, &buildErr)
		})
	}
}

func TestBuildArguments(t *testing.T) {
	b := newBoundBuilder(t)

	t.Run("WrongCount", func(t *testing.T) {
		_, err := b.Build(unitAdd, 1)
		assert.ErrorIs(t, err, ErrInvalidArguments)
	})

	t.Run("WrongType", func(t *testing.T) {
		_, err := b.Build(unitAdd, "1", 2)
		assert.ErrorIs(t, err, ErrInvalidArguments)
	})

	t.Run("UnrenderableArgument", func(t *testing.T) {
		_, err := b.Build(unitDescribe, make(chan int))
		assert.ErrorIs(t, err, ErrUnrenderable)

		var buildErr *BuildError
		require.ErrorAs(t, err, &buildErr)
		assert.Equal(t, "args", buildErr.Op)
	})

	t.Run("InterfaceArgument", func(t *testing.T) {
		c, err := b.Build(unitDescribe, []int{1, 2})
		require.NoError(t, err)
		assertCode(t, c.Source, "offloadUnit([]int{1, 2})")

		c, err = b.Build(unitDescribe, nil)
		require.NoError(t, err)
		assertCode(t, c.Source, "offloadUnit(nil)")
	})

	t.Run("NumericConversion", func(t *testing.T) {
		c, err := b.Build(unitAdd, int8(1), 2)
		require.NoError(t, err)
		assertCode(t, c.Source, "offloadUnit(1, 2)")
	})
}

func TestBuildWithoutEntryFile(t *testing.T) {
	b := NewBuilder()

	c, err := b.Build(unitAdd, 1, 2)
	require.NoError(t, err)

	assert.Empty(t, c.Imports)
	assert.Empty(t, c.Globals)
	assertCode(t, c.Source, "return a + b")
}

func TestBuildIsFreshEveryCall(t *testing.T) {
	b := newBoundBuilder(t)

	first, err := b.Build(unitAdd, 1, 2)
	require.NoError(t, err)
	second, err := b.Build(unitAdd, 3, 4)
	require.NoError(t, err)

	assert.Contains(t, string(first.Source), "offloadUnit(1, 2)")
	assert.Contains(t, string(second.Source), "offloadUnit(3, 4)")

	// The entry file declaration is untouched by the rewrite.
	third, err := b.Build(unitAdd, 5, 6)
	require.NoError(t, err)
	assert.Equal(t, strings.Replace(string(first.Source), "offloadUnit(1, 2)", "offloadUnit(5, 6)", 1), string(third.Source))
}

func TestBuildSource(t *testing.T) {
	raw := func(s string) json.RawMessage { return json.RawMessage(s) }

	t.Run("DecodesArguments", func(t *testing.T) {
		b := newBoundBuilder(t)

		c, err := b.BuildSource("unitAdd", []json.RawMessage{raw("2"), raw("3")})
		require.NoError(t, err)

		assert.Equal(t, "capsule.unitAdd", c.Unit)
		assertCode(t, c.Source, "var offloadArg0 int")
		assertCode(t, c.Source, `offloadDecodeArg("2", &offloadArg0)`)
		assertCode(t, c.Source, "offloadUnit(offloadArg0, offloadArg1)")
		assertCode(t, c.Source, "func offloadDecodeArg(")
		parseCapsule(t, c)
	})

	t.Run("VariadicElements", func(t *testing.T) {
		b := newBoundBuilder(t)

		c, err := b.BuildSource("unitSum", []json.RawMessage{raw("1"), raw("2")})
		require.NoError(t, err)
		assertCode(t, c.Source, "var offloadArg1 int")
	})

	t.Run("StructArgument", func(t *testing.T) {
		b := newBoundBuilder(t)

		c, err := b.BuildSource("unitPoint", []json.RawMessage{raw(`{"X":1,"Y":2}`)})
		require.NoError(t, err)
		assertCode(t, c.Source, "var offloadArg0 point")
		assertCode(t, c.Source, "type point struct")
	})

	t.Run("UnknownFunction", func(t *testing.T) {
		b := newBoundBuilder(t)
		_, err := b.BuildSource("missing", nil)
		assert.ErrorIs(t, err, ErrUnitNotFound)
	})

	t.Run("NoEntryFile", func(t *testing.T) {
		_, err := NewBuilder().BuildSource("unitAdd", nil)
		assert.ErrorIs(t, err, ErrUnitNotFound)
	})

	t.Run("BadArguments", func(t *testing.T) {
		b := newBoundBuilder(t)

		_, err := b.BuildSource("unitAdd", []json.RawMessage{raw("1")})
		assert.ErrorIs(t, err, ErrInvalidArguments)

		_, err = b.BuildSource("unitAdd", []json.RawMessage{raw("1"), raw("{")})
		assert.ErrorIs(t, err, ErrInvalidArguments)
	})

	t.Run("Generic", func(t *testing.T) {
		b := newBoundBuilder(t)
		_, err := b.BuildSource("unitGeneric", []json.RawMessage{raw("1")})
		assert.ErrorIs(t, err, ErrUnsupportedUnit)
	})
}

func TestBuildErrorMessage(t *testing.T) {
	err := &BuildError{Unit: "main.f", Op: "format", Err: ErrUnrenderable}
	assert.Equal(t, "capsule format main.f: value cannot be rendered as a literal", err.Error())
	assert.ErrorIs(t, err, ErrUnrenderable)

	err = &BuildError{Op: "bind", Err: ErrUnitNotFound}
	assert.Equal(t, "capsule bind: unit declaration not found", err.Error())
}
