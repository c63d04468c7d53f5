package capsule

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const localPkg = "github.com/marmos91/offload/pkg/capsule"

func TestRenderLiteral(t *testing.T) {
	five := 5
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"Int", 42, "42"},
		{"NegativeInt", -7, "-7"},
		{"Int64", int64(7), "int64(7)"},
		{"Uint8", uint8(3), "uint8(3)"},
		{"Float", 1.5, "1.5"},
		{"WholeFloat", 2.0, "2.0"},
		{"Float32", float32(0.25), "float32(0.25)"},
		{"Complex", complex(1, 2), "complex(1.0, 2.0)"},
		{"String", "a \"b\"\n", `"a \"b\"\n"`},
		{"Bool", true, "true"},
		{"NamedBasic", levelHigh, "level(1)"},
		{"Slice", []int{1, 2}, "[]int{1, 2}"},
		{"NilSlice", []int(nil), "([]int)(nil)"},
		{"Bytes", []byte("ab"), `[]byte("ab")`},
		{"Array", [2]string{"a", "b"}, `[2]string{"a", "b"}`},
		{"MapSortedKeys", map[string]int{"b": 2, "a": 1}, `map[string]int{"a": 1, "b": 2}`},
		{"Struct", point{X: 1}, "point{X: 1}"},
		{"ZeroStruct", point{}, "point{}"},
		{"StructPointer", &point{Y: 2}, "&point{Y: 2}"},
		{"NilPointer", (*point)(nil), "(*point)(nil)"},
		{"IntPointer", &five, "func() *int { var v int = 5; return &v }()"},
		{"AnySlice", []any{1, "a", nil}, `[]any{1, "a", nil}`},
		{"AnonymousStruct", struct{ A int }{A: 1}, "struct { A int }{A: 1}"},
		{"Nested", map[string][]point{"p": {{X: 1}}}, `map[string][]point{"p": []point{point{X: 1}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRenderer(localPkg, nil)
			got, err := r.literal(reflect.ValueOf(tt.value))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderLiteralCollectsLocalTypes(t *testing.T) {
	r := newRenderer(localPkg, nil)
	_, err := r.literal(reflect.ValueOf(map[level][]point{levelLow: nil}))
	require.NoError(t, err)
	assert.Equal(t, []string{"level", "point"}, r.localTypes())
}

func TestRenderLiteralForeignTypes(t *testing.T) {
	t.Run("UsesImportName", func(t *testing.T) {
		r := newRenderer(localPkg, []importSpec{{name: "tm", path: "time"}})
		got, err := r.literal(reflect.ValueOf(time.Second))
		require.NoError(t, err)
		assert.Equal(t, "tm.Duration(1000000000)", got)
	})

	t.Run("MissingImport", func(t *testing.T) {
		r := newRenderer(localPkg, nil)
		_, err := r.literal(reflect.ValueOf(time.Second))
		assert.ErrorIs(t, err, ErrUnrenderable)
	})

	t.Run("UnexportedFields", func(t *testing.T) {
		r := newRenderer(localPkg, []importSpec{{path: "time"}})
		_, err := r.literal(reflect.ValueOf(time.Now()))
		assert.ErrorIs(t, err, ErrUnrenderable)
	})
}

func TestRenderLiteralRejects(t *testing.T) {
	type node struct {
		Next *node
	}
	loop := &node{}
	loop.Next = loop

	tests := []struct {
		name  string
		value any
	}{
		{"Func", func() {}},
		{"Chan", make(chan int)},
		{"NaN", math.NaN()},
		{"Inf", math.Inf(1)},
		{"Cycle", loop},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRenderer(localPkg, nil)
			_, err := r.literal(reflect.ValueOf(tt.value))
			assert.ErrorIs(t, err, ErrUnrenderable)
		})
	}
}

func TestPrepareArgs(t *testing.T) {
	t.Run("Exact", func(t *testing.T) {
		values, err := PrepareArgs(reflect.ValueOf(unitAdd), []any{1, 2})
		require.NoError(t, err)
		require.Len(t, values, 2)
		assert.Equal(t, 1, values[0].Interface())
	})

	t.Run("NumericConversion", func(t *testing.T) {
		values, err := PrepareArgs(reflect.ValueOf(unitAdd), []any{int64(1), uint8(2)})
		require.NoError(t, err)
		assert.Equal(t, reflect.Int, values[1].Kind())
	})

	t.Run("Variadic", func(t *testing.T) {
		values, err := PrepareArgs(reflect.ValueOf(unitSum), []any{1, 2, 3})
		require.NoError(t, err)
		assert.Len(t, values, 3)

		values, err = PrepareArgs(reflect.ValueOf(unitSum), nil)
		require.NoError(t, err)
		assert.Empty(t, values)
	})

	t.Run("NilForInterface", func(t *testing.T) {
		values, err := PrepareArgs(reflect.ValueOf(unitDescribe), []any{nil})
		require.NoError(t, err)
		assert.True(t, values[0].IsNil())
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := PrepareArgs(reflect.ValueOf(unitAdd), []any{1})
		assert.ErrorIs(t, err, ErrInvalidArguments)

		_, err = PrepareArgs(reflect.ValueOf(unitAdd), []any{nil, 1})
		assert.ErrorIs(t, err, ErrInvalidArguments)

		_, err = PrepareArgs(reflect.ValueOf(unitAdd), []any{"1", 1})
		assert.ErrorIs(t, err, ErrInvalidArguments)

		_, err = PrepareArgs(reflect.ValueOf(42), nil)
		assert.ErrorIs(t, err, ErrUnsupportedUnit)
	})
}
