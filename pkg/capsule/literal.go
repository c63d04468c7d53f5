package capsule

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const maxLiteralDepth = 32

// renderer turns reflected values into Go source literals.
//
// Types declared in localPkg are written by their bare name and collected in
// types so the builder can copy their declarations. Types from other
// packages are qualified with the name the entry file imports them under.
type renderer struct {
	localPkg string
	imports  map[string]string
	types    map[string]bool
	depth    int
}

func newRenderer(localPkg string, imports []importSpec) *renderer {
	return &renderer{
		localPkg: localPkg,
		imports:  importNames(imports),
		types:    make(map[string]bool),
	}
}

// localTypes returns the local type names referenced so far, sorted.
func (r *renderer) localTypes() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *renderer) unrenderable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnrenderable, fmt.Sprintf(format, args...))
}

// typeName returns the Go spelling of t.
func (r *renderer) typeName(t reflect.Type) (string, error) {
	if name := t.Name(); name != "" {
		if strings.ContainsRune(name, '[') {
			return "", r.unrenderable("instantiated generic type %s", t)
		}
		switch pkg := t.PkgPath(); pkg {
		case "":
			return name, nil
		case r.localPkg:
			r.types[name] = true
			return name, nil
		default:
			ident, ok := r.imports[pkg]
			if !ok {
				return "", r.unrenderable("package %s is not imported by the entry file", pkg)
			}
			return ident + "." + name, nil
		}
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem, err := r.typeName(t.Elem())
		return "*" + elem, err
	case reflect.Slice:
		elem, err := r.typeName(t.Elem())
		return "[]" + elem, err
	case reflect.Array:
		elem, err := r.typeName(t.Elem())
		return fmt.Sprintf("[%d]%s", t.Len(), elem), err
	case reflect.Map:
		key, err := r.typeName(t.Key())
		if err != nil {
			return "", err
		}
		elem, err := r.typeName(t.Elem())
		return "map[" + key + "]" + elem, err
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return "any", nil
		}
		return "", r.unrenderable("unnamed interface type %s", t)
	case reflect.Struct:
		return r.structType(t)
	default:
		return "", r.unrenderable("type %s", t)
	}
}

func (r *renderer) structType(t reflect.Type) (string, error) {
	var b strings.Builder
	b.WriteString("struct {")
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		ft, err := r.typeName(f.Type)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteString(";")
		}
		b.WriteString(" ")
		if !f.Anonymous {
			b.WriteString(f.Name + " ")
		}
		b.WriteString(ft)
		if f.Tag != "" {
			b.WriteString(" " + strconv.Quote(string(f.Tag)))
		}
	}
	b.WriteString(" }")
	return b.String(), nil
}

// literal renders v as a Go expression of v's type.
func (r *renderer) literal(v reflect.Value) (string, error) {
	if r.depth >= maxLiteralDepth {
		return "", r.unrenderable("nesting deeper than %d", maxLiteralDepth)
	}
	r.depth++
	defer func() { r.depth-- }()

	if !v.IsValid() {
		return "nil", nil
	}
	t := v.Type()

	switch v.Kind() {
	case reflect.Bool:
		return r.convert(t, strconv.FormatBool(v.Bool()), "bool")

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return r.convert(t, strconv.FormatInt(v.Int(), 10), "int")

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return r.convert(t, strconv.FormatUint(v.Uint(), 10), "")

	case reflect.Float32, reflect.Float64:
		lit, err := r.float(v.Float(), t.Bits())
		if err != nil {
			return "", err
		}
		return r.convert(t, lit, "float64")

	case reflect.Complex64, reflect.Complex128:
		c := v.Complex()
		bits := t.Bits() / 2
		re, err := r.float(real(c), bits)
		if err != nil {
			return "", err
		}
		im, err := r.float(imag(c), bits)
		if err != nil {
			return "", err
		}
		return r.convert(t, "complex("+re+", "+im+")", "complex128")

	case reflect.String:
		return r.convert(t, strconv.Quote(v.String()), "string")

	case reflect.Interface:
		if v.IsNil() {
			return "nil", nil
		}
		return r.literal(v.Elem())

	case reflect.Pointer:
		return r.pointer(v)

	case reflect.Slice:
		if v.IsNil() {
			return r.typedNil(t)
		}
		if t.Name() == "" && t.Elem().Kind() == reflect.Uint8 && t.Elem().PkgPath() == "" {
			return "[]byte(" + strconv.Quote(string(v.Bytes())) + ")", nil
		}
		return r.sequence(v)

	case reflect.Array:
		return r.sequence(v)

	case reflect.Map:
		if v.IsNil() {
			return r.typedNil(t)
		}
		return r.mapLiteral(v)

	case reflect.Struct:
		return r.structLiteral(v)

	default:
		return "", r.unrenderable("value of type %s", t)
	}
}

// convert wraps lit in a conversion unless the untyped constant already
// defaults to t.
func (r *renderer) convert(t reflect.Type, lit, defaultType string) (string, error) {
	if t.PkgPath() == "" && t.Name() == defaultType {
		return lit, nil
	}
	name, err := r.typeName(t)
	if err != nil {
		return "", err
	}
	return name + "(" + lit + ")", nil
}

func (r *renderer) float(f float64, bits int) (string, error) {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "", r.unrenderable("non-finite float %v", f)
	}
	lit := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(lit, ".e") {
		lit += ".0"
	}
	return lit, nil
}

func (r *renderer) typedNil(t reflect.Type) (string, error) {
	name, err := r.typeName(t)
	if err != nil {
		return "", err
	}
	return "(" + name + ")(nil)", nil
}

func (r *renderer) pointer(v reflect.Value) (string, error) {
	if v.IsNil() {
		return r.typedNil(v.Type())
	}
	elem := v.Elem()
	lit, err := r.literal(elem)
	if err != nil {
		return "", err
	}
	if elem.Kind() == reflect.Struct {
		return "&" + lit, nil
	}
	name, err := r.typeName(elem.Type())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("func() *%s { var v %s = %s; return &v }()", name, name, lit), nil
}

func (r *renderer) sequence(v reflect.Value) (string, error) {
	name, err := r.typeName(v.Type())
	if err != nil {
		return "", err
	}
	elems := make([]string, v.Len())
	for i := range elems {
		if elems[i], err = r.literal(v.Index(i)); err != nil {
			return "", err
		}
	}
	return name + "{" + strings.Join(elems, ", ") + "}", nil
}

func (r *renderer) mapLiteral(v reflect.Value) (string, error) {
	name, err := r.typeName(v.Type())
	if err != nil {
		return "", err
	}

	type entry struct{ key, value string }
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		key, err := r.literal(iter.Key())
		if err != nil {
			return "", err
		}
		value, err := r.literal(iter.Value())
		if err != nil {
			return "", err
		}
		entries = append(entries, entry{key, value})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.key + ": " + e.value
	}
	return name + "{" + strings.Join(parts, ", ") + "}", nil
}

func (r *renderer) structLiteral(v reflect.Value) (string, error) {
	t := v.Type()
	name, err := r.typeName(t)
	if err != nil {
		return "", err
	}

	var fields []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fv := v.Field(i)
		if fv.IsZero() {
			continue
		}
		if !f.IsExported() && f.PkgPath != r.localPkg {
			return "", r.unrenderable("unexported field %s.%s", t, f.Name)
		}
		lit, err := r.literal(fv)
		if err != nil {
			return "", err
		}
		fields = append(fields, f.Name+": "+lit)
	}
	return name + "{" + strings.Join(fields, ", ") + "}", nil
}
