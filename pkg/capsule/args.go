package capsule

import (
	"fmt"
	"reflect"
)

// PrepareArgs checks args against the parameters of fn and returns them as
// values ready for reflect.Value.Call. Variadic arguments are passed
// individually. Untyped nils become zero values of the parameter type and
// numeric arguments are converted to numeric parameter types.
func PrepareArgs(fn reflect.Value, args []any) ([]reflect.Value, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: not a function", ErrUnsupportedUnit)
	}
	ft := fn.Type()
	n := ft.NumIn()

	if ft.IsVariadic() {
		if len(args) < n-1 {
			return nil, fmt.Errorf("%w: want at least %d arguments, got %d", ErrInvalidArguments, n-1, len(args))
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("%w: want %d arguments, got %d", ErrInvalidArguments, n, len(args))
	}

	values := make([]reflect.Value, len(args))
	for i, arg := range args {
		want := paramType(ft, i)
		v, err := prepareArg(arg, want)
		if err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrInvalidArguments, i, err)
		}
		values[i] = v
	}
	return values, nil
}

// paramType returns the type argument i is assigned to.
func paramType(ft reflect.Type, i int) reflect.Type {
	n := ft.NumIn()
	if ft.IsVariadic() && i >= n-1 {
		return ft.In(n - 1).Elem()
	}
	return ft.In(i)
}

func prepareArg(arg any, want reflect.Type) (reflect.Value, error) {
	if arg == nil {
		switch want.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
			return reflect.Zero(want), nil
		}
		return reflect.Value{}, fmt.Errorf("nil is not a valid %s", want)
	}

	v := reflect.ValueOf(arg)
	switch {
	case v.Type().AssignableTo(want):
		return v, nil
	case isNumeric(v.Kind()) && isNumeric(want.Kind()) && v.Type().ConvertibleTo(want):
		return v.Convert(want), nil
	default:
		return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", v.Type(), want)
	}
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
