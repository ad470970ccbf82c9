package migrate

import (
	"fmt"
	"math"
	"reflect"
)

// fieldStats counts what happened to source fields during one conversion.
type fieldStats struct {
	copied    int
	converted int
	dropped   []string
}

// Convert builds a value of shape from src by field name. src may be a
// struct or a pointer to one; the result is a pointer to shape.Type.
//
// A failure to convert (src not a struct, a panic while copying) returns the
// shape's default together with a *ConvertError, so callers always have a
// value to store.
func Convert(record string, src any, shape Shape) (any, error) {
	out, _, err := convertInstance(record, src, shape)
	if !out.IsValid() {
		return nil, err
	}
	return out.Interface(), err
}

func convertInstance(record string, src any, shape Shape) (out reflect.Value, stats fieldStats, err error) {
	dst, derr := shape.Default()
	if derr != nil {
		return reflect.Value{}, stats, &ConvertError{Record: record, Err: derr}
	}
	dl, derr := LayoutOf(shape.Type)
	if derr != nil {
		return reflect.Value{}, stats, &ConvertError{Record: record, Err: derr}
	}

	sv := addressable(reflect.ValueOf(src))
	if !sv.IsValid() {
		return dst, stats, &ConvertError{Record: record, Err: fmt.Errorf("%w: %T", ErrNotStruct, src)}
	}
	sl, serr := LayoutOf(sv.Type())
	if serr != nil {
		return dst, stats, &ConvertError{Record: record, Err: serr}
	}

	// A panic leaves dst half-written; start again from the default.
	defer func() {
		if r := recover(); r != nil {
			dst, _ = shape.Default()
			out = dst
			err = &ConvertError{Record: record, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	copyFields(dst.Elem(), sv, dl, sl, "", &stats)
	return dst, stats, nil
}

// addressable returns an addressable struct value for v (a struct or a
// non-nil pointer to one), or the zero Value.
func addressable(v reflect.Value) reflect.Value {
	if !v.IsValid() {
		return reflect.Value{}
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() || v.Elem().Kind() != reflect.Struct {
			return reflect.Value{}
		}
		return v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	cp := reflect.New(v.Type()).Elem()
	cp.Set(v)
	return cp
}

func copyFields(dst, src reflect.Value, dl, sl *Layout, prefix string, stats *fieldStats) {
	for _, sf := range sl.Fields {
		df, ok := dl.Field(sf.Name)
		if !ok {
			stats.dropped = append(stats.dropped, prefix+sf.Name)
			continue
		}
		dv := fieldRef(dst, df)
		sv := fieldRef(src, sf)

		switch {
		case sf.Type == df.Type:
			dv.Set(sv)
			stats.copied++
		case sf.Nested != nil && df.Nested != nil:
			copyFields(dv, sv, df.Nested, sf.Nested, prefix+sf.Name+".", stats)
		case convertScalar(dv, sv):
			stats.converted++
		default:
			stats.dropped = append(stats.dropped, prefix+sf.Name)
		}
	}
}

// convertScalar sets dst from src when both are scalars of compatible class
// and the value fits. Reports whether dst was written.
func convertScalar(dst, src reflect.Value) bool {
	dk, sk := dst.Kind(), src.Kind()
	switch {
	case dk == reflect.Bool && sk == reflect.Bool:
		dst.SetBool(src.Bool())
	case dk == reflect.String && sk == reflect.String:
		dst.SetString(src.String())
	case isSigned(dk) && isSigned(sk):
		n := src.Int()
		if dst.OverflowInt(n) {
			return false
		}
		dst.SetInt(n)
	case isSigned(dk) && isUnsigned(sk):
		n := src.Uint()
		if n > math.MaxInt64 || dst.OverflowInt(int64(n)) {
			return false
		}
		dst.SetInt(int64(n))
	case isUnsigned(dk) && isUnsigned(sk):
		n := src.Uint()
		if dst.OverflowUint(n) {
			return false
		}
		dst.SetUint(n)
	case isUnsigned(dk) && isSigned(sk):
		n := src.Int()
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return false
		}
		dst.SetUint(uint64(n))
	case isFloat(dk) && isFloat(sk):
		f := src.Float()
		if dst.OverflowFloat(f) {
			return false
		}
		dst.SetFloat(f)
	case isFloat(dk) && isSigned(sk):
		dst.SetFloat(float64(src.Int()))
	case isFloat(dk) && isUnsigned(sk):
		dst.SetFloat(float64(src.Uint()))
	default:
		return false
	}
	return true
}
