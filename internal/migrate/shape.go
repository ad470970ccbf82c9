package migrate

import (
	"reflect"
)

// Shape is the currently compiled form of a record.
type Shape struct {
	// Type is the record's struct type (not a pointer).
	Type reflect.Type

	// New optionally builds a default instance (a pointer to Type). When nil
	// the default is the zero value with tag defaults applied.
	New func() any
}

// ShapeFunc returns the current shape of one record. Registered as a hot
// function so patches can redirect it.
type ShapeFunc func() Shape

// ShapeOf returns the shape of T.
func ShapeOf[T any]() Shape {
	return Shape{Type: reflect.TypeFor[T]()}
}

// Default returns a new default instance of the shape as a pointer value.
func (s Shape) Default() (reflect.Value, error) {
	if s.New != nil {
		v := reflect.ValueOf(s.New())
		if v.Kind() == reflect.Pointer && v.Type().Elem() == s.Type && !v.IsNil() {
			return v, nil
		}
	}
	l, err := LayoutOf(s.Type)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(s.Type)
	l.applyDefaults(ptr.Elem())
	return ptr, nil
}
