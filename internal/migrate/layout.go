package migrate

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/roach88/hotpatch/internal/ir"
)

// Field is one entry of a record's field table.
type Field struct {
	Name       string
	Index      int
	Offset     uintptr
	Type       reflect.Type
	Kind       reflect.Kind
	Exported   bool
	Default    string // raw `default` tag
	HasDefault bool
	Nested     *Layout // struct-kind fields only

	def reflect.Value
}

// Layout is the field table of one struct type.
//
// INVARIANTS:
//   - Fields are in declaration order
//   - a Layout is immutable once built and shared through the cache
type Layout struct {
	Type   reflect.Type
	Fields []Field

	byName    map[string]int
	signature string
}

var layouts sync.Map // reflect.Type -> *Layout

// LayoutOf returns the cached field table of struct type t.
func LayoutOf(t reflect.Type) (*Layout, error) {
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v", ErrNotStruct, t)
	}
	if l, ok := layouts.Load(t); ok {
		return l.(*Layout), nil
	}
	l, err := buildLayout(t)
	if err != nil {
		return nil, err
	}
	actual, _ := layouts.LoadOrStore(t, l)
	return actual.(*Layout), nil
}

func buildLayout(t reflect.Type) (*Layout, error) {
	l := &Layout{
		Type:   t,
		Fields: make([]Field, 0, t.NumField()),
		byName: make(map[string]int, t.NumField()),
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.Name == "_" {
			continue
		}
		f := Field{
			Name:     sf.Name,
			Index:    i,
			Offset:   sf.Offset,
			Type:     sf.Type,
			Kind:     sf.Type.Kind(),
			Exported: sf.IsExported(),
		}
		if tag, ok := sf.Tag.Lookup("default"); ok {
			v, err := parseDefault(sf.Type, tag)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t, sf.Name, err)
			}
			f.Default, f.HasDefault, f.def = tag, true, v
		}
		if f.Kind == reflect.Struct {
			nested, err := LayoutOf(sf.Type)
			if err != nil {
				return nil, err
			}
			f.Nested = nested
		}
		l.byName[f.Name] = len(l.Fields)
		l.Fields = append(l.Fields, f)
	}

	sig, err := ir.ShapeSignature(l.canonical())
	if err != nil {
		return nil, fmt.Errorf("signature of %s: %w", t, err)
	}
	l.signature = sig
	return l, nil
}

var durationType = reflect.TypeFor[time.Duration]()

func parseDefault(t reflect.Type, tag string) (reflect.Value, error) {
	v := reflect.New(t).Elem()
	var err error
	switch {
	case t == durationType:
		var d time.Duration
		d, err = time.ParseDuration(tag)
		v.SetInt(int64(d))
	case t.Kind() == reflect.String:
		v.SetString(tag)
	case t.Kind() == reflect.Bool:
		var b bool
		b, err = strconv.ParseBool(tag)
		v.SetBool(b)
	case isSigned(t.Kind()):
		var n int64
		n, err = strconv.ParseInt(tag, 0, t.Bits())
		v.SetInt(n)
	case isUnsigned(t.Kind()):
		var n uint64
		n, err = strconv.ParseUint(tag, 0, t.Bits())
		v.SetUint(n)
	case isFloat(t.Kind()):
		var f float64
		f, err = strconv.ParseFloat(tag, t.Bits())
		v.SetFloat(f)
	default:
		return reflect.Value{}, fmt.Errorf("%w: %s fields take no default", ErrBadDefault, t)
	}
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %q for %s: %v", ErrBadDefault, tag, t, err)
	}
	return v, nil
}

// Field returns the field named name.
func (l *Layout) Field(name string) (Field, bool) {
	i, ok := l.byName[name]
	if !ok {
		return Field{}, false
	}
	return l.Fields[i], true
}

// Signature returns the shape signature of the layout.
func (l *Layout) Signature() string {
	return l.signature
}

func (l *Layout) canonical() ir.Object {
	return ir.NewObject(
		ir.O("size", ir.Int(l.Type.Size())),
		ir.O("fields", l.canonicalFields()),
	)
}

func (l *Layout) canonicalFields() ir.Array {
	out := make(ir.Array, 0, len(l.Fields))
	for _, f := range l.Fields {
		obj := ir.NewObject(
			ir.O("name", ir.String(f.Name)),
			ir.O("type", ir.String(f.Type.String())),
			ir.O("kind", ir.String(f.Kind.String())),
			ir.O("offset", ir.Int(f.Offset)),
		)
		if f.HasDefault {
			obj["default"] = ir.String(f.Default)
		}
		if f.Nested != nil {
			obj["fields"] = f.Nested.canonicalFields()
		}
		out = append(out, obj)
	}
	return out
}

// String renders the layout one field per line, nested fields indented.
func (l *Layout) String() string {
	var b strings.Builder
	l.write(&b, "")
	return b.String()
}

func (l *Layout) write(b *strings.Builder, indent string) {
	for _, f := range l.Fields {
		fmt.Fprintf(b, "%s%s %s", indent, f.Name, f.Type)
		if f.HasDefault {
			fmt.Fprintf(b, " = %s", f.Default)
		}
		b.WriteByte('\n')
		if f.Nested != nil {
			f.Nested.write(b, indent+"  ")
		}
	}
}

// applyDefaults writes declared defaults into v, recursing into struct
// fields without a tag of their own. v must be addressable.
func (l *Layout) applyDefaults(v reflect.Value) {
	for _, f := range l.Fields {
		switch {
		case f.HasDefault:
			fieldRef(v, f).Set(f.def)
		case f.Nested != nil:
			f.Nested.applyDefaults(fieldRef(v, f))
		}
	}
}

// fieldRef returns a settable view of field f of the addressable struct v.
// Unexported fields are reached through their offset.
func fieldRef(v reflect.Value, f Field) reflect.Value {
	if f.Exported {
		return v.Field(f.Index)
	}
	return reflect.NewAt(f.Type, unsafe.Add(unsafe.Pointer(v.UnsafeAddr()), f.Offset)).Elem()
}

func isSigned(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}
