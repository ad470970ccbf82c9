package ecs

import (
	"reflect"
	"runtime"
)

// System is one schedulable unit of logic.
type System interface {
	// Name identifies the system inside its schedule; ordering constraints
	// refer to it.
	Name() string

	// Initialize prepares the system against the world. Called every time
	// the owning schedule is initialized.
	Initialize(w *World) error

	// Run executes the system once.
	Run(w *World) error
}

// SystemFunc is the body of a function system.
type SystemFunc func(w *World) error

// Releaser is implemented by systems holding resources that must be freed
// exactly once when their owner lets go of them.
type Releaser interface {
	Release()
}

type funcSystem struct {
	name string
	fn   SystemFunc
}

// NewSystem wraps fn as a system named name.
func NewSystem(name string, fn SystemFunc) System {
	return &funcSystem{name: name, fn: fn}
}

// Func wraps fn as a system named after its Go symbol.
func Func(fn SystemFunc) System {
	name := ""
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		name = f.Name()
	}
	return &funcSystem{name: name, fn: fn}
}

func (s *funcSystem) Name() string            { return s.name }
func (s *funcSystem) Initialize(*World) error { return nil }
func (s *funcSystem) Run(w *World) error      { return s.fn(w) }
