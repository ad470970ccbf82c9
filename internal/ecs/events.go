package ecs

import (
	"fmt"
	"reflect"

	"github.com/eapache/queue"
)

// Events is a double-buffered event channel living in the world as a
// resource. Events sent during tick N are readable during ticks N and N+1;
// Update, run once per tick in First, drops the older buffer.
type Events[T any] struct {
	prev  *queue.Queue
	cur   *queue.Queue
	total uint64
}

// NewEvents creates an empty event buffer.
func NewEvents[T any]() *Events[T] {
	return &Events[T]{prev: queue.New(), cur: queue.New()}
}

// Send appends an event to the current buffer.
func (e *Events[T]) Send(ev T) {
	e.cur.Add(ev)
	e.total++
}

// Read returns the events of the previous and current buffers, oldest first.
func (e *Events[T]) Read() []T {
	out := make([]T, 0, e.prev.Length()+e.cur.Length())
	for _, q := range []*queue.Queue{e.prev, e.cur} {
		for i := 0; i < q.Length(); i++ {
			out = append(out, q.Get(i).(T))
		}
	}
	return out
}

// Len returns the number of readable events.
func (e *Events[T]) Len() int {
	return e.prev.Length() + e.cur.Length()
}

// Current returns the number of events sent since the last Update.
func (e *Events[T]) Current() int {
	return e.cur.Length()
}

// Total returns the number of events ever sent.
func (e *Events[T]) Total() uint64 {
	return e.total
}

// Update drops the previous buffer and makes the current one previous.
func (e *Events[T]) Update() {
	e.prev = e.cur
	e.cur = queue.New()
}

// AddEvent registers an Events[T] resource and schedules its buffer swap in
// First. Calling it twice for the same T is a no-op.
func AddEvent[T any](app *App) *Events[T] {
	if ev, ok := Resource[Events[T]](app.World()); ok {
		return ev
	}
	ev := NewEvents[T]()
	InsertResource(app.World(), ev)
	name := fmt.Sprintf("ecs.UpdateEvents[%s]", reflect.TypeFor[T]())
	app.AddSystems(First, Sys(NewSystem(name, func(*World) error {
		ev.Update()
		return nil
	})))
	return ev
}

// SendEvent sends ev through the world's Events[T] resource.
// Returns false when the event type was never registered.
func SendEvent[T any](w *World, ev T) bool {
	events, ok := Resource[Events[T]](w)
	if !ok {
		return false
	}
	events.Send(ev)
	return true
}

// ReadEvents returns the readable events of type T (nil when unregistered).
func ReadEvents[T any](w *World) []T {
	events, ok := Resource[Events[T]](w)
	if !ok {
		return nil
	}
	return events.Read()
}
