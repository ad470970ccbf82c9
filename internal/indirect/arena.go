package indirect

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
)

// Arena is the single owner of original system bodies, indexed by identity.
//
// Thread-safety model:
//   - Adopt(), Close(): tick goroutine
//   - Run(), Owns(), Len(): safe from any goroutine
//
// INVARIANTS:
//   - a body is adopted at most once, under exactly one identity
//   - Release is called at most once per body, from Close
type Arena struct {
	mu     sync.Mutex
	bodies map[hotfn.Identity]ecs.System
	owners map[any]hotfn.Identity // comparable bodies only
	order  []hotfn.Identity
	closed bool
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{
		bodies: make(map[hotfn.Identity]ecs.System),
		owners: make(map[any]hotfn.Identity),
	}
}

// Adopt transfers ownership of sys to the arena under id.
func (a *Arena) Adopt(id hotfn.Identity, sys ecs.System) error {
	return a.adoptAll([]adoption{{id: id, sys: sys}})
}

type adoption struct {
	id  hotfn.Identity
	sys ecs.System
}

// adoptAll adopts every entry or none of them.
func (a *Arena) adoptAll(batch []adoption) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("adopt %s: %w", batch[0].id, ErrArenaClosed)
	}

	ids := make(map[hotfn.Identity]bool, len(batch))
	owners := make(map[any]hotfn.Identity)
	for _, ad := range batch {
		if ad.sys == nil {
			return fmt.Errorf("adopt %s: nil system", ad.id)
		}
		if _, ok := a.bodies[ad.id]; ok || ids[ad.id] {
			return fmt.Errorf("adopt %s: %w", ad.id, ErrAlreadyOwned)
		}
		ids[ad.id] = true
		if !ownerKeyable(ad.sys) {
			continue
		}
		if prev, ok := a.owners[ad.sys]; ok {
			return fmt.Errorf("adopt %s: %w (as %s)", ad.id, ErrAlreadyOwned, prev)
		}
		if prev, ok := owners[ad.sys]; ok {
			return fmt.Errorf("adopt %s: %w (as %s)", ad.id, ErrAlreadyOwned, prev)
		}
		owners[ad.sys] = ad.id
	}

	for _, ad := range batch {
		if ownerKeyable(ad.sys) {
			a.owners[ad.sys] = ad.id
		}
		a.bodies[ad.id] = ad.sys
		a.order = append(a.order, ad.id)
	}
	return nil
}

// ownerKeyable reports whether sys can be used as a map key. The dynamic
// value decides: a comparable struct type may still hold a slice in an
// interface field.
func ownerKeyable(sys ecs.System) bool {
	return reflect.ValueOf(sys).Comparable()
}

// Owns reports whether id has a body in the arena.
func (a *Arena) Owns(id hotfn.Identity) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.bodies[id]
	return ok
}

// Len returns the number of owned bodies.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.bodies)
}

// Initialize prepares the body owned under id against w.
func (a *Arena) Initialize(id hotfn.Identity, w *ecs.World) error {
	sys, err := a.body(id)
	if err != nil {
		return err
	}
	return sys.Initialize(w)
}

// Run executes the body owned under id. The lock is not held while the body
// runs, so bodies may run other arena entries.
func (a *Arena) Run(id hotfn.Identity, w *ecs.World) error {
	sys, err := a.body(id)
	if err != nil {
		return err
	}
	return sys.Run(w)
}

// Body returns a SystemFunc running the body owned under id. It is the
// initial pointer registered for id in the function table.
func (a *Arena) Body(id hotfn.Identity) ecs.SystemFunc {
	return func(w *ecs.World) error {
		return a.Run(id, w)
	}
}

func (a *Arena) body(id hotfn.Identity) (ecs.System, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, fmt.Errorf("run %s: %w", id, ErrArenaClosed)
	}
	sys, ok := a.bodies[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotOwned)
	}
	return sys, nil
}

// Close releases every body implementing ecs.Releaser, in adoption order.
// Later calls do nothing.
func (a *Arena) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	order := a.order
	bodies := a.bodies
	a.bodies = make(map[hotfn.Identity]ecs.System)
	a.owners = make(map[any]hotfn.Identity)
	a.order = nil
	a.mu.Unlock()

	for _, id := range order {
		if r, ok := bodies[id].(ecs.Releaser); ok {
			r.Release()
		}
	}
	return nil
}
