package indirect

import (
	"slices"

	"github.com/roach88/hotpatch/internal/ecs"
	"github.com/roach88/hotpatch/internal/hotfn"
)

// Slot describes one system of the pre-install schedule graph by identity.
// It holds no reference to the system body.
type Slot struct {
	Identity hotfn.Identity
	Label    ecs.Label
	Name     string
	Set      ecs.SystemSet
	After    []string
	Before   []string
}

// View is the non-owning record of the schedule collection as it was before
// installation.
type View struct {
	labels []ecs.Label
	slots  map[ecs.Label][]Slot
	chains map[ecs.Label][][]ecs.SystemSet
}

func newView() *View {
	return &View{
		slots:  make(map[ecs.Label][]Slot),
		chains: make(map[ecs.Label][][]ecs.SystemSet),
	}
}

func (v *View) add(label ecs.Label, chains [][]ecs.SystemSet, slots []Slot) {
	v.labels = append(v.labels, label)
	v.slots[label] = slots
	v.chains[label] = chains
}

// Labels returns schedule labels in collection order.
func (v *View) Labels() []ecs.Label {
	return slices.Clone(v.labels)
}

// Slots returns the systems of label in insertion order.
func (v *View) Slots(label ecs.Label) []Slot {
	return slices.Clone(v.slots[label])
}

// SetChains returns the set chains configured for label.
func (v *View) SetChains(label ecs.Label) [][]ecs.SystemSet {
	return slices.Clone(v.chains[label])
}

// Identities returns every identity, label by label.
func (v *View) Identities() []hotfn.Identity {
	var out []hotfn.Identity
	for _, l := range v.labels {
		for _, s := range v.slots[l] {
			out = append(out, s.Identity)
		}
	}
	return out
}

// Lookup finds the slot for identity id.
func (v *View) Lookup(id hotfn.Identity) (Slot, bool) {
	for _, l := range v.labels {
		for _, s := range v.slots[l] {
			if s.Identity == id {
				return s, true
			}
		}
	}
	return Slot{}, false
}

// Len returns the number of systems in the view.
func (v *View) Len() int {
	n := 0
	for _, s := range v.slots {
		n += len(s)
	}
	return n
}
