package ecs

import (
	"fmt"
	"log/slog"
	"slices"
)

// Label names a schedule.
type Label string

// Built-in schedule labels.
const (
	Startup     Label = "Startup"
	PostStartup Label = "PostStartup"
	First       Label = "First"
	PreUpdate   Label = "PreUpdate"
	Update      Label = "Update"
	Last        Label = "Last"
)

// StartupLabels run once, before the first tick. MainLabels run every tick.
var (
	StartupLabels = []Label{Startup, PostStartup}
	MainLabels    = []Label{First, PreUpdate, Update, Last}
)

// SystemSet groups systems so ordering can be configured per group.
type SystemSet string

// Node is a system plus its placement in a schedule.
type Node struct {
	System System
	Set    SystemSet
	After  []string // system names or set names that must run first
	Before []string // system names or set names that must run later
}

// Sys starts a Node for s.
func Sys(s System) Node {
	return Node{System: s}
}

// InSet places the node in set.
func (n Node) InSet(set SystemSet) Node {
	n.Set = set
	return n
}

// RunAfter orders the node after the named systems or sets.
func (n Node) RunAfter(names ...string) Node {
	n.After = append(slices.Clone(n.After), names...)
	return n
}

// RunBefore orders the node before the named systems or sets.
func (n Node) RunBefore(names ...string) Node {
	n.Before = append(slices.Clone(n.Before), names...)
	return n
}

// Schedule is an ordered collection of systems run together.
//
// INVARIANTS:
//   - nodes keeps insertion order; it never changes after Add
//   - order is valid only while initialized is true
type Schedule struct {
	label       Label
	nodes       []Node
	chains      [][]SystemSet
	order       []int
	initialized bool
}

// NewSchedule creates an empty schedule.
func NewSchedule(label Label) *Schedule {
	return &Schedule{label: label}
}

// Label returns the schedule's label.
func (s *Schedule) Label() Label {
	return s.label
}

// Add appends nodes. The schedule must be initialized again before it runs.
func (s *Schedule) Add(nodes ...Node) {
	s.nodes = append(s.nodes, nodes...)
	s.initialized = false
}

// ConfigureSets chains sets: every member of sets[i] runs before every
// member of sets[i+1].
func (s *Schedule) ConfigureSets(sets ...SystemSet) {
	s.chains = append(s.chains, slices.Clone(sets))
	s.initialized = false
}

// SetChains returns a copy of the configured set chains.
func (s *Schedule) SetChains() [][]SystemSet {
	out := make([][]SystemSet, len(s.chains))
	for i, c := range s.chains {
		out[i] = slices.Clone(c)
	}
	return out
}

// Nodes returns the nodes in insertion order.
func (s *Schedule) Nodes() []Node {
	return slices.Clone(s.nodes)
}

// Len returns the number of systems.
func (s *Schedule) Len() int {
	return len(s.nodes)
}

// Initialize prepares every system against w and computes the run order.
// Fails with ErrUnresolvedDependency when a constraint names nothing in the
// schedule and with ErrCycle when constraints cannot be satisfied.
func (s *Schedule) Initialize(w *World) error {
	for _, n := range s.nodes {
		if err := n.System.Initialize(w); err != nil {
			return &ScheduleError{Label: s.label, System: n.System.Name(), Err: err}
		}
	}

	order, err := s.sort()
	if err != nil {
		return err
	}
	s.order = order
	s.initialized = true
	return nil
}

// Initialized reports whether the run order is current.
func (s *Schedule) Initialized() bool {
	return s.initialized
}

// Systems returns the nodes in run order.
func (s *Schedule) Systems() ([]Node, error) {
	if !s.initialized {
		return nil, &ScheduleError{Label: s.label, Err: ErrNotInitialized}
	}
	out := make([]Node, len(s.order))
	for i, idx := range s.order {
		out[i] = s.nodes[idx]
	}
	return out, nil
}

// Run executes every system once in run order, initializing first if
// needed. A failing system is logged and the remaining systems still run.
func (s *Schedule) Run(w *World) error {
	if !s.initialized {
		if err := s.Initialize(w); err != nil {
			return err
		}
	}
	for _, idx := range s.order {
		sys := s.nodes[idx].System
		if err := sys.Run(w); err != nil {
			slog.Error("system failed",
				"schedule", s.label,
				"system", sys.Name(),
				"tick", w.Tick(),
				"error", err,
			)
		}
	}
	return nil
}

// sort orders nodes topologically. Among ready nodes the one added first
// runs first, so unconstrained systems keep insertion order.
func (s *Schedule) sort() ([]int, error) {
	n := len(s.nodes)
	succ := make([][]int, n)
	indeg := make([]int, n)
	edge := func(from, to int) {
		if from == to {
			return
		}
		succ[from] = append(succ[from], to)
		indeg[to]++
	}

	for j, node := range s.nodes {
		for _, name := range node.After {
			src, ok := s.resolve(name)
			if !ok {
				return nil, &ScheduleError{Label: s.label, System: node.System.Name(),
					Err: fmt.Errorf("%w: after %q", ErrUnresolvedDependency, name)}
			}
			for _, i := range src {
				edge(i, j)
			}
		}
		for _, name := range node.Before {
			dst, ok := s.resolve(name)
			if !ok {
				return nil, &ScheduleError{Label: s.label, System: node.System.Name(),
					Err: fmt.Errorf("%w: before %q", ErrUnresolvedDependency, name)}
			}
			for _, k := range dst {
				edge(j, k)
			}
		}
	}
	for _, chain := range s.chains {
		for c := 1; c < len(chain); c++ {
			for _, i := range s.members(chain[c-1]) {
				for _, k := range s.members(chain[c]) {
					edge(i, k)
				}
			}
		}
	}

	done := make([]bool, n)
	order := make([]int, 0, n)
	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !done[i] && indeg[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			return nil, &ScheduleError{Label: s.label, Err: ErrCycle}
		}
		done[next] = true
		order = append(order, next)
		for _, k := range succ[next] {
			indeg[k]--
		}
	}
	return order, nil
}

// resolve maps a constraint name to node indexes: a system name first, then
// a set. A set that is known (configured or used) but empty resolves to
// nothing without error.
func (s *Schedule) resolve(name string) ([]int, bool) {
	var idx []int
	for i, n := range s.nodes {
		if n.System.Name() == name {
			idx = append(idx, i)
		}
	}
	if len(idx) > 0 {
		return idx, true
	}
	set := SystemSet(name)
	if !s.knowsSet(set) {
		return nil, false
	}
	return s.members(set), true
}

func (s *Schedule) members(set SystemSet) []int {
	var idx []int
	for i, n := range s.nodes {
		if n.Set == set {
			idx = append(idx, i)
		}
	}
	return idx
}

func (s *Schedule) knowsSet(set SystemSet) bool {
	for _, n := range s.nodes {
		if n.Set == set {
			return true
		}
	}
	for _, c := range s.chains {
		if slices.Contains(c, set) {
			return true
		}
	}
	return false
}

// Schedules is the collection of schedules an App runs.
type Schedules struct {
	byLabel map[Label]*Schedule
	order   []Label
}

// NewSchedules creates an empty collection.
func NewSchedules() *Schedules {
	return &Schedules{byLabel: make(map[Label]*Schedule)}
}

// Get returns the schedule for label, or nil.
func (ss *Schedules) Get(label Label) *Schedule {
	return ss.byLabel[label]
}

// Entry returns the schedule for label, creating it when absent.
func (ss *Schedules) Entry(label Label) *Schedule {
	if s, ok := ss.byLabel[label]; ok {
		return s
	}
	s := NewSchedule(label)
	ss.Insert(s)
	return s
}

// Insert adds or replaces a schedule.
func (ss *Schedules) Insert(s *Schedule) {
	if _, ok := ss.byLabel[s.label]; !ok {
		ss.order = append(ss.order, s.label)
	}
	ss.byLabel[s.label] = s
}

// Labels returns labels in insertion order.
func (ss *Schedules) Labels() []Label {
	return slices.Clone(ss.order)
}

// Len returns the number of schedules.
func (ss *Schedules) Len() int {
	return len(ss.order)
}
