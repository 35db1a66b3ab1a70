// Package boundstore implements the per-variable lower/upper bound store
// (spec.md §4.A). It is the leaf component of the reasoning kernel: every
// other package either owns a Store or holds a non-owning reference to one.
package boundstore

import (
	"fmt"
	"math"

	"github.com/nnverify/marabou-go/pkg/tolerance"
)

// ErrInfeasibleBounds is returned by Tighten{Lower,Upper} when the requested
// tightening would make lb > ub + epsilon for some variable. It is a local,
// recoverable contradiction (spec.md §7): the engine treats it as a closed
// search node, never a panic.
type ErrInfeasibleBounds struct {
	Var      int
	Lower    float64
	Upper    float64
}

func (e *ErrInfeasibleBounds) Error() string {
	return fmt.Sprintf("boundstore: variable %d has infeasible bounds [%g, %g]", e.Var, e.Lower, e.Upper)
}

// BoundKind distinguishes a lower-bound tightening from an upper-bound one.
type BoundKind int

const (
	// Lower identifies a lower-bound tightening.
	Lower BoundKind = iota
	// Upper identifies an upper-bound tightening.
	Upper
)

func (k BoundKind) String() string {
	if k == Lower {
		return "lb"
	}
	return "ub"
}

// Tightening is a single refinement to a variable's bound: spec.md's
// glossary entry "(variable, value, LB|UB)".
type Tightening struct {
	Var   int
	Value float64
	Kind  BoundKind
}

// Watcher is notified whenever a bound it watches changes. PL constraints
// implement this interface (spec.md §4.C) and register via Store.Watch.
// The store holds watchers by index in an arena-style registry (spec.md §9
// "Watcher registration"), never by raw back-pointer, so there is no
// reference cycle between the store and its watchers.
type Watcher interface {
	// NotifyLowerBound is called when variable v's lower bound is
	// strictly tightened to x. Implementations may push further
	// tightenings back into the Store; see spec.md §4.C.
	NotifyLowerBound(s *Store, v int, x float64) error
	// NotifyUpperBound is the upper-bound counterpart of NotifyLowerBound.
	NotifyUpperBound(s *Store, v int, x float64) error
}

// journalEntry records a bound's value immediately before a tightening so
// Undo can restore it. This is the "bound store's journal" spec.md §4.F
// refers to when describing backtracking.
type journalEntry struct {
	tightening Tightening
	previous   float64
}

// Store is the per-variable lower/upper bound store. Tightening is
// idempotent (spec.md §8 property 1): re-applying the same or a weaker
// bound is a no-op and returns changed=false.
type Store struct {
	eps     tolerance.Eps
	lb      []float64
	ub      []float64
	watched [][]int // per-variable list of watcher indices, registered via Watch
	watchers []Watcher
	journal []journalEntry
}

// New creates a Store for n variables, all initially unbounded:
// lb = -Inf, ub = +Inf (spec.md §6 "missing ⇒ −∞ / +∞").
func New(n int, eps tolerance.Eps) *Store {
	s := &Store{
		eps:      eps,
		lb:       make([]float64, n),
		ub:       make([]float64, n),
		watched:  make([][]int, n),
	}
	for i := 0; i < n; i++ {
		s.lb[i] = math.Inf(-1)
		s.ub[i] = math.Inf(1)
	}
	return s
}

// NumVars returns the number of variables tracked by the store.
func (s *Store) NumVars() int { return len(s.lb) }

// GetLB returns variable v's current lower bound.
func (s *Store) GetLB(v int) float64 { return s.lb[v] }

// GetUB returns variable v's current upper bound.
func (s *Store) GetUB(v int) float64 { return s.ub[v] }

// Watch registers w to be notified whenever v's bounds change. Constraints
// watch by the store's internal watcher index, not by pointer: Watch
// appends w to the store's arena the first time it is seen by this store.
func (s *Store) Watch(v int, w Watcher) {
	idx := s.internWatcher(w)
	for _, existing := range s.watched[v] {
		if existing == idx {
			return
		}
	}
	s.watched[v] = append(s.watched[v], idx)
}

// Unwatch removes w from v's watcher list.
func (s *Store) Unwatch(v int, w Watcher) {
	idx := s.internWatcher(w)
	list := s.watched[v]
	for i, existing := range list {
		if existing == idx {
			s.watched[v] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (s *Store) internWatcher(w Watcher) int {
	for i, existing := range s.watchers {
		if existing == w {
			return i
		}
	}
	s.watchers = append(s.watchers, w)
	return len(s.watchers) - 1
}

// TightenLB raises variable v's lower bound to max(lb(v), x). It returns
// whether the bound actually changed, fires bound-change notifications to
// every watcher of v, and returns ErrInfeasibleBounds if the new lower
// bound exceeds the upper bound by more than epsilon.
func (s *Store) TightenLB(v int, x float64) (bool, error) {
	if !s.eps.GT(x, s.lb[v]) {
		return false, nil // idempotent: not strictly tighter
	}
	s.journal = append(s.journal, journalEntry{Tightening{v, s.lb[v], Lower}, s.lb[v]})
	s.lb[v] = x
	if s.eps.GT(s.lb[v], s.ub[v]) {
		return true, &ErrInfeasibleBounds{v, s.lb[v], s.ub[v]}
	}
	for _, idx := range s.watched[v] {
		if err := s.watchers[idx].NotifyLowerBound(s, v, x); err != nil {
			return true, err
		}
	}
	return true, nil
}

// TightenUB lowers variable v's upper bound to min(ub(v), x). See TightenLB
// for the contract.
func (s *Store) TightenUB(v int, x float64) (bool, error) {
	if !s.eps.LT(x, s.ub[v]) {
		return false, nil
	}
	s.journal = append(s.journal, journalEntry{Tightening{v, s.ub[v], Upper}, s.ub[v]})
	s.ub[v] = x
	if s.eps.GT(s.lb[v], s.ub[v]) {
		return true, &ErrInfeasibleBounds{v, s.lb[v], s.ub[v]}
	}
	for _, idx := range s.watched[v] {
		if err := s.watchers[idx].NotifyUpperBound(s, v, x); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Apply pushes a Tightening using the appropriate Tighten{LB,UB} call.
func (s *Store) Apply(t Tightening) (bool, error) {
	if t.Kind == Lower {
		return s.TightenLB(t.Var, t.Value)
	}
	return s.TightenUB(t.Var, t.Value)
}

// Mark returns the current journal length, a checkpoint that Undo rewinds
// to. The engine calls Mark before making a decision and Undo(mark) on
// backtrack.
func (s *Store) Mark() int { return len(s.journal) }

// Undo restores every bound tightened since mark, in reverse order, without
// re-firing watcher notifications (backtracking restores state, it does not
// redo propagation).
func (s *Store) Undo(mark int) {
	for i := len(s.journal) - 1; i >= mark; i-- {
		e := s.journal[i]
		switch e.tightening.Kind {
		case Lower:
			s.lb[e.tightening.Var] = e.previous
		case Upper:
			s.ub[e.tightening.Var] = e.previous
		}
	}
	s.journal = s.journal[:mark]
}

// Feasible reports whether every variable's lower bound does not exceed its
// upper bound by more than epsilon.
func (s *Store) Feasible() bool {
	for v := range s.lb {
		if s.eps.GT(s.lb[v], s.ub[v]) {
			return false
		}
	}
	return true
}

// Eps returns the tolerance the store compares bounds with.
func (s *Store) Eps() tolerance.Eps { return s.eps }

// Snapshot copies every variable's (lb, ub) pair, used by the NLR to seed
// layer bounds without aliasing the store's backing arrays (spec.md §4.D
// obtain_current_bounds).
func (s *Store) Snapshot() (lb, ub []float64) {
	lb = make([]float64, len(s.lb))
	ub = make([]float64, len(s.ub))
	copy(lb, s.lb)
	copy(ub, s.ub)
	return lb, ub
}
