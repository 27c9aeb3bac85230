package guard

import (
	"errors"
	"sync"

	"github.com/terminal-bench/pegflow/internal/chain"
)

// ErrSlotTaken is returned when an identity already performed a guarded
// action within the current timeslot.
var ErrSlotTaken = errors.New("identity already acted in this timeslot")

// Guard restricts each identity to a single guarded mutating action per
// timeslot. Every action is checked under both the originating and the
// immediate caller identity, so a single logical actor cannot run two
// guarded actions through an intermediary inside one slot.
//
// Marks are committed only when the wrapped action succeeds; a failed
// action leaves no mark and may be resubmitted. Only the current slot's
// marks are ever consulted; retention bounds how many past slots are kept
// before pruning.
type Guard struct {
	mu        sync.Mutex
	acted     map[int64]map[string]struct{} // slot -> identity set
	retention int64
}

const defaultRetention = 16

func New(retention int64) *Guard {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Guard{
		acted:     make(map[int64]map[string]struct{}),
		retention: retention,
	}
}

// Do runs fn as a guarded action for both caller identities in the slot.
// It fails with ErrSlotTaken up front if either identity already acted.
// While fn runs the identities are reserved; the reservation becomes a
// permanent mark on success and is dropped on failure.
func (g *Guard) Do(slot int64, caller chain.Caller, fn func() error) error {
	if err := g.reserve(slot, caller); err != nil {
		return err
	}

	if err := fn(); err != nil {
		g.release(slot, caller)
		return err
	}
	return nil
}

// Acted reports whether the identity holds a mark for the slot.
func (g *Guard) Acted(slot int64, identity string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	marks := g.acted[slot]
	if marks == nil {
		return false
	}
	_, ok := marks[identity]
	return ok
}

func (g *Guard) reserve(slot int64, caller chain.Caller) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	marks := g.acted[slot]
	if marks != nil {
		if _, ok := marks[caller.Origin]; ok {
			return ErrSlotTaken
		}
		if _, ok := marks[caller.Immediate]; ok {
			return ErrSlotTaken
		}
	} else {
		marks = make(map[string]struct{})
		g.acted[slot] = marks
	}

	marks[caller.Origin] = struct{}{}
	marks[caller.Immediate] = struct{}{}

	g.pruneLocked(slot)
	return nil
}

func (g *Guard) release(slot int64, caller chain.Caller) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if marks := g.acted[slot]; marks != nil {
		delete(marks, caller.Origin)
		delete(marks, caller.Immediate)
	}
}

func (g *Guard) pruneLocked(current int64) {
	for slot := range g.acted {
		if slot < current-g.retention {
			delete(g.acted, slot)
		}
	}
}
