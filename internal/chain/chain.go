package chain

import (
	"time"
)

// Clock supplies the service's notion of time. All policy components read
// time through it so tests can drive epochs and slots deterministically.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
	// Slot returns the current discrete timeslot. Many callers may act
	// within one slot; the guard serializes each identity to one guarded
	// action per slot.
	Slot() int64
}

// SystemClock derives slots from wall time at a fixed slot length.
type SystemClock struct {
	SlotLength time.Duration
}

func NewSystemClock(slotLength time.Duration) *SystemClock {
	if slotLength <= 0 {
		slotLength = time.Second
	}
	return &SystemClock{SlotLength: slotLength}
}

func (c *SystemClock) Now() time.Time {
	return time.Now()
}

func (c *SystemClock) Slot() int64 {
	return time.Now().UnixNano() / int64(c.SlotLength)
}

// FakeClock is a manually advanced clock for tests.
type FakeClock struct {
	Time    time.Time
	SlotNum int64
}

func (c *FakeClock) Now() time.Time { return c.Time }
func (c *FakeClock) Slot() int64    { return c.SlotNum }

// Advance moves both wall time and the slot forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.Time = c.Time.Add(d)
	c.SlotNum++
}

// NextSlot advances the slot without moving wall time, modelling several
// slots inside one epoch window.
func (c *FakeClock) NextSlot() {
	c.SlotNum++
}

// Caller identifies the actors behind a mutating call: the originating
// account and the immediate (possibly intermediary) caller. Both identities
// are checked by the guard so an actor cannot launder two guarded actions
// through a relay within one slot.
type Caller struct {
	Origin    string
	Immediate string
}

// Direct builds a caller context where the origin acts for itself.
func Direct(account string) Caller {
	return Caller{Origin: account, Immediate: account}
}

// Via builds a caller context for an origin acting through an intermediary.
func Via(origin, intermediate string) Caller {
	return Caller{Origin: origin, Immediate: intermediate}
}
