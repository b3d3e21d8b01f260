package session

import "sync/atomic"

// State is the door state as seen by the frame loop.
type State int

const (
	DoorClosed State = iota
	DoorOpen
)

func (s State) String() string {
	if s == DoorOpen {
		return "open"
	}
	return "closed"
}

// Door is the latest door signal. Listeners write it from their own
// goroutines, the frame loop reads it once per iteration.
type Door struct {
	open atomic.Bool
}

func NewDoor(open bool) *Door {
	d := &Door{}
	d.open.Store(open)
	return d
}

// Set stores the signal and reports whether it differs from the previous one.
func (d *Door) Set(open bool) bool {
	return d.open.Swap(open) != open
}

func (d *Door) Open() bool {
	return d.open.Load()
}

func (d *Door) State() State {
	if d.Open() {
		return DoorOpen
	}
	return DoorClosed
}
