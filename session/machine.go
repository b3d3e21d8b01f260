package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	iface "PassengerCounter/interface"
	"PassengerCounter/tracker"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const DefaultTimeout = 5 * time.Second

// Transition is the outcome of one Observe call.
type Transition int

const (
	NoChange Transition = iota
	Opened
	Closed
)

func (t Transition) String() string {
	switch t {
	case Opened:
		return "opened"
	case Closed:
		return "closed"
	default:
		return "none"
	}
}

// Summary describes one committed session.
type Summary struct {
	SessionID string
	Previous  int
	Entered   int
	Exited    int
	Total     int
}

// Counters is the running subtotal of the current session.
type Counters struct {
	Entered int `json:"entered"`
	Exited  int `json:"exited"`
}

type Option func(*Machine)

func WithLogger(log *zap.Logger) Option {
	return func(m *Machine) {
		if log != nil {
			m.log = log
		}
	}
}

// WithTimeout bounds every gateway round trip made by the machine.
func WithTimeout(d time.Duration) Option {
	return func(m *Machine) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithRecorder(rec iface.Recorder) Option {
	return func(m *Machine) {
		if rec != nil {
			m.rec = rec
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDs(newID func() string) Option {
	return func(m *Machine) {
		if newID != nil {
			m.newID = newID
		}
	}
}

// Machine is the two-state door session machine. Counting happens while the
// door is open; the open→closed edge commits the session to the gateway.
type Machine struct {
	door    *Door
	gw      iface.Gateway
	log     *zap.Logger
	rec     iface.Recorder
	timeout time.Duration
	now     func() time.Time
	newID   func() string

	mu       sync.Mutex
	prevOpen bool
	counters Counters

	// serializes gateway writes of the mirror worker and Reconcile
	gwMu   sync.Mutex
	mirror chan struct{}
}

// New creates a machine in the state the door currently reports.
func New(door *Door, gw iface.Gateway, opts ...Option) *Machine {
	m := &Machine{
		door:     door,
		gw:       gw,
		log:      zap.NewNop(),
		rec:      iface.NopRecorder{},
		timeout:  DefaultTimeout,
		now:      time.Now,
		newID:    uuid.NewString,
		prevOpen: door.Open(),
		mirror:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prevOpen {
		return DoorOpen
	}
	return DoorClosed
}

func (m *Machine) Counters() Counters {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters
}

// Observe compares the door signal with the state seen on the previous call.
// It is the only place edges are detected; a closing edge reconciles the
// session before returning.
func (m *Machine) Observe(ctx context.Context) Transition {
	open := m.door.Open()
	m.mu.Lock()
	if open == m.prevOpen {
		m.mu.Unlock()
		return NoChange
	}
	m.prevOpen = open
	m.mu.Unlock()

	m.rec.DoorChanged(open)
	if open {
		m.log.Info("door opened, counting")
		return Opened
	}
	m.log.Info("door closed, committing session")
	if _, err := m.Reconcile(ctx); err != nil {
		m.log.Error("session commit failed, delta discarded", zap.Error(err))
	}
	return Closed
}

// Apply adds a crossing to the session. Crossings outside an open door
// session are dropped.
func (m *Machine) Apply(ctx context.Context, c tracker.Crossing) {
	if c.Event == tracker.NoEvent {
		return
	}
	m.mu.Lock()
	if !m.prevOpen {
		m.mu.Unlock()
		m.log.Debug("crossing ignored, door closed", zap.Int("object", c.ObjectID))
		return
	}
	switch c.Event {
	case tracker.Entered:
		m.counters.Entered++
	case tracker.Exited:
		m.counters.Exited++
	}
	cur := m.counters
	m.mu.Unlock()

	m.log.Info("passenger crossed",
		zap.Int("object", c.ObjectID),
		zap.Stringer("direction", c.Direction),
		zap.Stringer("event", c.Event),
		zap.Int("entered", cur.Entered),
		zap.Int("exited", cur.Exited))
	m.rec.Crossing(c.Event.String(), cur.Entered, cur.Exited)

	select {
	case m.mirror <- struct{}{}:
	default:
	}
}

// Run mirrors the running subtotal to the gateway until ctx is done.
// Pending requests coalesce, only the latest counters are ever written.
func (m *Machine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.mirror:
			m.pushSubtotal(ctx)
		}
	}
}

func (m *Machine) pushSubtotal(ctx context.Context) {
	m.gwMu.Lock()
	defer m.gwMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error(fmt.Sprintf("subtotal mirror panic recovered: %v", r))
		}
	}()
	cur := m.Counters()
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.gw.Update(ctx, map[string]any{"entered": cur.Entered, "exited": cur.Exited})
	if err != nil {
		m.log.Warn("subtotal mirror failed", zap.Error(err))
	}
}

// Reconcile commits the session: the net change is added to the remote total
// (never below zero), the remote subtotal is cleared and an audit entry is
// appended. Local counters are reset whatever the outcome.
func (m *Machine) Reconcile(ctx context.Context) (Summary, error) {
	m.gwMu.Lock()
	defer m.gwMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.Lock()
	cur := m.counters
	m.mu.Unlock()
	defer m.reset()

	sum, err := m.commit(ctx, cur)
	m.rec.Committed(sum.Total, cur.Entered, cur.Exited, err)
	if err != nil {
		return sum, err
	}
	m.log.Info("session committed",
		zap.String("session", sum.SessionID),
		zap.Int("previous", sum.Previous),
		zap.Int("entered", sum.Entered),
		zap.Int("exited", sum.Exited),
		zap.Int("total", sum.Total))
	return sum, nil
}

func (m *Machine) commit(ctx context.Context, cur Counters) (Summary, error) {
	sum := Summary{SessionID: m.newID(), Entered: cur.Entered, Exited: cur.Exited}

	snap, err := m.gw.ReadSnapshot(ctx)
	if err != nil {
		return sum, errors.Wrap(err, "can't read passenger total")
	}
	sum.Previous = snap.PassengerCount
	sum.Total = max(0, snap.PassengerCount+cur.Entered-cur.Exited)

	fields := map[string]any{"passenger_count": sum.Total, "entered": 0, "exited": 0}
	if err := m.gw.Update(ctx, fields); err != nil {
		return sum, errors.Wrap(err, "can't write passenger total")
	}

	entry := iface.NewLogEntry(sum.SessionID, m.now(), sum.Total, cur.Entered, cur.Exited)
	if err := m.gw.AppendLog(ctx, entry); err != nil {
		return sum, errors.Wrap(err, "can't append session log")
	}
	return sum, nil
}

func (m *Machine) reset() {
	m.mu.Lock()
	m.counters = Counters{}
	m.mu.Unlock()
}
