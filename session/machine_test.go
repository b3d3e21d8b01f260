package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PassengerCounter/gateway"
	iface "PassengerCounter/interface"
	"PassengerCounter/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	enter = tracker.Crossing{ObjectID: 1, Direction: tracker.LeftToRight, Event: tracker.Entered}
	exit  = tracker.Crossing{ObjectID: 2, Direction: tracker.RightToLeft, Event: tracker.Exited}
)

type commitRecorder struct {
	iface.NopRecorder
	mu      sync.Mutex
	commits []error
	doors   []bool
}

func (r *commitRecorder) Committed(total, entered, exited int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, err)
}

func (r *commitRecorder) DoorChanged(open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doors = append(r.doors, open)
}

func newMachine(t *testing.T, total int, opts ...Option) (*Machine, *Door, *gateway.Memory) {
	t.Helper()
	gw := gateway.NewMemory()
	require.NoError(t, gw.Update(context.Background(), map[string]any{"passenger_count": total}))
	door := NewDoor(true)
	fixed := time.Date(2026, 5, 1, 8, 30, 0, 0, time.Local)
	opts = append([]Option{WithClock(func() time.Time { return fixed }), WithIDs(func() string { return "sid" })}, opts...)
	return New(door, gw, opts...), door, gw
}

func apply(m *Machine, in, out int) {
	for i := 0; i < in; i++ {
		m.Apply(context.Background(), enter)
	}
	for i := 0; i < out; i++ {
		m.Apply(context.Background(), exit)
	}
}

func TestReconcile(t *testing.T) {
	t.Run("Test Net Change", func(t *testing.T) {
		m, door, gw := newMachine(t, 10)
		apply(m, 3, 5)
		door.Set(false)

		assert.Equal(t, Closed, m.Observe(context.Background()))
		home := gw.Home()
		assert.Equal(t, 8, home["passenger_count"])
		assert.Equal(t, 0, home["entered"])
		assert.Equal(t, 0, home["exited"])

		logs := gw.Logs()
		require.Len(t, logs, 1)
		assert.Equal(t, iface.LogEntry{
			SessionID:         "sid",
			Date:              "2026-05-01",
			Time:              "08:30:00",
			Timestamp:         time.Date(2026, 5, 1, 8, 30, 0, 0, time.Local).Unix(),
			Event:             iface.EventStopCompleted,
			SessionIn:         3,
			SessionOut:        5,
			NewTotalPassenger: 8,
		}, logs[0])
		assert.Equal(t, Counters{}, m.Counters())
	})

	t.Run("Test Clamp At Zero", func(t *testing.T) {
		m, _, gw := newMachine(t, 5)
		apply(m, 0, 20)
		sum, err := m.Reconcile(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, sum.Total)
		assert.Equal(t, 5, sum.Previous)
		assert.Equal(t, 0, gw.Home()["passenger_count"])
	})

	t.Run("Test Missing Record", func(t *testing.T) {
		m, _, _ := newMachine(t, 0)
		apply(m, 2, 0)
		sum, err := m.Reconcile(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, sum.Total)
	})

	t.Run("Test Failure Still Resets", func(t *testing.T) {
		rec := &commitRecorder{}
		m, door, gw := newMachine(t, 10, WithRecorder(rec))
		apply(m, 4, 1)
		gw.Fail("read", assert.AnError)
		door.Set(false)

		assert.Equal(t, Closed, m.Observe(context.Background()))
		assert.Equal(t, Counters{}, m.Counters())
		assert.Equal(t, 10, gw.Home()["passenger_count"])
		assert.Empty(t, gw.Logs())
		require.Len(t, rec.commits, 1)
		assert.ErrorIs(t, rec.commits[0], assert.AnError)
	})

	t.Run("Test Log Failure", func(t *testing.T) {
		m, _, gw := newMachine(t, 1)
		apply(m, 1, 0)
		gw.Fail("log", assert.AnError)
		_, err := m.Reconcile(context.Background())
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 2, gw.Home()["passenger_count"])
		assert.Equal(t, Counters{}, m.Counters())
	})
}

func TestObserve(t *testing.T) {
	rec := &commitRecorder{}
	m, door, gw := newMachine(t, 0, WithRecorder(rec))
	ctx := context.Background()

	assert.Equal(t, DoorOpen, m.State())
	assert.Equal(t, NoChange, m.Observe(ctx))

	door.Set(false)
	assert.Equal(t, Closed, m.Observe(ctx))
	assert.Equal(t, NoChange, m.Observe(ctx))
	assert.Equal(t, NoChange, m.Observe(ctx))
	assert.Equal(t, DoorClosed, m.State())
	assert.Len(t, gw.Logs(), 1)

	door.Set(true)
	assert.Equal(t, Opened, m.Observe(ctx))
	assert.Equal(t, NoChange, m.Observe(ctx))
	assert.Len(t, gw.Logs(), 1)
	assert.Equal(t, []bool{false, true}, rec.doors)
}

func TestApply(t *testing.T) {
	t.Run("Test Counts While Open", func(t *testing.T) {
		m, _, _ := newMachine(t, 0)
		apply(m, 2, 1)
		m.Apply(context.Background(), tracker.Crossing{Event: tracker.NoEvent})
		assert.Equal(t, Counters{Entered: 2, Exited: 1}, m.Counters())
	})

	t.Run("Test Ignored While Closed", func(t *testing.T) {
		m, door, _ := newMachine(t, 0)
		door.Set(false)
		m.Observe(context.Background())
		apply(m, 2, 1)
		assert.Equal(t, Counters{}, m.Counters())
	})

	t.Run("Test Door Set Without Observe", func(t *testing.T) {
		// the loop has not seen the edge yet, counting continues
		m, door, _ := newMachine(t, 0)
		door.Set(false)
		apply(m, 1, 0)
		assert.Equal(t, Counters{Entered: 1}, m.Counters())
	})
}

func TestMirror(t *testing.T) {
	m, _, gw := newMachine(t, 7)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	apply(m, 3, 1)
	assert.Eventually(t, func() bool {
		home := gw.Home()
		return home["entered"] == 3 && home["exited"] == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 7, gw.Home()["passenger_count"])
}

func TestMirrorNeverBlocks(t *testing.T) {
	m, _, gw := newMachine(t, 0)
	// no worker running, the mailbox holds a single pending request
	apply(m, 50, 0)
	assert.Equal(t, 50, m.Counters().Entered)
	assert.Equal(t, 1, len(m.mirror))
	assert.Equal(t, 1, gw.Calls("update"))
}

// slowGateway never answers a snapshot read before ctx gives up.
type slowGateway struct {
	*gateway.Memory
}

func (g slowGateway) ReadSnapshot(ctx context.Context) (iface.Snapshot, error) {
	<-ctx.Done()
	return iface.Snapshot{}, ctx.Err()
}

func TestReconcileTimeout(t *testing.T) {
	gw := slowGateway{gateway.NewMemory()}
	m := New(NewDoor(true), gw, WithTimeout(50*time.Millisecond))
	apply(m, 2, 1)

	start := time.Now()
	_, err := m.Reconcile(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Counters{}, m.Counters())
	assert.Empty(t, gw.Logs())
}

// panicGateway panics on the first update only.
type panicGateway struct {
	*gateway.Memory
	panicked atomic.Bool
}

func (g *panicGateway) Update(ctx context.Context, fields map[string]any) error {
	if g.panicked.CompareAndSwap(false, true) {
		panic("connection pool exhausted")
	}
	return g.Memory.Update(ctx, fields)
}

func TestMirrorRecovers(t *testing.T) {
	gw := &panicGateway{Memory: gateway.NewMemory()}
	m := New(NewDoor(true), gw)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	m.Apply(ctx, enter)
	assert.Eventually(t, gw.panicked.Load, time.Second, time.Millisecond)

	// the worker survived and still mirrors
	m.Apply(ctx, enter)
	assert.Eventually(t, func() bool { return gw.Home()["entered"] == 2 }, time.Second, 5*time.Millisecond)
}

func TestDoor(t *testing.T) {
	d := NewDoor(false)
	assert.Equal(t, DoorClosed, d.State())
	assert.True(t, d.Set(true))
	assert.False(t, d.Set(true))
	assert.True(t, d.Open())
	assert.Equal(t, "open", d.State().String())
}
