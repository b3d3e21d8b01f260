package tracker

import (
	"math"
	"sort"
)

// Config holds the tracker tuning. Zero values are replaced by the defaults.
type Config struct {
	// Maximum horizontal distance (pixels) for a detection to continue a track. Default 60
	MaxDistance float64
	// Consecutive unmatched cycles after which a track is dropped. Default 5
	MaxMissing int
	// Number of positions kept per track. Default 10
	HistoryLen int
	// Horizontal position of the reference line
	LinePos float64
	// Swap the entered/exited meaning of both directions
	Invert bool
}

const (
	DefaultMaxDistance = 60.0
	DefaultMaxMissing  = 5
	DefaultHistoryLen  = 10
)

func (cfg Config) withDefaults() Config {
	if cfg.MaxDistance <= 0 {
		cfg.MaxDistance = DefaultMaxDistance
	}
	if cfg.MaxMissing <= 0 {
		cfg.MaxMissing = DefaultMaxMissing
	}
	if cfg.HistoryLen < 2 {
		cfg.HistoryLen = DefaultHistoryLen
	}
	return cfg
}

// Object is a single tracked person.
type Object struct {
	ID      int
	History []float64
	Missing int
	Counted bool
}

// Last returns the most recent position.
func (o *Object) Last() float64 {
	return o.History[len(o.History)-1]
}

func (o *Object) push(cx float64, maxLen int) {
	o.History = append(o.History, cx)
	if len(o.History) > maxLen {
		o.History = o.History[1:]
	}
}

// Crossing is emitted once per track when it completes a pass over the line.
type Crossing struct {
	ObjectID  int
	Direction Direction
	Event     Event
}

// Tracker is a greedy nearest-centroid tracker over horizontal positions.
// It is not safe for concurrent use; the frame loop owns it.
type Tracker struct {
	cfg Config
	// Main storage, ordered by ID
	objects []*Object
	nextID  int
}

// New creates a tracker. LinePos is taken as is, the rest falls back to defaults.
func New(cfg Config) *Tracker {
	return &Tracker{
		cfg:     cfg.withDefaults(),
		objects: make([]*Object, 0, 8),
	}
}

// NewDefault creates a tracker with default tuning around the given line.
func NewDefault(linePos float64) *Tracker {
	return New(Config{LinePos: linePos})
}

// SetLinePos moves the reference line, e.g. after the frame geometry is known.
func (t *Tracker) SetLinePos(linePos float64) {
	t.cfg.LinePos = linePos
}

func (t *Tracker) LinePos() float64 {
	return t.cfg.LinePos
}

func (t *Tracker) Len() int {
	return len(t.objects)
}

// Objects returns a copy of the current tracks ordered by ID.
func (t *Tracker) Objects() []Object {
	out := make([]Object, len(t.objects))
	for i, o := range t.objects {
		out[i] = Object{
			ID:      o.ID,
			History: append([]float64(nil), o.History...),
			Missing: o.Missing,
			Counted: o.Counted,
		}
	}
	return out
}

// Reset drops every track. IDs keep increasing after a reset.
func (t *Tracker) Reset() {
	t.objects = t.objects[:0]
}

// Update runs one tracking cycle over the x-centres detected in a frame
// and returns the crossings completed during this cycle.
func (t *Tracker) Update(centers []float64) []Crossing {
	var crossings []Crossing

	// Previous tracks that have not been matched yet in this cycle
	unmatched := make([]*Object, len(t.objects))
	copy(unmatched, t.objects)

	next := make([]*Object, 0, len(t.objects)+len(centers))
	for _, cx := range centers {
		matchIdx := -1
		minDistance := math.MaxFloat64
		for i, object := range unmatched {
			dist := math.Abs(cx - object.Last())
			if dist < t.cfg.MaxDistance && dist < minDistance {
				minDistance = dist
				matchIdx = i
			}
		}
		if matchIdx < 0 {
			next = append(next, &Object{ID: t.nextID, History: []float64{cx}})
			t.nextID++
			continue
		}
		object := unmatched[matchIdx]
		unmatched = append(unmatched[:matchIdx], unmatched[matchIdx+1:]...)

		object.push(cx, t.cfg.HistoryLen)
		object.Missing = 0
		if crossing, ok := t.evaluate(object); ok {
			crossings = append(crossings, crossing)
		}
		next = append(next, object)
	}

	for _, object := range unmatched {
		object.Missing++
		if object.Missing < t.cfg.MaxMissing {
			next = append(next, object)
		}
	}

	sort.Slice(next, func(i, j int) bool { return next[i].ID < next[j].ID })
	t.objects = next
	return crossings
}

func (t *Tracker) evaluate(object *Object) (Crossing, bool) {
	if object.Counted {
		return Crossing{}, false
	}
	dir := Evaluate(object.History, t.cfg.LinePos)
	if dir == None {
		return Crossing{}, false
	}
	object.Counted = true
	return Crossing{
		ObjectID:  object.ID,
		Direction: dir,
		Event:     Classify(dir, t.cfg.Invert),
	}, true
}
