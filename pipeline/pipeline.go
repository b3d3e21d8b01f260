package pipeline

import (
	"context"
	"sync"
	"time"

	iface "PassengerCounter/interface"
	"PassengerCounter/session"
	"PassengerCounter/tracker"

	"go.uber.org/zap"
)

const (
	IdleMessage = "SLEEP MODE (door closed)"

	readRetry = 10 * time.Millisecond
)

// ResetPolicy selects which door edge clears the tracks.
type ResetPolicy string

const (
	ResetKeep    ResetPolicy = "keep"
	ResetOnClose ResetPolicy = "on_close"
	ResetOnOpen  ResetPolicy = "on_open"
)

func (p ResetPolicy) Valid() bool {
	switch p {
	case ResetKeep, ResetOnClose, ResetOnOpen:
		return true
	}
	return false
}

type Config struct {
	// Reference line; 0 places it at half the frame width
	LinePos      float64
	SkipFrames   int
	Class        string
	MinConf      float32
	Invert       bool
	ResetPolicy  ResetPolicy
	IdleInterval time.Duration
}

// Deps are the collaborators of the frame loop.
type Deps struct {
	Source   iface.FrameSource
	Detector iface.Detector
	Tracker  *tracker.Tracker
	Machine  *session.Machine
	Renderer iface.Renderer
	Sink     iface.FrameSink
	Recorder iface.Recorder
	Log      *zap.Logger
}

// Status is the live view served on /api/status.
type Status struct {
	Door         string  `json:"door"`
	Entered      int     `json:"entered"`
	Exited       int     `json:"exited"`
	ActiveTracks int     `json:"active_tracks"`
	Frames       int     `json:"frames"`
	LinePos      float64 `json:"line_pos"`
	Inverted     bool    `json:"inverted"`
}

// Pipeline is the frame loop: door edge check, capture, throttled
// detection, tracking, counting and rendering.
type Pipeline struct {
	cfg Config
	Deps

	frames   int
	lastDets []iface.Detection

	// copies for Status, written by the loop
	mu      sync.Mutex
	tracks  int
	seen    int
	linePos float64
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.SkipFrames <= 0 {
		cfg.SkipFrames = 1
	}
	if deps.Recorder == nil {
		deps.Recorder = iface.NopRecorder{}
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if !cfg.ResetPolicy.Valid() {
		if cfg.ResetPolicy != "" {
			deps.Log.Warn("unknown reset policy, tracks are kept", zap.String("resetPolicy", string(cfg.ResetPolicy)))
		}
		cfg.ResetPolicy = ResetKeep
	}
	if cfg.LinePos > 0 {
		deps.Tracker.SetLinePos(cfg.LinePos)
	}
	return &Pipeline{cfg: cfg, Deps: deps, linePos: deps.Tracker.LinePos()}
}

// Run loops until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	p.Log.Info("frame loop started",
		zap.Int("skipFrames", p.cfg.SkipFrames),
		zap.Bool("invert", p.cfg.Invert),
		zap.String("resetPolicy", string(p.cfg.ResetPolicy)))
	for ctx.Err() == nil {
		if !p.Step(ctx) {
			sleep(ctx, readRetry)
		}
	}
	p.Log.Info("frame loop stopped", zap.Int("frames", p.frames))
}

// Step runs one loop iteration. It returns false when no frame could be read.
func (p *Pipeline) Step(ctx context.Context) bool {
	p.onTransition(p.Machine.Observe(ctx))

	if p.Machine.State() == session.DoorClosed {
		p.idle(ctx)
		return true
	}

	frame, ok := p.Source.Read()
	if !ok {
		return false
	}
	defer frame.Close()
	p.frames++

	if p.cfg.LinePos <= 0 {
		p.Tracker.SetLinePos(float64(frame.Width() / 2))
	}

	detected := p.frames%p.cfg.SkipFrames == 0
	if detected {
		p.detect(ctx, frame)
	}
	p.Recorder.Frame(detected)
	p.Recorder.Tracks(p.Tracker.Len())
	p.mu.Lock()
	p.tracks = p.Tracker.Len()
	p.seen = p.frames
	p.linePos = p.Tracker.LinePos()
	p.mu.Unlock()

	cur := p.Machine.Counters()
	jpeg, err := p.Renderer.Render(frame, iface.Overlay{
		LinePos:    int(p.Tracker.LinePos()),
		Detections: p.lastDets,
		Entered:    cur.Entered,
		Exited:     cur.Exited,
		Inverted:   p.cfg.Invert,
	})
	if err != nil {
		p.Log.Warn("render failed", zap.Error(err))
		return true
	}
	p.Sink.Publish(jpeg)
	return true
}

func (p *Pipeline) detect(ctx context.Context, frame iface.Frame) {
	dets, err := p.Detector.Detect(frame)
	if err != nil {
		// tracks are left untouched rather than aged on a failed frame
		p.Log.Warn("detection failed", zap.Error(err))
		return
	}
	p.lastDets = p.lastDets[:0]
	for _, det := range dets {
		if det.Class == p.cfg.Class && det.Conf > p.cfg.MinConf {
			p.lastDets = append(p.lastDets, det)
		}
	}
	centers := tracker.Centers(p.lastDets, p.cfg.Class, p.cfg.MinConf)
	for _, crossing := range p.Tracker.Update(centers) {
		p.Machine.Apply(ctx, crossing)
	}
}

func (p *Pipeline) idle(ctx context.Context) {
	p.Source.Drain()
	jpeg, err := p.Renderer.Idle(IdleMessage)
	if err != nil {
		p.Log.Warn("idle render failed", zap.Error(err))
	} else {
		p.Sink.Publish(jpeg)
	}
	sleep(ctx, p.cfg.IdleInterval)
}

func (p *Pipeline) onTransition(tr session.Transition) {
	if tr == session.NoChange {
		return
	}
	p.lastDets = nil
	if (tr == session.Closed && p.cfg.ResetPolicy == ResetOnClose) ||
		(tr == session.Opened && p.cfg.ResetPolicy == ResetOnOpen) {
		p.Tracker.Reset()
		p.Log.Debug("tracks cleared", zap.Stringer("transition", tr))
	}
}

func (p *Pipeline) Status() Status {
	cur := p.Machine.Counters()
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Door:         p.Machine.State().String(),
		Entered:      cur.Entered,
		Exited:       cur.Exited,
		ActiveTracks: p.tracks,
		Frames:       p.seen,
		LinePos:      p.linePos,
		Inverted:     p.cfg.Invert,
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
