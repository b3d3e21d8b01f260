package iface

import "context"

// Gateway is the remote key-value store holding the passenger total.
type Gateway interface {
	ReadSnapshot(ctx context.Context) (Snapshot, error)
	Update(ctx context.Context, fields map[string]any) error
	AppendLog(ctx context.Context, entry LogEntry) error
	Subscribe(ctx context.Context, path string) (<-chan ChangeEvent, error)
}

// Frame is a captured image owned by the caller until Close.
type Frame interface {
	Width() int
	Height() int
	Close() error
}

type FrameSource interface {
	// Read returns the next frame. ok is false when no frame was available.
	Read() (frame Frame, ok bool)
	// Drain grabs and discards a frame so the device buffer stays fresh.
	Drain()
}

type Detector interface {
	Detect(frame Frame) ([]Detection, error)
}

// Overlay is everything drawn on top of an active frame.
type Overlay struct {
	LinePos    int
	Detections []Detection
	Entered    int
	Exited     int
	Inverted   bool
}

type Renderer interface {
	Render(frame Frame, overlay Overlay) ([]byte, error)
	Idle(message string) ([]byte, error)
}

// FrameSink receives encoded frames for presentation.
type FrameSink interface {
	Publish(jpeg []byte)
}

// Recorder observes counter activity. Implementations must not block.
type Recorder interface {
	Crossing(event string, entered, exited int)
	Committed(total, entered, exited int, err error)
	DoorChanged(open bool)
	Tracks(n int)
	Frame(detected bool)
}

type NopRecorder struct{}

func (NopRecorder) Crossing(string, int, int)      {}
func (NopRecorder) Committed(int, int, int, error) {}
func (NopRecorder) DoorChanged(bool)               {}
func (NopRecorder) Tracks(int)                     {}
func (NopRecorder) Frame(bool)                     {}

// Recorders fans every call out to each recorder in order.
type Recorders []Recorder

func (rs Recorders) Crossing(event string, entered, exited int) {
	for _, r := range rs {
		r.Crossing(event, entered, exited)
	}
}

func (rs Recorders) Committed(total, entered, exited int, err error) {
	for _, r := range rs {
		r.Committed(total, entered, exited, err)
	}
}

func (rs Recorders) DoorChanged(open bool) {
	for _, r := range rs {
		r.DoorChanged(open)
	}
}

func (rs Recorders) Tracks(n int) {
	for _, r := range rs {
		r.Tracks(n)
	}
}

func (rs Recorders) Frame(detected bool) {
	for _, r := range rs {
		r.Frame(detected)
	}
}
