package stream

import (
	"sync"

	"github.com/hybridgroup/mjpeg"
)

// Latest holds the most recently rendered JPEG. The frame loop writes it,
// HTTP handlers read it; both sides work on their own copy.
type Latest struct {
	mu     sync.Mutex
	jpeg   []byte
	stream *mjpeg.Stream
}

func NewLatest() *Latest {
	return &Latest{stream: mjpeg.NewStream()}
}

func (l *Latest) Publish(jpeg []byte) {
	buf := append([]byte(nil), jpeg...)
	l.mu.Lock()
	l.jpeg = buf
	l.mu.Unlock()
	l.stream.UpdateJPEG(buf)
}

// Snapshot returns a copy of the latest frame, nil before the first one.
func (l *Latest) Snapshot() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jpeg == nil {
		return nil
	}
	return append([]byte(nil), l.jpeg...)
}

// Stream is the multipart MJPEG handler fed by Publish.
func (l *Latest) Stream() *mjpeg.Stream {
	return l.stream
}
