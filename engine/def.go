package engine

import (
	iface "PassengerCounter/interface"

	"gocv.io/x/gocv"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004

// MobileNet-SSD preprocessing: (pixel - 127.5) / 127.5 on a 300x300 input.
const (
	InputSize   = 300
	scaleFactor = 0.007843
	meanValue   = 127.5
	// values per detection row: image id, class id, confidence, x1, y1, x2, y2
	rowLen = 7
)

type Config struct {
	Prototxt  string
	ModelPath string
	Names     []string
	Conf      float32
}

// MatFrame is a captured image backed by an OpenCV matrix.
type MatFrame struct {
	Mat gocv.Mat
}

func (f *MatFrame) Width() int {
	return f.Mat.Cols()
}

func (f *MatFrame) Height() int {
	return f.Mat.Rows()
}

func (f *MatFrame) Close() error {
	return f.Mat.Close()
}

var _ iface.Frame = (*MatFrame)(nil)
