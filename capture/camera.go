package capture

import (
	"image"
	"strconv"

	"PassengerCounter/engine"
	iface "PassengerCounter/interface"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

type CameraConfig struct {
	Device string
	Width  int
	Height int
	FPS    int
	// 90° clockwise, applied after resizing
	Rotate bool
}

// Camera reads frames from a local device or a file/stream URL, resized to
// the configured size.
type Camera struct {
	cfg     CameraConfig
	capture *gocv.VideoCapture
	scratch gocv.Mat
	log     *zap.Logger
}

func OpenCamera(cfg CameraConfig, log *zap.Logger) (*Camera, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var (
		capture *gocv.VideoCapture
		err     error
	)
	if id, convErr := strconv.Atoi(cfg.Device); convErr == nil {
		capture, err = gocv.VideoCaptureDevice(id)
	} else {
		capture, err = gocv.VideoCaptureFile(cfg.Device)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "can't open camera %s", cfg.Device)
	}
	capture.Set(gocv.VideoCaptureFOURCC, capture.ToCodec("MJPG"))
	if cfg.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}
	capture.Set(gocv.VideoCaptureBufferSize, 1)
	log.Info("camera opened",
		zap.String("device", cfg.Device),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Bool("rotate", cfg.Rotate))
	return &Camera{cfg: cfg, capture: capture, scratch: gocv.NewMat(), log: log}, nil
}

func (c *Camera) Read() (iface.Frame, bool) {
	raw := gocv.NewMat()
	if ok := c.capture.Read(&raw); !ok || raw.Empty() {
		_ = raw.Close()
		return nil, false
	}
	frame := gocv.NewMat()
	gocv.Resize(raw, &frame, image.Pt(c.cfg.Width, c.cfg.Height), 0, 0, gocv.InterpolationLinear)
	_ = raw.Close()
	if c.cfg.Rotate {
		rotated := gocv.NewMat()
		gocv.Rotate(frame, &rotated, gocv.Rotate90Clockwise)
		_ = frame.Close()
		frame = rotated
	}
	return &engine.MatFrame{Mat: frame}, true
}

// Drain grabs one frame into a reused buffer and drops it.
func (c *Camera) Drain() {
	c.capture.Read(&c.scratch)
}

func (c *Camera) Close() error {
	_ = c.scratch.Close()
	return c.capture.Close()
}
