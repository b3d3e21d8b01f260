package engine

import (
	"image"
	"os"
	"strings"
	"sync"

	iface "PassengerCounter/interface"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Detector runs a MobileNet-SSD Caffe model through the OpenCV DNN module.
type Detector struct {
	Prototxt  string
	ModelPath string
	Names     []string
	Conf      float32
	State     int

	mu  sync.Mutex
	net gocv.Net
}

func (d *Detector) New() bool {
	d.State = REGISTERED
	return true
}

func (d *Detector) CheckConfig() Config {
	return Config{
		Prototxt:  d.Prototxt,
		ModelPath: d.ModelPath,
		Names:     d.Names,
		Conf:      d.Conf,
	}
}

func (d *Detector) LoadModel(prototxt, modelPath string, names []string, conf float32) error {
	if d.State == UNREGISTERED || d.State == 0 {
		return errors.New("detector not registered")
	}
	if !strings.HasSuffix(modelPath, ".caffemodel") {
		return errors.Errorf("LoadModel only supports .caffemodel, got %s", modelPath)
	}
	for _, path := range []string{prototxt, modelPath} {
		if _, err := os.Stat(path); err != nil {
			return errors.Wrap(err, "can't load model")
		}
	}
	if len(names) == 0 {
		return errors.New("class names are empty")
	}
	net := gocv.ReadNetFromCaffe(prototxt, modelPath)
	if net.Empty() {
		return errors.Errorf("can't read network from %s", modelPath)
	}
	_ = net.SetPreferableBackend(gocv.NetBackendDefault)
	_ = net.SetPreferableTarget(gocv.NetTargetCPU)

	d.net = net
	d.Prototxt = prototxt
	d.ModelPath = modelPath
	d.Names = append([]string(nil), names...)
	d.Conf = conf
	d.State = IDLE
	return nil
}

func (d *Detector) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.State == IDLE || d.State == BUSY {
		_ = d.net.Close()
	}
	d.Prototxt = ""
	d.ModelPath = ""
	d.Names = nil
	d.Conf = 0
	d.State = UNREGISTERED
}

// Detect returns every detection above the confidence threshold, in the
// order the network reports them.
func (d *Detector) Detect(frame iface.Frame) ([]iface.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.State {
	case 0, UNREGISTERED:
		return nil, errors.New("detector not registered")
	case REGISTERED:
		return nil, errors.New("model not loaded")
	case BUSY:
		return nil, errors.New("detector is busy")
	}
	mf, ok := frame.(*MatFrame)
	if !ok {
		return nil, errors.Errorf("unsupported frame type %T", frame)
	}
	if mf.Mat.Empty() {
		return nil, errors.New("empty frame")
	}
	d.State = BUSY
	defer func() { d.State = IDLE }()

	blob := gocv.BlobFromImage(mf.Mat, scaleFactor, image.Pt(InputSize, InputSize),
		gocv.NewScalar(meanValue, meanValue, meanValue, 0), false, false)
	defer blob.Close()
	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	values, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "can't read network output")
	}
	return decode(values, mf.Width(), mf.Height(), d.Names, d.Conf), nil
}

// decode turns SSD output rows into detections in frame pixels.
func decode(values []float32, width, height int, names []string, minConf float32) []iface.Detection {
	var dets []iface.Detection
	w, h := float32(width), float32(height)
	for i := 0; i+rowLen <= len(values); i += rowLen {
		conf := values[i+2]
		if conf <= minConf {
			continue
		}
		classIdx := int(values[i+1])
		if classIdx < 0 || classIdx >= len(names) {
			continue
		}
		box := iface.Box{
			LT: iface.Position{X: clamp(values[i+3]) * w, Y: clamp(values[i+4]) * h},
			RB: iface.Position{X: clamp(values[i+5]) * w, Y: clamp(values[i+6]) * h},
		}
		center := iface.Position{
			X: (box.LT.X + box.RB.X) / 2,
			Y: (box.LT.Y + box.RB.Y) / 2,
		}
		dets = append(dets, iface.Detection{
			Class:  names[classIdx],
			Conf:   conf,
			Box:    box,
			Center: center,
		})
	}
	return dets
}

func clamp(v float32) float32 {
	return min(max(v, 0), 1)
}
