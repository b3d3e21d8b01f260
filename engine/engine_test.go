package engine

import (
	"os"
	"path/filepath"
	"testing"

	iface "PassengerCounter/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

var names = []string{"background", "bus", "person"}

func TestDetector_All(t *testing.T) {
	d := &Detector{}

	t.Run("Test Detect Unregistered", func(t *testing.T) {
		_, err := d.Detect(&MatFrame{Mat: gocv.NewMat()})
		assert.EqualError(t, err, "detector not registered")
	})

	t.Run("Test New", func(t *testing.T) {
		assert.True(t, d.New())
		assert.Equal(t, REGISTERED, d.State)
	})

	t.Run("Test Detect Without Model", func(t *testing.T) {
		_, err := d.Detect(&MatFrame{Mat: gocv.NewMat()})
		assert.EqualError(t, err, "model not loaded")
	})

	t.Run("Test LoadModel", func(t *testing.T) {
		dir := t.TempDir()
		proto := filepath.Join(dir, "ssd.prototxt")
		require.NoError(t, os.WriteFile(proto, []byte("name: \"x\"\n"), 0o644))

		err := d.LoadModel(proto, filepath.Join(dir, "ssd.onnx"), names, 0.4)
		assert.Error(t, err)
		err = d.LoadModel(proto, filepath.Join(dir, "missing.caffemodel"), names, 0.4)
		assert.Error(t, err)
		assert.Equal(t, REGISTERED, d.State)
	})

	t.Run("Test Destroy", func(t *testing.T) {
		d.Destroy()
		assert.Equal(t, "", d.ModelPath)
		assert.Equal(t, float32(0), d.Conf)
		assert.Nil(t, d.Names)
		assert.Equal(t, UNREGISTERED, d.State)
	})
}

func TestDecode(t *testing.T) {
	values := []float32{
		0, 2, 0.9, 0.1, 0.2, 0.3, 0.8,
		0, 1, 0.95, 0.5, 0.5, 1.2, 1.0,
		0, 2, 0.4, 0.0, 0.0, 0.5, 0.5, // at the threshold, dropped
		0, 9, 0.99, 0.0, 0.0, 0.5, 0.5, // unknown class
		0, 2, 0.7, // truncated row
	}
	dets := decode(values, 300, 200, names, 0.4)
	require.Len(t, dets, 2)

	assert.Equal(t, "person", dets[0].Class)
	assert.InDelta(t, 30, dets[0].Box.LT.X, 1e-3)
	assert.InDelta(t, 40, dets[0].Box.LT.Y, 1e-3)
	assert.InDelta(t, 90, dets[0].Box.RB.X, 1e-3)
	assert.InDelta(t, 160, dets[0].Box.RB.Y, 1e-3)
	assert.InDelta(t, 60, dets[0].Center.X, 1e-3)
	assert.InDelta(t, 100, dets[0].Center.Y, 1e-3)

	// coordinates past the frame edge are clamped
	assert.Equal(t, "bus", dets[1].Class)
	assert.Equal(t, iface.Position{X: 300, Y: 200}, dets[1].Box.RB)
}

func TestMatFrame(t *testing.T) {
	f := &MatFrame{Mat: gocv.NewMatWithSize(225, 300, gocv.MatTypeCV8UC3)}
	assert.Equal(t, 300, f.Width())
	assert.Equal(t, 225, f.Height())
	assert.NoError(t, f.Close())
}
