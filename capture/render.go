package capture

import (
	"fmt"
	"image"
	"image/color"

	"PassengerCounter/engine"
	iface "PassengerCounter/interface"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var (
	yellow = color.RGBA{255, 255, 0, 0}
	green  = color.RGBA{0, 255, 0, 0}
	red    = color.RGBA{255, 0, 0, 0}
	white  = color.RGBA{255, 255, 255, 0}
)

// Renderer draws the counting overlay and encodes frames as JPEG.
type Renderer struct {
	// size of the idle placeholder
	Width, Height int
	Quality       int
}

func NewRenderer(width, height int) *Renderer {
	return &Renderer{Width: width, Height: height, Quality: 80}
}

// Render draws onto the frame in place and returns it encoded.
func (r *Renderer) Render(frame iface.Frame, ov iface.Overlay) ([]byte, error) {
	mf, ok := frame.(*engine.MatFrame)
	if !ok {
		return nil, errors.Errorf("unsupported frame type %T", frame)
	}
	img := &mf.Mat
	w, h := mf.Width(), mf.Height()

	gocv.Line(img, image.Pt(ov.LinePos, 0), image.Pt(ov.LinePos, h), yellow, 2)
	for _, det := range ov.Detections {
		rect := image.Rect(int(det.Box.LT.X), int(det.Box.LT.Y), int(det.Box.RB.X), int(det.Box.RB.Y))
		gocv.Rectangle(img, rect, green, 1)
	}

	// the arrow points the way counted as entering
	if ov.Inverted {
		gocv.ArrowedLine(img, image.Pt(60, 20), image.Pt(20, 20), green, 2)
		gocv.PutText(img, "IN", image.Pt(20, 40), gocv.FontHersheySimplex, 0.5, green, 2)
	} else {
		gocv.ArrowedLine(img, image.Pt(w-60, 20), image.Pt(w-20, 20), green, 2)
		gocv.PutText(img, "IN", image.Pt(w-55, 40), gocv.FontHersheySimplex, 0.5, green, 2)
	}
	gocv.PutText(img, fmt.Sprintf("S_IN: %d", ov.Entered), image.Pt(10, 20), gocv.FontHersheySimplex, 0.5, green, 1)
	gocv.PutText(img, fmt.Sprintf("S_OUT: %d", ov.Exited), image.Pt(10, 40), gocv.FontHersheySimplex, 0.5, red, 1)

	return r.encode(*img)
}

// Idle renders a black placeholder carrying message.
func (r *Renderer) Idle(message string) ([]byte, error) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), r.Height, r.Width, gocv.MatTypeCV8UC3)
	defer img.Close()
	gocv.PutText(&img, message, image.Pt(20, r.Height/2), gocv.FontHersheySimplex, 0.6, white, 1)
	return r.encode(img)
}

func (r *Renderer) encode(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, r.Quality})
	if err != nil {
		return nil, errors.Wrap(err, "can't encode frame")
	}
	defer buf.Close()
	// buf is owned by OpenCV, copy before release
	return append([]byte(nil), buf.GetBytes()...), nil
}
