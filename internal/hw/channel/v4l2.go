package channel

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/coreimaging/stereocam/internal/debug"
)

// V4L2 is a Channel implementation backed by a V4L2 device through gocv.
// Exposure and focus use the absolute controls of the UVC/libcamera stack;
// auto modes are switched off on Open so the operator's manual adjustments
// are the only thing driving the sensor.
type V4L2 struct {
	id  int
	cap *gocv.VideoCapture
}

// NewV4L2 creates a hardware channel addressing /dev/video<id>.
func NewV4L2(id int) *V4L2 {
	return &V4L2{id: id}
}

func (v *V4L2) ID() int { return v.id }

func (v *V4L2) Open(s Settings) error {
	debug.Channel("Open (v4l2)", v.id, fmt.Sprintf("%dx%d", s.WidthPx, s.HeightPx))

	cap, err := gocv.OpenVideoCapture(v.id)
	if err != nil {
		return fmt.Errorf("open video device %d: %w", v.id, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("video device %d is not available", v.id)
	}

	cap.Set(gocv.VideoCaptureFrameWidth, float64(s.WidthPx))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(s.HeightPx))

	// Manual exposure (V4L2: 1 = manual mode) and manual focus.
	cap.Set(gocv.VideoCaptureAutoExposure, 1)
	cap.Set(gocv.VideoCaptureAutoFocus, 0)

	v.cap = cap
	return nil
}

func (v *V4L2) Start() error {
	debug.Channel("Start (v4l2)", v.id, nil)
	if v.cap == nil {
		return fmt.Errorf("channel %d: not opened", v.id)
	}
	// V4L2 devices stream as soon as frames are read; grab one frame to
	// confirm the pipeline delivers.
	mat := gocv.NewMat()
	defer mat.Close()
	if ok := v.cap.Read(&mat); !ok || mat.Empty() {
		return fmt.Errorf("channel %d: no frames from device", v.id)
	}
	return nil
}

func (v *V4L2) Stop() error {
	debug.Channel("Stop (v4l2)", v.id, nil)
	if v.cap == nil {
		return nil
	}
	err := v.cap.Close()
	v.cap = nil
	if err != nil {
		return fmt.Errorf("close video device %d: %w", v.id, err)
	}
	return nil
}

func (v *V4L2) Capture() (*Frame, error) {
	if v.cap == nil {
		return nil, fmt.Errorf("channel %d: not opened", v.id)
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := v.cap.Read(&mat); !ok || mat.Empty() {
		return nil, fmt.Errorf("channel %d: capture read failed", v.id)
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(mat, &rgb, gocv.ColorBGRToRGB)

	f := &Frame{
		Width:    rgb.Cols(),
		Height:   rgb.Rows(),
		Channels: rgb.Channels(),
		Pix:      rgb.ToBytes(),
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("channel %d: %w", v.id, err)
	}
	return f, nil
}

func (v *V4L2) SetExposure(us int) error {
	debug.Channel("SetExposure (v4l2)", v.id, us)
	if v.cap == nil {
		return fmt.Errorf("channel %d: not opened", v.id)
	}
	// V4L2 exposure_time_absolute is in 100µs units.
	v.cap.Set(gocv.VideoCaptureExposure, float64(us)/100.0)
	return nil
}

func (v *V4L2) SetFocus(pos float64) error {
	debug.Channel("SetFocus (v4l2)", v.id, pos)
	if v.cap == nil {
		return fmt.Errorf("channel %d: not opened", v.id)
	}
	// Fixed-focus modules ignore the control; the discrete step state
	// still advances so the operator sees consistent behavior.
	v.cap.Set(gocv.VideoCaptureFocus, pos)
	return nil
}
