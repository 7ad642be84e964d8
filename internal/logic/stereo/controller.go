package stereo

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/coreimaging/stereocam/internal/debug"
	"github.com/coreimaging/stereocam/internal/hw/channel"
	"github.com/coreimaging/stereocam/internal/hw/lighting"
)

// ErrNotInitialized is returned by operations that require both channels
// to be streaming.
var ErrNotInitialized = errors.New("stereo: channels not initialized")

// ErrFocusAtLimit reports a focus adjustment that would not change the
// step because it is already at a boundary. This is a no-op, not a
// hardware failure; callers surface it differently.
var ErrFocusAtLimit = errors.New("stereo: focus step already at limit")

// ExposureDirection selects brighter or darker for the shared exposure.
type ExposureDirection int

const (
	Brighter ExposureDirection = iota
	Darker
)

// FocusDirection moves a channel's discrete focus step up or down.
type FocusDirection int

const (
	FocusIncrease FocusDirection = iota
	FocusDecrease
)

// exposureFactor is the multiplicative step applied per adjustment.
const exposureFactor = 1.5

// Params holds the controller configuration derived from config.Config.
type Params struct {
	WidthPx       int
	HeightPx      int
	ExposureMinUs int
	ExposureMaxUs int
	DefaultExpoUs int
	FocusSteps    int           // discrete lens positions per channel
	FocusMin      float64       // continuous position at step 0
	FocusMax      float64       // continuous position at the last step
	Stabilize     time.Duration // settle time after starting both channels
	PreviewWidth  int
	PreviewHeight int
	JPEGQuality   int
}

// Status is a snapshot of the stereo unit.
type Status struct {
	Initialized bool       `json:"initialized"`
	FocusSteps  [2]int     `json:"focus_steps"`
	ExposureUs  int        `json:"exposure_us"`
	WidthPx     int        `json:"width_px"`
	HeightPx    int        `json:"height_px"`
	LensPos     [2]float64 `json:"lens_positions"`
}

// Pair holds the two raw frames of one stereo capture. It exists only
// transiently between a capture and a confirmed save or discard.
type Pair struct {
	Frames [2]*channel.Frame
	Taken  time.Time
}

// Controller maintains two camera channels as a single logical stereo
// unit. Focus is per-channel and discrete; exposure is shared and
// continuous. A single mutex serializes every hardware-touching
// operation so a background preview poll never races a capture.
type Controller struct {
	mu sync.Mutex

	params   Params
	channels [2]channel.Channel
	ring     *lighting.Ring

	focusStep [2]int
	exposure  float64 // shared, microseconds
	initOK    bool
}

// NewController creates a stereo controller over two channels.
// The lighting ring may be nil when no ring is fitted.
func NewController(ch0, ch1 channel.Channel, ring *lighting.Ring, p Params) *Controller {
	mid := (p.FocusSteps - 1) / 2
	return &Controller{
		params:    p,
		channels:  [2]channel.Channel{ch0, ch1},
		ring:      ring,
		focusStep: [2]int{mid, mid},
		exposure:  float64(p.DefaultExpoUs),
	}
}

// Initialize opens and configures both channels with matching settings,
// starts streaming and waits for the sensors to stabilize. On any failure
// every channel already started is stopped again; the controller never
// ends up with one channel running and the other dead.
func (c *Controller) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initOK {
		return nil
	}

	debug.Section("Initializing stereo channels")
	settings := channel.Settings{WidthPx: c.params.WidthPx, HeightPx: c.params.HeightPx}

	started := 0
	rollback := func() {
		for i := 0; i < started; i++ {
			_ = c.channels[i].Stop()
		}
	}

	for i, ch := range c.channels {
		if err := ch.Open(settings); err != nil {
			rollback()
			return fmt.Errorf("stereo: open channel %d: %w", i, err)
		}
		if err := ch.Start(); err != nil {
			_ = ch.Stop()
			rollback()
			return fmt.Errorf("stereo: start channel %d: %w", i, err)
		}
		started = i + 1
	}

	debug.Verbose("Waiting %v for sensors to stabilize", c.params.Stabilize)
	time.Sleep(c.params.Stabilize)

	for i, ch := range c.channels {
		if err := ch.SetExposure(int(c.exposure)); err != nil {
			rollback()
			return fmt.Errorf("stereo: apply exposure to channel %d: %w", i, err)
		}
		if err := ch.SetFocus(c.focusPosition(c.focusStep[i])); err != nil {
			rollback()
			return fmt.Errorf("stereo: apply focus to channel %d: %w", i, err)
		}
	}

	c.initOK = true
	debug.Info("Stereo channels initialized (%dx%d, exposure %dµs)",
		c.params.WidthPx, c.params.HeightPx, int(c.exposure))
	return nil
}

// CapturePair captures from both channels as close to simultaneously as
// the device layer allows. Either both frames come back or an error does;
// there is no partial pair. The lighting ring is lit for the duration.
func (c *Controller) CapturePair() (*Pair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initOK {
		return nil, ErrNotInitialized
	}

	if c.ring != nil {
		_ = c.ring.On()
		defer c.ring.Off()
	}

	debug.Live("Capturing stereo pair")
	f0, err := c.channels[0].Capture()
	if err != nil {
		return nil, fmt.Errorf("stereo: capture channel 0: %w", err)
	}
	f1, err := c.channels[1].Capture()
	if err != nil {
		return nil, fmt.Errorf("stereo: capture channel 1: %w", err)
	}

	return &Pair{Frames: [2]*channel.Frame{f0, f1}, Taken: time.Now()}, nil
}

// SavePair encodes both frames as JPEG under basePath with the per-channel
// suffixes -1 and -2. The files carry the capture time as their
// modification time, since the operator may confirm a review long after
// the shutter. On any write failure files already written for this pair
// are removed again so no partial record stays on disk.
func (c *Controller) SavePair(pair *Pair, basePath string) ([]string, error) {
	if pair == nil {
		return nil, errors.New("stereo: nil pair")
	}

	if err := os.MkdirAll(filepath.Dir(basePath), 0o755); err != nil {
		return nil, fmt.Errorf("stereo: create output directory: %w", err)
	}

	paths := []string{basePath + "-1.jpg", basePath + "-2.jpg"}
	var written []string
	for i, frame := range pair.Frames {
		if err := writeJPEG(paths[i], frame, c.params.JPEGQuality); err != nil {
			for _, p := range written {
				_ = os.Remove(p)
			}
			return nil, fmt.Errorf("stereo: write %s: %w", paths[i], err)
		}
		written = append(written, paths[i])
		if !pair.Taken.IsZero() {
			_ = os.Chtimes(paths[i], pair.Taken, pair.Taken)
		}
		debug.Verbose("Wrote %s", paths[i])
	}
	return paths, nil
}

func writeJPEG(path string, frame *channel.Frame, quality int) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, frame.ToImage(), &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// AdjustExposure multiplies or divides the shared exposure by 1.5, clamps
// it to the configured range and applies it to both channels atomically.
// Adjusting at a boundary is still a success: clamping is idempotent and
// the scale simply compresses toward the bound.
func (c *Controller) AdjustExposure(dir ExposureDirection) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initOK {
		return ErrNotInitialized
	}

	next := c.exposure
	switch dir {
	case Brighter:
		next *= exposureFactor
	case Darker:
		next /= exposureFactor
	default:
		return fmt.Errorf("stereo: unknown exposure direction %d", dir)
	}

	if next > float64(c.params.ExposureMaxUs) {
		next = float64(c.params.ExposureMaxUs)
	}
	if next < float64(c.params.ExposureMinUs) {
		next = float64(c.params.ExposureMinUs)
	}

	for i, ch := range c.channels {
		if err := ch.SetExposure(int(next)); err != nil {
			// Keep the pair in lockstep: undo channels already updated
			// before reporting the failure.
			for j := 0; j < i; j++ {
				_ = c.channels[j].SetExposure(int(c.exposure))
			}
			return fmt.Errorf("stereo: apply exposure to channel %d: %w", i, err)
		}
	}

	c.exposure = next
	debug.Adjust("exposure", -1, fmt.Sprintf("%dµs", int(next)))
	return nil
}

// AdjustFocus moves the addressed channel's discrete step by one within
// [0, FocusSteps-1]. A move that would not change the step returns
// ErrFocusAtLimit with the step unchanged; this is how the controller
// tells the operator the actuator is exhausted, distinct from a hardware
// error.
func (c *Controller) AdjustFocus(dir FocusDirection, chanIdx int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initOK {
		return ErrNotInitialized
	}
	if chanIdx < 0 || chanIdx > 1 {
		return fmt.Errorf("stereo: invalid channel index %d", chanIdx)
	}

	step := c.focusStep[chanIdx]
	switch dir {
	case FocusIncrease:
		step++
	case FocusDecrease:
		step--
	default:
		return fmt.Errorf("stereo: unknown focus direction %d", dir)
	}

	if step < 0 || step > c.params.FocusSteps-1 {
		return ErrFocusAtLimit
	}

	pos := c.focusPosition(step)
	if err := c.channels[chanIdx].SetFocus(pos); err != nil {
		return fmt.Errorf("stereo: apply focus to channel %d: %w", chanIdx, err)
	}

	c.focusStep[chanIdx] = step
	debug.Adjust("focus", chanIdx, fmt.Sprintf("step %d/%d -> position %.3f", step, c.params.FocusSteps-1, pos))
	return nil
}

// focusPosition converts a discrete step to a continuous lens position by
// linear interpolation over the configured range.
func (c *Controller) focusPosition(step int) float64 {
	span := c.params.FocusMax - c.params.FocusMin
	return c.params.FocusMin + float64(step)*span/float64(c.params.FocusSteps-1)
}

// PreviewFrame returns a frame from the named channel downscaled to fit
// the configured preview box. It returns nil when the controller is not
// initialized or on a transient device error; preview never propagates
// failures to the caller.
func (c *Controller) PreviewFrame(chanIdx int) *channel.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initOK || chanIdx < 0 || chanIdx > 1 {
		return nil
	}

	frame, err := c.channels[chanIdx].Capture()
	if err != nil {
		debug.Trace("preview capture channel %d failed: %v", chanIdx, err)
		return nil
	}
	return downscale(frame, c.params.PreviewWidth, c.params.PreviewHeight)
}

// downscale fits a frame into maxW x maxH preserving aspect ratio.
// Frames already small enough pass through untouched.
func downscale(f *channel.Frame, maxW, maxH int) *channel.Frame {
	if f.Width <= maxW && f.Height <= maxH {
		return f
	}

	sx := float64(maxW) / float64(f.Width)
	sy := float64(maxH) / float64(f.Height)
	scale := sx
	if sy < sx {
		scale = sy
	}
	w := int(float64(f.Width) * scale)
	h := int(float64(f.Height) * scale)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	src := f.ToImage()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return channel.FromImage(dst)
}

// Status returns a snapshot of both channels' focus steps, the shared
// exposure, the configured resolution and the initialization flag.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Initialized: c.initOK,
		FocusSteps:  c.focusStep,
		ExposureUs:  int(c.exposure),
		WidthPx:     c.params.WidthPx,
		HeightPx:    c.params.HeightPx,
		LensPos: [2]float64{
			c.focusPosition(c.focusStep[0]),
			c.focusPosition(c.focusStep[1]),
		},
	}
}

// Cleanup stops both channels and releases the device handles. It is
// idempotent and always safe to call, including during error unwinding.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, ch := range c.channels {
		if err := ch.Stop(); err != nil {
			debug.Verbose("stop channel %d: %v", i, err)
		}
	}
	if c.ring != nil {
		_ = c.ring.Off()
	}
	c.initOK = false
	debug.Info("Stereo channels released")
}
