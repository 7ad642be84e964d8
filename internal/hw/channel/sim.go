package channel

import (
	"fmt"

	"github.com/coreimaging/stereocam/internal/debug"
)

// Sim is a simulated channel for development off-device.
// Frames are deterministic for a given (id, exposure) so captures can be
// compared in tests: a diagonal gradient tinted per channel, with overall
// brightness scaled by the current exposure.
type Sim struct {
	id       int
	settings Settings
	exposure int
	focus    float64
	opened   bool
	running  bool
}

// NewSim creates a simulated channel with the given identity.
func NewSim(id int) *Sim {
	return &Sim{id: id, exposure: 10000}
}

func (s *Sim) ID() int { return s.id }

func (s *Sim) Open(set Settings) error {
	debug.Channel("Open (sim)", s.id, fmt.Sprintf("%dx%d", set.WidthPx, set.HeightPx))
	if set.WidthPx <= 0 || set.HeightPx <= 0 {
		return fmt.Errorf("sim channel %d: invalid resolution %dx%d", s.id, set.WidthPx, set.HeightPx)
	}
	s.settings = set
	s.opened = true
	return nil
}

func (s *Sim) Start() error {
	debug.Channel("Start (sim)", s.id, nil)
	if !s.opened {
		return fmt.Errorf("sim channel %d: not opened", s.id)
	}
	s.running = true
	return nil
}

func (s *Sim) Stop() error {
	debug.Channel("Stop (sim)", s.id, nil)
	s.running = false
	s.opened = false
	return nil
}

func (s *Sim) Capture() (*Frame, error) {
	if !s.running {
		return nil, fmt.Errorf("sim channel %d: not streaming", s.id)
	}

	f := NewFrame(s.settings.WidthPx, s.settings.HeightPx)

	// Brightness tracks exposure so brighter/darker adjustments are visible
	// in the preview. 10000µs maps to mid brightness.
	bright := s.exposure / 100
	if bright > 255 {
		bright = 255
	}

	i := 0
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			g := byte((x + y) * 255 / (f.Width + f.Height))
			f.Pix[i+0] = scalePix(g, bright)
			f.Pix[i+1] = scalePix(g, bright)
			f.Pix[i+2] = scalePix(g, bright)
			// Tint one color plane per channel so left/right are told apart.
			if s.id == 0 {
				f.Pix[i+0] = scalePix(255-g, bright)
			} else {
				f.Pix[i+2] = scalePix(255-g, bright)
			}
			i += 3
		}
	}
	return f, nil
}

func scalePix(v byte, bright int) byte {
	return byte(int(v) * bright / 255)
}

func (s *Sim) SetExposure(us int) error {
	debug.Channel("SetExposure (sim)", s.id, us)
	if !s.opened {
		return fmt.Errorf("sim channel %d: not opened", s.id)
	}
	s.exposure = us
	return nil
}

func (s *Sim) SetFocus(pos float64) error {
	debug.Channel("SetFocus (sim)", s.id, pos)
	if !s.opened {
		return fmt.Errorf("sim channel %d: not opened", s.id)
	}
	s.focus = pos
	return nil
}

// Focus returns the last applied lens position (test hook).
func (s *Sim) Focus() float64 { return s.focus }

// Exposure returns the last applied exposure in microseconds (test hook).
func (s *Sim) Exposure() int { return s.exposure }
