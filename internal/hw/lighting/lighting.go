package lighting

import (
	"github.com/coreimaging/stereocam/internal/debug"
	"github.com/coreimaging/stereocam/internal/hw/gpio"
)

// Ring drives the LED ring light around the lens pair via a single GPIO
// line. Core photographs need the same illumination on every segment, so
// the ring is switched on for the duration of a capture and off again
// afterwards. Pin 0 means no ring is fitted; all operations become no-ops.
type Ring struct {
	gpio gpio.Driver
	pin  int
	on   bool
}

// NewRing creates a lighting ring on the given pin (BCM numbering).
func NewRing(g gpio.Driver, pin int) *Ring {
	if pin > 0 {
		_ = g.SetupOutput(pin)
		_ = g.WritePin(pin, gpio.Low)
	}
	return &Ring{gpio: g, pin: pin}
}

// On switches the ring on.
func (r *Ring) On() error {
	if r.pin <= 0 {
		return nil
	}
	debug.Trace("Lighting: ring on (pin %d)", r.pin)
	if err := r.gpio.WritePin(r.pin, gpio.High); err != nil {
		return err
	}
	r.on = true
	return nil
}

// Off switches the ring off.
func (r *Ring) Off() error {
	if r.pin <= 0 {
		return nil
	}
	debug.Trace("Lighting: ring off (pin %d)", r.pin)
	if err := r.gpio.WritePin(r.pin, gpio.Low); err != nil {
		return err
	}
	r.on = false
	return nil
}

// IsOn reports whether the ring is currently lit.
func (r *Ring) IsOn() bool { return r.on }
