package channel

// Settings holds the capture configuration applied to a channel on Open.
// Both channels of a stereo pair are opened with identical settings.
type Settings struct {
	WidthPx  int
	HeightPx int
}

// Channel is the abstract interface for one sensor of the stereo pair,
// regardless of how it is controlled (V4L2, simulated, etc.).
// This allows plugging in real hardware on the device or a simulated
// channel for development on PC.
//
// Implementations are not required to be safe for concurrent use; the
// stereo controller serializes all access behind its own lock.
type Channel interface {
	// ID returns the channel identity (0 or 1).
	ID() int

	// Open acquires the device and applies the capture settings.
	Open(s Settings) error

	// Start begins streaming. Must be called after Open.
	Start() error

	// Stop ends streaming and releases the device. Idempotent.
	Stop() error

	// Capture grabs a single full-resolution frame.
	Capture() (*Frame, error)

	// SetExposure applies a manual exposure time in microseconds.
	SetExposure(us int) error

	// SetFocus moves the lens to a continuous position within the
	// actuator's supported range.
	SetFocus(pos float64) error
}
