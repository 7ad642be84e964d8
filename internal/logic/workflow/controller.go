package workflow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/coreimaging/stereocam/internal/debug"
	"github.com/coreimaging/stereocam/internal/logic/stereo"
	"github.com/coreimaging/stereocam/internal/storage"
)

// Camera is the slice of the stereo controller the workflow drives.
type Camera interface {
	CapturePair() (*stereo.Pair, error)
	SavePair(pair *stereo.Pair, basePath string) ([]string, error)
	AdjustExposure(dir stereo.ExposureDirection) error
	AdjustFocus(dir stereo.FocusDirection, chanIdx int) error
}

// Store is the slice of the storage manager the workflow drives.
type Store interface {
	GenerateFilePath(project, borehole string, depthFrom, depthTo float64) string
	Backup(paths []string) (storage.BackupResult, error)
}

// Notifier receives workflow output for the presentation layer: state
// changes, status lines and operator-visible errors. Implementations must
// not call back into the controller.
type Notifier interface {
	StateChanged(s State)
	Status(msg string)
	Error(msg string)
}

// Config holds the depth bookkeeping parameters.
type Config struct {
	SegmentLengthM float64 // auto-advance segment length
	DepthStepM     float64 // +/- adjustment of depth_to
}

// Controller drives the operator capture cycle: enter metadata, position,
// capture, review channel 1, review channel 2, save, auto-advance. Camera
// and storage failures never propagate as panics; every operator event
// returns a result the presentation layer can show.
type Controller struct {
	mu sync.Mutex

	state   State
	session *Session
	pending *stereo.Pair

	camera   Camera
	store    Store
	notifier Notifier
	cfg      Config
}

// NewController creates a workflow controller in the MainInput state.
func NewController(camera Camera, store Store, notifier Notifier, cfg Config) *Controller {
	return &Controller{
		state:    StateMainInput,
		camera:   camera,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
	}
}

// State returns the current workflow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active session, if metadata has been confirmed.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Pending returns the captured pair awaiting review, if any.
func (c *Controller) Pending() *stereo.Pair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// ConfirmMetadata validates the raw operator input and, when valid, moves
// from MainInput to Positioning. Validation failure surfaces immediately
// and changes no state.
func (c *Controller) ConfirmMetadata(project, borehole, depthFrom, depthTo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateMainInput {
		return fmt.Errorf("workflow: metadata can only be confirmed in %s (currently %s)", StateMainInput, c.state)
	}

	session, err := NewSession(project, borehole, depthFrom, depthTo)
	if err != nil {
		c.notifier.Error(err.Error())
		return err
	}

	c.session = &session
	c.notifier.Status("Session: " + session.Describe())
	c.setState(StatePositioning)
	return nil
}

// OK handles the operator's OK event for the current state: capture from
// Positioning, accept from the review states.
func (c *Controller) OK() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StatePositioning:
		return c.capture()
	case StateReviewingChannel1:
		c.notifier.Status("Channel 1 accepted")
		c.setState(StateReviewingChannel2)
		return nil
	case StateReviewingChannel2:
		c.notifier.Status("Channel 2 accepted")
		return c.save()
	case StateMainInput:
		return &ValidationError{Field: "metadata", Reason: "confirm project, borehole and depths first"}
	default:
		return fmt.Errorf("workflow: OK has no effect in state %s", c.state)
	}
}

// No handles the operator's NO event: rejecting either review discards the
// entire pending pair (a retake always recaptures both channels), and NO
// during Positioning cancels back to metadata input.
func (c *Controller) No() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateReviewingChannel1, StateReviewingChannel2:
		c.discardPending("Pair rejected, repositioning for retake")
		c.setState(StatePositioning)
		return nil
	case StatePositioning:
		c.setState(StateMainInput)
		c.notifier.Status("Back to metadata input")
		return nil
	default:
		return fmt.Errorf("workflow: NO has no effect in state %s", c.state)
	}
}

// capture runs the dual-channel capture. Called with the lock held.
func (c *Controller) capture() error {
	// Manual +/- adjustments can invert the range after metadata was
	// confirmed; no capture is permitted until it is fixed.
	if err := c.session.validateDepths(); err != nil {
		c.notifier.Error(err.Error())
		return err
	}

	c.setState(StateCapturing)

	pair, err := c.camera.CapturePair()
	if err != nil {
		c.notifier.Error("Capture failed: " + err.Error())
		c.setState(StatePositioning)
		return fmt.Errorf("workflow: capture: %w", err)
	}

	c.pending = pair
	c.notifier.Status("Pair captured, review channel 1")
	c.setState(StateReviewingChannel1)
	return nil
}

// save writes the accepted pair to primary storage, performs best-effort
// backup, advances the depth range and returns to Positioning. On a write
// failure the pending pair is retained so the operator can retry; a
// subsequent capture replaces it. Called with the lock held.
func (c *Controller) save() error {
	c.setState(StateSaving)

	session := *c.session
	base := c.store.GenerateFilePath(session.Project, session.Borehole, session.DepthFrom, session.DepthTo)

	paths, err := c.camera.SavePair(c.pending, base)
	if err != nil {
		c.notifier.Error("Save failed: " + err.Error())
		c.setState(StatePositioning)
		return fmt.Errorf("workflow: save: %w", err)
	}

	result, err := c.store.Backup(paths)
	switch {
	case errors.Is(err, storage.ErrNoRemovableMedia):
		c.notifier.Status("No removable media, backup skipped")
	case err != nil:
		c.notifier.Status("Backup failed: " + err.Error())
	case !result.OK():
		c.notifier.Status(fmt.Sprintf("Backup incomplete: %d errors", len(result.Errors)))
	default:
		c.notifier.Status(fmt.Sprintf("Backed up %d files", len(result.Copied)))
	}

	debug.Capture(session.Project, session.Borehole, session.DepthFrom, session.DepthTo)
	c.pending = nil

	advanced := session.Advanced(c.cfg.SegmentLengthM)
	c.session = &advanced
	c.notifier.Status(fmt.Sprintf("Saved. Next segment: %.2fm-%.2fm", advanced.DepthFrom, advanced.DepthTo))
	c.setState(StatePositioning)
	return nil
}

// AdjustDepth mutates depth_to of the active session by the configured
// step (positive or negative direction), clamped at zero. This is the only
// depth mutation outside the auto-advance.
func (c *Controller) AdjustDepth(increase bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return &ValidationError{Field: "depth_to", Reason: "no active session"}
	}

	step := c.cfg.DepthStepM
	if !increase {
		step = -step
	}
	adjusted := c.session.WithDepthTo(c.session.DepthTo + step)
	c.session = &adjusted
	c.notifier.Status(fmt.Sprintf("Depth to: %.2fm", adjusted.DepthTo))
	return nil
}

// AdjustExposure forwards a brighter/darker event to the camera.
func (c *Controller) AdjustExposure(dir stereo.ExposureDirection) error {
	if err := c.camera.AdjustExposure(dir); err != nil {
		c.notifier.Error("Exposure adjustment failed: " + err.Error())
		return err
	}
	if dir == stereo.Brighter {
		c.notifier.Status("Exposure increased (brighter)")
	} else {
		c.notifier.Status("Exposure decreased (darker)")
	}
	return nil
}

// AdjustFocus forwards a focus step event for one channel to the camera.
// Hitting the end of the focus range is reported as a status line, not an
// error: the actuator is exhausted, nothing is broken.
func (c *Controller) AdjustFocus(dir stereo.FocusDirection, chanIdx int) error {
	err := c.camera.AdjustFocus(dir, chanIdx)
	switch {
	case errors.Is(err, stereo.ErrFocusAtLimit):
		c.notifier.Status(fmt.Sprintf("Focus limit reached on channel %d", chanIdx+1))
		return err
	case err != nil:
		c.notifier.Error("Focus adjustment failed: " + err.Error())
		return err
	}
	c.notifier.Status(fmt.Sprintf("Focus adjusted on channel %d", chanIdx+1))
	return nil
}

// discardPending drops the pending pair. Called with the lock held.
func (c *Controller) discardPending(msg string) {
	c.pending = nil
	c.notifier.Status(msg)
}

// setState transitions and notifies. Called with the lock held.
func (c *Controller) setState(s State) {
	if s == c.state {
		return
	}
	debug.State(c.state.String(), s.String())
	c.state = s
	c.notifier.StateChanged(s)
}
