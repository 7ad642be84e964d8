package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationError reports bad operator input. It is surfaced immediately
// and causes no state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Session is the immutable metadata value for the segment currently being
// photographed. It is rebuilt and re-validated on every transition instead
// of mutated piecemeal by input handlers.
type Session struct {
	Project   string
	Borehole  string
	DepthFrom float64 // meters
	DepthTo   float64 // meters
}

// NewSession parses and validates raw operator input. Unparsable depth
// values are a ValidationError, never a crash.
func NewSession(project, borehole, depthFrom, depthTo string) (Session, error) {
	project = strings.TrimSpace(project)
	borehole = strings.TrimSpace(borehole)

	if project == "" {
		return Session{}, &ValidationError{Field: "project", Reason: "name is required"}
	}
	if borehole == "" {
		return Session{}, &ValidationError{Field: "borehole", Reason: "name is required"}
	}

	from, err := strconv.ParseFloat(strings.TrimSpace(depthFrom), 64)
	if err != nil {
		return Session{}, &ValidationError{Field: "depth_from", Reason: "not a number"}
	}
	to, err := strconv.ParseFloat(strings.TrimSpace(depthTo), 64)
	if err != nil {
		return Session{}, &ValidationError{Field: "depth_to", Reason: "not a number"}
	}

	s := Session{Project: project, Borehole: borehole, DepthFrom: from, DepthTo: to}
	if err := s.validateDepths(); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (s Session) validateDepths() error {
	if s.DepthFrom < 0 {
		return &ValidationError{Field: "depth_from", Reason: "must not be negative"}
	}
	if s.DepthFrom >= s.DepthTo {
		return &ValidationError{Field: "depth_from", Reason: "must be less than depth_to"}
	}
	return nil
}

// WithDepthTo returns a copy with an adjusted depth_to, clamped at zero.
func (s Session) WithDepthTo(depthTo float64) Session {
	if depthTo < 0 {
		depthTo = 0
	}
	s.DepthTo = depthTo
	return s
}

// Advanced returns the session for the next segment after a successful
// save: from becomes the previous to, to extends by segmentLength.
func (s Session) Advanced(segmentLength float64) Session {
	s.DepthFrom = s.DepthTo
	s.DepthTo = s.DepthFrom + segmentLength
	return s
}

// Describe returns the session as a short status line.
func (s Session) Describe() string {
	return fmt.Sprintf("%s/%s %.2fm-%.2fm", s.Project, s.Borehole, s.DepthFrom, s.DepthTo)
}
