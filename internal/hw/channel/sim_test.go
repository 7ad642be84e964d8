package channel

import (
	"bytes"
	"testing"
)

func startedSim(t *testing.T, id int) *Sim {
	t.Helper()
	s := NewSim(id)
	if err := s.Open(Settings{WidthPx: 64, HeightPx: 48}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return s
}

func TestSim_CaptureBeforeStart(t *testing.T) {
	s := NewSim(0)
	if _, err := s.Capture(); err == nil {
		t.Error("expected error capturing before start, got nil")
	}
}

func TestSim_StartBeforeOpen(t *testing.T) {
	s := NewSim(0)
	if err := s.Start(); err == nil {
		t.Error("expected error starting before open, got nil")
	}
}

func TestSim_OpenInvalidResolution(t *testing.T) {
	s := NewSim(0)
	if err := s.Open(Settings{WidthPx: 0, HeightPx: 480}); err == nil {
		t.Error("expected error for zero width, got nil")
	}
}

func TestSim_CaptureGeometry(t *testing.T) {
	s := startedSim(t, 0)
	f, err := s.Capture()
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if err := f.Validate(); err != nil {
		t.Errorf("frame invalid: %v", err)
	}
	if f.Width != 64 || f.Height != 48 || f.Channels != 3 {
		t.Errorf("unexpected geometry %dx%dx%d", f.Width, f.Height, f.Channels)
	}
}

func TestSim_CaptureDeterministic(t *testing.T) {
	a := startedSim(t, 0)
	b := startedSim(t, 0)

	fa, _ := a.Capture()
	fb, _ := b.Capture()
	if !bytes.Equal(fa.Pix, fb.Pix) {
		t.Error("same id and exposure should produce identical frames")
	}
}

func TestSim_ChannelsDiffer(t *testing.T) {
	left := startedSim(t, 0)
	right := startedSim(t, 1)

	fl, _ := left.Capture()
	fr, _ := right.Capture()
	if bytes.Equal(fl.Pix, fr.Pix) {
		t.Error("left and right channels should produce different tints")
	}
}

func TestSim_ExposureChangesBrightness(t *testing.T) {
	s := startedSim(t, 0)
	dark, _ := s.Capture()

	if err := s.SetExposure(25000); err != nil {
		t.Fatalf("SetExposure: %v", err)
	}
	bright, _ := s.Capture()

	if bytes.Equal(dark.Pix, bright.Pix) {
		t.Error("exposure change should alter the frame")
	}
}

func TestSim_StopThenCaptureFails(t *testing.T) {
	s := startedSim(t, 0)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := s.Capture(); err == nil {
		t.Error("expected error capturing after stop, got nil")
	}
	// Stop is idempotent.
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSim_FocusTracked(t *testing.T) {
	s := startedSim(t, 1)
	if err := s.SetFocus(4.2); err != nil {
		t.Fatalf("SetFocus: %v", err)
	}
	if got := s.Focus(); got != 4.2 {
		t.Errorf("Focus = %v, want 4.2", got)
	}
}

// ---------- Frame ----------

func TestFrame_ValidateMismatch(t *testing.T) {
	f := &Frame{Width: 10, Height: 10, Channels: 3, Pix: make([]byte, 5)}
	if err := f.Validate(); err == nil {
		t.Error("expected error for short buffer, got nil")
	}
}

func TestFrame_ImageRoundTrip(t *testing.T) {
	f := NewFrame(4, 2)
	for i := range f.Pix {
		f.Pix[i] = byte(i * 7)
	}
	back := FromImage(f.ToImage())
	if !bytes.Equal(f.Pix, back.Pix) {
		t.Error("frame -> image -> frame should preserve pixels")
	}
}
