package preview

import (
	"context"
	"sync"
	"time"

	"github.com/coreimaging/stereocam/internal/hw/channel"
)

// Mailbox is a single-slot latest-frame store. The producer overwrites the
// slot on every publish; the consumer reads whatever is newest. Neither
// side ever blocks the other, so a slow display can never stall the poll.
type Mailbox struct {
	mu      sync.Mutex
	frame   *channel.Frame
	chanIdx int
	seq     uint64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Publish stores the latest frame and the channel it came from.
func (m *Mailbox) Publish(chanIdx int, f *channel.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = f
	m.chanIdx = chanIdx
	m.seq++
}

// Latest returns the newest frame, its source channel and a sequence
// number that increments per publish. ok is false before the first frame.
func (m *Mailbox) Latest() (f *channel.Frame, chanIdx int, seq uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frame, m.chanIdx, m.seq, m.frame != nil
}

// FrameSource produces a preview frame for a channel, or nil when none is
// available. The stereo controller satisfies this.
type FrameSource interface {
	PreviewFrame(chanIdx int) *channel.Frame
}

// Poller pulls preview frames from the active channel at a fixed cadence
// and publishes them into a mailbox. Hardware serialization happens inside
// the frame source; the poller itself holds no locks during publish.
type Poller struct {
	source   FrameSource
	mailbox  *Mailbox
	interval time.Duration

	mu     sync.Mutex
	active int
}

// NewPoller creates a poller for the given source and mailbox.
// An interval of 0 defaults to 100ms (~10 Hz).
func NewPoller(source FrameSource, mailbox *Mailbox, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Poller{source: source, mailbox: mailbox, interval: interval}
}

// SetActiveChannel switches which channel the poller previews (the focus
// screen flips between the two).
func (p *Poller) SetActiveChannel(chanIdx int) {
	if chanIdx < 0 || chanIdx > 1 {
		return
	}
	p.mu.Lock()
	p.active = chanIdx
	p.mu.Unlock()
}

// ActiveChannel returns the channel currently being previewed.
func (p *Poller) ActiveChannel() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Run polls until ctx is cancelled. Nil frames (uninitialized camera,
// transient errors) are skipped; the mailbox keeps the last good frame.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idx := p.ActiveChannel()
			if f := p.source.PreviewFrame(idx); f != nil {
				p.mailbox.Publish(idx, f)
			}
		}
	}
}
