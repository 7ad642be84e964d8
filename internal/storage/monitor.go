package storage

import (
	"context"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"github.com/coreimaging/stereocam/internal/debug"
)

// Monitor runs the periodic storage-space check on its own timer,
// independent of the camera lock, and listens for block-device hotplug
// events so that inserting or removing a USB stick triggers an immediate
// recheck instead of waiting out the interval.
type Monitor struct {
	mgr      *Manager
	interval time.Duration
	onReport func(SpaceReport)

	// Retention, when non-zero, prunes primary files older than this age
	// on every periodic check. Zero keeps photos forever.
	Retention time.Duration
}

// NewMonitor creates a storage monitor. onReport is invoked with every
// space report, including the initial one.
func NewMonitor(mgr *Manager, interval time.Duration, onReport func(SpaceReport)) *Monitor {
	return &Monitor{mgr: mgr, interval: interval, onReport: onReport}
}

// Run blocks until ctx is cancelled, checking space on the configured
// interval and on hotplug events.
func (m *Monitor) Run(ctx context.Context) {
	hotplug := make(chan struct{}, 1)
	stopUdev := m.startHotplugListener(hotplug)
	if stopUdev != nil {
		defer stopUdev()
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		case <-hotplug:
			debug.Storage("removable media change detected")
			m.check()
		}
	}
}

func (m *Monitor) check() {
	if m.Retention > 0 {
		if n, err := m.mgr.CleanupOldFiles(m.Retention); err != nil {
			debug.Error(err)
		} else if n > 0 {
			debug.Storage("retention: pruned %d files older than %v", n, m.Retention)
		}
	}

	report := m.mgr.CheckSpace()
	if level := report.Level(); level != WarnOK {
		debug.Info("Storage space %s: %s", level, m.mgr.Summary())
	}
	if m.onReport != nil {
		m.onReport(report)
	}
}

// startHotplugListener connects to the udev netlink socket and forwards
// block-device add/remove events into notify. Failure to connect is
// non-fatal: the periodic check still covers media changes, just slower.
func (m *Monitor) startHotplugListener(notify chan<- struct{}) func() {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		debug.Info("udev netlink unavailable, relying on periodic checks only: %v", err)
		return nil
	}

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, blockDeviceMatcher())

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case ev := <-queue:
				debug.Trace("udev event: %s %s", ev.Action, ev.KObj)
				select {
				case notify <- struct{}{}:
				default:
				}
			case err := <-errs:
				debug.Verbose("udev monitor error: %v", err)
			}
		}
	}()

	return func() {
		close(monitorQuit)
		close(done)
		_ = conn.Close()
	}
}

// blockDeviceMatcher matches add/remove of block devices (USB sticks
// appearing or disappearing).
func blockDeviceMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
		},
	})
	return rules
}
