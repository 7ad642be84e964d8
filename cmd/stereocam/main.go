package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coreimaging/stereocam/internal/config"
	"github.com/coreimaging/stereocam/internal/debug"
	"github.com/coreimaging/stereocam/internal/hw/channel"
	"github.com/coreimaging/stereocam/internal/hw/gpio"
	"github.com/coreimaging/stereocam/internal/hw/lighting"
	"github.com/coreimaging/stereocam/internal/logic/preview"
	"github.com/coreimaging/stereocam/internal/logic/stereo"
	"github.com/coreimaging/stereocam/internal/logic/workflow"
	"github.com/coreimaging/stereocam/internal/storage"
	"github.com/coreimaging/stereocam/internal/web"
)

func main() {
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	addr := flag.String("addr", ":8080", "listen address for the touchscreen frontend")
	simulate := flag.Bool("simulate", false, "force simulated channels regardless of config")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration; invalid values are corrected, never fatal.
	cfg, warnings, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *simulate {
		cfg.Camera.Simulate = true
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	for _, w := range warnings {
		debug.Info("Config corrected: %s", w)
	}

	// Tee debug output into the status stream for the frontend.
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	// Initialize GPIO and the lighting ring
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		log.Fatalf("init GPIO failed: %v", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()
	ring := lighting.NewRing(gpioDriver, cfg.Defaults.LightingPin)

	// Initialize the stereo channel pair
	debug.Step(2, "Initializing stereo channels")
	debug.Value("Simulate", cfg.Camera.Simulate)
	ch0, ch1 := newChannels(cfg)
	cam := stereo.NewController(ch0, ch1, ring, stereoParams(cfg))
	if err := cam.Initialize(); err != nil {
		log.Fatalf("init stereo channels failed: %v", err)
	}
	defer cam.Cleanup()

	// Initialize storage
	debug.Step(3, "Initializing storage")
	store, err := storage.NewManager(storage.Config{
		PrimaryRoot:       cfg.Storage.PrimaryRoot,
		RemovablePrefixes: cfg.Storage.RemovablePrefixes,
		LowSpaceBytes:     cfg.LowSpaceBytes(),
		CriticalBytes:     cfg.CriticalSpaceBytes(),
		BackupDir:         cfg.Storage.BackupDir,
	})
	if err != nil {
		log.Fatalf("init storage failed: %v", err)
	}
	debug.Value("Primary root", cfg.Storage.PrimaryRoot)

	// Workflow controller
	debug.Step(4, "Starting workflow")
	flow := workflow.NewController(cam, store, web.Notifier{B: broadcaster}, workflow.Config{
		SegmentLengthM: cfg.Workflow.SegmentLengthM,
		DepthStepM:     cfg.Workflow.DepthStepM,
	})

	// Background preview poll (~10 Hz) and periodic storage checks.
	mailbox := preview.NewMailbox()
	poller := preview.NewPoller(cam, mailbox, 0)
	go poller.Run(ctx)

	monitor := storage.NewMonitor(store, cfg.CheckInterval(), storageReporter(broadcaster))
	monitor.Retention = cfg.RetentionAge()
	go monitor.Run(ctx)

	// Web frontend
	debug.Step(5, "Starting web frontend")
	srv := web.NewServer(*addr, &web.Handlers{
		Broadcaster: broadcaster,
		Flow:        flow,
		Camera:      cam,
		Mailbox:     mailbox,
		Poller:      poller,
		Store:       store,
	})
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("web server: %v", err)
	}

	debug.Summary("Shutdown")
}

// newChannels builds the stereo channel pair from config: simulated for
// development on PC, V4L2-backed on the device.
func newChannels(cfg *config.Config) (channel.Channel, channel.Channel) {
	if cfg.Camera.Simulate {
		return channel.NewSim(cfg.Camera.Channel0ID), channel.NewSim(cfg.Camera.Channel1ID)
	}
	return channel.NewV4L2(cfg.Camera.Channel0ID), channel.NewV4L2(cfg.Camera.Channel1ID)
}

func stereoParams(cfg *config.Config) stereo.Params {
	return stereo.Params{
		WidthPx:       cfg.Camera.WidthPx,
		HeightPx:      cfg.Camera.HeightPx,
		ExposureMinUs: cfg.Camera.ExposureMinUs,
		ExposureMaxUs: cfg.Camera.ExposureMaxUs,
		DefaultExpoUs: cfg.Camera.DefaultExposureUs,
		FocusSteps:    cfg.Camera.FocusSteps,
		FocusMin:      cfg.Camera.FocusMin,
		FocusMax:      cfg.Camera.FocusMax,
		Stabilize:     cfg.StabilizeDelay(),
		PreviewWidth:  cfg.Camera.PreviewWidthPx,
		PreviewHeight: cfg.Camera.PreviewHeightPx,
		JPEGQuality:   cfg.Storage.ImageQuality,
	}
}

// storageReporter broadcasts the storage warning level whenever it changes.
func storageReporter(b *web.StatusBroadcaster) func(storage.SpaceReport) {
	last := storage.WarnLevel("")
	return func(report storage.SpaceReport) {
		level := report.Level()
		if level == last {
			return
		}
		last = level
		b.Broadcast("storage", string(level))
	}
}
