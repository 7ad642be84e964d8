package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes the stereo channel pair.
type CameraConfig struct {
	Simulate          bool    `yaml:"simulate"`            // use simulated channels (true=dev/test, false=real hardware)
	WidthPx           int     `yaml:"width_px"`            // capture width, e.g. 3280 for IMX219
	HeightPx          int     `yaml:"height_px"`           // capture height, e.g. 2464
	Channel0ID        int     `yaml:"channel_0_id"`        // device index of channel 0 (left)
	Channel1ID        int     `yaml:"channel_1_id"`        // device index of channel 1 (right)
	ExposureMinUs     int     `yaml:"exposure_min_us"`     // lower exposure bound (microseconds)
	ExposureMaxUs     int     `yaml:"exposure_max_us"`     // upper exposure bound (microseconds)
	DefaultExposureUs int     `yaml:"default_exposure_us"` // starting manual exposure
	FocusSteps        int     `yaml:"focus_steps"`         // discrete lens positions per channel
	FocusMin          float64 `yaml:"focus_min"`           // continuous lens position at step 0
	FocusMax          float64 `yaml:"focus_max"`           // continuous lens position at the last step
	StabilizeMs       int     `yaml:"stabilize_ms"`        // settle time after starting both channels
	PreviewWidthPx    int     `yaml:"preview_width_px"`    // preview frames are downscaled to fit this box
	PreviewHeightPx   int     `yaml:"preview_height_px"`
}

// WorkflowConfig holds the depth bookkeeping parameters.
type WorkflowConfig struct {
	SegmentLengthM float64 `yaml:"segment_length_m"` // default core segment length (meters)
	DepthStepM     float64 `yaml:"depth_step_m"`     // +/- button adjustment of depth_to (meters)
}

// StorageConfig describes primary storage, removable media and thresholds.
type StorageConfig struct {
	PrimaryRoot       string   `yaml:"primary_root"`       // internal photo root, e.g. /home/pi/core_photos
	RemovablePrefixes []string `yaml:"removable_prefixes"` // mount point prefixes scanned for removable media
	LowSpaceMB        int      `yaml:"low_space_mb"`       // free space below this -> "low"
	CriticalSpaceMB   int      `yaml:"critical_space_mb"`  // free space below this -> "critical"
	ImageQuality      int      `yaml:"image_quality"`      // JPEG quality 1-100
	BackupDir         string   `yaml:"backup_dir"`         // subdirectory on removable media
	CheckIntervalS    int      `yaml:"check_interval_s"`   // periodic space check cadence (seconds)
	RetentionDays     int      `yaml:"retention_days"`     // prune primary photos older than this. 0 = keep forever.
}

// DefaultsConfig contains generic parameters (lighting, debug).
type DefaultsConfig struct {
	LightingPin int  `yaml:"lighting_pin"` // GPIO pin of the LED ring (BCM). 0 = no lighting.
	MockGPIO    bool `yaml:"mock_gpio"`    // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	DebugLevel  int  `yaml:"debug_level"`  // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Storage  StorageConfig  `yaml:"storage"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Default returns the documented default configuration.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			WidthPx:           3280,
			HeightPx:          2464,
			Channel0ID:        0,
			Channel1ID:        1,
			ExposureMinUs:     100,
			ExposureMaxUs:     800000,
			DefaultExposureUs: 10000,
			FocusSteps:        8,
			FocusMin:          0,
			FocusMax:          10,
			StabilizeMs:       2000,
			PreviewWidthPx:    640,
			PreviewHeightPx:   480,
		},
		Workflow: WorkflowConfig{
			SegmentLengthM: 0.5,
			DepthStepM:     0.05,
		},
		Storage: StorageConfig{
			PrimaryRoot:       "/home/pi/core_photos",
			RemovablePrefixes: []string{"/media", "/mnt/usb"},
			LowSpaceMB:        1000,
			CriticalSpaceMB:   500,
			ImageQuality:      95,
			BackupDir:         "core_photos_backup",
			CheckIntervalS:    10,
		},
		Defaults: DefaultsConfig{
			MockGPIO:   true,
			DebugLevel: 1,
		},
	}
}

// Load reads a YAML file and returns the validated configuration plus any
// correction warnings. A missing file yields the defaults with a warning;
// only unreadable or malformed YAML is an error.
func Load(path string) (*Config, []string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), []string{fmt.Sprintf("config file %s not found, using defaults", path)}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	valid, warnings := Validate(&cfg)
	return valid, warnings, nil
}

// Validate corrects out-of-range values to the documented defaults and
// returns the corrected configuration with one warning per correction.
// Invalid configuration is never fatal. The input is not mutated.
func Validate(in *Config) (*Config, []string) {
	cfg := *in
	cfg.Storage.RemovablePrefixes = append([]string(nil), in.Storage.RemovablePrefixes...)

	def := Default()
	var warnings []string
	warn := func(format string, args ...interface{}) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if cfg.Camera.WidthPx <= 0 || cfg.Camera.HeightPx <= 0 {
		warn("invalid resolution %dx%d, using %dx%d",
			cfg.Camera.WidthPx, cfg.Camera.HeightPx, def.Camera.WidthPx, def.Camera.HeightPx)
		cfg.Camera.WidthPx = def.Camera.WidthPx
		cfg.Camera.HeightPx = def.Camera.HeightPx
	}
	if cfg.Camera.Channel0ID < 0 || cfg.Camera.Channel1ID < 0 || cfg.Camera.Channel0ID == cfg.Camera.Channel1ID {
		warn("invalid channel ids (%d, %d), using (%d, %d)",
			cfg.Camera.Channel0ID, cfg.Camera.Channel1ID, def.Camera.Channel0ID, def.Camera.Channel1ID)
		cfg.Camera.Channel0ID = def.Camera.Channel0ID
		cfg.Camera.Channel1ID = def.Camera.Channel1ID
	}
	if cfg.Camera.ExposureMinUs <= 0 || cfg.Camera.ExposureMaxUs <= cfg.Camera.ExposureMinUs {
		warn("invalid exposure range [%d, %d], using [%d, %d]",
			cfg.Camera.ExposureMinUs, cfg.Camera.ExposureMaxUs, def.Camera.ExposureMinUs, def.Camera.ExposureMaxUs)
		cfg.Camera.ExposureMinUs = def.Camera.ExposureMinUs
		cfg.Camera.ExposureMaxUs = def.Camera.ExposureMaxUs
	}
	if cfg.Camera.DefaultExposureUs < cfg.Camera.ExposureMinUs || cfg.Camera.DefaultExposureUs > cfg.Camera.ExposureMaxUs {
		warn("default exposure %dµs outside range, using %dµs",
			cfg.Camera.DefaultExposureUs, def.Camera.DefaultExposureUs)
		cfg.Camera.DefaultExposureUs = def.Camera.DefaultExposureUs
	}
	if cfg.Camera.FocusSteps < 2 {
		warn("focus_steps %d too small, using %d", cfg.Camera.FocusSteps, def.Camera.FocusSteps)
		cfg.Camera.FocusSteps = def.Camera.FocusSteps
	}
	if cfg.Camera.FocusMax <= cfg.Camera.FocusMin {
		warn("invalid focus range [%.2f, %.2f], using [%.2f, %.2f]",
			cfg.Camera.FocusMin, cfg.Camera.FocusMax, def.Camera.FocusMin, def.Camera.FocusMax)
		cfg.Camera.FocusMin = def.Camera.FocusMin
		cfg.Camera.FocusMax = def.Camera.FocusMax
	}
	if cfg.Camera.StabilizeMs < 0 {
		warn("negative stabilize_ms, using %d", def.Camera.StabilizeMs)
		cfg.Camera.StabilizeMs = def.Camera.StabilizeMs
	}
	if cfg.Camera.PreviewWidthPx <= 0 || cfg.Camera.PreviewHeightPx <= 0 {
		cfg.Camera.PreviewWidthPx = def.Camera.PreviewWidthPx
		cfg.Camera.PreviewHeightPx = def.Camera.PreviewHeightPx
	}

	if cfg.Workflow.SegmentLengthM <= 0 {
		warn("segment_length_m must be > 0, using %.2f", def.Workflow.SegmentLengthM)
		cfg.Workflow.SegmentLengthM = def.Workflow.SegmentLengthM
	}
	if cfg.Workflow.DepthStepM <= 0 {
		warn("depth_step_m must be > 0, using %.2f", def.Workflow.DepthStepM)
		cfg.Workflow.DepthStepM = def.Workflow.DepthStepM
	}

	if cfg.Storage.PrimaryRoot == "" {
		warn("primary_root empty, using %s", def.Storage.PrimaryRoot)
		cfg.Storage.PrimaryRoot = def.Storage.PrimaryRoot
	}
	if len(cfg.Storage.RemovablePrefixes) == 0 {
		cfg.Storage.RemovablePrefixes = append([]string(nil), def.Storage.RemovablePrefixes...)
	}
	if cfg.Storage.LowSpaceMB <= 0 || cfg.Storage.CriticalSpaceMB <= 0 ||
		cfg.Storage.CriticalSpaceMB >= cfg.Storage.LowSpaceMB {
		warn("invalid space thresholds (low=%dMB, critical=%dMB), using (low=%dMB, critical=%dMB)",
			cfg.Storage.LowSpaceMB, cfg.Storage.CriticalSpaceMB,
			def.Storage.LowSpaceMB, def.Storage.CriticalSpaceMB)
		cfg.Storage.LowSpaceMB = def.Storage.LowSpaceMB
		cfg.Storage.CriticalSpaceMB = def.Storage.CriticalSpaceMB
	}
	if cfg.Storage.ImageQuality < 1 || cfg.Storage.ImageQuality > 100 {
		warn("image_quality %d out of range 1-100, using %d", cfg.Storage.ImageQuality, def.Storage.ImageQuality)
		cfg.Storage.ImageQuality = def.Storage.ImageQuality
	}
	if cfg.Storage.BackupDir == "" {
		cfg.Storage.BackupDir = def.Storage.BackupDir
	}
	if cfg.Storage.CheckIntervalS <= 0 {
		cfg.Storage.CheckIntervalS = def.Storage.CheckIntervalS
	}
	if cfg.Storage.RetentionDays < 0 {
		warn("negative retention_days, disabling pruning")
		cfg.Storage.RetentionDays = 0
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		warn("debug_level %d out of range 0-4, using %d", cfg.Defaults.DebugLevel, def.Defaults.DebugLevel)
		cfg.Defaults.DebugLevel = def.Defaults.DebugLevel
	}

	return &cfg, warnings
}

// StabilizeDelay returns the post-start settle duration.
func (c *Config) StabilizeDelay() time.Duration {
	return time.Duration(c.Camera.StabilizeMs) * time.Millisecond
}

// CheckInterval returns the storage space check cadence.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Storage.CheckIntervalS) * time.Second
}

// RetentionAge returns the photo retention age, zero when pruning is off.
func (c *Config) RetentionAge() time.Duration {
	return time.Duration(c.Storage.RetentionDays) * 24 * time.Hour
}

// LowSpaceBytes returns the low-space threshold in bytes.
func (c *Config) LowSpaceBytes() uint64 {
	return uint64(c.Storage.LowSpaceMB) * 1024 * 1024
}

// CriticalSpaceBytes returns the critical-space threshold in bytes.
func (c *Config) CriticalSpaceBytes() uint64 {
	return uint64(c.Storage.CriticalSpaceMB) * 1024 * 1024
}
