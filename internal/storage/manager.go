package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"golang.org/x/sys/unix"

	"github.com/coreimaging/stereocam/internal/debug"
)

// ErrNoRemovableMedia reports a backup attempt with no writable removable
// media present. The primary save stands on its own; callers treat this
// as a warning, not a failure.
var ErrNoRemovableMedia = errors.New("storage: no removable media available")

// WarnLevel is the categorical free-space status of a location.
type WarnLevel string

const (
	WarnOK       WarnLevel = "ok"
	WarnLow      WarnLevel = "low"
	WarnCritical WarnLevel = "critical"
)

// Location describes one storage location at the moment of a check.
// It is recomputed on demand and never persisted.
type Location struct {
	Path       string    `json:"path"`
	TotalBytes uint64    `json:"total_bytes"`
	UsedBytes  uint64    `json:"used_bytes"`
	FreeBytes  uint64    `json:"free_bytes"`
	Warning    WarnLevel `json:"warning"`
	Writable   bool      `json:"writable"`
}

// SpaceReport covers the primary location and every removable mount.
type SpaceReport struct {
	Primary   Location   `json:"primary"`
	Removable []Location `json:"removable"`
}

// Level returns the worst warning level across all locations in the report.
func (r SpaceReport) Level() WarnLevel {
	level := r.Primary.Warning
	for _, loc := range r.Removable {
		if rank(loc.Warning) > rank(level) {
			level = loc.Warning
		}
	}
	return level
}

func rank(l WarnLevel) int {
	switch l {
	case WarnCritical:
		return 2
	case WarnLow:
		return 1
	default:
		return 0
	}
}

// BackupResult collects the outcome of a redundant-backup batch.
// Per-file failures are collected, not fatal to the batch.
type BackupResult struct {
	Copied []string `json:"copied"`
	Errors []string `json:"errors"`
}

// OK reports overall backup success: at least one file copied.
func (r BackupResult) OK() bool { return len(r.Copied) > 0 }

// Config holds the storage parameters derived from config.Config.
type Config struct {
	PrimaryRoot       string
	RemovablePrefixes []string
	LowSpaceBytes     uint64
	CriticalBytes     uint64
	BackupDir         string
}

// Manager derives deterministic file paths from capture metadata, monitors
// available storage and performs best-effort redundant backup.
type Manager struct {
	cfg Config

	// Swappable for tests.
	usage      func(path string) (*disk.UsageStat, error)
	partitions func(all bool) ([]disk.PartitionStat, error)
	writable   func(path string) bool
}

// NewManager creates a storage manager and ensures the primary root exists.
func NewManager(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.PrimaryRoot, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create primary root: %w", err)
	}
	return &Manager{
		cfg:        cfg,
		usage:      disk.Usage,
		partitions: disk.Partitions,
		writable:   isWritable,
	}, nil
}

func isWritable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}

// GenerateFilePath builds the base output path for one capture:
//
//	<root>/<Project>/<Borehole>/<Borehole>-<From>-<To>
//
// Names are sanitized for the filesystem, depths are formatted to two
// decimals with the decimal point replaced by an underscore. The stereo
// controller appends the per-channel suffix and extension. Identical
// inputs always yield an identical path.
func (m *Manager) GenerateFilePath(project, borehole string, depthFrom, depthTo float64) string {
	projectClean := SanitizeName(project)
	boreholeClean := SanitizeName(borehole)

	fromStr := strings.ReplaceAll(fmt.Sprintf("%.2f", depthFrom), ".", "_")
	toStr := strings.ReplaceAll(fmt.Sprintf("%.2f", depthTo), ".", "_")

	base := fmt.Sprintf("%s-%s-%s", boreholeClean, fromStr, toStr)
	path := filepath.Join(m.cfg.PrimaryRoot, projectClean, boreholeClean, base)
	debug.Verbose("Generated base path %s", path)
	return path
}

// SanitizeName replaces filesystem-invalid characters with underscores,
// trims leading/trailing whitespace and dots, and falls back to "unnamed"
// when nothing is left.
func SanitizeName(name string) string {
	const invalid = `<>:"/\|?*`
	clean := strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalid, r) {
			return '_'
		}
		return r
	}, name)
	clean = strings.Trim(clean, " .")
	if clean == "" {
		return "unnamed"
	}
	return clean
}

// CheckSpace reports total/used/free bytes and the warning level for the
// primary location and every writable removable mount.
func (m *Manager) CheckSpace() SpaceReport {
	report := SpaceReport{
		Primary: m.locationFor(m.cfg.PrimaryRoot),
	}
	for _, mount := range m.RemovableMounts() {
		report.Removable = append(report.Removable, m.locationFor(mount))
	}
	return report
}

func (m *Manager) locationFor(path string) Location {
	loc := Location{Path: path, Warning: WarnCritical}
	u, err := m.usage(path)
	if err != nil {
		debug.Error(fmt.Errorf("storage: usage of %s: %w", path, err))
		return loc
	}
	loc.TotalBytes = u.Total
	loc.UsedBytes = u.Used
	loc.FreeBytes = u.Free
	loc.Warning = m.warnLevel(u.Free)
	loc.Writable = m.writable(path)
	return loc
}

func (m *Manager) warnLevel(free uint64) WarnLevel {
	switch {
	case free < m.cfg.CriticalBytes:
		return WarnCritical
	case free < m.cfg.LowSpaceBytes:
		return WarnLow
	default:
		return WarnOK
	}
}

// RemovableMounts returns the writable mount points matching the
// configured removable-media path prefixes.
func (m *Manager) RemovableMounts() []string {
	parts, err := m.partitions(false)
	if err != nil {
		debug.Error(fmt.Errorf("storage: list partitions: %w", err))
		return nil
	}

	var mounts []string
	for _, p := range parts {
		for _, prefix := range m.cfg.RemovablePrefixes {
			if strings.HasPrefix(p.Mountpoint, prefix) && m.writable(p.Mountpoint) {
				mounts = append(mounts, p.Mountpoint)
				break
			}
		}
	}
	return mounts
}

// Backup copies each given file onto the first available removable mount,
// preserving its path relative to the primary root under the configured
// backup subdirectory. Per-file failures are collected in the result; only
// the complete absence of removable media is returned as an error, and
// that error is the non-fatal ErrNoRemovableMedia.
func (m *Manager) Backup(paths []string) (BackupResult, error) {
	var result BackupResult

	mounts := m.RemovableMounts()
	if len(mounts) == 0 {
		return result, ErrNoRemovableMedia
	}
	target := mounts[0]

	for _, src := range paths {
		rel, err := filepath.Rel(m.cfg.PrimaryRoot, src)
		if err != nil || !filepath.IsLocal(rel) {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: outside primary root", src))
			continue
		}

		dst := filepath.Join(target, m.cfg.BackupDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", dst, err))
			continue
		}
		if err := copyFile(src, dst); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", dst, err))
			continue
		}
		result.Copied = append(result.Copied, dst)
		debug.Verbose("Backed up %s -> %s", src, dst)
	}

	debug.Storage("backup to %s: %d copied, %d failed", target, len(result.Copied), len(result.Errors))
	return result, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Summary returns a short human-readable storage line for the status area.
func (m *Manager) Summary() string {
	report := m.CheckSpace()

	var b strings.Builder
	fmt.Fprintf(&b, "Primary: %dMB free / %dMB total",
		report.Primary.FreeBytes/(1024*1024), report.Primary.TotalBytes/(1024*1024))
	if report.Primary.Warning != WarnOK {
		fmt.Fprintf(&b, " (%s)", report.Primary.Warning)
	}

	if len(report.Removable) == 0 {
		b.WriteString("; no removable media")
	}
	for i, loc := range report.Removable {
		fmt.Fprintf(&b, "; USB %d: %dMB free", i+1, loc.FreeBytes/(1024*1024))
		if loc.Warning != WarnOK {
			fmt.Fprintf(&b, " (%s)", loc.Warning)
		}
	}
	return b.String()
}

// CleanupOldFiles removes files under the primary root older than the
// given age and returns how many were deleted. Empty directories are left
// in place.
func (m *Manager) CleanupOldFiles(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	deleted := 0

	err := filepath.WalkDir(m.cfg.PrimaryRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				debug.Error(fmt.Errorf("storage: remove %s: %w", path, err))
				return nil
			}
			deleted++
			debug.Verbose("Deleted old file %s", path)
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("storage: cleanup walk: %w", err)
	}
	return deleted, nil
}
