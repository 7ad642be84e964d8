package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		PrimaryRoot:       t.TempDir(),
		RemovablePrefixes: []string{"/media", "/mnt/usb"},
		LowSpaceBytes:     1000 * 1024 * 1024,
		CriticalBytes:     500 * 1024 * 1024,
		BackupDir:         "core_photos_backup",
	})
	require.NoError(t, err)

	// No real block devices in tests.
	m.partitions = func(bool) ([]disk.PartitionStat, error) { return nil, nil }
	m.writable = func(string) bool { return true }
	return m
}

// ---------- path derivation ----------

func TestGenerateFilePath(t *testing.T) {
	m := newTestManager(t)

	got := m.GenerateFilePath("My Project", `BH/1`, 0.0, 0.5)
	want := filepath.Join(m.cfg.PrimaryRoot, "My Project", "BH_1", "BH_1-0_00-0_50")
	assert.Equal(t, want, got)
}

func TestGenerateFilePath_Deterministic(t *testing.T) {
	m := newTestManager(t)
	a := m.GenerateFilePath("Site", "BH-7", 12.5, 13.0)
	b := m.GenerateFilePath("Site", "BH-7", 12.5, 13.0)
	assert.Equal(t, a, b)
	assert.True(t, filepath.IsAbs(a) == filepath.IsAbs(m.cfg.PrimaryRoot))
	assert.Contains(t, a, "BH-7-12_50-13_00")
}

func TestGenerateFilePath_DepthFormatting(t *testing.T) {
	m := newTestManager(t)
	got := m.GenerateFilePath("P", "B", 1.5, 2.0)
	assert.Equal(t, "B-1_50-2_00", filepath.Base(got))
}

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Drill Site A", "Drill Site A"},
		{`a<b>c:d"e/f\g|h?i*j`, "a_b_c_d_e_f_g_h_i_j"},
		{"  padded  ", "padded"},
		{"trailing...", "trailing"},
		{". .", "unnamed"},
		{"", "unnamed"},
		{"///", "___"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SanitizeName(tc.in), "input %q", tc.in)
	}
}

func TestSanitizeName_NeverEmitsInvalidChars(t *testing.T) {
	inputs := []string{`C:\cores`, "a/b/c", "what?", "*star*", `"quoted"`, "<tag>"}
	for _, in := range inputs {
		got := SanitizeName(in)
		for _, r := range `<>:"/\|?*` {
			assert.NotContains(t, got, string(r), "input %q", in)
		}
	}
}

// ---------- space checks ----------

func usageWithFree(freeMB uint64) func(string) (*disk.UsageStat, error) {
	return func(string) (*disk.UsageStat, error) {
		free := freeMB * 1024 * 1024
		total := uint64(32) * 1024 * 1024 * 1024
		return &disk.UsageStat{Total: total, Used: total - free, Free: free}, nil
	}
}

func TestCheckSpace_Levels(t *testing.T) {
	cases := []struct {
		name   string
		freeMB uint64
		want   WarnLevel
	}{
		{"plenty", 5000, WarnOK},
		{"just above low", 1000, WarnOK},
		{"below low", 999, WarnLow},
		{"just above critical", 500, WarnLow},
		{"below critical", 400, WarnCritical},
		{"empty", 0, WarnCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t)
			m.usage = usageWithFree(tc.freeMB)

			report := m.CheckSpace()
			assert.Equal(t, tc.want, report.Primary.Warning)
			assert.Equal(t, tc.want, report.Level())
		})
	}
}

func TestCheckSpace_UsageErrorIsCritical(t *testing.T) {
	m := newTestManager(t)
	m.usage = func(string) (*disk.UsageStat, error) {
		return nil, errors.New("statfs failed")
	}

	report := m.CheckSpace()
	assert.Equal(t, WarnCritical, report.Primary.Warning)
}

func TestSpaceReport_LevelIsWorstOf(t *testing.T) {
	report := SpaceReport{
		Primary: Location{Warning: WarnOK},
		Removable: []Location{
			{Warning: WarnLow},
			{Warning: WarnCritical},
		},
	}
	assert.Equal(t, WarnCritical, report.Level())
}

func TestRemovableMounts_FiltersByPrefixAndWritability(t *testing.T) {
	m := newTestManager(t)
	m.partitions = func(bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Mountpoint: "/"},
			{Mountpoint: "/boot"},
			{Mountpoint: "/media/usb0"},
			{Mountpoint: "/media/usb1"},
			{Mountpoint: "/mnt/usb"},
		}, nil
	}
	m.writable = func(path string) bool { return path != "/media/usb1" }

	mounts := m.RemovableMounts()
	assert.Equal(t, []string{"/media/usb0", "/mnt/usb"}, mounts)
}

// ---------- backup ----------

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBackup_PreservesRelativeLayout(t *testing.T) {
	m := newTestManager(t)
	usb := t.TempDir()
	m.partitions = func(bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{{Mountpoint: usb}}, nil
	}
	m.cfg.RemovablePrefixes = []string{usb}

	src1 := filepath.Join(m.cfg.PrimaryRoot, "Site", "BH-1", "BH-1-0_00-0_50-1.jpg")
	src2 := filepath.Join(m.cfg.PrimaryRoot, "Site", "BH-1", "BH-1-0_00-0_50-2.jpg")
	writeTestFile(t, src1, "left")
	writeTestFile(t, src2, "right")

	result, err := m.Backup([]string{src1, src2})
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Empty(t, result.Errors)

	dst1 := filepath.Join(usb, "core_photos_backup", "Site", "BH-1", "BH-1-0_00-0_50-1.jpg")
	got, err := os.ReadFile(dst1)
	require.NoError(t, err)
	assert.Equal(t, "left", string(got))
	assert.Equal(t, []string{dst1, filepath.Join(usb, "core_photos_backup", "Site", "BH-1", "BH-1-0_00-0_50-2.jpg")}, result.Copied)
}

func TestBackup_NoMedia(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Backup([]string{"whatever.jpg"})
	assert.ErrorIs(t, err, ErrNoRemovableMedia)
}

func TestBackup_CollectsPerFileErrors(t *testing.T) {
	m := newTestManager(t)
	usb := t.TempDir()
	m.partitions = func(bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{{Mountpoint: usb}}, nil
	}
	m.cfg.RemovablePrefixes = []string{usb}

	good := filepath.Join(m.cfg.PrimaryRoot, "Site", "ok.jpg")
	writeTestFile(t, good, "data")
	missing := filepath.Join(m.cfg.PrimaryRoot, "Site", "missing.jpg")
	outside := "/etc/passwd"

	result, err := m.Backup([]string{good, missing, outside})
	require.NoError(t, err, "per-file failures are not fatal to the batch")
	assert.True(t, result.OK())
	assert.Len(t, result.Copied, 1)
	assert.Len(t, result.Errors, 2)
}

func TestBackup_RejectsPathsOutsideRoot(t *testing.T) {
	m := newTestManager(t)
	usb := t.TempDir()
	m.partitions = func(bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{{Mountpoint: usb}}, nil
	}
	m.cfg.RemovablePrefixes = []string{usb}

	result, err := m.Backup([]string{filepath.Join(m.cfg.PrimaryRoot, "..", "escape.jpg")})
	require.NoError(t, err)
	assert.False(t, result.OK())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "outside primary root")
}

func TestBackup_AcceptsDotDotPrefixedDirNames(t *testing.T) {
	m := newTestManager(t)
	usb := t.TempDir()
	m.partitions = func(bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{{Mountpoint: usb}}, nil
	}
	m.cfg.RemovablePrefixes = []string{usb}

	// A directory name merely starting with ".." is still inside the root.
	src := filepath.Join(m.cfg.PrimaryRoot, "..archive", "keep.jpg")
	writeTestFile(t, src, "data")

	result, err := m.Backup([]string{src})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{filepath.Join(usb, "core_photos_backup", "..archive", "keep.jpg")}, result.Copied)
}

// ---------- summary and cleanup ----------

func TestSummary(t *testing.T) {
	m := newTestManager(t)
	m.usage = usageWithFree(400)

	s := m.Summary()
	assert.Contains(t, s, "critical")
	assert.Contains(t, s, "no removable media")
}

func TestCleanupOldFiles(t *testing.T) {
	m := newTestManager(t)

	old := filepath.Join(m.cfg.PrimaryRoot, "Site", "old.jpg")
	fresh := filepath.Join(m.cfg.PrimaryRoot, "Site", "fresh.jpg")
	writeTestFile(t, old, "old")
	writeTestFile(t, fresh, "fresh")

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	deleted, err := m.CleanupOldFiles(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}
