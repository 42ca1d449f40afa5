package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackup(t *testing.T, retentionDays, minGapSec int) (*BackupManager, string, string, *fakeClock) {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "state.json")
	backups := filepath.Join(dir, "backups")
	require.NoError(t, os.WriteFile(source, []byte(`{"v":1}`), 0o644))

	clock := newFakeClock(time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC))
	return NewBackupManager(source, backups, retentionDays, minGapSec, clock, testLogger()), source, backups, clock
}

func TestBackupManager_SnapshotNaming(t *testing.T) {
	b, _, backups, _ := newTestBackup(t, 30, 60)

	path, err := b.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "state_2026-03-01_14-05-09.json", filepath.Base(path))

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))
}

func TestBackupManager_SnapshotIfDueRespectsGap(t *testing.T) {
	b, _, backups, clock := newTestBackup(t, 30, 60)

	first, err := b.SnapshotIfDue()
	require.NoError(t, err)
	assert.NotEmpty(t, first)

	// Within the gap nothing new is written.
	clock.Advance(30 * time.Second)
	second, err := b.SnapshotIfDue()
	require.NoError(t, err)
	assert.Empty(t, second)

	clock.Advance(31 * time.Second)
	third, err := b.SnapshotIfDue()
	require.NoError(t, err)
	assert.NotEmpty(t, third)

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBackupManager_RotateDropsExpired(t *testing.T) {
	b, _, backups, clock := newTestBackup(t, 7, 60)

	_, err := b.Snapshot()
	require.NoError(t, err)

	clock.Advance(3 * 24 * time.Hour)
	_, err = b.Snapshot()
	require.NoError(t, err)

	clock.Advance(5 * 24 * time.Hour)
	removed, err := b.Rotate()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state_2026-03-04_14-05-09.json", entries[0].Name())
}

func TestBackupManager_RestoreLatest(t *testing.T) {
	b, source, _, clock := newTestBackup(t, 30, 60)

	_, err := b.Snapshot()
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	require.NoError(t, os.WriteFile(source, []byte(`{"v":2}`), 0o644))
	_, err = b.Snapshot()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(source, []byte("garbage"), 0o644))
	require.NoError(t, b.Restore(""))

	data, err := os.ReadFile(source)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	// The overwritten file is preserved next to the source.
	saved, err := os.ReadFile(source + ".before_restore")
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(saved))
}

func TestBackupManager_LatestWithNoBackups(t *testing.T) {
	b, _, _, _ := newTestBackup(t, 30, 60)

	_, err := b.Latest()
	assert.Error(t, err)
	assert.Error(t, b.Restore(""))
}
