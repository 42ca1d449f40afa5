package services

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/utils"
)

// backupTimestampLayout produces names like markers_2026-08-31_14-05-09.json.
const backupTimestampLayout = "2006-01-02_15-04-05"

// BackupManager keeps rotating snapshots of one source file with a retention
// window and a minimum gap between automatic snapshots.
type BackupManager struct {
	sourcePath string
	dir        string
	retention  time.Duration
	minGap     time.Duration
	clock      Clock
	logger     *logrus.Logger

	mu           sync.Mutex
	lastSnapshot time.Time
}

// NewBackupManager creates a manager for one source file.
func NewBackupManager(sourcePath, dir string, retentionDays, minGapSec int, clock Clock, logger *logrus.Logger) *BackupManager {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if minGapSec <= 0 {
		minGapSec = 60
	}
	return &BackupManager{
		sourcePath: sourcePath,
		dir:        dir,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
		minGap:     time.Duration(minGapSec) * time.Second,
		clock:      clock,
		logger:     logger,
	}
}

// backupName renders <stem>_<timestamp><ext> for the source file.
func (b *BackupManager) backupName(at time.Time) string {
	base := filepath.Base(b.sourcePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s_%s%s", stem, at.UTC().Format(backupTimestampLayout), ext)
}

// Snapshot copies the source into the backup directory unconditionally.
func (b *BackupManager) Snapshot() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *BackupManager) snapshotLocked() (string, error) {
	if _, err := os.Stat(b.sourcePath); err != nil {
		return "", fmt.Errorf("backup source unavailable: %w", err)
	}
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := b.clock.Now()
	dst := filepath.Join(b.dir, b.backupName(now))
	if err := utils.CopyFile(b.sourcePath, dst); err != nil {
		return "", err
	}
	b.lastSnapshot = now

	b.logger.WithFields(logrus.Fields{
		"source": b.sourcePath,
		"backup": dst,
	}).Debug("Snapshot written")
	return dst, nil
}

// SnapshotIfDue takes a snapshot unless one was taken within the minimum gap.
// Used after every store mutation so hot paths stay cheap.
func (b *BackupManager) SnapshotIfDue() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.clock.Now().Sub(b.lastSnapshot) < b.minGap {
		return "", nil
	}
	return b.snapshotLocked()
}

// Rotate deletes snapshots older than the retention window.
func (b *BackupManager) Rotate() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	names, err := b.listLocked()
	if err != nil {
		return 0, err
	}

	cutoff := b.clock.Now().Add(-b.retention)
	removed := 0
	for _, name := range names {
		at, ok := b.parseTimestamp(name)
		if !ok || !at.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, name)); err != nil {
			b.logger.WithField("backup", name).WithError(err).Warn("Failed to remove expired backup")
			continue
		}
		removed++
	}
	if removed > 0 {
		b.logger.WithFields(logrus.Fields{
			"source":  b.sourcePath,
			"removed": removed,
		}).Info("Rotated expired backups")
	}
	return removed, nil
}

// Restore copies the given backup (or the most recent one when path is
// empty) over the source. The current source is preserved next to itself as
// <source>.before_restore first.
func (b *BackupManager) Restore(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if path == "" {
		latest, err := b.latestLocked()
		if err != nil {
			return err
		}
		path = latest
	}

	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}

	if _, err := os.Stat(b.sourcePath); err == nil {
		if err := utils.CopyFile(b.sourcePath, b.sourcePath+".before_restore"); err != nil {
			return err
		}
	}

	if err := utils.CopyFile(path, b.sourcePath); err != nil {
		return err
	}

	b.logger.WithFields(logrus.Fields{
		"source": b.sourcePath,
		"backup": path,
	}).Info("Restored source from backup")
	return nil
}

// Latest returns the path of the most recent snapshot.
func (b *BackupManager) Latest() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latestLocked()
}

func (b *BackupManager) latestLocked() (string, error) {
	names, err := b.listLocked()
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("no backups available for %s", b.sourcePath)
	}
	// Timestamped names sort lexicographically in time order.
	sort.Strings(names)
	return filepath.Join(b.dir, names[len(names)-1]), nil
}

// listLocked returns backup file names belonging to this source.
func (b *BackupManager) listLocked() ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	base := filepath.Base(b.sourcePath)
	ext := filepath.Ext(base)
	prefix := strings.TrimSuffix(base, ext) + "_"

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext) {
			names = append(names, name)
		}
	}
	return names, nil
}

// parseTimestamp extracts the snapshot time from a backup file name.
func (b *BackupManager) parseTimestamp(name string) (time.Time, bool) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	idx := len(stem) - len(backupTimestampLayout)
	if idx < 0 {
		return time.Time{}, false
	}
	at, err := time.Parse(backupTimestampLayout, stem[idx:])
	if err != nil {
		return time.Time{}, false
	}
	return at, true
}
