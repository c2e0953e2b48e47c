// Package backup takes and restores tar.gz snapshots of the data directory.
// SQLite databases are captured with VACUUM INTO so a snapshot taken while
// the server writes to them is still consistent.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HyphaGroup/assimilate/internal/logger"
)

const (
	snapshotPrefix = "assimilate_"
	snapshotSuffix = ".tar.gz"
	timeLayout     = "20060102_150405.000"
)

// Config holds backup configuration.
type Config struct {
	DataDir   string
	BackupDir string
	Retention int           // number of snapshots to keep, 0 keeps all
	Interval  time.Duration // 0 disables periodic snapshots
}

// Snapshot describes one archive in the backup directory.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
}

// Manager writes snapshots on demand and, once started, on an interval.
type Manager struct {
	cfg Config

	mu     sync.Mutex // serializes snapshots
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.BackupDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &Manager{cfg: cfg}, nil
}

// Start begins periodic snapshots if an interval is configured.
func (m *Manager) Start() {
	if m.cfg.Interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.loop(ctx)
	logger.Printf("📦 Backup automation started (interval=%v, retention=%d)", m.cfg.Interval, m.cfg.Retention)
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.snapshot(ctx); err != nil && ctx.Err() == nil {
				logger.Printf("⚠️  Backup failed: %v", err)
			}
		}
	}
}

// Stop halts periodic snapshots and waits for one in progress.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.cancel = nil
	logger.Println("📦 Backup automation stopped")
}

// Snapshot archives the data directory now and enforces retention.
func (m *Manager) Snapshot() (*Snapshot, error) {
	return m.snapshot(context.Background())
}

func (m *Manager) snapshot(ctx context.Context) (*Snapshot, error) {
	if _, err := os.Stat(m.cfg.DataDir); err != nil {
		return nil, fmt.Errorf("data directory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	name := snapshotPrefix + now.Format(timeLayout) + snapshotSuffix
	final := filepath.Join(m.cfg.BackupDir, name)
	partial := final + ".tmp"

	p := &packer{dataDir: m.cfg.DataDir, backupDir: m.cfg.BackupDir}
	if err := p.pack(ctx, partial); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("failed to create backup: %w", err)
	}
	if err := os.Rename(partial, final); err != nil {
		_ = os.Remove(partial)
		return nil, fmt.Errorf("failed to finalize backup: %w", err)
	}

	info, err := os.Stat(final)
	if err != nil {
		return nil, err
	}
	logger.Printf("📦 Created backup: %s (%d bytes, %d databases)", name, info.Size(), p.databases)

	m.prune()
	return &Snapshot{Timestamp: now, Filename: name, SizeBytes: info.Size()}, nil
}

// Restore unpacks a snapshot into targetDir.
func (m *Manager) Restore(filename, targetDir string) error {
	if filepath.Base(filename) != filename {
		return fmt.Errorf("invalid backup name: %s", filename)
	}
	path := filepath.Join(m.cfg.BackupDir, filename)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("backup not found: %s", filename)
	}
	if err := unpack(path, targetDir); err != nil {
		return err
	}
	logger.Printf("📦 Restored %s into %s", filename, targetDir)
	return nil
}

// ListSnapshots returns all snapshots, newest first.
func (m *Manager) ListSnapshots() ([]Snapshot, error) {
	entries, err := os.ReadDir(m.cfg.BackupDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		stamp, ok := strings.CutPrefix(entry.Name(), snapshotPrefix)
		if !ok || entry.IsDir() {
			continue
		}
		stamp, ok = strings.CutSuffix(stamp, snapshotSuffix)
		if !ok {
			continue
		}
		ts, err := time.ParseInLocation(timeLayout, stamp, time.Local)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, Snapshot{Timestamp: ts, Filename: entry.Name(), SizeBytes: info.Size()})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.After(snapshots[j].Timestamp)
	})
	return snapshots, nil
}

// prune removes snapshots beyond the retention count.
func (m *Manager) prune() {
	if m.cfg.Retention <= 0 {
		return
	}
	snapshots, err := m.ListSnapshots()
	if err != nil || len(snapshots) <= m.cfg.Retention {
		return
	}
	for _, s := range snapshots[m.cfg.Retention:] {
		if err := os.Remove(filepath.Join(m.cfg.BackupDir, s.Filename)); err == nil {
			logger.Printf("📦 Removed old backup: %s", s.Filename)
		}
	}
}

// ExportManifest returns a JSON listing of every snapshot.
func (m *Manager) ExportManifest() ([]byte, error) {
	snapshots, err := m.ListSnapshots()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(struct {
		ExportedAt time.Time  `json:"exported_at"`
		BackupDir  string     `json:"backup_dir"`
		Snapshots  []Snapshot `json:"snapshots"`
	}{time.Now(), m.cfg.BackupDir, snapshots}, "", "  ")
}
