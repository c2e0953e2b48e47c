// Package cleanup applies retention to run records and schedule history,
// removes stray temporary files and watches disk usage of the data directory.
package cleanup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/HyphaGroup/assimilate/internal/logger"
	"github.com/HyphaGroup/assimilate/internal/metrics"
)

// Pruner deletes records older than a cutoff and reports how many went.
type Pruner interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

// PrunerFunc adapts a function to Pruner.
type PrunerFunc func(cutoff time.Time) (int64, error)

func (f PrunerFunc) DeleteOlderThan(cutoff time.Time) (int64, error) { return f(cutoff) }

// Config holds cleanup configuration. A nil pruner or a zero retention
// disables that kind of pruning.
type Config struct {
	DataDir            string
	Runs               Pruner
	RunRetention       time.Duration
	Executions         Pruner
	ExecutionRetention time.Duration
	Interval           time.Duration
	TmpMaxAge          time.Duration // age after which *.tmp files are orphaned
	DiskWarnPercent    float64
	DiskErrorPercent   float64
}

// DefaultConfig returns the defaults used when the config file says nothing.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		Interval:           6 * time.Hour,
		RunRetention:       30 * 24 * time.Hour,
		ExecutionRetention: 90 * 24 * time.Hour,
		TmpMaxAge:          time.Hour,
		DiskWarnPercent:    80.0,
		DiskErrorPercent:   90.0,
	}
}

// Report summarizes one cleanup pass.
type Report struct {
	RunsPruned       int64
	ExecutionsPruned int64
	TmpFilesRemoved  int
	DiskUsedPercent  float64
}

// Cleaner runs cleanup passes on an interval.
type Cleaner struct {
	cfg    Config
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config) *Cleaner {
	return &Cleaner{cfg: cfg}
}

// Start runs a pass immediately and then on every interval.
func (c *Cleaner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			c.RunOnce()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	logger.Printf("🧹 Cleanup started (interval=%v, run retention=%v)", c.cfg.Interval, c.cfg.RunRetention)
}

// Stop halts the cleanup loop.
func (c *Cleaner) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.wg.Wait()
	c.cancel = nil
	logger.Println("🧹 Cleanup stopped")
}

// RunOnce performs one cleanup pass.
func (c *Cleaner) RunOnce() Report {
	var r Report
	r.RunsPruned = prune("runs", c.cfg.Runs, c.cfg.RunRetention)
	r.ExecutionsPruned = prune("executions", c.cfg.Executions, c.cfg.ExecutionRetention)
	r.TmpFilesRemoved = c.removeStaleTmp()
	r.DiskUsedPercent = c.checkDisk()
	return r
}

func prune(kind string, p Pruner, retention time.Duration) int64 {
	if p == nil || retention <= 0 {
		return 0
	}
	n, err := p.DeleteOlderThan(time.Now().Add(-retention))
	if err != nil {
		logger.Printf("⚠️  Pruning %s failed: %v", kind, err)
		return 0
	}
	if n > 0 {
		metrics.RecordPruned(kind, n)
		logger.Printf("🧹 Pruned %d %s older than %v", n, kind, retention)
	}
	return n
}

// removeStaleTmp deletes *.tmp files left behind by interrupted writes.
func (c *Cleaner) removeStaleTmp() int {
	if c.cfg.TmpMaxAge <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-c.cfg.TmpMaxAge)
	removed := 0
	_ = filepath.WalkDir(c.cfg.DataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		if os.Remove(path) == nil {
			removed++
		}
		return nil
	})
	if removed > 0 {
		logger.Printf("🧹 Removed %d orphaned .tmp files", removed)
	}
	return removed
}

func (c *Cleaner) checkDisk() float64 {
	_, _, used, err := c.DiskUsage()
	if err != nil {
		return 0
	}
	metrics.RecordDiskUsage(used)
	switch {
	case used >= c.cfg.DiskErrorPercent:
		logger.Printf("🔴 CRITICAL: Disk usage at %.1f%% (data dir)", used)
	case used >= c.cfg.DiskWarnPercent:
		logger.Printf("🟠 WARNING: Disk usage at %.1f%% (data dir)", used)
	}
	return used
}

// DiskUsage reports usage of the file system holding the data directory.
func (c *Cleaner) DiskUsage() (usedBytes, totalBytes uint64, usedPercent float64, err error) {
	var stat syscall.Statfs_t
	if err = syscall.Statfs(c.cfg.DataDir, &stat); err != nil {
		return
	}
	totalBytes = stat.Blocks * uint64(stat.Bsize)
	usedBytes = totalBytes - stat.Bfree*uint64(stat.Bsize)
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}
	return
}
