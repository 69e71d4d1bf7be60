package storage

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ruteri/social-image/interfaces"
	"github.com/ruteri/social-image/metrics"
)

const (
	// DefaultTTL is how long a cached render survives.
	DefaultTTL = 72 * time.Hour
	// DefaultSweepInterval is the period between sweeps.
	DefaultSweepInterval = 12 * time.Minute
)

// SweepStats summarizes one sweep.
type SweepStats struct {
	Scanned           int
	Evicted           int
	BytesFreed        int64
	TempRemoved       int
	WorkspacesRemoved int
	Errors            int
}

// Sweeper periodically deletes cached renders older than the TTL. It also
// collects temp files and render workspaces left behind by crashed writers.
type Sweeper struct {
	root         string
	workspaceDir string
	ttl          time.Duration
	interval     time.Duration
	log          *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSweeper(root string, ttl, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		root:     root,
		ttl:      ttl,
		interval: interval,
		log:      log,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (s *Sweeper) WithMetrics(m *metrics.Metrics) *Sweeper {
	s.metrics = m
	return s
}

// WithWorkspaceDir makes the sweeper also remove stale render workspaces
// under dir.
func (s *Sweeper) WithWorkspaceDir(dir string) *Sweeper {
	s.workspaceDir = dir
	return s
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Start runs Sweep every interval until Stop is called or ctx is done. The
// first sweep happens one interval after Start.
func (s *Sweeper) Start(ctx context.Context) {
	if s.ttl < 2*s.interval {
		s.log.Warn("Eviction TTL is shorter than two sweep intervals, renders may outlive it noticeably",
			"ttl", s.ttl, "interval", s.interval)
	}
	s.log.Info("Starting eviction sweeper", "root", s.root, "ttl", s.ttl, "interval", s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the background loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Sweep walks the store once. Errors on individual files are logged and
// counted, never fatal.
func (s *Sweeper) Sweep(ctx context.Context) SweepStats {
	start := time.Now()
	cutoff := s.now().Add(-s.ttl)
	var stats SweepStats

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == s.root {
				return err
			}
			s.fail(&stats, path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == s.root {
			return nil
		}

		name := d.Name()
		if isTempName(name) {
			if s.removeExpired(&stats, path, d, cutoff) {
				stats.TempRemoved++
			}
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			// workspaces and other private trees
			if strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}

		if name != interfaces.RenderFileName || s.depth(path) != 3 {
			return nil
		}

		stats.Scanned++
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			s.fail(&stats, path, err)
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.fail(&stats, path, err)
			}
			return nil
		}
		stats.Evicted++
		stats.BytesFreed += info.Size()
		s.metrics.Evicted()
		s.log.Debug("Evicted cached render", "path", path, "modTime", info.ModTime())
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Error("Sweep aborted", "root", s.root, "err", err)
		stats.Errors++
		s.metrics.SweepError()
	}

	if s.workspaceDir != "" && ctx.Err() == nil {
		s.sweepWorkspaces(&stats, cutoff)
	}

	elapsed := time.Since(start)
	s.metrics.ObserveSweep(elapsed)

	logFn := s.log.Debug
	if stats.Evicted > 0 || stats.Errors > 0 {
		logFn = s.log.Info
	}
	logFn("Sweep finished",
		"scanned", stats.Scanned,
		"evicted", stats.Evicted,
		"freed", humanize.Bytes(uint64(stats.BytesFreed)),
		"tempRemoved", stats.TempRemoved,
		"workspacesRemoved", stats.WorkspacesRemoved,
		"errors", stats.Errors,
		"duration", elapsed)
	return stats
}

// sweepWorkspaces removes workspace directories (<dir>/<shard>/<name>) that
// were last modified before cutoff.
func (s *Sweeper) sweepWorkspaces(stats *SweepStats, cutoff time.Time) {
	shards, err := os.ReadDir(s.workspaceDir)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		s.fail(stats, s.workspaceDir, err)
		return
	}

	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		shardPath := filepath.Join(s.workspaceDir, shard.Name())
		workspaces, err := os.ReadDir(shardPath)
		if err != nil {
			s.fail(stats, shardPath, err)
			continue
		}
		for _, ws := range workspaces {
			if s.removeExpired(stats, filepath.Join(shardPath, ws.Name()), ws, cutoff) {
				stats.WorkspacesRemoved++
			}
		}
	}
}

func (s *Sweeper) removeExpired(stats *SweepStats, path string, d fs.DirEntry, cutoff time.Time) bool {
	info, err := d.Info()
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	if err != nil {
		s.fail(stats, path, err)
		return false
	}
	if !info.ModTime().Before(cutoff) {
		return false
	}
	if err := os.RemoveAll(path); err != nil {
		s.fail(stats, path, err)
		return false
	}
	s.log.Debug("Removed leftover", "path", path)
	return true
}

func (s *Sweeper) fail(stats *SweepStats, path string, err error) {
	stats.Errors++
	s.metrics.SweepError()
	s.log.Warn("Sweep skipped path", "path", path, "err", err)
}

// depth is the number of path segments below the store root.
func (s *Sweeper) depth(path string) int {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return -1
	}
	return strings.Count(filepath.ToSlash(rel), "/") + 1
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, interfaces.TempSuffix)
}
