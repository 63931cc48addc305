// Package diskmanager owns WorkingDirectory lifecycle: retention-based
// scheduled deletion after success/failure, immediate deletion on cancel,
// and a periodic reaper sweep that is the restart-safety net for deletions
// the in-process scheduler never got to run (§4.5, §9 design note:
// "replace timer handles with persistent tombstones + periodic reaper").
package diskmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/loomrender/renderworker/config"
	"github.com/loomrender/renderworker/log"
)

// tombstone is a durable record of "delete this path at or after DeleteAt";
// it survives process restarts so a killed worker's scheduled deletions
// are never silently dropped.
type tombstone struct {
	Path     string    `json:"path"`
	DeleteAt time.Time `json:"deleteAt"`
}

// Manager tracks per-job working directories and the campaigns root they
// live under, plus the cached-capture directory it evicts by TTL.
type Manager struct {
	Root         string
	TombstoneDir string
	Clock        clock.Clock
	SuccessAfter time.Duration
	FailureAfter time.Duration
	ReaperMaxAge time.Duration

	// CacheDir and CacheTTL configure the cache eviction sweep (§3, §4.4);
	// left zero-valued, SweepCacheDir is a no-op.
	CacheDir string
	CacheTTL time.Duration
}

func New(root string) *Manager {
	return &Manager{
		Root:         root,
		TombstoneDir: filepath.Join(root, ".tombstones"),
		Clock:        clock.New(),
		SuccessAfter: config.DefaultSuccessRetention,
		FailureAfter: config.DefaultFailureRetention,
		ReaperMaxAge: config.DefaultReaperMaxAge,
	}
}

// ScheduleSuccess writes a tombstone for path, due SuccessAfter from now
// (§4.5 success retention).
func (m *Manager) ScheduleSuccess(renderID, path string) error {
	return m.schedule(renderID, path, m.SuccessAfter)
}

// ScheduleFailure writes a tombstone for path, due FailureAfter from now
// (§4.5 failure retention).
func (m *Manager) ScheduleFailure(renderID, path string) error {
	return m.schedule(renderID, path, m.FailureAfter)
}

// DeleteNow removes path immediately, for graceful cancellation (§4.5).
// Deletion failures are logged and never propagate to the caller, matching
// the spec's "deletion failures are logged and never propagate to the
// job" rule.
func (m *Manager) DeleteNow(renderID, path string) {
	if err := os.RemoveAll(path); err != nil {
		log.LogError(renderID, "failed to delete working directory on cancel", err, "path", path)
	}
}

func (m *Manager) schedule(renderID, path string, after time.Duration) error {
	if err := os.MkdirAll(m.TombstoneDir, 0o755); err != nil {
		return fmt.Errorf("preparing tombstone dir: %w", err)
	}

	ts := tombstone{Path: path, DeleteAt: m.Clock.Now().Add(after)}
	data, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("marshaling tombstone: %w", err)
	}

	name := filepath.Base(path) + ".json"
	if err := os.WriteFile(filepath.Join(m.TombstoneDir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing tombstone: %w", err)
	}

	log.Log(renderID, "scheduled working directory deletion", "path", path, "delete_at", ts.DeleteAt)
	return nil
}

// SweepTombstones runs due tombstones: every working directory whose
// DeleteAt has passed is removed and its tombstone cleared. This is called
// from a best-effort in-process ticker, but correctness does not depend on
// that ticker ever firing: ReaperSweep below is the durability backstop.
func (m *Manager) SweepTombstones() {
	entries, err := os.ReadDir(m.TombstoneDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.LogNoRequestID("failed to list tombstone directory", "error", err)
		}
		return
	}

	now := m.Clock.Now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		tsPath := filepath.Join(m.TombstoneDir, e.Name())
		data, err := os.ReadFile(tsPath)
		if err != nil {
			continue
		}
		var ts tombstone
		if err := json.Unmarshal(data, &ts); err != nil {
			continue
		}
		if now.Before(ts.DeleteAt) {
			continue
		}
		if err := os.RemoveAll(ts.Path); err != nil {
			log.LogNoRequestID("failed to sweep tombstoned directory", "error", err, "path", ts.Path)
		} else {
			log.V(5).LogCtx(context.Background(), "swept tombstoned directory", "path", ts.Path)
		}
		_ = os.Remove(tsPath)
	}
}

// ReaperSweep deletes any entry directly under Root older than
// ReaperMaxAge by mtime, independent of whether it has a tombstone. This
// is the restart-safety net: a worker that died before writing a
// tombstone (or before that tombstone's scheduler ran) still has its
// working directory reclaimed eventually (§4.5 reaper).
func (m *Manager) ReaperSweep() {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.LogNoRequestID("reaper failed to list campaigns root", "error", err)
		}
		return
	}

	cutoff := m.Clock.Now().Add(-m.ReaperMaxAge)
	for _, e := range entries {
		if e.Name() == ".tombstones" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.Root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.LogNoRequestID("reaper failed to delete stale entry", "error", err, "path", path)
		} else {
			log.LogNoRequestID("reaper deleted stale working directory", "path", path, "mtime", info.ModTime())
		}
	}
}

// SweepCacheDir evicts cached scene captures under dir whose mtime is older
// than ttl (§3: "CacheEntry … evicted by DiskManager reaper once older than
// the cache TTL", §4.4). A zero dir or ttl disables the sweep.
func (m *Manager) SweepCacheDir(dir string, ttl time.Duration) {
	if dir == "" || ttl <= 0 {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.LogNoRequestID("cache reaper failed to list cache dir", "error", err, "dir", dir)
		}
		return
	}

	cutoff := m.Clock.Now().Add(-ttl)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.LogNoRequestID("cache reaper failed to evict entry", "error", err, "path", path)
		} else {
			log.LogNoRequestID("cache reaper evicted stale cache entry", "path", path, "mtime", info.ModTime())
		}
	}
}

// RunReaperLoop blocks running ReaperSweep, SweepTombstones, and
// SweepCacheDir on config.ReaperSweepInterval until stop is closed.
func (m *Manager) RunReaperLoop(stop <-chan struct{}) {
	ticker := m.Clock.Ticker(config.ReaperSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.SweepTombstones()
			m.ReaperSweep()
			m.SweepCacheDir(m.CacheDir, m.CacheTTL)
		}
	}
}
