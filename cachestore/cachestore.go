package cachestore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/loomrender/renderworker/log"
	"github.com/loomrender/renderworker/mediaops"
	"github.com/loomrender/renderworker/metrics"
)

// ErrMiss is returned by Get when no usable cache entry exists for the
// fingerprint, whether because none was ever written or because the
// existing entry failed its integrity check.
var ErrMiss = errors.New("cachestore: miss")

// Entry is what Get returns on a hit.
type Entry struct {
	CapturePath string
	TrimHintMs  int
}

// Store is a filesystem-backed, content-addressed cache of scene
// captures. Writers are serialized per fingerprint (via a map of
// per-fingerprint mutexes) so
// two concurrent jobs recording the same scene never corrupt each other's
// write; readers never block and simply treat a partial write as a miss.
type Store struct {
	Dir    string
	Prober mediaops.Prober

	mu      sync.Mutex
	writing map[string]*sync.Mutex
}

func New(dir string, prober mediaops.Prober) *Store {
	return &Store{Dir: dir, Prober: prober, writing: map[string]*sync.Mutex{}}
}

func (s *Store) capturePath(fingerprint string) string {
	return filepath.Join(s.Dir, fingerprint+".mp4")
}

func (s *Store) metaPath(fingerprint string) string {
	return filepath.Join(s.Dir, fingerprint+".meta")
}

// Get looks up fingerprint and validates the cached capture meets the
// integrity threshold min(2s, 20% of sceneDurationSec) with at least one
// stream present (§4.4). A failed validation is treated identically to a
// miss: the caller re-records the scene.
func (s *Store) Get(ctx context.Context, renderID, fingerprint string, sceneDurationSec int) (Entry, error) {
	path := s.capturePath(fingerprint)
	if _, err := os.Stat(path); err != nil {
		metrics.Metrics.CacheMiss.Inc()
		return Entry{}, ErrMiss
	}

	threshold := math.Min(2.0, 0.2*float64(sceneDurationSec))
	result, err := s.Prober.Probe(ctx, renderID, path)
	if err != nil || !result.MeetsIntegrityThreshold(threshold) {
		log.Log(renderID, "cache entry failed integrity check, treating as miss", "fingerprint", fingerprint, "probe_err", fmt.Sprint(err))
		metrics.Metrics.CacheMiss.Inc()
		return Entry{}, ErrMiss
	}

	trimHintMs := readTrimHint(s.metaPath(fingerprint))
	metrics.Metrics.CacheHit.Inc()
	return Entry{CapturePath: path, TrimHintMs: trimHintMs}, nil
}

// Put atomically installs capturePath as the cached artifact for
// fingerprint: it writes to a temp file in the same directory and renames
// over the final name, so a crash mid-write never leaves a partial file
// visible to readers.
func (s *Store) Put(renderID, fingerprint, capturePath string, trimHintMs int) error {
	lock := s.lockFor(fingerprint)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("preparing cache dir: %w", err)
	}

	dest := s.capturePath(fingerprint)
	tmp := dest + ".tmp"
	if err := copyFile(capturePath, tmp); err != nil {
		return fmt.Errorf("staging cache entry: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("installing cache entry: %w", err)
	}

	if err := writeTrimHint(s.metaPath(fingerprint), trimHintMs); err != nil {
		log.LogError(renderID, "failed to persist trim hint metadata", err, "fingerprint", fingerprint)
	}

	log.Log(renderID, "installed cache entry", "fingerprint", fingerprint)
	return nil
}

func (s *Store) lockFor(fingerprint string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.writing[fingerprint]
	if !ok {
		l = &sync.Mutex{}
		s.writing[fingerprint] = l
	}
	return l
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return out.Sync()
}

func readTrimHint(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return mediaopsDefaultTrimHint
	}
	var ms int
	if _, err := fmt.Sscanf(string(data), "%d", &ms); err != nil {
		return mediaopsDefaultTrimHint
	}
	return ms
}

func writeTrimHint(path string, ms int) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", ms)), 0o644)
}

// mediaopsDefaultTrimHint mirrors recorder.DefaultTrimHintMs without
// importing the recorder package (cachestore sits below it in the
// dependency graph: scenepipeline imports both and calls cachestore.Put).
const mediaopsDefaultTrimHint = 500
