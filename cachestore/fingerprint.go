// Package cachestore is the content-addressed cache of recorded scene
// captures, keyed by a fingerprint over (namespace, URL, entry type,
// duration, salt)
// so two jobs recording the same manual-entry scene URL reuse the same
// capture, while CSV-sourced scenes and explicitly salted jobs don't
// collide with anything else (§4.4, §9 open question: fingerprint scope).
package cachestore

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/loomrender/renderworker/model"
)

// Fingerprint computes the cache key for a scene capture. Namespace and
// salt are folded in only when non-empty, so a job with no explicit
// namespace/salt still produces a stable, shareable key across jobs that
// reference the same manual URL (the common case).
func Fingerprint(namespace, salt string, scene model.Scene) string {
	h := sha256.New()
	if namespace != "" {
		h.Write([]byte("ns:" + namespace + "\x00"))
	}
	h.Write([]byte("url:" + scene.EffectiveURL() + "\x00"))
	h.Write([]byte("type:" + string(scene.EntryType) + "\x00"))
	h.Write([]byte("duration:" + strconv.Itoa(scene.Duration) + "\x00"))
	if salt != "" {
		h.Write([]byte("salt:" + salt + "\x00"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
