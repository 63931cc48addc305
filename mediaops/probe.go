// Package mediaops is a thin, typed wrapper over an external media-
// processing tool (ffmpeg/ffprobe): probe, transcode, concat, overlay, mask
// generation and thumbnail extraction (§4.3 spec.md component table).
//
// It replaces ad-hoc shell-string concatenation with a typed Command
// builder and a typed filter-graph AST (§9 design note) so no caller can
// construct an argument list by pasting scene URLs into a string.
package mediaops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/loomrender/renderworker/log"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// ProbeResult is the subset of ffprobe output MediaOps callers need:
// CacheStore integrity validation and normalization parameters.
type ProbeResult struct {
	DurationSec float64
	StreamCount int
	HasVideo    bool
	HasAudio    bool
	Width       int
	Height      int
}

type Prober interface {
	Probe(ctx context.Context, renderID, path string) (ProbeResult, error)
}

type FFProbe struct{}

func (p FFProbe) Probe(ctx context.Context, renderID, path string) (ProbeResult, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path)
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3)); err != nil {
		return ProbeResult{}, fmt.Errorf("error probing %s: %w", path, err)
	}

	if data == nil || data.Format == nil {
		return ProbeResult{}, errors.New("error probing: missing format information")
	}

	res := ProbeResult{
		DurationSec: data.Format.DurationSeconds,
		StreamCount: len(data.Streams),
	}
	if v := data.FirstVideoStream(); v != nil {
		res.HasVideo = true
		res.Width = v.Width
		res.Height = v.Height
	}
	if data.FirstAudioStream() != nil {
		res.HasAudio = true
	}

	log.Log(renderID, "probed media file", "path", path, "duration", res.DurationSec, "streams", res.StreamCount)
	return res, nil
}

// MeetsIntegrityThreshold implements CacheStore's validation rule (§4.4):
// a cached capture must have at least minDuration and at least one stream.
func (r ProbeResult) MeetsIntegrityThreshold(minDuration float64) bool {
	return r.DurationSec >= minDuration && r.StreamCount >= 1
}
