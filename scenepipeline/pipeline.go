// Package scenepipeline turns a claimed Job into a final artifact and
// thumbnail on local disk, reporting progress through every stage (§4.3).
package scenepipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/loomrender/renderworker/cachestore"
	renderworkererrors "github.com/loomrender/renderworker/errors"
	"github.com/loomrender/renderworker/log"
	"github.com/loomrender/renderworker/mediaops"
	"github.com/loomrender/renderworker/metrics"
	"github.com/loomrender/renderworker/model"
	"github.com/loomrender/renderworker/recorder"
)

const maxTotalSceneDurationSec = 300

// SceneRecorderer is the subset of *recorder.SceneRecorder the pipeline
// needs; narrowed to an interface so tests can substitute a fake capture
// without spinning up a remote browser session.
type SceneRecorderer interface {
	Record(ctx context.Context, renderID string, scene model.Scene, outPath string) (recorder.Result, error)
}

// MediaOpser is the subset of *mediaops.MediaOps the pipeline drives.
type MediaOpser interface {
	Probe(ctx context.Context, renderID, path string) (mediaops.ProbeResult, error)
	Normalize(ctx context.Context, renderID, rawPath, outPath string, durationSec int, p mediaops.NormalizeParams) error
	Concat(ctx context.Context, renderID string, normalizedPaths []string, fps int, outPath string) error
	Overlay(ctx context.Context, renderID, backgroundPath, facecamPath, maskPath, outPath string, p mediaops.OverlayParams) error
	Thumbnail(ctx context.Context, renderID, finalPath, outPath string) error
	GenerateRoundedMask(ctx context.Context, renderID string, size, cornerRadius int, outPath string) error
}

// CacheStorer is the subset of *cachestore.Store the pipeline drives.
type CacheStorer interface {
	Get(ctx context.Context, renderID, fingerprint string, sceneDurationSec int) (cachestore.Entry, error)
	Put(renderID, fingerprint, capturePath string, trimHintMs int) error
}

// Pipeline wires together the three stage owners: SceneRecorder (capture),
// CacheStore (reuse), and MediaOps (transcode/overlay/thumbnail).
type Pipeline struct {
	Recorder SceneRecorderer
	Cache    CacheStorer
	Media    MediaOpser

	CacheNamespaceDefault string
}

func New(rec SceneRecorderer, cache CacheStorer, media MediaOpser) *Pipeline {
	return &Pipeline{Recorder: rec, Cache: cache, Media: media}
}

// Prepare validates preconditions and resolves CSV-entry scene URLs. It
// must run before Run, and before any fingerprinting (§4.3 preconditions,
// §9 CSV-substitution-before-fingerprint decision).
func (p *Pipeline) Prepare(job *model.Job, workDir model.WorkingDirectory) error {
	if len(job.Scenes) == 0 {
		return renderworkererrors.NewValidationError("job has no scenes")
	}

	total := 0
	for _, s := range job.Scenes {
		if s.Duration < 1 {
			return renderworkererrors.NewValidationError(fmt.Sprintf("scene %s duration must be >= 1s, got %d", s.ID, s.Duration))
		}
		total += s.Duration
	}
	if total > maxTotalSceneDurationSec {
		return renderworkererrors.NewValidationError(fmt.Sprintf("sum of scene durations %ds exceeds %ds limit", total, maxTotalSceneDurationSec))
	}

	if job.HasFacecam() {
		facecamDuration, err := p.Media.Probe(context.Background(), job.RenderID, workDir.FacecamPath)
		if err != nil {
			return renderworkererrors.NewValidationError(fmt.Sprintf("probing facecam asset: %s", err))
		}
		if int(math.Floor(facecamDuration.DurationSec)) != total {
			return renderworkererrors.NewValidationError(fmt.Sprintf("Duration mismatch: facecam is %.0fs, scene total is %ds", facecamDuration.DurationSec, total))
		}
	}

	if workDir.CSVPath != "" {
		if err := resolveCSVScenes(job, workDir.CSVPath); err != nil {
			return err
		}
	}

	return nil
}

// Run executes the full stage map and returns the final artifact and
// thumbnail paths. jc.Report is called between every stage and between
// every scene; a CancelledError returned from Report propagates here
// unwrapped, so the caller (WorkerLoop) can route it to the cancel path
// instead of the fail path.
func (p *Pipeline) Run(jc *JobContext, job *model.Job, workDir model.WorkingDirectory) (finalPath, thumbPath string, err error) {
	namespace := job.CacheNamespace
	if namespace == "" {
		namespace = p.CacheNamespaceDefault
	}

	normalizedPaths := make([]string, len(job.Scenes))
	sceneStart, sceneEnd := 10, 40
	sceneSpan := sceneEnd - sceneStart

	for i, scene := range job.Scenes {
		if err := jc.Report(model.StatusRecording, sceneStart+sceneSpan*i/max(1, len(job.Scenes))); err != nil {
			return "", "", err
		}

		captured, err := p.recordOrReuse(jc, job, scene, namespace, workDir, i)
		if err != nil {
			return "", "", err
		}

		normalizedPath := filepath.Join(workDir.NormalizedDir, fmt.Sprintf("scene-%02d.mp4", scene.Order))
		trimStartSec := float64(captured.TrimHintMs) / 1000.0
		normStart := time.Now()
		err = p.Media.Normalize(jc.Ctx, job.RenderID, captured.CapturePath, normalizedPath, scene.Duration, mediaops.NormalizeParams{
			Width:       job.Output.Width,
			Height:      job.Output.Height,
			FPS:         job.Output.FPS,
			TrimStartMs: int(trimStartSec * 1000),
		})
		metrics.Metrics.StageDurationSec.WithLabelValues("normalize").Observe(time.Since(normStart).Seconds())
		if err != nil {
			return "", "", renderworkererrors.NewPermanentError(fmt.Errorf("normalizing scene %s: %w", scene.ID, err))
		}
		normalizedPaths[i] = normalizedPath
	}

	if err := jc.Report(model.StatusNormalizing, 50); err != nil {
		return "", "", err
	}

	if err := jc.Report(model.StatusConcatenating, 60); err != nil {
		return "", "", err
	}
	concatStart := time.Now()
	if err := p.Media.Concat(jc.Ctx, job.RenderID, normalizedPaths, job.Output.FPS, workDir.ConcatPath); err != nil {
		return "", "", renderworkererrors.NewPermanentError(fmt.Errorf("concatenating scenes: %w", err))
	}
	metrics.Metrics.StageDurationSec.WithLabelValues("concat").Observe(time.Since(concatStart).Seconds())
	if err := jc.Report(model.StatusConcatenating, 70); err != nil {
		return "", "", err
	}

	artifactPath := workDir.ConcatPath
	if job.HasFacecam() {
		if err := jc.Report(model.StatusOverlaying, 70); err != nil {
			return "", "", err
		}
		if err := p.overlay(jc, job, workDir); err != nil {
			return "", "", err
		}
		artifactPath = workDir.FinalPath
		if err := jc.Report(model.StatusOverlaying, 80); err != nil {
			return "", "", err
		}
	} else {
		artifactPath = workDir.FinalPath
		if err := os.Rename(workDir.ConcatPath, workDir.FinalPath); err != nil {
			return "", "", renderworkererrors.NewPermanentError(fmt.Errorf("promoting concat output to final artifact: %w", err))
		}
	}

	if err := jc.Report(model.StatusCreatingThumbnail, 80); err != nil {
		return "", "", err
	}
	thumbStart := time.Now()
	if err := p.Media.Thumbnail(jc.Ctx, job.RenderID, artifactPath, workDir.ThumbnailPath); err != nil {
		return "", "", renderworkererrors.NewPermanentError(fmt.Errorf("generating thumbnail: %w", err))
	}
	metrics.Metrics.StageDurationSec.WithLabelValues("thumbnail").Observe(time.Since(thumbStart).Seconds())
	if err := jc.Report(model.StatusCreatingThumbnail, 85); err != nil {
		return "", "", err
	}

	return artifactPath, workDir.ThumbnailPath, nil
}

// recordOrReuse checks the cache, falling back to SceneRecorder with the
// retry policy (retries=3, backoff=1s·2^n) on miss, and writes the result
// back to the cache on success (§4.3 Recording + cache).
func (p *Pipeline) recordOrReuse(jc *JobContext, job *model.Job, scene model.Scene, namespace string, workDir model.WorkingDirectory, idx int) (cachestore.Entry, error) {
	fingerprint := cachestore.Fingerprint(namespace, job.CacheKeySalt, scene)

	if entry, err := p.Cache.Get(jc.Ctx, job.RenderID, fingerprint, scene.Duration); err == nil {
		log.Log(job.RenderID, "cache hit for scene", "scene_id", scene.ID, "fingerprint", fingerprint)
		return entry, nil
	}

	capturePath := filepath.Join(workDir.RawScenesDir, fmt.Sprintf("scene-%02d.raw.mp4", scene.Order))

	var result recorder.Result
	recordStart := time.Now()
	err := Retry(jc.Ctx, job.RenderID, "scene_record", DefaultRetryPolicy, func() error {
		r, recErr := p.Recorder.Record(jc.Ctx, job.RenderID, scene, capturePath)
		if recErr != nil {
			if renderworkererrors.IsSceneRecordError(recErr) {
				return renderworkererrors.NewTransientError(recErr)
			}
			return recErr
		}
		result = r
		return nil
	})
	metrics.Metrics.StageDurationSec.WithLabelValues("record").Observe(time.Since(recordStart).Seconds())
	if err != nil {
		return cachestore.Entry{}, err
	}

	if err := p.Cache.Put(job.RenderID, fingerprint, result.CapturePath, result.TrimHintMs); err != nil {
		log.LogError(job.RenderID, "failed to populate cache after recording", err, "fingerprint", fingerprint)
	}

	return cachestore.Entry{CapturePath: result.CapturePath, TrimHintMs: result.TrimHintMs}, nil
}

func (p *Pipeline) overlay(jc *JobContext, job *model.Job, workDir model.WorkingDirectory) error {
	facecamProbe, err := p.Media.Probe(jc.Ctx, job.RenderID, workDir.FacecamPath)
	if err != nil {
		return renderworkererrors.NewPermanentError(fmt.Errorf("probing facecam for overlay: %w", err))
	}
	backgroundProbe, err := p.Media.Probe(jc.Ctx, job.RenderID, workDir.ConcatPath)
	if err != nil {
		return renderworkererrors.NewPermanentError(fmt.Errorf("probing background for overlay: %w", err))
	}

	maskPath := filepath.Join(workDir.Root, "mask.png")
	if err := p.Media.GenerateRoundedMask(jc.Ctx, job.RenderID, job.Output.FacecamLayout.PiPWidth, job.Output.FacecamLayout.PiPWidth/8, maskPath); err != nil {
		return renderworkererrors.NewPermanentError(fmt.Errorf("generating rounded mask: %w", err))
	}

	overlayStart := time.Now()
	err = p.Media.Overlay(jc.Ctx, job.RenderID, workDir.ConcatPath, workDir.FacecamPath, maskPath, workDir.FinalPath, mediaops.OverlayParams{
		Layout:             job.Output.FacecamLayout,
		BackgroundDuration: backgroundProbe.DurationSec,
		FacecamDuration:    facecamProbe.DurationSec,
		FacecamHasAudio:    facecamProbe.HasAudio,
		BackgroundHasAudio: backgroundProbe.HasAudio,
	})
	metrics.Metrics.StageDurationSec.WithLabelValues("overlay").Observe(time.Since(overlayStart).Seconds())
	if err != nil {
		return renderworkererrors.NewPermanentError(fmt.Errorf("compositing facecam overlay: %w", err))
	}
	return nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
