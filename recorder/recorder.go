package recorder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	renderworkererrors "github.com/loomrender/renderworker/errors"
	"github.com/loomrender/renderworker/log"
	"github.com/loomrender/renderworker/model"
	"github.com/loomrender/renderworker/subprocess"
)

// CaptureFPS is the frame rate the browser is sampled at while recording;
// it is independent of the OutputSettings.FPS the final video is encoded
// at (mediaops.Normalize retimes to the latter).
const CaptureFPS = 30

// Params configures a single scene capture.
type Params struct {
	Width, Height int
	RecordMargin  time.Duration
	FFmpegBin     string
}

// SceneRecorder owns a scoped remote-browser session for the lifetime of a
// single scene capture (§4.2): create session, navigate, ready the widget,
// record for Duration+RecordMargin, stop, release.
type SceneRecorder struct {
	Browser *BrowserClient
	Params  Params
}

func New(browser *BrowserClient, params Params) *SceneRecorder {
	if params.FFmpegBin == "" {
		params.FFmpegBin = "ffmpeg"
	}
	return &SceneRecorder{Browser: browser, Params: params}
}

// Result is what ScenePipeline caches: the raw capture file plus the
// detected (or default) trim-hint offset in milliseconds.
type Result struct {
	CapturePath string
	TrimHintMs  int
}

// Record drives the full scene-capture lifecycle and always returns a
// SceneRecordError on failure, never a bare error, so ScenePipeline can
// route it through the taxonomy without re-wrapping (§7).
func (r *SceneRecorder) Record(ctx context.Context, renderID string, scene model.Scene, outPath string) (Result, error) {
	sessionTimeout := time.Duration(scene.Duration)*time.Second + r.Params.RecordMargin + 30*time.Second
	sess, err := r.Browser.CreateSession(ctx, renderID, r.Params.Width, r.Params.Height, sessionTimeout)
	if err != nil {
		return Result{}, renderworkererrors.NewSceneRecordError(fmt.Errorf("creating browser session: %w", err))
	}
	defer r.Browser.ReleaseSession(context.Background(), renderID, sess.ID)

	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, sess.WSURL)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(scene.EffectiveURL())); err != nil {
		return Result{}, renderworkererrors.NewSceneRecordError(fmt.Errorf("navigating to scene url: %w", err))
	}

	waitCtx, cancelWait := context.WithTimeout(browserCtx, 5*time.Second)
	_ = chromedp.Run(waitCtx, chromedp.Evaluate(`new Promise(r => {
		if (document.readyState === 'complete') return r();
		window.addEventListener('load', r, {once: true});
	})`, nil))
	cancelWait()

	prepareWidget(browserCtx, renderID, r.Params.Width, r.Params.Height)

	duration := time.Duration(scene.Duration)*time.Second + r.Params.RecordMargin
	capturePath, err := r.captureFrames(browserCtx, renderID, duration, outPath)
	if err != nil {
		return Result{}, renderworkererrors.NewSceneRecordError(fmt.Errorf("recording scene: %w", err))
	}

	trimHintMs, err := detectTrimHint(ctx, r.Params.FFmpegBin, renderID, capturePath)
	if err != nil {
		log.LogError(renderID, "trim-hint detection failed, using default", err)
		trimHintMs = DefaultTrimHintMs
	}

	return Result{CapturePath: capturePath, TrimHintMs: trimHintMs}, nil
}

// captureFrames samples CaptureFPS JPEG screenshots for the given duration
// and streams them into an ffmpeg image2pipe/mjpeg decoder that writes out
// a single raw capture file (§4.2 step 4/5: record, stop).
func (r *SceneRecorder) captureFrames(ctx context.Context, renderID string, duration time.Duration, outPath string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("preparing capture output dir: %w", err)
	}

	cmd := exec.Command(r.Params.FFmpegBin,
		"-y", "-hide_banner", "-loglevel", "warning",
		"-f", "image2pipe",
		"-framerate", strconv.Itoa(CaptureFPS),
		"-i", "pipe:0",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		outPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("opening ffmpeg stdin pipe: %w", err)
	}
	stderr, err := subprocess.StreamStderr(cmd, renderID, "ffmpeg capture sink")
	if err != nil {
		return "", fmt.Errorf("wiring ffmpeg stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting ffmpeg capture sink: %w", err)
	}

	interval := time.Second / time.Duration(CaptureFPS)
	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var captureErr error
captureLoop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			captureErr = ctx.Err()
			break captureLoop
		case <-ticker.C:
			var buf []byte
			if err := chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
				captureErr = fmt.Errorf("capturing frame: %w", err)
				break captureLoop
			}
			if _, err := stdin.Write(buf); err != nil {
				captureErr = fmt.Errorf("writing frame to ffmpeg: %w", err)
				break captureLoop
			}
		}
	}

	stdin.Close()
	waitErr := cmd.Wait()
	if captureErr != nil {
		return "", captureErr
	}
	if waitErr != nil {
		log.LogError(renderID, "ffmpeg capture sink exited with error", waitErr, "stderr_tail", stderr.String())
		return "", fmt.Errorf("ffmpeg capture sink: %w", waitErr)
	}

	return outPath, nil
}
