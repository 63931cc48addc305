package recorder

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
)

// DefaultTrimHintMs is used when scene-change detection finds no candidate
// cut above the perceptual threshold (§4.2 step 6).
const DefaultTrimHintMs = 500

// sceneChangeThreshold is the minimum ffmpeg scene-detection score (0..1)
// a frame transition must clear to be treated as the widget's "first
// meaningful paint" boundary.
const sceneChangeThreshold = 0.3

var showinfoPTS = regexp.MustCompile(`pts_time:([0-9.]+)`)

// detectTrimHint downsamples the capture to 10Hz and runs ffmpeg's scene
// filter, taking the first detected cut above sceneChangeThreshold as the
// trim point. If ffmpeg finds nothing, it returns DefaultTrimHintMs.
func detectTrimHint(ctx context.Context, ffmpegBin, renderID, capturePath string) (int, error) {
	cmd := exec.CommandContext(ctx, ffmpegBin,
		"-hide_banner", "-nostats",
		"-i", capturePath,
		"-vf", fmt.Sprintf("fps=10,select='gt(scene\\,%.2f)',showinfo", sceneChangeThreshold),
		"-f", "null", "-",
	)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return DefaultTrimHintMs, fmt.Errorf("opening ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return DefaultTrimHintMs, fmt.Errorf("starting scene-detect ffmpeg: %w", err)
	}

	var firstPTS string
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if firstPTS != "" {
			continue
		}
		if m := showinfoPTS.FindStringSubmatch(line); m != nil {
			firstPTS = m[1]
		}
	}
	_ = cmd.Wait()

	if firstPTS == "" {
		return DefaultTrimHintMs, nil
	}

	seconds, err := strconv.ParseFloat(firstPTS, 64)
	if err != nil {
		return DefaultTrimHintMs, fmt.Errorf("parsing scene-detect pts_time %q: %w", firstPTS, err)
	}

	return int(seconds * 1000), nil
}
