package mediaops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Concat produces a single contiguous stream from the ordered per-scene
// normalized files using ffmpeg's concat demuxer (which trusts container
// framing for same-codec inputs), re-encoding the video at the target
// fps/CRF afterward so the output has monotonic timestamps even when the
// per-scene files were generated independently (§4.3 Concat).
func (m *MediaOps) Concat(ctx context.Context, renderID string, normalizedPaths []string, fps int, outPath string) error {
	if len(normalizedPaths) == 0 {
		return fmt.Errorf("concat: no normalized scene files provided")
	}

	listPath := filepath.Join(filepath.Dir(outPath), "concat_list.txt")
	f, err := os.Create(listPath)
	if err != nil {
		return fmt.Errorf("concat: creating list file: %w", err)
	}
	for _, p := range normalizedPaths {
		if _, err := fmt.Fprintf(f, "file '%s'\n", p); err != nil {
			f.Close()
			return fmt.Errorf("concat: writing list file: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("concat: closing list file: %w", err)
	}
	defer os.Remove(listPath)

	cmd := NewCommand(m.FFmpegBin, renderID).
		Arg("-f", "concat", "-safe", "0").
		Input(listPath).
		FPS(fps).
		PixFmt("yuv420p").
		VideoCodec("libx264").
		CRF(18).
		NoAudio().
		Output(outPath)

	return cmd.Run(ctx)
}
