package mediaops

import (
	"context"
	"fmt"
)

// NormalizeParams are the target encode parameters for a single scene's
// raw capture (§4.3 Normalize per scene).
type NormalizeParams struct {
	Width, Height int
	FPS           int
	TrimStartMs   int
}

// Normalize re-encodes a raw scene capture to the exact target container,
// codec, dimensions, fps and YUV 4:2:0, seeking frame-accurately to
// TrimStartMs ("seek after input" so the seek lands on a decoded frame),
// emitting exactly round(duration*fps) frames with audio dropped.
func (m *MediaOps) Normalize(ctx context.Context, renderID, rawPath, outPath string, durationSec int, p NormalizeParams) error {
	seekSec := float64(p.TrimStartMs) / 1000.0
	frames := int(float64(durationSec)*float64(p.FPS) + 0.5)

	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1", p.Width, p.Height, p.Width, p.Height)

	cmd := NewCommand(m.FFmpegBin, renderID).
		SeekInput(rawPath, seekSec).
		VideoFilter(vf).
		FPS(p.FPS).
		Frames(frames).
		PixFmt("yuv420p").
		VideoCodec("libx264").
		CRF(18).
		NoAudio().
		Output(outPath)

	return cmd.Run(ctx)
}
