package mediaops

import "context"

// Thumbnail extracts a single JPEG frame from the final artifact at t=3s
// (§4.3 Thumbnail).
func (m *MediaOps) Thumbnail(ctx context.Context, renderID, finalPath, outPath string) error {
	cmd := NewCommand(m.FFmpegBin, renderID).
		SeekInput(finalPath, 3.0).
		Frames(1).
		Arg("-q:v", "2").
		Output(outPath)

	return cmd.Run(ctx)
}
