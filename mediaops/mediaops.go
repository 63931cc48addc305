package mediaops

import "context"

// MediaOps wraps the external media-processing tools (ffmpeg/ffprobe)
// behind typed methods (Probe, Normalize, Concat, Overlay, Thumbnail,
// GenerateRoundedMask). FFmpegBin defaults to the ffmpeg binary on PATH;
// Prober defaults to FFProbe.
type MediaOps struct {
	FFmpegBin string
	Prober    Prober
}

func New() *MediaOps {
	return &MediaOps{
		FFmpegBin: "ffmpeg",
		Prober:    FFProbe{},
	}
}

// Probe delegates to the configured Prober, defaulting to ffprobe.
func (m *MediaOps) Probe(ctx context.Context, renderID, path string) (ProbeResult, error) {
	return m.Prober.Probe(ctx, renderID, path)
}
