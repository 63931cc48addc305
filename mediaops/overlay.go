package mediaops

import (
	"context"
	"fmt"

	"github.com/loomrender/renderworker/model"
)

// OverlayParams carries everything buildOverlayGraph needs beyond the three
// input files themselves (§4.3 Overlay facecam).
type OverlayParams struct {
	Layout             model.FacecamLayout
	BackgroundDuration float64 // seconds, the concat stream's duration
	FacecamDuration    float64 // seconds, raw facecam asset duration
	StartOffsetSec     float64 // facecam head-pad: clone start frames this long
	FacecamHasAudio    bool
	BackgroundHasAudio bool
}

// cornerOffsets returns the ffmpeg overlay x/y expressions for the given
// corner, with the camera inset by margin and the shadow inset by
// margin-shadowPad so the blurred shadow peeks out from behind the cam.
func cornerOffsets(corner model.Corner, margin, shadowPad int) (camX, camY, shadowX, shadowY string) {
	switch corner {
	case model.CornerTopLeft:
		return fmt.Sprintf("%d", margin), fmt.Sprintf("%d", margin),
			fmt.Sprintf("%d", margin-shadowPad), fmt.Sprintf("%d", margin-shadowPad)
	case model.CornerTopRight:
		return fmt.Sprintf("W-w-%d", margin), fmt.Sprintf("%d", margin),
			fmt.Sprintf("W-w-%d", margin-shadowPad), fmt.Sprintf("%d", margin-shadowPad)
	case model.CornerBottomLeft:
		return fmt.Sprintf("%d", margin), fmt.Sprintf("H-h-%d", margin),
			fmt.Sprintf("%d", margin-shadowPad), fmt.Sprintf("H-h-%d", margin-shadowPad)
	default: // bottom-right
		return fmt.Sprintf("W-w-%d", margin), fmt.Sprintf("H-h-%d", margin),
			fmt.Sprintf("W-w-%d", margin-shadowPad), fmt.Sprintf("H-h-%d", margin-shadowPad)
	}
}

// buildOverlayGraph renders the six-step filter graph described in §4.3:
// facecam prep, mask prep, cam composite, shadow composite, audio prep,
// and final layering. Returns the graph plus the labels of the final
// video and (possibly empty) audio outputs.
func buildOverlayGraph(p OverlayParams) (graph *FilterGraph, videoOut, audioOut string) {
	g := NewFilterGraph()
	pip := p.Layout.PiPWidth
	if pip <= 0 {
		pip = 230
	}
	margin := p.Layout.Margin

	// 1. Facecam: reset timestamps, center-crop to square, scale to PiP
	// width, optionally head-pad by StartOffsetSec, optionally tail-pad to
	// match background duration.
	camChain := "setpts=PTS-STARTPTS,crop=min(iw\\,ih):min(iw\\,ih),scale=" + fmt.Sprintf("%d:%d", pip, pip)
	if p.StartOffsetSec > 0 {
		camChain += fmt.Sprintf(",tpad=start_duration=%.3f:start_mode=clone", p.StartOffsetSec)
	}
	tailPad := p.BackgroundDuration - (p.StartOffsetSec + p.FacecamDuration)
	if p.Layout.EndPad == model.EndPadFreeze && tailPad > 0 {
		camChain += fmt.Sprintf(",tpad=stop_duration=%.3f:stop_mode=clone", tailPad)
	} else if p.Layout.EndPad == model.EndPadLoop && tailPad > 0 {
		camChain += fmt.Sprintf(",tpad=stop_duration=%.3f:stop_mode=clone", tailPad) // same frozen-frame pad; the facecam input is not looped
	}
	g.Add([]string{"1:v"}, camChain, []string{"cam_raw"})

	// 2. Mask: scale to PiP width, extract alpha, split into cam/shadow
	// paths.
	g.Add([]string{"2:v"}, fmt.Sprintf("scale=%d:%d,alphaextract,split=2", pip, pip), []string{"mask_cam_a", "mask_shadow_a"})

	// 3. Cam composite: alpha-merge facecam RGB with cam alpha mask.
	g.Add([]string{"cam_raw", "mask_cam_a"}, "format=rgba,alphamerge", []string{"cam_rounded"})

	// 4. Shadow: pad the shadow alpha split onto a larger transparent
	// canvas, box-blur, combine with opaque black at 50% alpha.
	shadowPad := 16
	shadowCanvas := pip + 2*shadowPad
	g.Add([]string{"mask_shadow_a"}, fmt.Sprintf("pad=%d:%d:%d:%d:color=black@0.0,boxblur=%d", shadowCanvas, shadowCanvas, shadowPad, shadowPad, shadowPad), []string{"shadow_a_blurred"})
	g.Add([]string{fmt.Sprintf("color=black@0.5:s=%dx%d", shadowCanvas, shadowCanvas), "shadow_a_blurred"}, "format=rgba,alphamerge", []string{"shadow"})

	// 6. Layer: shadow first (peeking out behind cam), then cam, onto the
	// background, shortest=1 so overlay ends with the background stream.
	camX, camY, shadowX, shadowY := cornerOffsets(p.Layout.Corner, margin, shadowPad)
	g.Add([]string{"0:v", "shadow"}, fmt.Sprintf("overlay=x=%s:y=%s:shortest=1", shadowX, shadowY), []string{"with_shadow"})
	g.Add([]string{"with_shadow", "cam_rounded"}, fmt.Sprintf("overlay=x=%s:y=%s:shortest=1", camX, camY), []string{"vout"})
	videoOut = "vout"

	// 5. Audio: normalize facecam audio timestamps; prepend silence for
	// StartOffsetSec; pad to an explicit whole_dur equal to background
	// duration (never rely on ffmpeg's implicit shortest-stream padding —
	// it is unreliable, per §9's open-question decision); fall back to
	// background audio if facecam has none.
	switch {
	case p.FacecamHasAudio:
		aChain := "asetpts=PTS-STARTPTS"
		if p.StartOffsetSec > 0 {
			aChain += fmt.Sprintf(",adelay=%d|%d", int(p.StartOffsetSec*1000), int(p.StartOffsetSec*1000))
		}
		aChain += fmt.Sprintf(",apad=whole_dur=%.3f", p.BackgroundDuration)
		g.Add([]string{"1:a"}, aChain, []string{"aout"})
		audioOut = "aout"
	case p.BackgroundHasAudio:
		g.Add([]string{"0:a"}, fmt.Sprintf("asetpts=PTS-STARTPTS,apad=whole_dur=%.3f", p.BackgroundDuration), []string{"aout"})
		audioOut = "aout"
	default:
		audioOut = ""
	}

	return g, videoOut, audioOut
}

// Overlay is the single media-tool invocation that composites the
// background (concat), facecam, and a pre-baked rounded-square alpha mask
// into the final artifact: H.264 high profile, yuv420p, CRF 18, veryfast
// preset, AAC 128kbps 48kHz, +faststart (§4.3).
func (m *MediaOps) Overlay(ctx context.Context, renderID, backgroundPath, facecamPath, maskPath, outPath string, p OverlayParams) error {
	graph, videoLabel, audioLabel := buildOverlayGraph(p)

	cmd := NewCommand(m.FFmpegBin, renderID).
		Input(backgroundPath).
		Input(facecamPath).
		Input(maskPath).
		FilterComplex(graph.String()).
		Map("[" + videoLabel + "]")

	if audioLabel != "" {
		cmd = cmd.Map("[" + audioLabel + "]").AudioCodec("aac").AudioBitrate(128).AudioRate(48000)
	} else {
		cmd = cmd.NoAudio()
	}

	cmd = cmd.VideoCodec("libx264").Profile("high").PixFmt("yuv420p").CRF(18).Preset("veryfast").MovFlags("+faststart").Output(outPath)

	return cmd.Run(ctx)
}
