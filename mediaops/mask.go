package mediaops

import (
	"context"
	"fmt"
)

// GenerateRoundedMask pre-bakes a rounded-square alpha mask of the given
// size, used as the third input to Overlay. The mask is a pure function of
// size and corner radius; ScenePipeline renders it into each job's working
// directory on every overlay run.
func (m *MediaOps) GenerateRoundedMask(ctx context.Context, renderID string, size, cornerRadius int, outPath string) error {
	// Draw an opaque rounded rectangle on a transparent canvas using the
	// geq filter: alpha is 255 inside the rounded-rect region, 0 outside.
	r := cornerRadius
	expr := fmt.Sprintf(
		"if(lt(X\\,%d)*lt(Y\\,%d)\\,if(lte(hypot(%d-X\\,%d-Y)\\,%d)\\,255\\,0)\\,"+
			"if(gt(X\\,%d-%d)*lt(Y\\,%d)\\,if(lte(hypot(X-(%d-%d)\\,%d-Y)\\,%d)\\,255\\,0)\\,"+
			"if(lt(X\\,%d)*gt(Y\\,%d-%d)\\,if(lte(hypot(%d-X\\,Y-(%d-%d))\\,%d)\\,255\\,0)\\,"+
			"if(gt(X\\,%d-%d)*gt(Y\\,%d-%d)\\,if(lte(hypot(X-(%d-%d)\\,Y-(%d-%d))\\,%d)\\,255\\,0)\\,255))))",
		r, r, r, r, r,
		size, r, r, size, r, r, r,
		r, size, r, r, size, r, r,
		size, r, size, r, size, r, size, r, r,
	)

	vf := fmt.Sprintf("geq=r=255:g=255:b=255:a='%s'", expr)

	cmd := NewCommand(m.FFmpegBin, renderID).
		Arg("-f", "lavfi", "-i", fmt.Sprintf("color=black@0.0:s=%dx%d", size, size)).
		VideoFilter(vf).
		Frames(1).
		Output(outPath)

	return cmd.Run(ctx)
}
