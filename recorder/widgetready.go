package recorder

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/loomrender/renderworker/log"
)

// prepareWidget runs the best-effort "widget readiness" protocol (§4.2
// step 3): none of these steps are allowed to fail the scene, since not
// every page implements every signal they probe for.
func prepareWidget(ctx context.Context, renderID string, w, h int) {
	steps := []struct {
		name string
		run  chromedp.Action
	}{
		{"bring-to-front", chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.Evaluate(`document.hasFocus && window.focus()`, nil))
		})},
		{"emulate-focus", chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.Evaluate(`document.dispatchEvent(new Event('visibilitychange'))`, nil))
		})},
		{"set-lifecycle-active", chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.Evaluate(`Object.defineProperty(document, 'hidden', {value: false, writable: true})`, nil))
		})},
		{"wait-fonts-ready", chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.Evaluate(`document.fonts ? document.fonts.ready : Promise.resolve()`, nil))
		})},
		{"synthetic-resize", chromedp.ActionFunc(func(ctx context.Context) error {
			return chromedp.Run(ctx, chromedp.EmulateViewport(int64(w), int64(h)))
		})},
		{"micro-scroll", chromedp.ActionFunc(func(ctx context.Context) error {
			if err := chromedp.Run(ctx, chromedp.Evaluate(`window.scrollBy(0, 1)`, nil)); err != nil {
				return err
			}
			return chromedp.Run(ctx, chromedp.Evaluate(`window.scrollBy(0, -1)`, nil))
		})},
	}

	for _, s := range steps {
		stepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := chromedp.Run(stepCtx, s.run)
		cancel()
		if err != nil {
			log.LogError(renderID, "widget readiness step failed, continuing", err, "step", s.name)
		}
	}

	// Two animation-frame waits plus a fixed settle delay, matching widget
	// libraries that defer their first paint to rAF callbacks.
	_ = chromedp.Run(ctx, chromedp.Evaluate(`new Promise(r => requestAnimationFrame(() => requestAnimationFrame(r)))`, nil))
	time.Sleep(1500 * time.Millisecond)
}
