package scenepipeline

import (
	"context"

	renderworkererrors "github.com/loomrender/renderworker/errors"
	"github.com/loomrender/renderworker/jobcache"
	"github.com/loomrender/renderworker/model"
)

// CancellationSource is satisfied by queueadapter.Adapter; narrowed here so
// ScenePipeline doesn't import the queue package directly.
type CancellationSource interface {
	IsCancelled(ctx context.Context, renderID string) (bool, error)
}

// ProgressSink is satisfied by queueadapter.Adapter.
type ProgressSink interface {
	ReportProgress(ctx context.Context, renderID string, status model.RenderStatus, progress int, errorMessage string) error
}

// JobContext bundles the per-job cancellation checkpoint and progress
// reporting (§5: "cancellation is cooperative and observed at well-defined
// checkpoints... at every progress update"). ScenePipeline calls
// Report(status, progress) between every stage and between every scene;
// Report itself is the cancellation checkpoint.
type JobContext struct {
	Ctx      context.Context
	RenderID string

	cancellation CancellationSource
	progress     ProgressSink
	tracker      *jobcache.Tracker

	lastProgress int
}

func NewJobContext(ctx context.Context, renderID string, cancellation CancellationSource, progress ProgressSink, tracker *jobcache.Tracker) *JobContext {
	return &JobContext{Ctx: ctx, RenderID: renderID, cancellation: cancellation, progress: progress, tracker: tracker}
}

// Cancelled checks the render's cancellation flag. Any error reading it is
// treated as "not cancelled" — a transient DB hiccup must never be
// mistaken for a user cancel.
func (j *JobContext) Cancelled() bool {
	cancelled, err := j.cancellation.IsCancelled(j.Ctx, j.RenderID)
	if err != nil {
		return false
	}
	return cancelled
}

// Report pushes a monotonic progress update and refreshes the heartbeat.
// Progress values below the last reported value are clamped up, since
// §8 requires monotonicity within a job's lifetime.
func (j *JobContext) Report(status model.RenderStatus, progress int) error {
	if progress < j.lastProgress {
		progress = j.lastProgress
	}
	j.lastProgress = progress

	if j.tracker != nil {
		j.tracker.UpdateStage(string(status), progress)
		j.tracker.Heartbeat()
	}

	if j.Cancelled() {
		return renderworkererrors.NewCancelledError()
	}

	return j.progress.ReportProgress(j.Ctx, j.RenderID, status, progress, "")
}
