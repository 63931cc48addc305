// Package workerloop is the Scheduler/WorkerLoop state machine (§4.7):
// starting → idle ⇄ claiming → processing → reporting → idle, with
// draining and cancelling side-paths, heartbeat, and graceful shutdown.
package workerloop

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/loomrender/renderworker/config"
	"github.com/loomrender/renderworker/diskmanager"
	renderworkererrors "github.com/loomrender/renderworker/errors"
	"github.com/loomrender/renderworker/jobcache"
	"github.com/loomrender/renderworker/log"
	"github.com/loomrender/renderworker/metrics"
	"github.com/loomrender/renderworker/model"
	"github.com/loomrender/renderworker/scenepipeline"
)

// Queue is the subset of queueadapter.Adapter the loop drives.
type Queue interface {
	Claim(ctx context.Context, cap int) (*model.Job, error)
	ReportProgress(ctx context.Context, renderID string, status model.RenderStatus, progress int, errorMessage string) error
	Complete(ctx context.Context, jobID, renderID, finalURL, thumbURL, publicID string) error
	Fail(ctx context.Context, jobID, renderID, errorMessage string) error
	Cancel(ctx context.Context, jobID, renderID string) error
	IsCancelled(ctx context.Context, renderID string) (bool, error)
	FetchConcurrencyCap(ctx context.Context) (int, error)
}

// Storage is the subset of storageadapter.Adapter the loop drives.
type Storage interface {
	Upload(ctx context.Context, renderID, finalPath, thumbPath, publicID string) (finalURL, thumbURL string, err error)
}

// InputFetcher downloads a job's facecam/CSV inputs into the working
// directory before ScenePipeline.Run (§4.7 "fetch facecam and CSV if
// referenced").
type InputFetcher interface {
	Fetch(ctx context.Context, renderID, url, destPath string) error
}

// Loop owns one worker process's job loop, heartbeat, and shutdown.
type Loop struct {
	Queue    Queue
	Storage  Storage
	Fetcher  InputFetcher
	Pipeline *scenepipeline.Pipeline
	Cap      *config.ConcurrencyCap
	Tracker  *jobcache.Tracker
	Disk     *diskmanager.Manager

	PollInterval   time.Duration
	KillTimeout    time.Duration
	WorkingDirRoot string

	statusLogger *charmlog.Logger
}

func New(queue Queue, storage Storage, fetcher InputFetcher, pipeline *scenepipeline.Pipeline, cap *config.ConcurrencyCap, tracker *jobcache.Tracker, disk *diskmanager.Manager, workingDirRoot string) *Loop {
	return &Loop{
		Queue:          queue,
		Storage:        storage,
		Fetcher:        fetcher,
		Pipeline:       pipeline,
		Cap:            cap,
		Tracker:        tracker,
		Disk:           disk,
		PollInterval:   config.DefaultPollInterval,
		KillTimeout:    config.DefaultKillTimeout,
		WorkingDirRoot: workingDirRoot,
		statusLogger:   charmlog.NewWithOptions(os.Stderr, charmlog.Options{Prefix: "renderworker"}),
	}
}

// Run blocks in the claim/process/report loop until ctx is cancelled, at
// which point it refuses new claims, waits up to KillTimeout for the
// in-flight job, then returns (§4.7 shutdown).
func (l *Loop) Run(ctx context.Context) {
	l.statusLogger.Info("worker loop starting", "poll_interval", l.PollInterval)

	for {
		select {
		case <-ctx.Done():
			l.drain()
			return
		default:
		}

		job, err := l.claim(ctx)
		if err != nil {
			log.LogNoRequestID("claim failed", "error", err)
			time.Sleep(l.PollInterval)
			continue
		}
		if job == nil {
			l.Tracker.Heartbeat()
			time.Sleep(l.PollInterval)
			continue
		}

		l.process(ctx, job)
	}
}

func (l *Loop) claim(ctx context.Context) (*model.Job, error) {
	if l.Cap.Stale(int64(config.ConcurrencyCapRefreshInterval)) {
		if fresh, err := l.Queue.FetchConcurrencyCap(ctx); err == nil {
			l.Cap.Set(fresh)
			metrics.Metrics.ConcurrencyLimit.Set(float64(fresh))
		}
	}

	claimCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	job, err := l.Queue.Claim(claimCtx, l.Cap.Get())
	if err != nil {
		return nil, err
	}
	if job == nil {
		metrics.Metrics.ClaimEmptyCount.Inc()
		return nil, nil
	}
	metrics.Metrics.ClaimCount.Inc()
	return job, nil
}

func (l *Loop) process(ctx context.Context, job *model.Job) {
	metrics.Metrics.JobsInFlight.Set(1)
	defer metrics.Metrics.JobsInFlight.Set(0)

	l.Tracker.SetCurrent(&jobcache.CurrentJob{
		JobID:      job.JobID,
		RenderID:   job.RenderID,
		CampaignID: job.CampaignID,
		Stage:      string(model.StatusRecording),
		StartedAt:  time.Now(),
	})
	defer l.Tracker.SetCurrent(nil)

	workDir := l.newWorkingDirectory(job)
	if err := prepareDirectories(workDir); err != nil {
		log.LogError(job.RenderID, "failed to prepare working directory", err)
		_ = l.Queue.Fail(ctx, job.JobID, job.RenderID, err.Error())
		metrics.Metrics.JobsFailed.WithLabelValues("working_dir").Inc()
		return
	}

	if err := l.fetchInputs(ctx, job, workDir); err != nil {
		log.LogError(job.RenderID, "failed to fetch job inputs", err)
		_ = l.Queue.Fail(ctx, job.JobID, job.RenderID, err.Error())
		metrics.Metrics.JobsFailed.WithLabelValues("fetch_inputs").Inc()
		os.RemoveAll(workDir.Root)
		return
	}

	if err := l.Pipeline.Prepare(job, workDir); err != nil {
		log.LogError(job.RenderID, "job failed precondition validation", err)
		_ = l.Queue.Fail(ctx, job.JobID, job.RenderID, err.Error())
		metrics.Metrics.JobsFailed.WithLabelValues("validation").Inc()
		os.RemoveAll(workDir.Root)
		return
	}

	jc := scenepipeline.NewJobContext(ctx, job.RenderID, l.Queue, l.Queue, l.Tracker)
	finalPath, thumbPath, err := l.Pipeline.Run(jc, job, workDir)

	if renderworkererrors.IsCancelledError(err) {
		l.handleCancel(ctx, job, workDir)
		return
	}
	if err != nil {
		l.handleFailure(ctx, job, workDir, err)
		return
	}

	l.handleSuccess(ctx, job, workDir, finalPath, thumbPath)
}

func (l *Loop) handleSuccess(ctx context.Context, job *model.Job, workDir model.WorkingDirectory, finalPath, thumbPath string) {
	_ = l.Queue.ReportProgress(ctx, job.RenderID, model.StatusUploading, 85, "")

	publicID := job.PublicID
	if publicID == "" {
		publicID = uuid.NewString()
	}

	finalURL, thumbURL, err := l.Storage.Upload(ctx, job.RenderID, finalPath, thumbPath, publicID)
	if err != nil {
		l.handleFailure(ctx, job, workDir, err)
		return
	}

	if err := l.Queue.Complete(ctx, job.JobID, job.RenderID, finalURL, thumbURL, publicID); err != nil {
		log.LogError(job.RenderID, "failed to mark job complete after successful upload", err)
	}

	if l.Disk != nil {
		if err := l.Disk.ScheduleSuccess(job.RenderID, workDir.Root); err != nil {
			log.LogError(job.RenderID, "failed to schedule working directory deletion", err)
		}
	}

	metrics.Metrics.JobsCompleted.Inc()
	log.Log(job.RenderID, "job completed", "final_url", log.RedactURL(finalURL))
}

func (l *Loop) handleFailure(ctx context.Context, job *model.Job, workDir model.WorkingDirectory, cause error) {
	if err := l.Queue.Fail(ctx, job.JobID, job.RenderID, cause.Error()); err != nil {
		log.LogError(job.RenderID, "failed to mark job failed", err)
	}

	if l.Disk != nil {
		if err := l.Disk.ScheduleFailure(job.RenderID, workDir.Root); err != nil {
			log.LogError(job.RenderID, "failed to schedule working directory deletion", err)
		}
	}

	metrics.Metrics.JobsFailed.WithLabelValues(errorKind(cause)).Inc()
	log.LogError(job.RenderID, "job failed", cause)
}

// handleCancel routes a user-initiated cancel_render to the cancelled
// terminal state (§3, §4.7(c)): distinct from handleFailure, which must
// never be used here since Fail would clobber the cancelled status the
// cancel_render RPC already set.
func (l *Loop) handleCancel(ctx context.Context, job *model.Job, workDir model.WorkingDirectory) {
	if err := l.Queue.Cancel(ctx, job.JobID, job.RenderID); err != nil {
		log.LogError(job.RenderID, "failed to mark job cancelled", err)
	}

	if l.Disk != nil {
		l.Disk.DeleteNow(job.RenderID, workDir.Root)
	} else {
		os.RemoveAll(workDir.Root)
	}

	metrics.Metrics.JobsCancelled.Inc()
	log.Log(job.RenderID, "job cancelled")
}

// drain is the idle→draining→stopped path: refuse new claims, wait up to
// KillTimeout for the in-flight job to finish.
func (l *Loop) drain() {
	l.Tracker.SetShuttingDown(true)
	l.statusLogger.Info("draining, waiting for in-flight job", "kill_timeout", l.KillTimeout)

	deadline := time.Now().Add(l.KillTimeout)
	for time.Now().Before(deadline) {
		if l.Tracker.Current() == nil {
			l.statusLogger.Info("drain complete, no in-flight job")
			return
		}
		time.Sleep(500 * time.Millisecond)
	}

	if current := l.Tracker.Current(); current != nil {
		log.LogError(current.RenderID, "worker killed while job still in flight", fmt.Errorf("kill timeout exceeded"))
	}
}

func (l *Loop) newWorkingDirectory(job *model.Job) model.WorkingDirectory {
	root := filepath.Join(l.WorkingDirRoot, job.CampaignID, job.JobID)
	return model.WorkingDirectory{
		Root:          root,
		JobID:         job.JobID,
		RenderID:      job.RenderID,
		CampaignID:    job.CampaignID,
		FacecamPath:   filepath.Join(root, "facecam.mp4"),
		CSVPath:       filepath.Join(root, "leads.csv"),
		RawScenesDir:  filepath.Join(root, "raw"),
		NormalizedDir: filepath.Join(root, "normalized"),
		ConcatPath:    filepath.Join(root, "concat.mp4"),
		FinalPath:     filepath.Join(root, "final.mp4"),
		ThumbnailPath: filepath.Join(root, "thumbnail.jpg"),
	}
}

func prepareDirectories(wd model.WorkingDirectory) error {
	for _, dir := range []string{wd.Root, wd.RawScenesDir, wd.NormalizedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

func (l *Loop) fetchInputs(ctx context.Context, job *model.Job, workDir model.WorkingDirectory) error {
	if job.HasFacecam() {
		if err := l.Fetcher.Fetch(ctx, job.RenderID, job.FacecamURL, workDir.FacecamPath); err != nil {
			return fmt.Errorf("fetching facecam asset: %w", err)
		}
	}
	if job.LeadRow != nil {
		if err := l.Fetcher.Fetch(ctx, job.RenderID, job.LeadRow.CSVAssetURL, workDir.CSVPath); err != nil {
			return fmt.Errorf("fetching lead csv: %w", err)
		}
	}
	return nil
}

func errorKind(err error) string {
	switch {
	case renderworkererrors.IsValidationError(err):
		return "validation"
	case renderworkererrors.IsFatalProcessError(err):
		return "fatal_process"
	case renderworkererrors.IsSceneRecordError(err):
		return "scene_record"
	case renderworkererrors.IsTransientError(err):
		return "transient"
	case renderworkererrors.IsPermanentError(err):
		return "permanent"
	default:
		return "unknown"
	}
}
