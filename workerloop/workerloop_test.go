package workerloop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/loomrender/renderworker/cachestore"
	"github.com/loomrender/renderworker/config"
	"github.com/loomrender/renderworker/diskmanager"
	"github.com/loomrender/renderworker/jobcache"
	"github.com/loomrender/renderworker/mediaops"
	"github.com/loomrender/renderworker/metrics"
	"github.com/loomrender/renderworker/model"
	"github.com/loomrender/renderworker/recorder"
	"github.com/loomrender/renderworker/scenepipeline"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	jobs          []*model.Job
	completed     []string
	failed        []string
	cancelledJobs []string
	cancelled     bool
	cap           int
	progressCalls int
	claimErr      error
}

func (q *fakeQueue) Claim(ctx context.Context, cap int) (*model.Job, error) {
	if q.claimErr != nil {
		return nil, q.claimErr
	}
	if len(q.jobs) == 0 {
		return nil, nil
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, nil
}

func (q *fakeQueue) ReportProgress(ctx context.Context, renderID string, status model.RenderStatus, progress int, errorMessage string) error {
	q.progressCalls++
	return nil
}

func (q *fakeQueue) Complete(ctx context.Context, jobID, renderID, finalURL, thumbURL, publicID string) error {
	q.completed = append(q.completed, renderID)
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, jobID, renderID, errorMessage string) error {
	q.failed = append(q.failed, renderID)
	return nil
}

func (q *fakeQueue) Cancel(ctx context.Context, jobID, renderID string) error {
	q.cancelledJobs = append(q.cancelledJobs, renderID)
	return nil
}

func (q *fakeQueue) IsCancelled(ctx context.Context, renderID string) (bool, error) {
	return q.cancelled, nil
}

func (q *fakeQueue) FetchConcurrencyCap(ctx context.Context) (int, error) {
	return q.cap, nil
}

type fakeStorage struct{ uploaded bool }

func (s *fakeStorage) Upload(ctx context.Context, renderID, finalPath, thumbPath, publicID string) (string, string, error) {
	s.uploaded = true
	return "https://cdn.example.com/final.mp4", "https://cdn.example.com/thumb.jpg", nil
}

type fakeFetcher struct{ calls int }

func (f *fakeFetcher) Fetch(ctx context.Context, renderID, url, destPath string) error {
	f.calls++
	return os.WriteFile(destPath, []byte("asset"), 0o644)
}

type fakeRecorder struct{}

func (f *fakeRecorder) Record(ctx context.Context, renderID string, scene model.Scene, outPath string) (recorder.Result, error) {
	if err := os.WriteFile(outPath, []byte("raw"), 0o644); err != nil {
		return recorder.Result{}, err
	}
	return recorder.Result{CapturePath: outPath, TrimHintMs: 100}, nil
}

// failingRecorder always returns a non-transient error so Retry gives up on
// the first attempt instead of sleeping through the backoff schedule.
type failingRecorder struct{}

func (f *failingRecorder) Record(ctx context.Context, renderID string, scene model.Scene, outPath string) (recorder.Result, error) {
	return recorder.Result{}, errors.New("capture session rejected")
}

type fakeCache struct{}

func (f *fakeCache) Get(ctx context.Context, renderID, fingerprint string, sceneDurationSec int) (cachestore.Entry, error) {
	return cachestore.Entry{}, cachestore.ErrMiss
}

func (f *fakeCache) Put(renderID, fingerprint, capturePath string, trimHintMs int) error { return nil }

type fakeMedia struct{}

func (f *fakeMedia) Probe(ctx context.Context, renderID, path string) (mediaops.ProbeResult, error) {
	return mediaops.ProbeResult{DurationSec: 5, StreamCount: 2, HasVideo: true}, nil
}

func (f *fakeMedia) Normalize(ctx context.Context, renderID, rawPath, outPath string, durationSec int, p mediaops.NormalizeParams) error {
	return os.WriteFile(outPath, []byte("norm"), 0o644)
}

func (f *fakeMedia) Concat(ctx context.Context, renderID string, normalizedPaths []string, fps int, outPath string) error {
	return os.WriteFile(outPath, []byte("concat"), 0o644)
}

func (f *fakeMedia) Overlay(ctx context.Context, renderID, backgroundPath, facecamPath, maskPath, outPath string, p mediaops.OverlayParams) error {
	return os.WriteFile(outPath, []byte("overlay"), 0o644)
}

func (f *fakeMedia) Thumbnail(ctx context.Context, renderID, finalPath, outPath string) error {
	return os.WriteFile(outPath, []byte("thumb"), 0o644)
}

func (f *fakeMedia) GenerateRoundedMask(ctx context.Context, renderID string, size, cornerRadius int, outPath string) error {
	return os.WriteFile(outPath, []byte("mask"), 0o644)
}

func newTestLoop(t *testing.T, queue *fakeQueue, storage *fakeStorage, fetcher *fakeFetcher) *Loop {
	t.Helper()
	pipeline := scenepipeline.New(&fakeRecorder{}, &fakeCache{}, &fakeMedia{})
	tracker := jobcache.NewTracker()
	cap := config.NewConcurrencyCap(3)
	root := t.TempDir()
	disk := diskmanager.New(root)
	l := New(queue, storage, fetcher, pipeline, cap, tracker, disk, root)
	l.PollInterval = 0
	return l
}

func sampleJob() *model.Job {
	return &model.Job{
		JobID:      "job-1",
		RenderID:   "render-1",
		CampaignID: "campaign-1",
		Scenes: []model.Scene{
			{ID: "s1", URL: "https://example.com/a", Duration: 5, Order: 0, EntryType: model.EntryTypeManual},
		},
		Output: model.DefaultOutputSettings(),
	}
}

func TestProcessUploadsAndCompletesOnSuccess(t *testing.T) {
	queue := &fakeQueue{}
	storage := &fakeStorage{}
	fetcher := &fakeFetcher{}
	l := newTestLoop(t, queue, storage, fetcher)

	l.process(context.Background(), sampleJob())

	require.True(t, storage.uploaded)
	require.Equal(t, []string{"render-1"}, queue.completed)
	require.Empty(t, queue.failed)
}

func TestProcessCancelsJobOnCancellationInsteadOfFailing(t *testing.T) {
	queue := &fakeQueue{cancelled: true}
	storage := &fakeStorage{}
	fetcher := &fakeFetcher{}
	l := newTestLoop(t, queue, storage, fetcher)

	job := sampleJob()
	l.process(context.Background(), job)

	require.Equal(t, []string{"render-1"}, queue.cancelledJobs)
	require.Empty(t, queue.failed, "cancel must never fall through to Fail, which would clobber the cancelled status")
	require.Empty(t, queue.completed)
	require.False(t, storage.uploaded)

	_, err := os.Stat(l.newWorkingDirectory(job).Root)
	require.True(t, os.IsNotExist(err), "working directory should be removed immediately on cancel")
}

func TestProcessSchedulesWorkingDirectoryDeletionOnSuccess(t *testing.T) {
	queue := &fakeQueue{}
	storage := &fakeStorage{}
	fetcher := &fakeFetcher{}
	l := newTestLoop(t, queue, storage, fetcher)

	job := sampleJob()
	l.process(context.Background(), job)

	root := l.newWorkingDirectory(job).Root
	tombstonePath := filepath.Join(l.Disk.TombstoneDir, filepath.Base(root)+".json")
	_, err := os.Stat(tombstonePath)
	require.NoError(t, err, "successful job should leave a scheduled-deletion tombstone")
}

func TestProcessSchedulesWorkingDirectoryDeletionOnFailure(t *testing.T) {
	queue := &fakeQueue{}
	storage := &fakeStorage{}
	fetcher := &fakeFetcher{}
	l := newTestLoop(t, queue, storage, fetcher)
	l.Pipeline = scenepipeline.New(&failingRecorder{}, &fakeCache{}, &fakeMedia{})

	job := sampleJob()
	l.process(context.Background(), job)

	require.Equal(t, []string{"render-1"}, queue.failed)

	root := l.newWorkingDirectory(job).Root
	tombstonePath := filepath.Join(l.Disk.TombstoneDir, filepath.Base(root)+".json")
	_, err := os.Stat(tombstonePath)
	require.NoError(t, err, "failed job should leave a scheduled-deletion tombstone")
}

func TestProcessFetchesFacecamAndCSVInputs(t *testing.T) {
	queue := &fakeQueue{}
	storage := &fakeStorage{}
	fetcher := &fakeFetcher{}
	l := newTestLoop(t, queue, storage, fetcher)

	job := sampleJob()
	job.FacecamURL = "https://example.com/facecam.mp4"
	job.LeadRow = &model.LeadRow{CSVAssetURL: "https://example.com/leads.csv", Index: 0}

	l.process(context.Background(), job)

	require.Equal(t, 2, fetcher.calls)
}

func TestClaimReturnsNilWhenQueueEmpty(t *testing.T) {
	queue := &fakeQueue{}
	l := newTestLoop(t, queue, &fakeStorage{}, &fakeFetcher{})

	job, err := l.claim(context.Background())
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestClaimPropagatesQueueErrorWithoutCountingItAsEmpty(t *testing.T) {
	queue := &fakeQueue{claimErr: errors.New("db unavailable")}
	l := newTestLoop(t, queue, &fakeStorage{}, &fakeFetcher{})

	before := testutil.ToFloat64(metrics.Metrics.ClaimEmptyCount)

	job, err := l.claim(context.Background())
	require.Error(t, err)
	require.Nil(t, job)

	after := testutil.ToFloat64(metrics.Metrics.ClaimEmptyCount)
	require.Equal(t, before, after, "a real Claim error must not be counted as an empty poll")
}

func TestNewWorkingDirectoryNestsByCampaignAndJob(t *testing.T) {
	l := newTestLoop(t, &fakeQueue{}, &fakeStorage{}, &fakeFetcher{})
	job := sampleJob()

	wd := l.newWorkingDirectory(job)

	require.Equal(t, filepath.Join(l.WorkingDirRoot, "campaign-1", "job-1"), wd.Root)
	require.Equal(t, filepath.Join(wd.Root, "facecam.mp4"), wd.FacecamPath)
}
