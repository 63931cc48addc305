package scenepipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/loomrender/renderworker/cachestore"
	"github.com/loomrender/renderworker/mediaops"
	"github.com/loomrender/renderworker/model"
	"github.com/loomrender/renderworker/recorder"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	calls int
}

func (f *fakeRecorder) Record(ctx context.Context, renderID string, scene model.Scene, outPath string) (recorder.Result, error) {
	f.calls++
	if err := os.WriteFile(outPath, []byte("raw"), 0o644); err != nil {
		return recorder.Result{}, err
	}
	return recorder.Result{CapturePath: outPath, TrimHintMs: 250}, nil
}

type fakeCache struct {
	store map[string]cachestore.Entry
}

func newFakeCache() *fakeCache { return &fakeCache{store: map[string]cachestore.Entry{}} }

func (f *fakeCache) Get(ctx context.Context, renderID, fingerprint string, sceneDurationSec int) (cachestore.Entry, error) {
	e, ok := f.store[fingerprint]
	if !ok {
		return cachestore.Entry{}, cachestore.ErrMiss
	}
	return e, nil
}

func (f *fakeCache) Put(renderID, fingerprint, capturePath string, trimHintMs int) error {
	f.store[fingerprint] = cachestore.Entry{CapturePath: capturePath, TrimHintMs: trimHintMs}
	return nil
}

type fakeMedia struct {
	normalizeCalls int
	concatCalls    int
	thumbnailCalls int
}

func (f *fakeMedia) Probe(ctx context.Context, renderID, path string) (mediaops.ProbeResult, error) {
	return mediaops.ProbeResult{DurationSec: 10, StreamCount: 2, HasVideo: true}, nil
}

func (f *fakeMedia) Normalize(ctx context.Context, renderID, rawPath, outPath string, durationSec int, p mediaops.NormalizeParams) error {
	f.normalizeCalls++
	return os.WriteFile(outPath, []byte("norm"), 0o644)
}

func (f *fakeMedia) Concat(ctx context.Context, renderID string, normalizedPaths []string, fps int, outPath string) error {
	f.concatCalls++
	return os.WriteFile(outPath, []byte("concat"), 0o644)
}

func (f *fakeMedia) Overlay(ctx context.Context, renderID, backgroundPath, facecamPath, maskPath, outPath string, p mediaops.OverlayParams) error {
	return os.WriteFile(outPath, []byte("overlay"), 0o644)
}

func (f *fakeMedia) Thumbnail(ctx context.Context, renderID, finalPath, outPath string) error {
	f.thumbnailCalls++
	return os.WriteFile(outPath, []byte("thumb"), 0o644)
}

func (f *fakeMedia) GenerateRoundedMask(ctx context.Context, renderID string, size, cornerRadius int, outPath string) error {
	return os.WriteFile(outPath, []byte("mask"), 0o644)
}

type fakeCancellation struct{ cancelled bool }

func (f *fakeCancellation) IsCancelled(ctx context.Context, renderID string) (bool, error) {
	return f.cancelled, nil
}

type fakeProgress struct{ updates []int }

func (f *fakeProgress) ReportProgress(ctx context.Context, renderID string, status model.RenderStatus, progress int, errorMessage string) error {
	f.updates = append(f.updates, progress)
	return nil
}

func newWorkDir(t *testing.T) model.WorkingDirectory {
	t.Helper()
	root := t.TempDir()
	wd := model.WorkingDirectory{
		Root:          root,
		RawScenesDir:  filepath.Join(root, "raw"),
		NormalizedDir: filepath.Join(root, "normalized"),
		ConcatPath:    filepath.Join(root, "concat.mp4"),
		FinalPath:     filepath.Join(root, "final.mp4"),
		ThumbnailPath: filepath.Join(root, "thumb.jpg"),
	}
	require.NoError(t, os.MkdirAll(wd.RawScenesDir, 0o755))
	require.NoError(t, os.MkdirAll(wd.NormalizedDir, 0o755))
	return wd
}

func TestRunWithoutFacecamProducesFinalAndThumbnail(t *testing.T) {
	rec := &fakeRecorder{}
	cache := newFakeCache()
	media := &fakeMedia{}
	p := New(rec, cache, media)

	job := &model.Job{
		RenderID: "render-1",
		Scenes: []model.Scene{
			{ID: "s1", URL: "https://example.com/a", Duration: 5, Order: 0, EntryType: model.EntryTypeManual},
			{ID: "s2", URL: "https://example.com/b", Duration: 5, Order: 1, EntryType: model.EntryTypeManual},
		},
		Output: model.DefaultOutputSettings(),
	}
	wd := newWorkDir(t)

	require.NoError(t, p.Prepare(job, wd))

	jc := NewJobContext(context.Background(), job.RenderID, &fakeCancellation{}, &fakeProgress{}, nil)
	finalPath, thumbPath, err := p.Run(jc, job, wd)

	require.NoError(t, err)
	require.FileExists(t, finalPath)
	require.FileExists(t, thumbPath)
	require.Equal(t, 2, rec.calls)
	require.Equal(t, 2, media.normalizeCalls)
	require.Equal(t, 1, media.concatCalls)
	require.Equal(t, 1, media.thumbnailCalls)
}

func TestRunStopsOnCancellation(t *testing.T) {
	rec := &fakeRecorder{}
	cache := newFakeCache()
	media := &fakeMedia{}
	p := New(rec, cache, media)

	job := &model.Job{
		RenderID: "render-1",
		Scenes:   []model.Scene{{ID: "s1", URL: "https://example.com/a", Duration: 5, Order: 0, EntryType: model.EntryTypeManual}},
		Output:   model.DefaultOutputSettings(),
	}
	wd := newWorkDir(t)
	require.NoError(t, p.Prepare(job, wd))

	jc := NewJobContext(context.Background(), job.RenderID, &fakeCancellation{cancelled: true}, &fakeProgress{}, nil)
	_, _, err := p.Run(jc, job, wd)

	require.Error(t, err)
}

func TestPrepareRejectsEmptyScenes(t *testing.T) {
	p := New(&fakeRecorder{}, newFakeCache(), &fakeMedia{})
	job := &model.Job{RenderID: "render-1"}
	err := p.Prepare(job, newWorkDir(t))
	require.Error(t, err)
}

func TestPrepareRejectsOversizedTotalDuration(t *testing.T) {
	p := New(&fakeRecorder{}, newFakeCache(), &fakeMedia{})
	job := &model.Job{
		RenderID: "render-1",
		Scenes:   []model.Scene{{ID: "s1", Duration: 301, EntryType: model.EntryTypeManual}},
	}
	err := p.Prepare(job, newWorkDir(t))
	require.Error(t, err)
}

func TestPrepareRejectsFacecamDurationMismatch(t *testing.T) {
	p := New(&fakeRecorder{}, newFakeCache(), &fakeMedia{})
	wd := newWorkDir(t)
	wd.FacecamPath = filepath.Join(wd.Root, "facecam.mp4")
	require.NoError(t, os.WriteFile(wd.FacecamPath, []byte("facecam"), 0o644))

	job := &model.Job{
		RenderID:   "render-1",
		FacecamURL: "https://example.com/facecam.mp4",
		Scenes:     []model.Scene{{ID: "s1", Duration: 25, EntryType: model.EntryTypeManual}},
	}

	err := p.Prepare(job, wd)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Duration mismatch")
}

func TestRecordOrReuseHitsCacheOnSecondCall(t *testing.T) {
	rec := &fakeRecorder{}
	cache := newFakeCache()
	media := &fakeMedia{}
	p := New(rec, cache, media)

	job := &model.Job{RenderID: "render-1"}
	scene := model.Scene{ID: "s1", URL: "https://example.com/a", Duration: 5, EntryType: model.EntryTypeManual}
	wd := newWorkDir(t)
	jc := NewJobContext(context.Background(), job.RenderID, &fakeCancellation{}, &fakeProgress{}, nil)

	_, err := p.recordOrReuse(jc, job, scene, "", wd, 0)
	require.NoError(t, err)
	_, err = p.recordOrReuse(jc, job, scene, "", wd, 0)
	require.NoError(t, err)

	require.Equal(t, 1, rec.calls)
}
