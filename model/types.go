// Package model holds the data model shared by every render-worker
// component (§3): Job, Scene, OutputSettings, RenderStatus, and the rest.
package model

import "time"

// RenderStatus is the externally observable lifecycle of a single render
// (§3). Progress is a monotonically non-decreasing integer 0..100 within
// the lifetime of one job.
type RenderStatus string

const (
	StatusQueued            RenderStatus = "queued"
	StatusRecording         RenderStatus = "recording"
	StatusNormalizing       RenderStatus = "normalizing"
	StatusConcatenating     RenderStatus = "concatenating"
	StatusOverlaying        RenderStatus = "overlaying"
	StatusCreatingThumbnail RenderStatus = "creating_thumbnail"
	StatusUploading         RenderStatus = "uploading"
	StatusDone              RenderStatus = "done"
	StatusFailed            RenderStatus = "failed"
	StatusCancelled         RenderStatus = "cancelled"
)

// EntryType distinguishes a manually authored scene URL from one whose URL
// is substituted from a lead CSV row at runtime.
type EntryType string

const (
	EntryTypeManual EntryType = "manual"
	EntryTypeCSV    EntryType = "csv"
)

// Corner is where the facecam PiP rectangle is anchored.
type Corner string

const (
	CornerTopLeft     Corner = "top-left"
	CornerTopRight    Corner = "top-right"
	CornerBottomLeft  Corner = "bottom-left"
	CornerBottomRight Corner = "bottom-right"
)

// EndPadMode controls how the facecam is extended to match background
// duration when it runs out before the concat stream does.
type EndPadMode string

const (
	EndPadFreeze EndPadMode = "freeze"
	EndPadLoop   EndPadMode = "loop"
)

// Scene is one contiguous capture of a single URL for a prescribed
// duration (§3, GLOSSARY).
type Scene struct {
	ID        string
	URL       string
	Duration  int // seconds, 1..300
	Order     int // 0-based
	EntryType EntryType
	CSVColumn string // only meaningful when EntryType == EntryTypeCSV

	// ResolvedURL is filled in by ScenePipeline.Prepare for CSV-entry
	// scenes, after the lead CSV has been fetched; it is the URL the
	// fingerprint and SceneRecorder actually use.
	ResolvedURL string
}

// EffectiveURL returns the URL SceneRecorder should load: the resolved
// substitution for CSV scenes, or the literal URL for manual scenes.
func (s Scene) EffectiveURL() string {
	if s.EntryType == EntryTypeCSV && s.ResolvedURL != "" {
		return s.ResolvedURL
	}
	return s.URL
}

// FacecamLayout is the picture-in-picture placement (§3).
type FacecamLayout struct {
	PiPWidth int
	Margin   int
	Corner   Corner
	EndPad   EndPadMode
}

// OutputSettings is a typed record for the final artifact's encode
// parameters; JSON (de)serialization is explicit and bidirectional via the
// struct tags below (§9 design note).
type OutputSettings struct {
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	FPS           int           `json:"fps"`
	FacecamLayout FacecamLayout `json:"facecamLayout"`
}

// DefaultOutputSettings matches §3's stated default.
func DefaultOutputSettings() OutputSettings {
	return OutputSettings{
		Width:  1920,
		Height: 1080,
		FPS:    60,
		FacecamLayout: FacecamLayout{
			PiPWidth: 230,
			Margin:   24,
			Corner:   CornerBottomRight,
			EndPad:   EndPadFreeze,
		},
	}
}

// LeadRow is the optional CSV asset reference a job carries when any scene
// is entry_type=csv.
type LeadRow struct {
	Index       int
	CSVAssetURL string
}

// Job is a fully hydrated render claimed from the queue (§3).
type Job struct {
	JobID      string
	RenderID   string
	CampaignID string
	Scenes     []Scene
	FacecamURL string // empty if no facecam
	LeadRow    *LeadRow
	Output     OutputSettings

	// CacheNamespace and CacheKeySalt are optional fingerprint inputs
	// (§9 open question: both treated as optional, folded into the hash
	// only when non-empty).
	CacheNamespace string
	CacheKeySalt   string

	PublicID string
}

// HasFacecam reports whether this job requests an overlay stage.
func (j Job) HasFacecam() bool {
	return j.FacecamURL != ""
}

// TotalSceneDuration sums scene durations in seconds.
func (j Job) TotalSceneDuration() int {
	total := 0
	for _, s := range j.Scenes {
		total += s.Duration
	}
	return total
}

// CacheEntry is the sidecar metadata stored alongside a cached raw capture
// (§3).
type CacheEntry struct {
	Fingerprint string
	CapturePath string
	TrimHintMs  int
	CreatedAt   time.Time
}

// WorkingDirectory is the per-job filesystem tree (§3); DiskManager owns
// its disposition at terminal time.
type WorkingDirectory struct {
	Root          string
	JobID         string
	RenderID      string
	CampaignID    string
	FacecamPath   string
	CSVPath       string
	RawScenesDir  string
	NormalizedDir string
	ConcatPath    string
	FinalPath     string
	ThumbnailPath string
}
