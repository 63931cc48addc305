package jobcache

import (
	"sync"
	"time"
)

// CurrentJob is the summary of the job a WorkerLoop process is presently
// processing, surfaced verbatim by the health endpoint (§4.8). A nil
// *CurrentJob means the worker is idle.
type CurrentJob struct {
	JobID      string
	RenderID   string
	CampaignID string
	Stage      string
	Progress   int
	StartedAt  time.Time
}

// Tracker holds the heartbeat, current-job pointer and shutting-down flag,
// the state shared between the worker loop goroutine and the health server
// goroutine (§5). All three fields are guarded by the same short critical
// section.
type Tracker struct {
	mu            sync.Mutex
	current       *CurrentJob
	lastHeartbeat time.Time
	shuttingDown  bool
}

func NewTracker() *Tracker {
	return &Tracker{lastHeartbeat: time.Now()}
}

func (t *Tracker) SetCurrent(job *CurrentJob) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = job
}

func (t *Tracker) UpdateStage(stage string, progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		t.current.Stage = stage
		t.current.Progress = progress
	}
}

func (t *Tracker) Current() *CurrentJob {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	cp := *t.current
	return &cp
}

func (t *Tracker) Heartbeat() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastHeartbeat = time.Now()
}

func (t *Tracker) LastHeartbeat() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastHeartbeat
}

func (t *Tracker) SetShuttingDown(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shuttingDown = v
}

func (t *Tracker) IsShuttingDown() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shuttingDown
}
