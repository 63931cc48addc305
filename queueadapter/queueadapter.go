// Package queueadapter is the Postgres-backed QueueAdapter (§4.1, §6):
// atomic claim under a fleet-wide concurrency cap, progress/status
// reporting, terminal updates, and cancellation-flag reads.
package queueadapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	// Registers the "postgres" sql.DB driver.
	_ "github.com/lib/pq"

	renderworkererrors "github.com/loomrender/renderworker/errors"
	"github.com/loomrender/renderworker/log"
	"github.com/loomrender/renderworker/model"
)

// Adapter wraps a *sql.DB with the render-queue RPCs.
type Adapter struct {
	DB *sql.DB
}

func Open(dsn string) (*Adapter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}
	return &Adapter{DB: db}, nil
}

func New(db *sql.DB) *Adapter {
	return &Adapter{DB: db}
}

// claimRow mirrors claim_render_job_with_limit's result columns (§6).
type claimRow struct {
	JobID          string
	RenderID       string
	CampaignID     string
	CampaignName   string
	Scenes         []byte
	FacecamURL     sql.NullString
	LeadCSVURL     sql.NullString
	LeadRowIndex   sql.NullInt64
	OutputSettings []byte
}

// Claim calls claim_render_job_with_limit(cap): the RPC itself performs the
// SELECT ... FOR UPDATE SKIP LOCKED claim (§4.1 claim algorithm) so two
// concurrent callers can never observe the same queued row. A nil Job with
// a nil error means no work was available.
func (a *Adapter) Claim(ctx context.Context, cap int) (*model.Job, error) {
	row := a.DB.QueryRowContext(ctx, `SELECT job_id, render_id, campaign_id, campaign_name, scenes,
		facecam_url, lead_csv_url, lead_row_index, output_settings
		FROM claim_render_job_with_limit($1)`, cap)

	var r claimRow
	err := row.Scan(&r.JobID, &r.RenderID, &r.CampaignID, &r.CampaignName, &r.Scenes,
		&r.FacecamURL, &r.LeadCSVURL, &r.LeadRowIndex, &r.OutputSettings)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, renderworkererrors.NewTransientError(fmt.Errorf("claiming render job: %w", err))
	}

	job, err := hydrateJob(r)
	if err != nil {
		return nil, renderworkererrors.NewFatalProcessError(fmt.Errorf("decoding claimed job payload: %w", err))
	}

	log.Log(job.RenderID, "claimed render job", "job_id", job.JobID, "campaign_id", job.CampaignID, "scenes", len(job.Scenes))
	return job, nil
}

func hydrateJob(r claimRow) (*model.Job, error) {
	var scenes []model.Scene
	if err := json.Unmarshal(r.Scenes, &scenes); err != nil {
		return nil, fmt.Errorf("unmarshaling scenes: %w", err)
	}

	output := model.DefaultOutputSettings()
	if len(r.OutputSettings) > 0 {
		if err := json.Unmarshal(r.OutputSettings, &output); err != nil {
			return nil, fmt.Errorf("unmarshaling output settings: %w", err)
		}
	}

	job := &model.Job{
		JobID:      r.JobID,
		RenderID:   r.RenderID,
		CampaignID: r.CampaignID,
		Scenes:     scenes,
		Output:     output,
	}
	if r.FacecamURL.Valid {
		job.FacecamURL = r.FacecamURL.String
	}
	if r.LeadCSVURL.Valid && r.LeadRowIndex.Valid {
		job.LeadRow = &model.LeadRow{
			Index:       int(r.LeadRowIndex.Int64),
			CSVAssetURL: r.LeadCSVURL.String,
		}
	}
	return job, nil
}

// ReportProgress idempotently updates a render's status/progress. It never
// decreases progress: the WHERE clause only applies the update when the
// new value is ≥ the stored one (§4.1, §8 monotonicity invariant).
func (a *Adapter) ReportProgress(ctx context.Context, renderID string, status model.RenderStatus, progress int, errorMessage string) error {
	var errArg interface{}
	if errorMessage != "" {
		errArg = errorMessage
	}

	_, err := a.DB.ExecContext(ctx, `
		UPDATE renders
		SET status = $1, progress = $2, error_message = COALESCE($3, error_message), updated_at = NOW()
		WHERE id = $4 AND progress <= $2
	`, status, progress, errArg, renderID)
	if err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("reporting progress: %w", err))
	}
	return nil
}

// Complete transitions the render to done/progress=100 and the job to
// completed in one statement each, inside a single transaction so the two
// rows never observably disagree (§4.1).
func (a *Adapter) Complete(ctx context.Context, jobID, renderID, finalURL, thumbURL, publicID string) error {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("beginning complete transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE renders
		SET status = $1, progress = 100, final_video_url = $2, thumb_url = $3, public_id = $4, updated_at = NOW()
		WHERE id = $5
	`, model.StatusDone, finalURL, thumbURL, publicID, renderID); err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("completing render: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE render_jobs SET state = 'completed', updated_at = NOW() WHERE id = $1
	`, jobID); err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("completing job: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("committing complete transaction: %w", err))
	}
	return nil
}

// Fail sets render failed and job failed (§4.1).
func (a *Adapter) Fail(ctx context.Context, jobID, renderID, errorMessage string) error {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("beginning fail transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE renders SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3
	`, model.StatusFailed, errorMessage, renderID); err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("failing render: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE render_jobs SET state = 'failed', error_message = $1, updated_at = NOW() WHERE id = $2
	`, errorMessage, jobID); err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("failing job: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("committing fail transaction: %w", err))
	}
	return nil
}

// Cancel sets render and job state to cancelled, the terminal state for a
// user-initiated cancel_render (§3, §4.7(c), §6): distinct from Fail, which
// is reserved for processing errors and must never clobber a cancel.
func (a *Adapter) Cancel(ctx context.Context, jobID, renderID string) error {
	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("beginning cancel transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE renders SET status = $1, updated_at = NOW() WHERE id = $2
	`, model.StatusCancelled, renderID); err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("cancelling render: %w", err))
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE render_jobs SET state = 'cancelled', updated_at = NOW() WHERE id = $1
	`, jobID); err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("cancelling job: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return renderworkererrors.NewTransientError(fmt.Errorf("committing cancel transaction: %w", err))
	}
	return nil
}

// IsCancelled reads the cancellation flag (§4.1, §6: non-null cancelledAt).
func (a *Adapter) IsCancelled(ctx context.Context, renderID string) (bool, error) {
	var cancelledAt sql.NullTime
	err := a.DB.QueryRowContext(ctx, `SELECT cancelled_at FROM renders WHERE id = $1`, renderID).Scan(&cancelledAt)
	if err != nil {
		return false, renderworkererrors.NewTransientError(fmt.Errorf("reading cancellation flag: %w", err))
	}
	return cancelledAt.Valid, nil
}

// FetchConcurrencyCap reads system_settings['max_concurrent_jobs'].limit
// (§6); the caller is responsible for caching this for ≤ 15s
// (config.ConcurrencyCap).
func (a *Adapter) FetchConcurrencyCap(ctx context.Context) (int, error) {
	var raw []byte
	err := a.DB.QueryRowContext(ctx, `SELECT value FROM system_settings WHERE key = 'max_concurrent_jobs'`).Scan(&raw)
	if err != nil {
		return 0, renderworkererrors.NewTransientError(fmt.Errorf("fetching concurrency cap: %w", err))
	}

	var parsed struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, renderworkererrors.NewFatalProcessError(fmt.Errorf("decoding concurrency cap setting: %w", err))
	}
	return parsed.Limit, nil
}
