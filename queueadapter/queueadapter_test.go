package queueadapter

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/loomrender/renderworker/model"
	"github.com/stretchr/testify/require"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestClaimReturnsNilJobWhenNoRows(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectQuery(`SELECT job_id, render_id`).
		WithArgs(3).
		WillReturnError(sql.ErrNoRows)

	job, err := a.Claim(context.Background(), 3)
	require.NoError(t, err)
	require.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimHydratesJobFromRow(t *testing.T) {
	a, mock := newMockAdapter(t)

	scenes := `[{"ID":"s1","URL":"https://example.com","Duration":10,"Order":0,"EntryType":"manual"}]`
	output := `{"width":1920,"height":1080,"fps":60,"facecamLayout":{"PiPWidth":230,"Margin":24,"Corner":"bottom-right","EndPad":"freeze"}}`

	rows := sqlmock.NewRows([]string{
		"job_id", "render_id", "campaign_id", "campaign_name", "scenes",
		"facecam_url", "lead_csv_url", "lead_row_index", "output_settings",
	}).AddRow("job-1", "render-1", "campaign-1", "Campaign One", scenes, nil, nil, nil, output)

	mock.ExpectQuery(`SELECT job_id, render_id`).WithArgs(5).WillReturnRows(rows)

	job, err := a.Claim(context.Background(), 5)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "job-1", job.JobID)
	require.Equal(t, "render-1", job.RenderID)
	require.Len(t, job.Scenes, 1)
	require.Equal(t, 1920, job.Output.Width)
	require.False(t, job.HasFacecam())
	require.Nil(t, job.LeadRow)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsCancelledReadsFlag(t *testing.T) {
	a, mock := newMockAdapter(t)

	rows := sqlmock.NewRows([]string{"cancelled_at"}).AddRow(nil)
	mock.ExpectQuery(`SELECT cancelled_at FROM renders`).WithArgs("render-1").WillReturnRows(rows)

	cancelled, err := a.IsCancelled(context.Background(), "render-1")
	require.NoError(t, err)
	require.False(t, cancelled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchConcurrencyCapParsesJSON(t *testing.T) {
	a, mock := newMockAdapter(t)

	rows := sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"limit": 7}`))
	mock.ExpectQuery(`SELECT value FROM system_settings`).WillReturnRows(rows)

	cap, err := a.FetchConcurrencyCap(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, cap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRunsInTransaction(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE renders`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE render_jobs SET state = 'completed'`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := a.Complete(context.Background(), "job-1", "render-1", "https://cdn/video.mp4", "https://cdn/thumb.jpg", "pub-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelRunsInTransactionAndSetsCancelledState(t *testing.T) {
	a, mock := newMockAdapter(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE renders SET status = \$1`).WithArgs(model.StatusCancelled, "render-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE render_jobs SET state = 'cancelled'`).WithArgs("job-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := a.Cancel(context.Background(), "job-1", "render-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
