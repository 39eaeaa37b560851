package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/spreadrun/internal/models"
)

func newMockRecorder(t *testing.T) (*PostgresRecorder, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return NewPostgresRecorder(sqlx.NewDb(mockDB, "sqlmock"), time.Second), mock
}

func sampleResult() *models.ScanResult {
	return &models.ScanResult{
		ScanID:            "scan-1",
		Symbol:            "AAPL",
		Timestamp:         time.Date(2026, 4, 1, 15, 0, 0, 0, time.UTC),
		TotalContracts:    40,
		FilteredContracts: 22,
		Duration:          1500 * time.Microsecond,
		Spreads: []models.VerticalSpread{
			{ID: "AAPL-20260515-CALL-100.00-105.00", Symbol: "AAPL", NetDebit: 2.1, Score: 88},
			{ID: "AAPL-20260515-CALL-105.00-110.00", Symbol: "AAPL", NetDebit: 1.4, Score: 71},
		},
		Summary: models.ScanSummary{BestScore: 88, MeanScore: 79.5},
	}
}

func TestRecordInsertsSummaryRow(t *testing.T) {
	r, mock := newMockRecorder(t)
	res := sampleResult()

	mock.ExpectExec("INSERT INTO scan_results").
		WithArgs("scan-1", "AAPL", res.Timestamp, 2, 88.0, 79.5, 40, 22, 1.5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, r.Record(context.Background(), res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordWrapsDatabaseError(t *testing.T) {
	r, mock := newMockRecorder(t)
	mock.ExpectExec("INSERT INTO scan_results").WillReturnError(errors.New("connection reset"))

	err := r.Record(context.Background(), sampleResult())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert scan result")
}

func TestRecentDecodesRows(t *testing.T) {
	r, mock := newMockRecorder(t)
	ts := time.Date(2026, 4, 1, 15, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"scan_id", "symbol", "scanned_at", "spread_count", "best_score", "mean_score",
		"total_contracts", "filtered_contracts", "duration_ms", "top_spread",
	}).
		AddRow("scan-2", "AAPL", ts.Add(time.Minute), 1, 90.0, 90.0, 40, 20, 2.0, []byte(`{"id":"top","score":90}`)).
		AddRow("scan-1", "AAPL", ts, 0, 0.0, 0.0, 40, 0, 1.0, nil)

	mock.ExpectQuery("SELECT (.+) FROM scan_results").WithArgs("AAPL", 5).WillReturnRows(rows)

	records, err := r.Recent(context.Background(), "AAPL", 5)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "scan-2", records[0].ScanID)
	require.NotNil(t, records[0].TopSpread)
	assert.Equal(t, "top", records[0].TopSpread.ID)
	assert.Equal(t, 90.0, records[0].TopSpread.Score)
	assert.Nil(t, records[1].TopSpread)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentDefaultsLimit(t *testing.T) {
	r, mock := newMockRecorder(t)
	mock.ExpectQuery("SELECT (.+) FROM scan_results").WithArgs("MSFT", 20).
		WillReturnRows(sqlmock.NewRows([]string{"scan_id"}))

	records, err := r.Recent(context.Background(), "MSFT", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMigrateCreatesTable(t *testing.T) {
	r, mock := newMockRecorder(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scan_results").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, r.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNopRecorder(t *testing.T) {
	var rec Recorder = NopRecorder{}
	assert.False(t, rec.Enabled())
	assert.NoError(t, rec.Record(context.Background(), sampleResult()))
	records, err := rec.Recent(context.Background(), "AAPL", 10)
	assert.NoError(t, err)
	assert.Nil(t, records)
}
