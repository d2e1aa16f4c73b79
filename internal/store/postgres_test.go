package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fin-ingest/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetDocument_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, type, size_bytes, blob_path, uploaded_at, retention_date FROM documents WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetDocument(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocument(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	uploaded := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM documents WHERE id = \$1`).
		WithArgs("doc-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "name", "type", "size_bytes", "blob_path", "uploaded_at", "retention_date"}).
			AddRow("doc-1", "fy25.xlsx", "xlsx", int64(9120), "2026/03/doc-1.xlsx", uploaded, uploaded.AddDate(7, 0, 0)))

	doc, err := s.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocumentXLSX, doc.Type)
	assert.Equal(t, int64(9120), doc.SizeBytes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetDocument_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM documents`).WithArgs("doc-1").WillReturnError(errors.New("connection refused"))

	_, err := s.GetDocument(context.Background(), "doc-1")
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "get document")
}

func TestPostgresStore_AppendEvent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO processing_events`).
		WithArgs(pgxmock.AnyArg(), "doc-1", "queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ev := &model.ProcessingEvent{
		DocumentID: "doc-1",
		EventType:  model.EventQueued,
		Data:       model.EventData{DocumentName: "fy25.xlsx", DocumentType: "xlsx"},
	}
	require.NoError(t, s.AppendEvent(context.Background(), ev))
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendEvent_InvalidPayloadNotWritten(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.AppendEvent(context.Background(), &model.ProcessingEvent{
		DocumentID: "doc-1",
		EventType:  model.EventRetryInitiated,
		Data:       model.EventData{RetryCount: model.Ptr(0)},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListEvents(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM processing_events\s+WHERE document_id = \$1 ORDER BY event_timestamp DESC, seq DESC LIMIT \$2`).
		WithArgs("doc-1", 20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "document_id", "event_type", "event_timestamp", "event_data"}).
			AddRow("ev-2", "doc-1", "failed", at.Add(time.Minute), []byte(`{"error":"ocr: timeout","error_type":"transient"}`)).
			AddRow("ev-1", "doc-1", "queued", at, []byte(`{"document_name":"a.pdf","document_type":"pdf"}`)))

	events, err := s.ListEvents(context.Background(), "doc-1", 20)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventFailed, events[0].EventType)
	assert.Equal(t, "ocr: timeout", events[0].Data.Error)
	assert.Equal(t, "a.pdf", events[1].Data.DocumentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMetrics_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"financial_metrics"}, metricColumns).
		WillReturnResult(2)

	err := s.SaveMetrics(context.Background(), []model.FinancialMetric{
		{ID: "m-1", DocumentID: "doc-1", MetricType: model.MetricRevenue, Currency: "USD"},
		{ID: "m-2", DocumentID: "doc-1", MetricType: model.MetricCOGS, Currency: "USD"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMetrics_ShortWrite(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"financial_metrics"}, metricColumns).
		WillReturnResult(1)

	err := s.SaveMetrics(context.Background(), []model.FinancialMetric{
		{ID: "m-1", DocumentID: "doc-1"},
		{ID: "m-2", DocumentID: "doc-1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrote 1 of 2 rows")
}

func TestPostgresStore_FlagMetrics(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE financial_metrics SET flagged_for_review = true WHERE id = ANY\(\$1\)`).
		WithArgs([]string{"m-1", "m-3"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, s.FlagMetrics(context.Background(), []string{"m-1", "m-3"}))
	require.NoError(t, s.FlagMetrics(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateExtractionResult_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	args := make([]any, 12)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectExec(`UPDATE extraction_results SET`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateExtractionResult(context.Background(), &model.ExtractionResult{ID: "ghost"})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLatestExtractionResult_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM extraction_results WHERE document_id = \$1 ORDER BY started_at DESC LIMIT 1`).
		WithArgs("doc-1").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetLatestExtractionResult(context.Background(), "doc-1")
	assert.True(t, IsNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate_SkipsApplied(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_init.sql"))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Close_NoPool(t *testing.T) {
	s := &PostgresStore{}
	assert.NoError(t, s.Close())
}
