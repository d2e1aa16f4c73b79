package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fin-ingest/internal/db"
	"github.com/sells-group/fin-ingest/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

var metricColumns = []string{
	"id", "document_id", "metric_type", "metric_name", "value", "currency", "period",
	"confidence_score", "source_reference", "extracted_at", "flagged_for_review",
	"extraction_result_id",
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return eris.Wrap(s.pool.QueryRow(ctx, "SELECT 1").Scan(&one), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool, migrationFS, "migrations"), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, name, type, size_bytes, blob_path, uploaded_at, retention_date) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.Name, string(doc.Type), doc.SizeBytes, doc.BlobPath, doc.UploadedAt, doc.RetentionDate,
	)
	return eris.Wrapf(err, "postgres: insert document %s", doc.ID)
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var d model.Document
	var docType string
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, type, size_bytes, blob_path, uploaded_at, retention_date FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &docType, &d.SizeBytes, &d.BlobPath, &d.UploadedAt, &d.RetentionDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get document %s", id)
	}
	d.Type = model.DocumentType(docType)
	return &d, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev *model.ProcessingEvent) error {
	if err := prepareEvent(ev); err != nil {
		return err
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal event data")
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO processing_events (id, document_id, event_type, event_timestamp, event_data) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.DocumentID, string(ev.EventType), ev.Timestamp, data,
	); err != nil {
		return eris.Wrapf(err, "postgres: insert %s event for %s", ev.EventType, ev.DocumentID)
	}
	auditEvent(ev)
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, documentID string, limit int) ([]model.ProcessingEvent, error) {
	query := `SELECT id, document_id, event_type, event_timestamp, event_data FROM processing_events
		WHERE document_id = $1 ORDER BY event_timestamp DESC, seq DESC`
	args := []any{documentID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list events %s", documentID)
	}
	defer rows.Close()

	var events []model.ProcessingEvent
	for rows.Next() {
		var ev model.ProcessingEvent
		var eventType string
		var data []byte
		if err := rows.Scan(&ev.ID, &ev.DocumentID, &eventType, &ev.Timestamp, &data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan event")
		}
		ev.EventType = model.EventType(eventType)
		if err := json.Unmarshal(data, &ev.Data); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal event data")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: iterate events")
}

// SaveMetrics bulk-loads metrics with COPY.
func (s *PostgresStore) SaveMetrics(ctx context.Context, metrics []model.FinancialMetric) error {
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		ref, err := json.Marshal(m.SourceReference)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal source reference")
		}
		rows = append(rows, []any{
			m.ID, m.DocumentID, string(m.MetricType), m.MetricName, m.Value, m.Currency,
			nullable(m.Period), m.ConfidenceScore, ref, m.ExtractedAt, m.FlaggedForReview,
			nullable(m.ExtractionResultID),
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "financial_metrics", metricColumns, rows)
	return eris.Wrap(err, "postgres: save metrics")
}

func (s *PostgresStore) ListMetrics(ctx context.Context, documentID string) ([]model.FinancialMetric, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, document_id, metric_type, metric_name, value, currency, period, confidence_score, source_reference, extracted_at, flagged_for_review,
		extraction_result_id FROM financial_metrics WHERE document_id = $1 ORDER BY seq`, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list metrics %s", documentID)
	}
	defer rows.Close()

	var out []model.FinancialMetric
	for rows.Next() {
		var m model.FinancialMetric
		var metricType string
		var period, resultID *string
		var ref []byte
		if err := rows.Scan(&m.ID, &m.DocumentID, &metricType, &m.MetricName, &m.Value, &m.Currency,
			&period, &m.ConfidenceScore, &ref, &m.ExtractedAt, &m.FlaggedForReview, &resultID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric")
		}
		m.MetricType = model.MetricType(metricType)
		if period != nil {
			m.Period = *period
		}
		if resultID != nil {
			m.ExtractionResultID = *resultID
		}
		if err := json.Unmarshal(ref, &m.SourceReference); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal source reference")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate metrics")
}

func (s *PostgresStore) FlagMetrics(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE financial_metrics SET flagged_for_review = true WHERE id = ANY($1)`, ids)
	return eris.Wrap(err, "postgres: flag metrics")
}

func (s *PostgresStore) SaveExtractionResult(ctx context.Context, r *model.ExtractionResult) error {
	errs, warns, err := marshalFindings(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO extraction_results
		(id, document_id, document_name, document_type, status, ocr_confidence_avg, tables_extracted, metrics_extracted,
		 model_version, started_at, completed_at, validation_status, validation_errors, validation_warnings, requires_manual_review, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.DocumentID, r.DocumentName, string(r.DocumentType), string(r.Status), r.OCRConfidenceAvg,
		r.TablesExtracted, r.MetricsExtracted, nullable(r.ModelVersion), r.StartedAt, r.CompletedAt,
		string(r.ValidationStatus), errs, warns, r.RequiresManualReview, nullable(r.ErrorMessage),
	)
	return eris.Wrapf(err, "postgres: insert extraction result %s", r.ID)
}

func (s *PostgresStore) UpdateExtractionResult(ctx context.Context, r *model.ExtractionResult) error {
	errs, warns, err := marshalFindings(r)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE extraction_results SET status = $1, ocr_confidence_avg = $2, tables_extracted = $3, metrics_extracted = $4,
		 model_version = $5, completed_at = $6, validation_status = $7, validation_errors = $8, validation_warnings = $9,
		 requires_manual_review = $10, error_message = $11 WHERE id = $12`,
		string(r.Status), r.OCRConfidenceAvg, r.TablesExtracted, r.MetricsExtracted, nullable(r.ModelVersion),
		r.CompletedAt, string(r.ValidationStatus), errs, warns, r.RequiresManualReview, nullable(r.ErrorMessage), r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update extraction result %s", r.ID)
	}
	if tag.RowsAffected() == 0 {
		return notFound("extraction result", r.ID)
	}
	return nil
}

func (s *PostgresStore) GetLatestExtractionResult(ctx context.Context, documentID string) (*model.ExtractionResult, error) {
	var r model.ExtractionResult
	var docType, status, validation string
	var modelVersion, errMsg *string
	var errs, warns []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, document_id, document_name, document_type, status, ocr_confidence_avg, tables_extracted, metrics_extracted,
		 model_version, started_at, completed_at, validation_status, validation_errors, validation_warnings, requires_manual_review, error_message
		FROM extraction_results WHERE document_id = $1 ORDER BY started_at DESC LIMIT 1`, documentID,
	).Scan(&r.ID, &r.DocumentID, &r.DocumentName, &docType, &status, &r.OCRConfidenceAvg,
		&r.TablesExtracted, &r.MetricsExtracted, &modelVersion, &r.StartedAt, &r.CompletedAt,
		&validation, &errs, &warns, &r.RequiresManualReview, &errMsg)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("extraction result for document", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get extraction result %s", documentID)
	}

	r.DocumentType = model.DocumentType(docType)
	r.Status = model.ExtractionStatus(status)
	r.ValidationStatus = model.ValidationStatus(validation)
	if modelVersion != nil {
		r.ModelVersion = *modelVersion
	}
	if errMsg != nil {
		r.ErrorMessage = *errMsg
	}
	if err := unmarshalFindings(&r, errs, warns); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
