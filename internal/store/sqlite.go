package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fin-ingest/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection, and SQLite admits one writer anyway.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	type           TEXT NOT NULL,
	size_bytes     INTEGER NOT NULL,
	blob_path      TEXT NOT NULL,
	uploaded_at    DATETIME NOT NULL,
	retention_date DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_events (
	id              TEXT PRIMARY KEY,
	document_id     TEXT NOT NULL,
	event_type      TEXT NOT NULL,
	event_timestamp DATETIME NOT NULL,
	event_data      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS financial_metrics (
	id                 TEXT PRIMARY KEY,
	document_id        TEXT NOT NULL,
	metric_type        TEXT NOT NULL,
	metric_name        TEXT NOT NULL,
	value              REAL NOT NULL,
	currency           TEXT NOT NULL,
	period             TEXT,
	confidence_score   REAL NOT NULL,
	source_reference   TEXT NOT NULL,
	extracted_at       DATETIME NOT NULL,
	flagged_for_review INTEGER NOT NULL DEFAULT 0,
	extraction_result_id TEXT
);

CREATE TABLE IF NOT EXISTS extraction_results (
	id                     TEXT PRIMARY KEY,
	document_id            TEXT NOT NULL,
	document_name          TEXT NOT NULL,
	document_type          TEXT NOT NULL,
	status                 TEXT NOT NULL,
	ocr_confidence_avg     REAL NOT NULL DEFAULT 0,
	tables_extracted       INTEGER NOT NULL DEFAULT 0,
	metrics_extracted      INTEGER NOT NULL DEFAULT 0,
	model_version          TEXT,
	started_at             DATETIME NOT NULL,
	completed_at           DATETIME,
	validation_status      TEXT NOT NULL DEFAULT 'pending',
	validation_errors      TEXT NOT NULL DEFAULT '[]',
	validation_warnings    TEXT NOT NULL DEFAULT '[]',
	requires_manual_review INTEGER NOT NULL DEFAULT 0,
	error_message          TEXT
);

CREATE INDEX IF NOT EXISTS idx_events_document ON processing_events(document_id, event_timestamp);
CREATE INDEX IF NOT EXISTS idx_metrics_document ON financial_metrics(document_id);
CREATE INDEX IF NOT EXISTS idx_results_document ON extraction_results(document_id, started_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, name, type, size_bytes, blob_path, uploaded_at, retention_date) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, string(doc.Type), doc.SizeBytes, doc.BlobPath, doc.UploadedAt.UTC(), doc.RetentionDate.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert document %s", doc.ID)
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	var d model.Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, size_bytes, blob_path, uploaded_at, retention_date FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &d.Type, &d.SizeBytes, &d.BlobPath, &d.UploadedAt, &d.RetentionDate)
	if err == sql.ErrNoRows {
		return nil, notFound("document", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get document %s", id)
	}
	return &d, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, ev *model.ProcessingEvent) error {
	if err := prepareEvent(ev); err != nil {
		return err
	}
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal event data")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO processing_events (id, document_id, event_type, event_timestamp, event_data) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.DocumentID, string(ev.EventType), ev.Timestamp.UTC(), string(data),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert %s event for %s", ev.EventType, ev.DocumentID)
	}
	auditEvent(ev)
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, documentID string, limit int) ([]model.ProcessingEvent, error) {
	query := `SELECT id, document_id, event_type, event_timestamp, event_data FROM processing_events
		WHERE document_id = ? ORDER BY event_timestamp DESC, rowid DESC`
	args := []any{documentID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list events %s", documentID)
	}
	defer rows.Close() //nolint:errcheck

	var events []model.ProcessingEvent
	for rows.Next() {
		var ev model.ProcessingEvent
		var data string
		if err := rows.Scan(&ev.ID, &ev.DocumentID, &ev.EventType, &ev.Timestamp, &data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan event")
		}
		if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal event data")
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: iterate events")
}

func (s *SQLiteStore) SaveMetrics(ctx context.Context, metrics []model.FinancialMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin metrics tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO financial_metrics
		(id, document_id, metric_type, metric_name, value, currency, period, confidence_score, source_reference, extracted_at, flagged_for_review, extraction_result_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare metric insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, m := range metrics {
		ref, err := json.Marshal(m.SourceReference)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal source reference")
		}
		if _, err := stmt.ExecContext(ctx,
			m.ID, m.DocumentID, string(m.MetricType), m.MetricName, m.Value, m.Currency,
			nullString(m.Period), m.ConfidenceScore, string(ref), m.ExtractedAt.UTC(), m.FlaggedForReview,
			nullString(m.ExtractionResultID),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert metric %s", m.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit metrics")
}

func (s *SQLiteStore) ListMetrics(ctx context.Context, documentID string) ([]model.FinancialMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, metric_type, metric_name, value, currency, period, confidence_score, source_reference, extracted_at, flagged_for_review,
		extraction_result_id FROM financial_metrics WHERE document_id = ? ORDER BY rowid`, documentID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list metrics %s", documentID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FinancialMetric
	for rows.Next() {
		var m model.FinancialMetric
		var period, resultID sql.NullString
		var ref string
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.MetricType, &m.MetricName, &m.Value, &m.Currency,
			&period, &m.ConfidenceScore, &ref, &m.ExtractedAt, &m.FlaggedForReview, &resultID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric")
		}
		m.Period = period.String
		m.ExtractionResultID = resultID.String
		if err := json.Unmarshal([]byte(ref), &m.SourceReference); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal source reference")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate metrics")
}

func (s *SQLiteStore) FlagMetrics(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE financial_metrics SET flagged_for_review = 1 WHERE id IN (`+placeholders+`)`, args...)
	return eris.Wrap(err, "sqlite: flag metrics")
}

func (s *SQLiteStore) SaveExtractionResult(ctx context.Context, r *model.ExtractionResult) error {
	errs, warns, err := marshalFindings(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_results
		(id, document_id, document_name, document_type, status, ocr_confidence_avg, tables_extracted, metrics_extracted,
		 model_version, started_at, completed_at, validation_status, validation_errors, validation_warnings, requires_manual_review, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.DocumentID, r.DocumentName, string(r.DocumentType), string(r.Status), r.OCRConfidenceAvg,
		r.TablesExtracted, r.MetricsExtracted, nullString(r.ModelVersion), r.StartedAt.UTC(), r.CompletedAt,
		string(r.ValidationStatus), errs, warns, r.RequiresManualReview, nullString(r.ErrorMessage),
	)
	return eris.Wrapf(err, "sqlite: insert extraction result %s", r.ID)
}

func (s *SQLiteStore) UpdateExtractionResult(ctx context.Context, r *model.ExtractionResult) error {
	errs, warns, err := marshalFindings(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE extraction_results SET status = ?, ocr_confidence_avg = ?, tables_extracted = ?, metrics_extracted = ?,
		 model_version = ?, completed_at = ?, validation_status = ?, validation_errors = ?, validation_warnings = ?,
		 requires_manual_review = ?, error_message = ? WHERE id = ?`,
		string(r.Status), r.OCRConfidenceAvg, r.TablesExtracted, r.MetricsExtracted, nullString(r.ModelVersion),
		r.CompletedAt, string(r.ValidationStatus), errs, warns, r.RequiresManualReview, nullString(r.ErrorMessage), r.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update extraction result %s", r.ID)
	}
	return checkRowsAffected(res, "extraction result", r.ID)
}

func (s *SQLiteStore) GetLatestExtractionResult(ctx context.Context, documentID string) (*model.ExtractionResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, document_name, document_type, status, ocr_confidence_avg, tables_extracted, metrics_extracted,
		 model_version, started_at, completed_at, validation_status, validation_errors, validation_warnings, requires_manual_review, error_message
		FROM extraction_results WHERE document_id = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, documentID)

	var r model.ExtractionResult
	var modelVersion, errMsg sql.NullString
	var completedAt sql.NullTime
	var errs, warns string
	err := row.Scan(&r.ID, &r.DocumentID, &r.DocumentName, &r.DocumentType, &r.Status, &r.OCRConfidenceAvg,
		&r.TablesExtracted, &r.MetricsExtracted, &modelVersion, &r.StartedAt, &completedAt,
		&r.ValidationStatus, &errs, &warns, &r.RequiresManualReview, &errMsg)
	if err == sql.ErrNoRows {
		return nil, notFound("extraction result for document", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get extraction result %s", documentID)
	}

	r.ModelVersion = modelVersion.String
	r.ErrorMessage = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	if err := unmarshalFindings(&r, []byte(errs), []byte(warns)); err != nil {
		return nil, err
	}
	return &r, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return notFound(entity, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func marshalFindings(r *model.ExtractionResult) (string, string, error) {
	errs, err := json.Marshal(nonNil(r.ValidationErrors))
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal validation errors")
	}
	warns, err := json.Marshal(nonNil(r.ValidationWarnings))
	if err != nil {
		return "", "", eris.Wrap(err, "store: marshal validation warnings")
	}
	return string(errs), string(warns), nil
}

func unmarshalFindings(r *model.ExtractionResult, errs, warns []byte) error {
	if err := json.Unmarshal(errs, &r.ValidationErrors); err != nil {
		return eris.Wrap(err, "store: unmarshal validation errors")
	}
	if err := json.Unmarshal(warns, &r.ValidationWarnings); err != nil {
		return eris.Wrap(err, "store: unmarshal validation warnings")
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
