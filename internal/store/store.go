// Package store persists documents, the processing event log, extracted
// metrics and extraction results.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/model"
)

// ErrNotFound is returned, wrapped, when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Documents
	SaveDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)

	// Event log. Events are append-only; ListEvents returns newest first
	// and limit <= 0 means no limit.
	AppendEvent(ctx context.Context, ev *model.ProcessingEvent) error
	ListEvents(ctx context.Context, documentID string, limit int) ([]model.ProcessingEvent, error)

	// Metrics. Only the review flag may change after insert.
	SaveMetrics(ctx context.Context, metrics []model.FinancialMetric) error
	ListMetrics(ctx context.Context, documentID string) ([]model.FinancialMetric, error)
	FlagMetrics(ctx context.Context, ids []string) error

	// Extraction results
	SaveExtractionResult(ctx context.Context, r *model.ExtractionResult) error
	UpdateExtractionResult(ctx context.Context, r *model.ExtractionResult) error
	GetLatestExtractionResult(ctx context.Context, documentID string) (*model.ExtractionResult, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// prepareEvent validates an event before it is written and fills in its
// ID and timestamp when unset.
func prepareEvent(ev *model.ProcessingEvent) error {
	if ev.DocumentID == "" {
		return eris.New("store: event without document_id")
	}
	if err := model.ValidateEventData(ev.EventType, ev.Data); err != nil {
		return eris.Wrapf(err, "store: reject %s event for %s", ev.EventType, ev.DocumentID)
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return nil
}

// auditEvent records every appended event in the structured log.
func auditEvent(ev *model.ProcessingEvent) {
	zap.L().Info("audit: event appended",
		zap.String("document_id", ev.DocumentID),
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.EventType)),
		zap.Time("event_timestamp", ev.Timestamp),
	)
}

func notFound(entity, id string) error {
	return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
}
