package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/blob"
	"github.com/sells-group/fin-ingest/internal/config"
	"github.com/sells-group/fin-ingest/internal/lifecycle"
	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/store"
)

// ErrBlobMissing is returned when a retry is eligible but the original
// upload no longer exists.
var ErrBlobMissing = eris.New("pipeline: original document no longer exists")

// IneligibleError reports why a retry was refused.
type IneligibleError struct {
	Eligibility lifecycle.Eligibility
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("pipeline: document cannot be retried: %s", e.Eligibility.Reason)
}

// RetryRequest asks for a failed document to be processed again.
type RetryRequest struct {
	DocumentID  string
	EnhancedOCR bool
	InitiatedBy string
}

// RetryOutcome describes an accepted retry.
type RetryOutcome struct {
	DocumentID                     string `json:"document_id"`
	Status                         string `json:"status"`
	Message                        string `json:"message"`
	RetryCount                     int    `json:"retry_count"`
	EnhancedOCR                    bool   `json:"enhanced_ocr"`
	EstimatedProcessingTimeMinutes int    `json:"estimated_processing_time_minutes"`
}

// Retrier resubmits failed documents to extraction.
type Retrier struct {
	cfg   *config.Config
	store store.Store
	blobs blob.Store
	queue Queue
}

// NewRetrier creates a Retrier that enqueues onto queue.
func NewRetrier(cfg *config.Config, st store.Store, blobs blob.Store, queue Queue) *Retrier {
	return &Retrier{cfg: cfg, store: st, blobs: blobs, queue: queue}
}

// Check returns the retry eligibility computed from the full event log.
func (r *Retrier) Check(ctx context.Context, documentID string) (lifecycle.Eligibility, error) {
	events, err := r.store.ListEvents(ctx, documentID, 0)
	if err != nil {
		return lifecycle.Eligibility{}, eris.Wrapf(err, "pipeline: list events for %s", documentID)
	}
	return lifecycle.CheckRetryLimit(events, r.cfg.Processing.MaxRetries), nil
}

// Retry checks eligibility, confirms the original upload still exists,
// records retry_initiated and enqueues a new extraction job. Refusals
// return *IneligibleError or ErrBlobMissing.
func (r *Retrier) Retry(ctx context.Context, req RetryRequest) (*RetryOutcome, error) {
	elig, err := r.Check(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if !elig.Eligible {
		return nil, &IneligibleError{Eligibility: elig}
	}

	doc, err := r.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, eris.Wrapf(ErrBlobMissing, "document %s", req.DocumentID)
		}
		return nil, eris.Wrapf(err, "pipeline: load document %s", req.DocumentID)
	}
	exists, err := r.blobs.Exists(ctx, doc.BlobPath)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: check blob for %s", req.DocumentID)
	}
	if !exists {
		return nil, eris.Wrapf(ErrBlobMissing, "blob %s", doc.BlobPath)
	}

	initiatedBy := req.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = "unknown-user"
	}
	n := elig.RetryCount + 1

	if err := r.store.AppendEvent(ctx, &model.ProcessingEvent{
		DocumentID: req.DocumentID,
		EventType:  model.EventRetryInitiated,
		Data: model.EventData{
			DocumentName: doc.Name,
			DocumentType: string(doc.Type),
			RetryCount:   model.Ptr(n),
			EnhancedOCR:  model.Ptr(req.EnhancedOCR),
			InitiatedBy:  initiatedBy,
		},
	}); err != nil {
		return nil, eris.Wrapf(err, "pipeline: record retry for %s", req.DocumentID)
	}

	if err := r.queue.EnqueueExtraction(ctx, ExtractionJob{
		MessageID:   lifecycle.RetryMessageID(req.DocumentID, n),
		DocumentID:  req.DocumentID,
		EnhancedOCR: req.EnhancedOCR,
		RetryCount:  n,
	}); err != nil {
		return nil, eris.Wrapf(err, "pipeline: enqueue retry for %s", req.DocumentID)
	}

	zap.L().Info("retry: queued",
		zap.String("document_id", req.DocumentID),
		zap.Int("retry_count", n),
		zap.Bool("enhanced_ocr", req.EnhancedOCR),
		zap.String("initiated_by", initiatedBy),
	)

	return &RetryOutcome{
		DocumentID:                     req.DocumentID,
		Status:                         "retry_queued",
		Message:                        "Document queued for retry processing",
		RetryCount:                     n,
		EnhancedOCR:                    req.EnhancedOCR,
		EstimatedProcessingTimeMinutes: r.cfg.Processing.TimeoutMinutes,
	}, nil
}
