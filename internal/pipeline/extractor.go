package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/blob"
	"github.com/sells-group/fin-ingest/internal/confidence"
	"github.com/sells-group/fin-ingest/internal/config"
	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/ocr"
	"github.com/sells-group/fin-ingest/internal/sheet"
	"github.com/sells-group/fin-ingest/internal/statement"
	"github.com/sells-group/fin-ingest/internal/store"
)

// Extractor turns a stored document into financial metrics with source
// references and hands the result to validation.
type Extractor struct {
	cfg      *config.Config
	store    store.Store
	blobs    blob.Store
	analyzer ocr.Analyzer
	queue    Queue
	now      func() time.Time
}

// NewExtractor creates an Extractor. queue receives validation jobs.
func NewExtractor(cfg *config.Config, st store.Store, blobs blob.Store, analyzer ocr.Analyzer, queue Queue) *Extractor {
	return &Extractor{
		cfg:      cfg,
		store:    st,
		blobs:    blobs,
		analyzer: analyzer,
		queue:    queue,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetQueue replaces the queue that receives validation jobs.
func (e *Extractor) SetQueue(q Queue) { e.queue = q }

// Process runs one extraction job. Failures are recorded as a failed
// event and a failed extraction result, then returned.
func (e *Extractor) Process(ctx context.Context, job ExtractionJob) error {
	log := zap.L().With(
		zap.String("document_id", job.DocumentID),
		zap.Int("retry_count", job.RetryCount),
		zap.Bool("enhanced_ocr", job.EnhancedOCR),
	)
	log.Info("extraction: starting")

	if timeout := e.cfg.Processing.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	doc, err := e.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		if store.IsNotFound(err) {
			err = newExtractionError(ErrTypeDocNotFound, false, err)
		}
		return e.fail(ctx, job.DocumentID, nil, err)
	}

	if job.RetryCount == 0 {
		if err := e.appendEvent(ctx, doc.ID, model.EventIngestionStarted, model.EventData{
			DocumentName: doc.Name,
			DocumentType: string(doc.Type),
		}); err != nil {
			return e.fail(ctx, doc.ID, nil, err)
		}
	}

	started := e.now()
	result := &model.ExtractionResult{
		ID:               "extraction-" + uuid.NewString(),
		DocumentID:       doc.ID,
		DocumentName:     doc.Name,
		DocumentType:     doc.Type,
		Status:           model.ExtractionProcessing,
		StartedAt:        started,
		ValidationStatus: model.ValidationPending,
	}

	if err := e.appendEvent(ctx, doc.ID, model.EventExtractionStarted, model.EventData{
		ExtractionResultID: result.ID,
		DocumentName:       doc.Name,
		DocumentType:       string(doc.Type),
		EnhancedOCR:        model.Ptr(job.EnhancedOCR),
		RetryCount:         model.Ptr(job.RetryCount),
	}); err != nil {
		return e.fail(ctx, doc.ID, nil, err)
	}
	if err := e.store.SaveExtractionResult(ctx, result); err != nil {
		return e.fail(ctx, doc.ID, nil, eris.Wrap(err, "extraction: save result"))
	}

	set, err := e.readTables(ctx, doc, job.EnhancedOCR)
	if err != nil {
		return e.fail(ctx, doc.ID, result, err)
	}

	metrics := BuildMetrics(doc, set, e.cfg.Confidence, e.now())
	for i := range metrics {
		metrics[i].ExtractionResultID = result.ID
	}
	if err := e.store.SaveMetrics(ctx, metrics); err != nil {
		return e.fail(ctx, doc.ID, result, newExtractionError(ErrTypeStorage, true, err))
	}

	completed := e.now()
	result.Status = model.ExtractionCompleted
	result.OCRConfidenceAvg = set.OverallConfidence
	result.TablesExtracted = len(set.Tables)
	result.MetricsExtracted = len(metrics)
	result.ModelVersion = set.ModelVersion
	result.CompletedAt = &completed
	result.RequiresManualReview = set.OverallConfidence < e.cfg.Confidence.DocumentThreshold
	if err := e.store.UpdateExtractionResult(ctx, result); err != nil {
		return e.fail(ctx, doc.ID, result, newExtractionError(ErrTypeStorage, true, err))
	}

	if err := e.appendEvent(ctx, doc.ID, model.EventExtractionCompleted, model.EventData{
		ExtractionResultID: result.ID,
		MetricsExtracted:   model.Ptr(len(metrics)),
		TablesExtracted:    model.Ptr(len(set.Tables)),
		AvgConfidence:      model.Ptr(set.OverallConfidence),
		DurationSeconds:    model.Ptr(completed.Sub(started).Seconds()),
	}); err != nil {
		return eris.Wrap(err, "extraction: record completion")
	}

	log.Info("extraction: complete",
		zap.String("extraction_result_id", result.ID),
		zap.Int("tables", len(set.Tables)),
		zap.Int("metrics", len(metrics)),
		zap.Float64("avg_confidence", set.OverallConfidence),
	)

	if err := e.queue.EnqueueValidation(ctx, ValidationJob{
		DocumentID:         doc.ID,
		ExtractionResultID: result.ID,
	}); err != nil {
		return eris.Wrapf(err, "extraction: enqueue validation for %s", doc.ID)
	}
	return nil
}

// readTables loads the original bytes and routes them to the adapter for
// the document type.
func (e *Extractor) readTables(ctx context.Context, doc *model.Document, enhanced bool) (*model.TableSet, error) {
	data, err := e.blobs.Get(ctx, doc.BlobPath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, newExtractionError(ErrTypeBlobNotFound, false, err)
		}
		return nil, newExtractionError(ErrTypeStorage, true, err)
	}

	switch doc.Type {
	case model.DocumentPDF:
		set, err := e.analyzer.Analyze(ctx, data, ocr.Options{EnhancedOCR: enhanced})
		if err != nil {
			return nil, newExtractionError(ErrTypeOCRFailed, true, eris.Wrap(err, "extraction: analyze pdf"))
		}
		return set, nil
	case model.DocumentXLSX:
		set, err := sheet.Read(ctx, data)
		if err != nil {
			return nil, newExtractionError(ErrTypeExcelParse, false, eris.Wrap(err, "extraction: read workbook"))
		}
		return set, nil
	default:
		return nil, newExtractionError(ErrTypeUnsupported, false,
			eris.Errorf("extraction: unsupported document type %q", doc.Type))
	}
}

// fail records err against the document and, when one exists, the
// extraction result. The original error is returned.
func (e *Extractor) fail(ctx context.Context, documentID string, result *model.ExtractionResult, err error) error {
	errType, eligible := describeFailure(err)
	zap.L().Error("extraction: failed",
		zap.String("document_id", documentID),
		zap.String("error_type", errType),
		zap.Bool("retry_eligible", eligible),
		zap.Error(err),
	)

	// The job context may be the one that expired.
	ctx = context.WithoutCancel(ctx)

	if ev := e.appendEvent(ctx, documentID, model.EventFailed, model.EventData{
		Error:         err.Error(),
		ErrorType:     errType,
		RetryEligible: model.Ptr(eligible),
	}); ev != nil {
		zap.L().Error("extraction: record failure", zap.String("document_id", documentID), zap.Error(ev))
	}

	if result != nil {
		done := e.now()
		result.Status = model.ExtractionFailed
		result.ErrorMessage = err.Error()
		result.CompletedAt = &done
		if uerr := e.store.UpdateExtractionResult(ctx, result); uerr != nil {
			zap.L().Error("extraction: mark result failed", zap.String("document_id", documentID), zap.Error(uerr))
		}
	}
	return err
}

func (e *Extractor) appendEvent(ctx context.Context, documentID string, et model.EventType, data model.EventData) error {
	return e.store.AppendEvent(ctx, &model.ProcessingEvent{
		DocumentID: documentID,
		EventType:  et,
		Data:       data,
	})
}

// BuildMetrics extracts income-statement metrics from every qualifying
// table in set. Each metric carries its source cell, a confidence derived
// from the cell and a review flag from the metric threshold.
func BuildMetrics(doc *model.Document, set *model.TableSet, thresholds config.ConfidenceConfig, extractedAt time.Time) []model.FinancialMetric {
	var out []model.FinancialMetric
	for _, t := range set.Tables {
		if !statement.IsIncomeStatement(t) {
			continue
		}
		period := statement.IdentifyPeriod(t)
		zap.L().Debug("extraction: income statement table",
			zap.String("document_id", doc.ID),
			zap.String("table_id", t.ID),
			zap.String("period", period),
			zap.Float64("table_confidence", confidence.TableConfidence(t)),
		)
		for _, raw := range statement.Extract(t) {
			score := confidence.MetricConfidence(raw.ValueCell.Content, raw.Confidence, true)
			out = append(out, model.FinancialMetric{
				ID:               "metric-" + uuid.NewString(),
				DocumentID:       doc.ID,
				MetricType:       raw.Type,
				MetricName:       raw.Name,
				Value:            raw.Value,
				Currency:         model.NormalizeCurrency(raw.Currency),
				Period:           period,
				ConfidenceScore:  score,
				SourceReference:  sourceReference(doc, t, raw.ValueCell),
				ExtractedAt:      extractedAt,
				FlaggedForReview: confidence.ShouldFlag(score, thresholds.MetricThreshold, thresholds.DocumentThreshold),
			})
		}
	}
	return out
}

func sourceReference(doc *model.Document, t model.Table, cell model.Cell) model.SourceReference {
	ref := model.SourceReference{
		DocumentID:    doc.ID,
		DocumentName:  doc.Name,
		TableID:       t.ID,
		CellReference: cell.Reference(),
		BoundingBox:   cell.Locator.BoundingBox,
	}
	switch doc.Type {
	case model.DocumentPDF:
		ref.PageNumber = t.PageNumber
		if cell.Locator.PageNumber > 0 {
			ref.PageNumber = cell.Locator.PageNumber
		}
	case model.DocumentXLSX:
		ref.SheetName = t.SheetName
		if cell.Locator.SheetName != "" {
			ref.SheetName = cell.Locator.SheetName
		}
	}
	return ref
}
