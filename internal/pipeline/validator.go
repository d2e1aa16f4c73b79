package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/config"
	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/store"
	"github.com/sells-group/fin-ingest/internal/validate"
)

// Validator runs the data-quality passes over an extraction result and
// records the verdict.
type Validator struct {
	store store.Store
	opts  validate.Options
}

// NewValidator creates a Validator using the configured thresholds and,
// when validation.rules_path is set, the range rules loaded from it.
func NewValidator(cfg *config.Config, st store.Store) (*Validator, error) {
	opts := validate.DefaultOptions()
	opts.DocumentThreshold = cfg.Confidence.DocumentThreshold
	opts.MetricThreshold = cfg.Confidence.MetricThreshold
	if cfg.Validation.RulesPath != "" {
		rules, err := validate.LoadRangeRules(cfg.Validation.RulesPath)
		if err != nil {
			return nil, eris.Wrap(err, "validation: load range rules")
		}
		opts.Ranges = rules
	}
	return &Validator{store: st, opts: opts}, nil
}

// Process validates the latest extraction result of the job's document.
func (v *Validator) Process(ctx context.Context, job ValidationJob) error {
	log := zap.L().With(
		zap.String("document_id", job.DocumentID),
		zap.String("extraction_result_id", job.ExtractionResultID),
	)
	log.Info("validation: starting")

	if err := v.store.AppendEvent(ctx, &model.ProcessingEvent{
		DocumentID: job.DocumentID,
		EventType:  model.EventValidationStarted,
		Data:       model.EventData{ExtractionResultID: job.ExtractionResultID},
	}); err != nil {
		return v.fail(ctx, job.DocumentID, newExtractionError(ErrTypeStorage, true, err))
	}

	result, err := v.store.GetLatestExtractionResult(ctx, job.DocumentID)
	if err != nil {
		if store.IsNotFound(err) {
			return v.fail(ctx, job.DocumentID, newExtractionError(ErrTypeDocNotFound, false, err))
		}
		return v.fail(ctx, job.DocumentID, newExtractionError(ErrTypeStorage, true, err))
	}
	if job.ExtractionResultID != "" && result.ID != job.ExtractionResultID {
		log.Warn("validation: newer extraction result exists, validating latest",
			zap.String("latest_result_id", result.ID))
	}

	metrics, err := v.store.ListMetrics(ctx, job.DocumentID)
	if err != nil {
		return v.fail(ctx, job.DocumentID, newExtractionError(ErrTypeStorage, true, err))
	}
	metrics = forResult(metrics, result.ID)

	verdict := validate.All(metrics, result.OCRConfidenceAvg, v.opts)
	result.ValidationStatus = verdict.Status()
	result.ValidationErrors = verdict.Errors
	result.ValidationWarnings = verdict.Warnings
	result.RequiresManualReview = verdict.RequiresManualReview() || result.RequiresManualReview

	if result.RequiresManualReview {
		if ids := validate.FlagLowConfidence(metrics, v.opts.MetricThreshold); len(ids) > 0 {
			if err := v.store.FlagMetrics(ctx, ids); err != nil {
				return v.fail(ctx, job.DocumentID, newExtractionError(ErrTypeStorage, true, err))
			}
			log.Info("validation: flagged low-confidence metrics", zap.Int("count", len(ids)))
		}
	}

	if err := v.store.UpdateExtractionResult(ctx, result); err != nil {
		return v.fail(ctx, job.DocumentID, newExtractionError(ErrTypeStorage, true, err))
	}

	if err := v.store.AppendEvent(ctx, &model.ProcessingEvent{
		DocumentID: job.DocumentID,
		EventType:  model.EventValidationCompleted,
		Data: model.EventData{
			ExtractionResultID:   result.ID,
			ValidationStatus:     string(result.ValidationStatus),
			ErrorCount:           model.Ptr(len(verdict.Errors)),
			WarningCount:         model.Ptr(len(verdict.Warnings)),
			RequiresManualReview: model.Ptr(result.RequiresManualReview),
		},
	}); err != nil {
		return eris.Wrap(err, "validation: record completion")
	}

	log.Info("validation: complete",
		zap.String("status", string(result.ValidationStatus)),
		zap.Bool("requires_manual_review", result.RequiresManualReview),
	)
	return nil
}

func (v *Validator) fail(ctx context.Context, documentID string, err error) error {
	errType, eligible := describeFailure(err)
	zap.L().Error("validation: failed",
		zap.String("document_id", documentID),
		zap.String("error_type", errType),
		zap.Error(err),
	)
	if ev := v.store.AppendEvent(context.WithoutCancel(ctx), &model.ProcessingEvent{
		DocumentID: documentID,
		EventType:  model.EventFailed,
		Data: model.EventData{
			Error:         err.Error(),
			ErrorType:     errType,
			RetryEligible: model.Ptr(eligible),
		},
	}); ev != nil {
		zap.L().Error("validation: record failure", zap.String("document_id", documentID), zap.Error(ev))
	}
	return err
}
