package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fin-ingest/internal/lifecycle"
	"github.com/sells-group/fin-ingest/internal/model"
)

func TestInline_ExtractThenValidate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addDocument(t, "doc-1", "q4.pdf", []byte("%PDF"))
	f.analyzer.On("Analyze", mock.Anything, mock.Anything, mock.Anything).Return(statementTable(0.95), nil)

	q := &Inline{}
	q.Extractor = NewExtractor(f.cfg, f.store, f.blobs, f.analyzer, q)
	q.Validator = f.validator(t)

	require.NoError(t, q.EnqueueExtraction(ctx, ExtractionJob{MessageID: "doc-1", DocumentID: "doc-1"}))

	assert.Equal(t, []model.EventType{
		model.EventQueued,
		model.EventIngestionStarted,
		model.EventExtractionStarted,
		model.EventExtractionCompleted,
		model.EventValidationStarted,
		model.EventValidationCompleted,
	}, f.eventTypes(t, "doc-1"))

	done := f.lastEvent(t, "doc-1")
	assert.Equal(t, "passed", done.Data.ValidationStatus)
	assert.Equal(t, 0, *done.Data.ErrorCount)
	assert.Equal(t, 0, *done.Data.WarningCount)
	assert.False(t, *done.Data.RequiresManualReview)

	res, err := f.store.GetLatestExtractionResult(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, model.ValidationPassed, res.ValidationStatus)
	assert.Empty(t, res.ValidationErrors)

	events, err := f.store.ListEvents(ctx, "doc-1", 0)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusCompleted, lifecycle.DeriveStatus(events))
	assert.False(t, lifecycle.CheckRetry(events).Eligible)
}

func TestInline_MissingStages(t *testing.T) {
	q := &Inline{}
	assert.Error(t, q.EnqueueExtraction(context.Background(), ExtractionJob{DocumentID: "x"}))
	assert.Error(t, q.EnqueueValidation(context.Background(), ValidationJob{DocumentID: "x"}))
}

// seedExtraction stores a completed extraction result and unflagged
// metrics, as if extraction had used a lower metric threshold.
func seedExtraction(t *testing.T, f *fixture, docID string, docConf float64, metrics []model.FinancialMetric) *model.ExtractionResult {
	t.Helper()
	ctx := context.Background()
	done := time.Date(2026, 4, 2, 15, 1, 0, 0, time.UTC)
	res := &model.ExtractionResult{
		ID:               "extraction-" + docID,
		DocumentID:       docID,
		DocumentName:     docID + ".pdf",
		DocumentType:     model.DocumentPDF,
		Status:           model.ExtractionCompleted,
		OCRConfidenceAvg: docConf,
		TablesExtracted:  1,
		MetricsExtracted: len(metrics),
		StartedAt:        done.Add(-time.Minute),
		CompletedAt:      &done,
		ValidationStatus: model.ValidationPending,
	}
	require.NoError(t, f.store.SaveExtractionResult(ctx, res))
	require.NoError(t, f.store.SaveMetrics(ctx, metrics))
	return res
}

func metric(docID, id string, mt model.MetricType, value, conf float64) model.FinancialMetric {
	return model.FinancialMetric{
		ID:              id,
		DocumentID:      docID,
		MetricType:      mt,
		MetricName:      mt.DisplayName(),
		Value:           value,
		Currency:        "USD",
		ConfidenceScore: conf,
		SourceReference: model.SourceReference{DocumentID: docID, TableID: "table-1", CellReference: "row:1,col:1"},
		ExtractedAt:     time.Date(2026, 4, 2, 15, 1, 0, 0, time.UTC),
	}
}

func TestValidator_FlagsLowConfidenceMetrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := seedExtraction(t, f, "doc-2", 0.7, []model.FinancialMetric{
		metric("doc-2", "m-rev", model.MetricRevenue, 1500000, 0.65),
		metric("doc-2", "m-cogs", model.MetricCOGS, 600000, 0.9),
		metric("doc-2", "m-gp", model.MetricGrossProfit, 900000, 0.9),
		metric("doc-2", "m-opex", model.MetricOperatingExpenses, 400000, 0.9),
		metric("doc-2", "m-ni", model.MetricNetIncome, 210000, 0.9),
	})

	err := f.validator(t).Process(ctx, ValidationJob{DocumentID: "doc-2", ExtractionResultID: res.ID})
	require.NoError(t, err)

	got, err := f.store.GetLatestExtractionResult(ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, model.ValidationFlagged, got.ValidationStatus)
	assert.True(t, got.RequiresManualReview)
	assert.Empty(t, got.ValidationErrors)
	assert.Len(t, got.ValidationWarnings, 2)

	metrics, err := f.store.ListMetrics(ctx, "doc-2")
	require.NoError(t, err)
	for _, m := range metrics {
		assert.Equal(t, m.ID == "m-rev", m.FlaggedForReview, m.ID)
	}

	done := f.lastEvent(t, "doc-2")
	assert.Equal(t, model.EventValidationCompleted, done.EventType)
	assert.Equal(t, "flagged", done.Data.ValidationStatus)
	assert.Equal(t, 2, *done.Data.WarningCount)
	assert.True(t, *done.Data.RequiresManualReview)
}

func TestValidator_MissingRequiredMetricsFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedExtraction(t, f, "doc-3", 0.95, []model.FinancialMetric{
		metric("doc-3", "m-ni", model.MetricNetIncome, 210000, 0.95),
	})

	require.NoError(t, f.validator(t).Process(ctx, ValidationJob{DocumentID: "doc-3"}))

	got, err := f.store.GetLatestExtractionResult(ctx, "doc-3")
	require.NoError(t, err)
	assert.Equal(t, model.ValidationFailed, got.ValidationStatus)
	require.NotEmpty(t, got.ValidationErrors)
	assert.Contains(t, got.ValidationErrors[0], "Missing required metric: revenue")
	assert.True(t, got.RequiresManualReview)
}

func TestValidator_KeepsExtractionReviewFlag(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	res := seedExtraction(t, f, "doc-4", 0.95, []model.FinancialMetric{
		metric("doc-4", "a", model.MetricRevenue, 1500000, 0.95),
		metric("doc-4", "b", model.MetricCOGS, 600000, 0.95),
		metric("doc-4", "c", model.MetricGrossProfit, 900000, 0.95),
		metric("doc-4", "d", model.MetricOperatingExpenses, 400000, 0.95),
		metric("doc-4", "e", model.MetricNetIncome, 210000, 0.95),
	})
	res.RequiresManualReview = true
	require.NoError(t, f.store.UpdateExtractionResult(ctx, res))

	require.NoError(t, f.validator(t).Process(ctx, ValidationJob{DocumentID: "doc-4"}))

	got, err := f.store.GetLatestExtractionResult(ctx, "doc-4")
	require.NoError(t, err)
	assert.Equal(t, model.ValidationPassed, got.ValidationStatus)
	assert.True(t, got.RequiresManualReview)
}

func TestValidator_NoExtractionResult(t *testing.T) {
	f := newFixture(t)

	err := f.validator(t).Process(context.Background(), ValidationJob{DocumentID: "doc-5"})
	require.Error(t, err)

	failed := f.lastEvent(t, "doc-5")
	assert.Equal(t, model.EventFailed, failed.EventType)
	assert.Equal(t, ErrTypeDocNotFound, failed.Data.ErrorType)
}

func TestNewValidator_RulesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ranges.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ranges:\n  revenue: {min: 0, max: 1000000}\n"), 0o600))

	f := newFixture(t)
	f.cfg.Validation.RulesPath = path
	v := f.validator(t)
	assert.InDelta(t, 1000000, v.opts.Ranges[model.MetricRevenue].Max, 1e-9)

	f.cfg.Validation.RulesPath = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := NewValidator(f.cfg, f.store)
	assert.Error(t, err)
}

func TestValidator_IgnoresMetricsFromEarlierAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var current []model.FinancialMetric
	for _, m := range []model.FinancialMetric{
		metric("doc-6", "m-rev", model.MetricRevenue, 1500000, 0.9),
		metric("doc-6", "m-cogs", model.MetricCOGS, 600000, 0.9),
		metric("doc-6", "m-gp", model.MetricGrossProfit, 900000, 0.9),
		metric("doc-6", "m-opex", model.MetricOperatingExpenses, 400000, 0.9),
		metric("doc-6", "m-ni", model.MetricNetIncome, 210000, 0.9),
	} {
		m.ExtractionResultID = "extraction-doc-6"
		current = append(current, m)
	}
	res := seedExtraction(t, f, "doc-6", 0.9, current)

	stale := metric("doc-6", "m-old", model.MetricRevenue, 1400000, 0.4)
	stale.ExtractionResultID = "extraction-earlier"
	require.NoError(t, f.store.SaveMetrics(ctx, []model.FinancialMetric{stale}))

	require.NoError(t, f.validator(t).Process(ctx, ValidationJob{DocumentID: "doc-6", ExtractionResultID: res.ID}))

	got, err := f.store.GetLatestExtractionResult(ctx, "doc-6")
	require.NoError(t, err)
	assert.Equal(t, model.ValidationPassed, got.ValidationStatus)
	assert.Empty(t, got.ValidationWarnings)
	assert.False(t, got.RequiresManualReview)
}
