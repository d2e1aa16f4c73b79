package pipeline

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/fin-ingest/internal/blob"
	"github.com/sells-group/fin-ingest/internal/config"
	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/ocr"
	"github.com/sells-group/fin-ingest/internal/store"
)

// --- Analyzer Mock ---

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Analyze(ctx context.Context, pdf []byte, opts ocr.Options) (*model.TableSet, error) {
	args := m.Called(ctx, pdf, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TableSet), args.Error(1)
}

// --- Recording Queue ---

type recordingQueue struct {
	mu          sync.Mutex
	extractions []ExtractionJob
	validations []ValidationJob
	err         error
}

func (q *recordingQueue) EnqueueExtraction(_ context.Context, job ExtractionJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.extractions = append(q.extractions, job)
	return nil
}

func (q *recordingQueue) EnqueueValidation(_ context.Context, job ValidationJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.validations = append(q.validations, job)
	return nil
}

// --- Fixture ---

type fixture struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	blobs    *blob.FS
	blobDir  string
	analyzer *mockAnalyzer
	queue    *recordingQueue
}

func testConfig() *config.Config {
	return &config.Config{
		Confidence: config.ConfidenceConfig{DocumentThreshold: 0.75, MetricThreshold: 0.70},
		Processing: config.ProcessingConfig{TimeoutMinutes: 10, MaxRetries: 5},
		Dispatcher: config.DispatcherConfig{Concurrency: 2, QueueDepth: 8},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLite(filepath.Join(dir, "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	blobDir := filepath.Join(dir, "blobs")
	blobs, err := blob.NewFS(blobDir)
	require.NoError(t, err)

	return &fixture{
		cfg:      testConfig(),
		store:    st,
		blobs:    blobs,
		blobDir:  blobDir,
		analyzer: &mockAnalyzer{},
		queue:    &recordingQueue{},
	}
}

func (f *fixture) extractor() *Extractor {
	return NewExtractor(f.cfg, f.store, f.blobs, f.analyzer, f.queue)
}

func (f *fixture) validator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(f.cfg, f.store)
	require.NoError(t, err)
	return v
}

// addDocument stores data as an upload named name and records its queued
// event, the way intake does.
func (f *fixture) addDocument(t *testing.T, id, name string, data []byte) *model.Document {
	t.Helper()
	ctx := context.Background()
	uploaded := time.Date(2026, 4, 2, 15, 0, 0, 0, time.UTC)
	doc := &model.Document{
		ID:            id,
		Name:          name,
		Type:          model.DocumentTypeFromName(name),
		SizeBytes:     int64(len(data)),
		BlobPath:      blob.Key(id, filepath.Ext(name), uploaded),
		UploadedAt:    uploaded,
		RetentionDate: uploaded.AddDate(0, 0, 2555),
	}
	if data != nil {
		_, err := f.blobs.Put(ctx, doc.BlobPath, bytes.NewReader(data))
		require.NoError(t, err)
	}
	require.NoError(t, f.store.SaveDocument(ctx, doc))
	require.NoError(t, f.store.AppendEvent(ctx, &model.ProcessingEvent{
		DocumentID: id,
		EventType:  model.EventQueued,
		Data: model.EventData{
			DocumentName:  name,
			DocumentType:  string(doc.Type),
			FileSizeBytes: model.Ptr(doc.SizeBytes),
		},
	}))
	return doc
}

func (f *fixture) eventTypes(t *testing.T, docID string) []model.EventType {
	t.Helper()
	events, err := f.store.ListEvents(context.Background(), docID, 0)
	require.NoError(t, err)
	out := make([]model.EventType, len(events))
	for i, e := range events {
		out[len(events)-1-i] = e.EventType
	}
	return out
}

func (f *fixture) lastEvent(t *testing.T, docID string) model.ProcessingEvent {
	t.Helper()
	events, err := f.store.ListEvents(context.Background(), docID, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	return events[0]
}

// statementTable builds a one-page income statement whose cells all carry
// conf.
func statementTable(conf float64) *model.TableSet {
	rows := [][]string{
		{"Income Statement", "FY2025"},
		{"Total Revenue", "1,500,000"},
		{"Cost of Goods Sold", "600,000"},
		{"Gross Profit", "900,000"},
		{"Operating Expenses", "400,000"},
		{"Net Income", "210,000"},
	}
	t := model.Table{ID: "table-1", PageNumber: 2, RowCount: len(rows), ColumnCount: 2}
	for r, row := range rows {
		for c, content := range row {
			t.Cells = append(t.Cells, model.Cell{
				RowIndex:    r,
				ColumnIndex: c,
				RowSpan:     1,
				ColumnSpan:  1,
				Content:     content,
				Confidence:  conf,
				Kind:        model.CellKindContent,
				Locator: model.Locator{
					PageNumber:  2,
					BoundingBox: &model.BoundingBox{X1: float64(c * 100), Y1: float64(r * 20), X2: float64(c*100 + 90), Y2: float64(r*20 + 12)},
				},
			})
		}
	}
	return &model.TableSet{
		Tables:            []model.Table{t},
		OverallConfidence: conf,
		ModelVersion:      "prebuilt-layout",
		PageCount:         2,
	}
}

// statementWorkbook renders the same statement as an xlsx file.
func statementWorkbook(t *testing.T) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sh, err := f.AddSheet("P&L")
	require.NoError(t, err)

	addRow := func(label string, value float64, numeric bool) {
		row := sh.AddRow()
		row.AddCell().SetString(label)
		if numeric {
			row.AddCell().SetFloat(value)
		} else {
			row.AddCell().SetString("FY2025")
		}
	}
	addRow("Income Statement", 0, false)
	addRow("Total Revenue", 1500000, true)
	addRow("Cost of Goods Sold", 600000, true)
	addRow("Gross Profit", 900000, true)
	addRow("Net Income", 210000, true)

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}
