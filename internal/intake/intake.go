// Package intake accepts uploaded documents, stores the original bytes
// and queues them for extraction.
package intake

import (
	"bytes"
	"context"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/blob"
	"github.com/sells-group/fin-ingest/internal/config"
	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/pipeline"
	"github.com/sells-group/fin-ingest/internal/store"
)

// Rejection reasons.
var (
	ErrEmptyFile       = eris.New("intake: file is empty")
	ErrTooLarge        = eris.New("intake: file exceeds size limit")
	ErrUnsupportedType = eris.New("intake: unsupported file type")
	ErrMissingFileName = eris.New("intake: file name is required")
)

var defaultExtensions = []string{".pdf", ".xlsx"}

const defaultMaxSizeBytes = int64(50 << 20)

// Upload is one file offered for ingestion.
type Upload struct {
	Name string
	Data []byte
}

// Receipt is returned for an accepted upload.
type Receipt struct {
	DocumentID string             `json:"document_id"`
	Name       string             `json:"document_name"`
	Type       model.DocumentType `json:"document_type"`
	SizeBytes  int64              `json:"file_size_bytes"`
	BlobPath   string             `json:"blob_path"`
	Status     string             `json:"status"`
	UploadedAt time.Time          `json:"uploaded_at"`
}

// Service validates and records uploads.
type Service struct {
	store      store.Store
	blobs      blob.Store
	queue      pipeline.Queue
	maxBytes   int64
	extensions []string
	retention  int
	now        func() time.Time
	newID      func() string
}

// New creates an intake Service from the upload settings in cfg.
func New(cfg config.UploadConfig, st store.Store, blobs blob.Store, queue pipeline.Queue) *Service {
	maxBytes := int64(cfg.MaxSizeMB) << 20
	if maxBytes <= 0 {
		maxBytes = defaultMaxSizeBytes
	}
	exts := make([]string, 0, len(cfg.AllowedExtensions))
	for _, e := range cfg.AllowedExtensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if e != "" {
			exts = append(exts, e)
		}
	}
	if len(exts) == 0 {
		exts = defaultExtensions
	}
	return &Service{
		store:      st,
		blobs:      blobs,
		queue:      queue,
		maxBytes:   maxBytes,
		extensions: exts,
		retention:  cfg.RetentionDays,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// MaxBytes is the largest upload accepted.
func (s *Service) MaxBytes() int64 { return s.maxBytes }

// Check validates name and size without storing anything.
func (s *Service) Check(name string, size int64) (model.DocumentType, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrMissingFileName
	}
	ext := strings.ToLower(filepath.Ext(name))
	typ := model.DocumentTypeFromName(name)
	if typ == "" || !slices.Contains(s.extensions, ext) {
		return "", eris.Wrapf(ErrUnsupportedType, "%q (allowed: %s)", ext, strings.Join(s.extensions, ", "))
	}
	if size <= 0 {
		return "", ErrEmptyFile
	}
	if size > s.maxBytes {
		return "", eris.Wrapf(ErrTooLarge, "%d bytes (max %d MB)", size, s.maxBytes>>20)
	}
	return typ, nil
}

// Ingest stores the upload, records it, appends the queued event and
// enqueues extraction. When only the enqueue fails the document stays
// recorded and the returned error wraps the cause.
func (s *Service) Ingest(ctx context.Context, up Upload) (*Receipt, error) {
	name := strings.TrimSpace(up.Name)
	if name != "" {
		name = filepath.Base(name)
	}
	typ, err := s.Check(name, int64(len(up.Data)))
	if err != nil {
		return nil, err
	}

	uploaded := s.now()
	doc := &model.Document{
		ID:         s.newID(),
		Name:       name,
		Type:       typ,
		SizeBytes:  int64(len(up.Data)),
		UploadedAt: uploaded,
	}
	doc.BlobPath = blob.Key(doc.ID, filepath.Ext(name), uploaded)
	if s.retention > 0 {
		doc.RetentionDate = uploaded.AddDate(0, 0, s.retention)
	}

	log := zap.L().With(zap.String("document_id", doc.ID), zap.String("document_name", name))

	if _, err := s.blobs.Put(ctx, doc.BlobPath, bytes.NewReader(up.Data)); err != nil {
		return nil, eris.Wrap(err, "intake: store upload")
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, eris.Wrap(err, "intake: save document")
	}
	if err := s.store.AppendEvent(ctx, &model.ProcessingEvent{
		DocumentID: doc.ID,
		EventType:  model.EventQueued,
		Timestamp:  uploaded,
		Data: model.EventData{
			DocumentName:  doc.Name,
			DocumentType:  string(doc.Type),
			FileSizeBytes: model.Ptr(doc.SizeBytes),
		},
	}); err != nil {
		return nil, eris.Wrap(err, "intake: record queued event")
	}
	log.Info("intake: document accepted",
		zap.String("blob_path", doc.BlobPath),
		zap.Int64("size_bytes", doc.SizeBytes),
	)

	receipt := &Receipt{
		DocumentID: doc.ID,
		Name:       doc.Name,
		Type:       doc.Type,
		SizeBytes:  doc.SizeBytes,
		BlobPath:   doc.BlobPath,
		Status:     "queued",
		UploadedAt: uploaded,
	}

	if err := s.queue.EnqueueExtraction(ctx, pipeline.ExtractionJob{
		MessageID:  doc.ID,
		DocumentID: doc.ID,
	}); err != nil {
		return receipt, eris.Wrapf(err, "intake: enqueue %s", doc.ID)
	}
	return receipt, nil
}
