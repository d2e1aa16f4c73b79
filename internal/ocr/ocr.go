// Package ocr turns PDF documents into normalized tables.
package ocr

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fin-ingest/internal/config"
	"github.com/sells-group/fin-ingest/internal/model"
)

// Options tunes a single analysis call.
type Options struct {
	// EnhancedOCR requests the provider's high-resolution mode, used on
	// retries of poor scans.
	EnhancedOCR bool
}

// Analyzer extracts tables from PDF bytes.
type Analyzer interface {
	Analyze(ctx context.Context, pdf []byte, opts Options) (*model.TableSet, error)
}

// NewAnalyzer creates an Analyzer based on config.
func NewAnalyzer(ctx context.Context, cfg config.OCRConfig) (Analyzer, error) {
	switch cfg.Provider {
	case "textlayer", "":
		return NewTextLayer(), nil
	case "layout":
		if cfg.Layout.Endpoint == "" || cfg.Layout.Key == "" {
			return nil, eris.New("ocr: layout provider requires endpoint and key")
		}
		return NewLayoutClient(cfg.Layout), nil
	case "documentai":
		return NewDocumentAI(ctx, cfg.DocumentAI)
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// tableID names the i-th (zero-based) table of a document.
func tableID(i int) string {
	return "table-" + strconv.Itoa(i+1)
}
