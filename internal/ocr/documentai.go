package ocr

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/sells-group/fin-ingest/internal/confidence"
	"github.com/sells-group/fin-ingest/internal/config"
	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/resilience"
)

type processFunc func(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.ProcessResponse, error)

// DocumentAI analyzes PDFs with a Google Document AI form parser processor.
type DocumentAI struct {
	name    string
	process processFunc
	closeFn func() error
	retry   resilience.Policy
}

// NewDocumentAI dials the regional Document AI endpoint for cfg.
func NewDocumentAI(ctx context.Context, cfg config.DocumentAIConfig) (*DocumentAI, error) {
	if cfg.ProjectID == "" || cfg.ProcessorID == "" {
		return nil, eris.New("ocr: documentai provider requires project_id and processor_id")
	}
	location := cfg.Location
	if location == "" {
		location = "us"
	}

	opts := []option.ClientOption{
		option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", location)),
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create documentai client")
	}

	d := &DocumentAI{
		name: fmt.Sprintf("projects/%s/locations/%s/processors/%s", cfg.ProjectID, location, cfg.ProcessorID),
		process: func(ctx context.Context, req *documentaipb.ProcessRequest) (*documentaipb.ProcessResponse, error) {
			return client.ProcessDocument(ctx, req)
		},
		closeFn: client.Close,
		retry:   resilience.DefaultPolicy(),
	}
	d.retry.OnRetry = resilience.LogRetries("ocr", "documentai process")
	return d, nil
}

// Close releases the underlying gRPC connection.
func (d *DocumentAI) Close() error {
	if d.closeFn == nil {
		return nil
	}
	return d.closeFn()
}

// Analyze sends pdf to the processor and converts the detected tables.
func (d *DocumentAI) Analyze(ctx context.Context, pdf []byte, opts Options) (*model.TableSet, error) {
	req := &documentaipb.ProcessRequest{
		Name: d.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  pdf,
				MimeType: "application/pdf",
			},
		},
		SkipHumanReview: true,
	}
	if opts.EnhancedOCR {
		req.ProcessOptions = &documentaipb.ProcessOptions{
			OcrConfig: &documentaipb.OcrConfig{
				EnableImageQualityScores: true,
				EnableSymbol:             true,
			},
		}
	}

	// Every gRPC failure is retried up to the policy attempt count.
	policy := d.retry
	policy.Retryable = func(error) bool { return true }

	resp, err := resilience.DoVal(ctx, policy, func(ctx context.Context) (*documentaipb.ProcessResponse, error) {
		return d.process(ctx, req)
	})
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "ocr: documentai process"), 0)
	}

	set := convertDocument(resp.GetDocument(), d.name)
	zap.L().Info("ocr: documentai analysis complete",
		zap.Int("tables", len(set.Tables)),
		zap.Int("pages", set.PageCount),
		zap.Bool("enhanced_ocr", opts.EnhancedOCR),
	)
	return set, nil
}

func convertDocument(doc *documentaipb.Document, modelVersion string) *model.TableSet {
	set := &model.TableSet{ModelVersion: modelVersion}
	if doc == nil {
		return set
	}
	set.PageCount = len(doc.GetPages())

	text := []rune(doc.GetText())
	for _, page := range doc.GetPages() {
		for _, dt := range page.GetTables() {
			t := model.Table{
				ID:         tableID(len(set.Tables)),
				PageNumber: int(page.GetPageNumber()),
			}
			row := 0
			for _, r := range dt.GetHeaderRows() {
				t.Cells = appendRow(t.Cells, r, row, model.CellKindColumnHeader, page, text)
				row++
			}
			for _, r := range dt.GetBodyRows() {
				t.Cells = appendRow(t.Cells, r, row, model.CellKindContent, page, text)
				row++
			}
			t.RowCount = row
			for _, c := range t.Cells {
				t.ColumnCount = max(t.ColumnCount, c.ColumnIndex+c.ColumnSpan)
			}
			set.Tables = append(set.Tables, t)
		}
	}
	set.OverallConfidence = confidence.DocumentConfidence(set.Tables)
	return set
}

func appendRow(cells []model.Cell, r *documentaipb.Document_Page_Table_TableRow, row int, kind model.CellKind,
	page *documentaipb.Document_Page, text []rune,
) []model.Cell {
	col := 0
	for _, c := range r.GetCells() {
		layout := c.GetLayout()
		conf := float64(layout.GetConfidence())
		if conf <= 0 {
			conf = fallbackCellConfidence
		}
		colSpan := max(int(c.GetColSpan()), 1)
		cells = append(cells, model.Cell{
			RowIndex:    row,
			ColumnIndex: col,
			RowSpan:     max(int(c.GetRowSpan()), 1),
			ColumnSpan:  colSpan,
			Content:     strings.TrimSpace(anchorText(layout, text)),
			Confidence:  conf,
			Kind:        kind,
			Locator: model.Locator{
				PageNumber:  int(page.GetPageNumber()),
				BoundingBox: model.BoundingBoxFromPolygon(polygon(layout, page.GetDimension())),
			},
		})
		col += colSpan
	}
	return cells
}

// anchorText resolves a layout's text segments against the document text.
func anchorText(layout *documentaipb.Document_Page_Layout, text []rune) string {
	var sb strings.Builder
	for _, seg := range layout.GetTextAnchor().GetTextSegments() {
		start := min(max(int(seg.GetStartIndex()), 0), len(text))
		end := min(max(int(seg.GetEndIndex()), start), len(text))
		sb.WriteString(string(text[start:end]))
	}
	return sb.String()
}

// polygon flattens a bounding poly into x,y pairs in page units,
// scaling normalized vertices by the page dimension when known.
func polygon(layout *documentaipb.Document_Page_Layout, dim *documentaipb.Document_Page_Dimension) []float64 {
	poly := layout.GetBoundingPoly()
	if v := poly.GetVertices(); len(v) > 0 {
		out := make([]float64, 0, len(v)*2)
		for _, p := range v {
			out = append(out, float64(p.GetX()), float64(p.GetY()))
		}
		return out
	}
	nv := poly.GetNormalizedVertices()
	if len(nv) == 0 {
		return nil
	}
	w, h := 1.0, 1.0
	if dim != nil && dim.GetWidth() > 0 && dim.GetHeight() > 0 {
		w, h = float64(dim.GetWidth()), float64(dim.GetHeight())
	}
	out := make([]float64, 0, len(nv)*2)
	for _, p := range nv {
		out = append(out, float64(p.GetX())*w, float64(p.GetY())*h)
	}
	return out
}
