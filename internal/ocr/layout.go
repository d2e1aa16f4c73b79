package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fin-ingest/internal/confidence"
	"github.com/sells-group/fin-ingest/internal/config"
	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/resilience"
)

const (
	defaultLayoutModel      = "prebuilt-layout"
	defaultLayoutAPIVersion = "2023-07-31"

	// fallbackCellConfidence is used when neither the cell nor its spans
	// report a confidence.
	fallbackCellConfidence = 0.8
)

// LayoutClient analyzes PDFs with a cloud document layout service. It
// submits the document, then polls the returned operation until the
// analysis succeeds or fails.
type LayoutClient struct {
	endpoint     string
	key          string
	modelID      string
	apiVersion   string
	pollInterval time.Duration
	limiter      *rate.Limiter
	retry        resilience.Policy
	client       *http.Client
}

// NewLayoutClient creates a LayoutClient. Zero values in cfg take defaults.
func NewLayoutClient(cfg config.LayoutConfig) *LayoutClient {
	c := &LayoutClient{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		key:          cfg.Key,
		modelID:      cfg.ModelID,
		apiVersion:   cfg.APIVersion,
		pollInterval: time.Duration(cfg.PollIntervalMS) * time.Millisecond,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		retry:        resilience.DefaultPolicy(),
		client:       &http.Client{Timeout: 60 * time.Second},
	}
	if c.modelID == "" {
		c.modelID = defaultLayoutModel
	}
	if c.apiVersion == "" {
		c.apiVersion = defaultLayoutAPIVersion
	}
	if c.pollInterval <= 0 {
		c.pollInterval = time.Second
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	c.retry.OnRetry = resilience.LogRetries("ocr", "layout request")
	return c
}

type layoutOperation struct {
	Status        string        `json:"status"`
	Error         *layoutError  `json:"error,omitempty"`
	AnalyzeResult *layoutResult `json:"analyzeResult,omitempty"`
}

type layoutError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type layoutResult struct {
	ModelID string        `json:"modelId"`
	Pages   []layoutPage  `json:"pages"`
	Tables  []layoutTable `json:"tables"`
}

type layoutPage struct {
	PageNumber int `json:"pageNumber"`
}

type layoutTable struct {
	RowCount        int            `json:"rowCount"`
	ColumnCount     int            `json:"columnCount"`
	Cells           []layoutCell   `json:"cells"`
	BoundingRegions []layoutRegion `json:"boundingRegions"`
}

type layoutCell struct {
	Kind            string         `json:"kind"`
	RowIndex        int            `json:"rowIndex"`
	ColumnIndex     int            `json:"columnIndex"`
	RowSpan         int            `json:"rowSpan"`
	ColumnSpan      int            `json:"columnSpan"`
	Content         string         `json:"content"`
	Confidence      *float64       `json:"confidence,omitempty"`
	BoundingRegions []layoutRegion `json:"boundingRegions"`
	Spans           []layoutSpan   `json:"spans"`
}

type layoutRegion struct {
	PageNumber int       `json:"pageNumber"`
	Polygon    []float64 `json:"polygon"`
}

type layoutSpan struct {
	Offset     int      `json:"offset"`
	Length     int      `json:"length"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Analyze submits pdf and waits for the layout result.
func (c *LayoutClient) Analyze(ctx context.Context, pdf []byte, opts Options) (*model.TableSet, error) {
	start := time.Now()

	opURL, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.submit(ctx, pdf, opts)
	})
	if err != nil {
		return nil, err
	}

	result, err := c.await(ctx, opURL)
	if err != nil {
		return nil, err
	}

	set := convertLayout(result)
	zap.L().Info("ocr: layout analysis complete",
		zap.String("model", set.ModelVersion),
		zap.Int("tables", len(set.Tables)),
		zap.Int("pages", set.PageCount),
		zap.Bool("enhanced_ocr", opts.EnhancedOCR),
		zap.Duration("elapsed", time.Since(start)),
	)
	return set, nil
}

func (c *LayoutClient) analyzeURL(opts Options) string {
	q := url.Values{}
	q.Set("api-version", c.apiVersion)
	if opts.EnhancedOCR {
		q.Set("features", "ocrHighResolution")
	}
	return c.endpoint + "/formrecognizer/documentModels/" + url.PathEscape(c.modelID) + ":analyze?" + q.Encode()
}

func (c *LayoutClient) submit(ctx context.Context, pdf []byte, opts Options) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "ocr: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.analyzeURL(opts), bytes.NewReader(pdf))
	if err != nil {
		return "", eris.Wrap(err, "ocr: create analyze request")
	}
	req.Header.Set("Content-Type", "application/pdf")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", resilience.Transient(eris.Wrap(err, "ocr: analyze request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", statusError(resp, "analyze")
	}

	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return "", eris.New("ocr: analyze response missing Operation-Location")
	}
	return opURL, nil
}

func (c *LayoutClient) await(ctx context.Context, opURL string) (*layoutResult, error) {
	for {
		op, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*layoutOperation, error) {
			return c.poll(ctx, opURL)
		})
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(op.Status) {
		case "succeeded":
			if op.AnalyzeResult == nil {
				return nil, eris.New("ocr: analysis succeeded without a result")
			}
			return op.AnalyzeResult, nil
		case "failed", "canceled":
			msg := op.Status
			if op.Error != nil {
				msg = op.Error.Code + ": " + op.Error.Message
			}
			return nil, eris.Errorf("ocr: analysis %s", msg)
		}

		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, eris.Wrap(ctx.Err(), "ocr: waiting for analysis")
		case <-timer.C:
		}
	}
}

func (c *LayoutClient) poll(ctx context.Context, opURL string) (*layoutOperation, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "ocr: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create poll request")
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.key)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "ocr: poll request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "poll")
	}

	var op layoutOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, eris.Wrap(err, "ocr: decode poll response")
	}
	return &op, nil
}

func statusError(resp *http.Response, op string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err := eris.Errorf("ocr: %s returned %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return resilience.Transient(err, resp.StatusCode)
	}
	return err
}

func convertLayout(r *layoutResult) *model.TableSet {
	set := &model.TableSet{
		ModelVersion: r.ModelID,
		PageCount:    len(r.Pages),
		Tables:       make([]model.Table, 0, len(r.Tables)),
	}
	for i, lt := range r.Tables {
		t := model.Table{
			ID:          tableID(i),
			RowCount:    lt.RowCount,
			ColumnCount: lt.ColumnCount,
			Cells:       make([]model.Cell, 0, len(lt.Cells)),
		}
		if len(lt.BoundingRegions) > 0 {
			t.PageNumber = lt.BoundingRegions[0].PageNumber
		}
		for _, lc := range lt.Cells {
			t.Cells = append(t.Cells, convertLayoutCell(lc, t.PageNumber))
		}
		set.Tables = append(set.Tables, t)
	}
	set.OverallConfidence = confidence.DocumentConfidence(set.Tables)
	return set
}

func convertLayoutCell(lc layoutCell, tablePage int) model.Cell {
	cell := model.Cell{
		RowIndex:    lc.RowIndex,
		ColumnIndex: lc.ColumnIndex,
		RowSpan:     max(lc.RowSpan, 1),
		ColumnSpan:  max(lc.ColumnSpan, 1),
		Content:     lc.Content,
		Confidence:  layoutCellConfidence(lc),
		Kind:        cellKind(lc.Kind),
		Locator:     model.Locator{PageNumber: tablePage},
	}
	if len(lc.BoundingRegions) > 0 {
		region := lc.BoundingRegions[0]
		cell.Locator.PageNumber = region.PageNumber
		cell.Locator.BoundingBox = model.BoundingBoxFromPolygon(region.Polygon)
	}
	return cell
}

func layoutCellConfidence(lc layoutCell) float64 {
	if lc.Confidence != nil {
		return *lc.Confidence
	}
	var sum float64
	var n int
	for _, s := range lc.Spans {
		if s.Confidence != nil {
			sum += *s.Confidence
			n++
		}
	}
	if n > 0 {
		return sum / float64(n)
	}
	return fallbackCellConfidence
}

func cellKind(kind string) model.CellKind {
	switch model.CellKind(kind) {
	case model.CellKindColumnHeader:
		return model.CellKindColumnHeader
	case model.CellKindRowHeader:
		return model.CellKindRowHeader
	default:
		return model.CellKindContent
	}
}
