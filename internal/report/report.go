// Package report renders a document's extraction results as a review
// workbook or a printable PDF.
package report

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/pipeline"
)

// Export formats.
const (
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

var metricHeaders = []string{
	"Metric Type", "Metric", "Value", "Currency", "Period",
	"Confidence", "Quality", "Source", "Flagged",
}

// Render produces the report in the given format.
func Render(format string, r *pipeline.Results) ([]byte, error) {
	if r == nil || r.Extraction == nil {
		return nil, eris.New("report: no extraction result")
	}
	switch strings.ToLower(format) {
	case FormatXLSX:
		return XLSX(r)
	case FormatPDF:
		return PDF(r)
	default:
		return nil, eris.Errorf("report: unsupported format %q", format)
	}
}

// sourceLabel formats a metric's provenance for a single cell.
func sourceLabel(ref model.SourceReference) string {
	if ref.SheetName != "" {
		if strings.Contains(ref.CellReference, "!") {
			return ref.CellReference
		}
		return ref.SheetName + "!" + ref.CellReference
	}
	parts := make([]string, 0, 3)
	if ref.PageNumber > 0 {
		parts = append(parts, fmt.Sprintf("p.%d", ref.PageNumber))
	}
	if ref.TableID != "" {
		parts = append(parts, ref.TableID)
	}
	if ref.CellReference != "" {
		parts = append(parts, ref.CellReference)
	}
	return strings.Join(parts, " ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// findings lists validation errors then warnings, each with its severity.
func findings(res *model.ExtractionResult) [][2]string {
	out := make([][2]string, 0, len(res.ValidationErrors)+len(res.ValidationWarnings))
	for _, e := range res.ValidationErrors {
		out = append(out, [2]string{"error", e})
	}
	for _, w := range res.ValidationWarnings {
		out = append(out, [2]string{"warning", w})
	}
	return out
}

// confidenceRange renders min, median and max of the metric confidences.
func confidenceRange(s pipeline.ResultSummary) string {
	st := s.ConfidenceStats
	if st.Count == 0 {
		return "n/a"
	}
	return fmt.Sprintf("min %.3f / median %.3f / max %.3f", st.Min, st.Median, st.Max)
}
