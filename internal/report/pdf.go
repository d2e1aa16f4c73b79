package report

import (
	"bytes"
	"fmt"
	"strconv"

	"codeberg.org/go-pdf/fpdf"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fin-ingest/internal/confidence"
	"github.com/sells-group/fin-ingest/internal/numparse"
	"github.com/sells-group/fin-ingest/internal/pipeline"
)

// Column widths in points; they sum to the printable width of a
// landscape Letter page with 36pt margins.
var pdfColumns = []float64{80, 100, 80, 50, 60, 60, 60, 170, 60}

// PDF renders the same content as XLSX as a landscape table.
func PDF(r *pipeline.Results) ([]byte, error) {
	res := r.Extraction
	pdf := fpdf.New("L", "pt", "Letter", "")
	pdf.SetMargins(36, 36, 36)
	pdf.SetAutoPageBreak(true, 36)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 20, tr("Extraction Review: "+res.DocumentName), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	summary := pipeline.Summarize(r.Metrics, res.TablesExtracted)
	pdf.CellFormat(0, 14, fmt.Sprintf("Document %s  |  Validation %s  |  Manual review %s  |  Avg confidence %.3f (%s)",
		res.DocumentID, res.ValidationStatus, yesNo(res.RequiresManualReview), summary.AvgConfidence, confidenceRange(summary)), "", 1, "L", false, 0, "")
	pdf.Ln(6)

	header := func() {
		pdf.SetFont("Helvetica", "B", 8)
		pdf.SetFillColor(230, 230, 230)
		for i, h := range metricHeaders {
			pdf.CellFormat(pdfColumns[i], 16, h, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 8)
	}
	pdf.SetHeaderFuncMode(func() {
		if pdf.PageNo() > 1 {
			header()
		}
	}, true)
	header()

	for _, m := range r.Metrics {
		cells := []string{
			string(m.MetricType),
			m.MetricName,
			numparse.Format(m.Value, m.Currency),
			m.Currency,
			m.Period,
			strconv.FormatFloat(m.ConfidenceScore, 'f', 3, 64),
			confidence.QualityLabel(m.ConfidenceScore),
			sourceLabel(m.SourceReference),
			yesNo(m.FlaggedForReview),
		}
		for i, c := range cells {
			align := "L"
			if i == 2 || i == 5 {
				align = "R"
			}
			pdf.CellFormat(pdfColumns[i], 14, tr(c), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	if fs := findings(res); len(fs) > 0 {
		pdf.Ln(10)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 16, "Validation", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, fd := range fs {
			pdf.MultiCell(0, 12, tr(fd[0]+": "+fd[1]), "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, eris.Wrap(err, "report: write pdf")
	}
	return buf.Bytes(), nil
}
