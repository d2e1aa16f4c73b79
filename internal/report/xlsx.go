package report

import (
	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/confidence"
	"github.com/sells-group/fin-ingest/internal/pipeline"
)

// Sheet names.
const (
	SheetMetrics    = "Metrics"
	SheetValidation = "Validation"
)

// XLSX builds a workbook with a Metrics sheet and a Validation sheet.
func XLSX(r *pipeline.Results) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	// The default sheet becomes Metrics.
	if err := f.SetSheetName(f.GetSheetName(0), SheetMetrics); err != nil {
		return nil, eris.Wrap(err, "report: rename sheet")
	}
	if _, err := f.NewSheet(SheetValidation); err != nil {
		return nil, eris.Wrap(err, "report: add validation sheet")
	}

	if err := writeRow(f, SheetMetrics, 1, toAny(metricHeaders)...); err != nil {
		return nil, err
	}
	for i, m := range r.Metrics {
		err := writeRow(f, SheetMetrics, i+2,
			string(m.MetricType),
			m.MetricName,
			m.Value,
			m.Currency,
			m.Period,
			m.ConfidenceScore,
			confidence.QualityLabel(m.ConfidenceScore),
			sourceLabel(m.SourceReference),
			yesNo(m.FlaggedForReview),
		)
		if err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(SheetMetrics, "A", "A", 20)
	_ = f.SetColWidth(SheetMetrics, "B", "B", 24)
	_ = f.SetColWidth(SheetMetrics, "C", "C", 16)
	_ = f.SetColWidth(SheetMetrics, "H", "H", 32)

	res := r.Extraction
	summary := pipeline.Summarize(r.Metrics, res.TablesExtracted)
	header := [][]any{
		{"Document", res.DocumentName},
		{"Document ID", res.DocumentID},
		{"Validation Status", string(res.ValidationStatus)},
		{"Requires Manual Review", yesNo(res.RequiresManualReview)},
		{"OCR Confidence", res.OCRConfidenceAvg},
		{"Average Metric Confidence", summary.AvgConfidence},
		{"Confidence Range", confidenceRange(summary)},
		{"Flagged Metrics", summary.FlaggedMetrics},
	}
	row := 1
	for _, kv := range header {
		if err := writeRow(f, SheetValidation, row, kv...); err != nil {
			return nil, err
		}
		row++
	}
	row++
	if err := writeRow(f, SheetValidation, row, "Severity", "Message"); err != nil {
		return nil, err
	}
	for _, fd := range findings(res) {
		row++
		if err := writeRow(f, SheetValidation, row, fd[0], fd[1]); err != nil {
			return nil, err
		}
	}
	_ = f.SetColWidth(SheetValidation, "A", "A", 26)
	_ = f.SetColWidth(SheetValidation, "B", "B", 80)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, eris.Wrap(err, "report: write xlsx")
	}
	zap.L().Debug("report: xlsx rendered",
		zap.String("document_id", res.DocumentID),
		zap.Int("metrics", len(r.Metrics)),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return eris.Wrap(err, "report: cell name")
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return eris.Wrapf(err, "report: write %s row %d", sheet, row)
	}
	return nil
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
