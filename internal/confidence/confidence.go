// Package confidence scores extraction reliability for cells, metrics,
// tables and whole documents.
package confidence

import (
	"sort"
	"strings"

	"github.com/sells-group/fin-ingest/internal/model"
)

// Default thresholds.
const (
	DefaultDocumentThreshold = 0.75
	DefaultMetricThreshold   = 0.70
)

const (
	parseFailurePenalty = 0.5
	shortTextPenalty    = 0.7
)

// MetricConfidence derives a metric's confidence from the raw cell text,
// the cell's OCR confidence and whether the number parsed. Penalties
// compose multiplicatively and the result is clamped to [0,1].
func MetricConfidence(rawText string, cellConfidence float64, parsed bool) float64 {
	c := cellConfidence
	if !parsed {
		c *= parseFailurePenalty
	}
	if len([]rune(strings.TrimSpace(rawText))) < 2 {
		c *= shortTextPenalty
	}
	return clamp(c)
}

// TableConfidence is the mean confidence of a table's cells, or 0 when
// the table has none.
func TableConfidence(t model.Table) float64 {
	if len(t.Cells) == 0 {
		return 0
	}
	var sum float64
	for _, c := range t.Cells {
		sum += c.Confidence
	}
	return sum / float64(len(t.Cells))
}

// DocumentConfidence is the mean confidence over every cell of every table.
func DocumentConfidence(tables []model.Table) float64 {
	var sum float64
	var n int
	for _, t := range tables {
		for _, c := range t.Cells {
			sum += c.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// QualityLabel maps a confidence onto a five-band label. Each band
// includes its lower edge.
func QualityLabel(c float64) string {
	switch {
	case c >= 0.95:
		return "Very High"
	case c >= 0.85:
		return "High"
	case c >= 0.70:
		return "Medium"
	case c >= 0.50:
		return "Low"
	default:
		return "Very Low"
	}
}

// Quality is the coarse three-band assessment.
type Quality string

const (
	QualityHigh   Quality = "high"
	QualityMedium Quality = "medium"
	QualityLow    Quality = "low"
)

// Assess maps a confidence onto high, medium or low.
func Assess(c float64) Quality {
	switch {
	case c >= 0.85:
		return QualityHigh
	case c >= 0.70:
		return QualityMedium
	default:
		return QualityLow
	}
}

// ShouldFlag reports whether a metric needs review. Only the metric
// threshold decides; documentThreshold is accepted for call-site symmetry
// and ignored.
func ShouldFlag(c, metricThreshold, documentThreshold float64) bool {
	_ = documentThreshold
	return c < metricThreshold
}

// Statistics summarises a set of confidence scores.
type Statistics struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Count  int     `json:"count"`
}

// Stats computes summary statistics. An empty input yields the zero value.
func Stats(scores []float64) Statistics {
	if len(scores) == 0 {
		return Statistics{}
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	var sum float64
	for _, s := range sorted {
		sum += s
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return Statistics{
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   sum / float64(n),
		Median: median,
		Count:  n,
	}
}

func clamp(c float64) float64 {
	return max(0, min(1, c))
}
