package statement

import (
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/model"
	"github.com/sells-group/fin-ingest/internal/numparse"
)

// RawMetric is a label/value pair found in a table, before provenance
// and confidence adjustment are applied.
type RawMetric struct {
	Type       model.MetricType
	Name       string
	Value      float64
	Currency   string
	LabelCell  model.Cell
	ValueCell  model.Cell
	Confidence float64
}

// Extract returns every income-statement line item found in t.
//
// Definitions are evaluated in priority order. For each one, every cell is
// checked in table order; a matching label yields one RawMetric per numeric
// cell to its right in the same row. Values that fail to parse are dropped.
// The same label cell may match more than one definition.
func Extract(t model.Table) []RawMetric {
	var out []RawMetric
	for _, def := range Definitions {
		out = append(out, extractDefinition(t, def)...)
	}
	zap.L().Debug("statement: extracted metrics",
		zap.String("table_id", t.ID),
		zap.Int("count", len(out)),
	)
	return out
}

func extractDefinition(t model.Table, def Definition) []RawMetric {
	var out []RawMetric
	for _, label := range t.Cells {
		if !matchAny(def.Patterns, normalize(label.Content)) {
			continue
		}
		for _, vc := range valueCells(t.Cells, label) {
			parsed, ok := numparse.Parse(vc.Content)
			if !ok {
				continue
			}
			currency := parsed.Currency
			if currency == "" {
				currency = model.DefaultCurrency
			}
			out = append(out, RawMetric{
				Type:       def.Type,
				Name:       def.Name,
				Value:      parsed.Value,
				Currency:   currency,
				LabelCell:  label,
				ValueCell:  vc,
				Confidence: vc.Confidence,
			})
		}
	}
	return out
}

// valueCells returns the numeric-looking cells to the right of label in
// the same row, in table order.
func valueCells(cells []model.Cell, label model.Cell) []model.Cell {
	var out []model.Cell
	for _, c := range cells {
		if c.RowIndex != label.RowIndex || c.ColumnIndex <= label.ColumnIndex {
			continue
		}
		content := strings.TrimSpace(c.Content)
		if content != "" && LooksLikeNumber(content) {
			out = append(out, c)
		}
	}
	return out
}

var numberPunctuation = strings.NewReplacer(
	",", "", ".", "", "$", "", "(", "", ")", "", "-", "", " ", "",
)

// LooksLikeNumber reports whether more than half of the characters left
// after removing common number punctuation are digits.
func LooksLikeNumber(s string) bool {
	cleaned := []rune(numberPunctuation.Replace(s))
	if len(cleaned) == 0 {
		return false
	}
	digits := 0
	for _, r := range cleaned {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return float64(digits)/float64(len(cleaned)) > 0.5
}
