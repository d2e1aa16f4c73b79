package ocr

import (
	"bytes"
	"context"
	"testing"

	"codeberg.org/go-pdf/fpdf"
	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fin-ingest/internal/model"
)

func TestGroupRuns_SplitsOnWideGaps(t *testing.T) {
	line := []pdf.Text{
		{X: 72, Y: 700, W: 30, FontSize: 10, S: "Net"},
		{X: 104, Y: 700, W: 35, FontSize: 10, S: "Income"},
		{X: 300, Y: 700, W: 40, FontSize: 10, S: "(12,500)"},
		{X: 400, Y: 700, W: 40, FontSize: 10, S: "9,800"},
	}

	runs := groupRuns(line)
	require.Len(t, runs, 3)
	assert.Equal(t, "Net Income", runs[0].text)
	assert.InDelta(t, 72, runs[0].x1, 1e-9)
	assert.InDelta(t, 139, runs[0].x2, 1e-9)
	assert.Equal(t, "(12,500)", runs[1].text)
	assert.Equal(t, "9,800", runs[2].text)
}

func TestGroupRuns_JoinsGlyphs(t *testing.T) {
	var line []pdf.Text
	x := 50.0
	for _, ch := range "Revenue" {
		line = append(line, pdf.Text{X: x, Y: 600, W: 6, FontSize: 12, S: string(ch)})
		x += 6
	}
	runs := groupRuns(line)
	require.Len(t, runs, 1)
	assert.Equal(t, "Revenue", runs[0].text)
}

func TestGroupRuns_EstimatesMissingWidth(t *testing.T) {
	line := []pdf.Text{
		{X: 10, Y: 0, FontSize: 10, S: "Revenue"},
		{X: 300, Y: 0, FontSize: 10, S: "100"},
	}
	runs := groupRuns(line)
	require.Len(t, runs, 2)
	assert.InDelta(t, 45, runs[0].x2, 1e-9)
}

func TestGroupRuns_SkipsBlank(t *testing.T) {
	assert.Empty(t, groupRuns([]pdf.Text{{X: 1, S: ""}, {X: 2, S: "   ", FontSize: 10}}))
}

func TestPageTable(t *testing.T) {
	lines := [][]pdf.Text{
		{{X: 72, W: 80, FontSize: 10, S: "Income Statement"}},
		{},
		{{X: 72, W: 40, FontSize: 10, S: "Revenue"}, {X: 300, W: 40, FontSize: 10, S: "1,500,000"}},
	}
	tbl := pageTable(lines, 2)

	assert.Equal(t, 2, tbl.RowCount)
	assert.Equal(t, 2, tbl.ColumnCount)
	require.Len(t, tbl.Cells, 3)
	assert.Equal(t, 1, tbl.Cells[2].RowIndex)
	assert.Equal(t, 1, tbl.Cells[2].ColumnIndex)
	assert.Equal(t, 2, tbl.Cells[2].Locator.PageNumber)
	assert.InDelta(t, fallbackCellConfidence, tbl.Cells[2].Confidence, 1e-9)
	assert.Equal(t, model.CellKindContent, tbl.Cells[2].Kind)
}

func TestRowsPositioned(t *testing.T) {
	unplaced := pdf.Rows{{Content: pdf.TextHorizontal{{S: "Revenue"}, {S: "1,500,000"}}}}
	assert.False(t, rowsPositioned(unplaced))
	assert.False(t, rowsPositioned(nil))

	placed := pdf.Rows{{Content: pdf.TextHorizontal{{X: 72, Y: 700, S: "Revenue"}}}}
	assert.True(t, rowsPositioned(placed))
}

func TestLinesByY(t *testing.T) {
	glyphs := []pdf.Text{
		{X: 360, Y: 692.2, W: 6, FontSize: 12, S: "1"},
		{X: 72, Y: 720, W: 7, FontSize: 12, S: "I"},
		{X: 72, Y: 691.8, W: 7, FontSize: 12, S: "R"},
		{X: 79, Y: 720, W: 7, FontSize: 12, S: "n"},
		{X: 79, Y: 692, W: 7, FontSize: 12, S: "e"},
		{X: 90, Y: 500, S: ""},
	}

	lines := linesByY(glyphs)
	require.Len(t, lines, 2)
	require.Len(t, lines[0], 2)
	assert.Equal(t, "I", lines[0][0].S)
	assert.Equal(t, "n", lines[0][1].S)
	require.Len(t, lines[1], 3)
	assert.Equal(t, []string{"R", "e", "1"}, []string{lines[1][0].S, lines[1][1].S, lines[1][2].S})

	runs := groupRuns(lines[1])
	require.Len(t, runs, 2)
	assert.Equal(t, "Re", runs[0].text)
	assert.Equal(t, "1", runs[1].text)
}

func renderStatementPDF(t *testing.T) []byte {
	t.Helper()
	doc := fpdf.New("P", "pt", "Letter", "")
	doc.AddPage()
	doc.SetFont("Helvetica", "", 12)
	doc.Text(72, 72, "Income Statement")
	doc.Text(72, 100, "Revenue")
	doc.Text(360, 100, "1,500,000")
	doc.Text(72, 120, "Net Income")
	doc.Text(360, 120, "210,000")

	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func TestTextLayer_Analyze(t *testing.T) {
	set, err := NewTextLayer().Analyze(context.Background(), renderStatementPDF(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, textLayerModel, set.ModelVersion)
	assert.Equal(t, 1, set.PageCount)
	require.Len(t, set.Tables, 1)
	assert.Equal(t, "table-1", set.Tables[0].ID)

	labelRow := -1
	var value string
	for _, c := range set.Tables[0].Cells {
		if c.Content == "Revenue" {
			labelRow = c.RowIndex
		}
	}
	require.GreaterOrEqual(t, labelRow, 0)
	for _, c := range set.Tables[0].Cells {
		if c.RowIndex == labelRow && c.ColumnIndex > 0 {
			value = c.Content
		}
	}
	assert.Equal(t, "1,500,000", value)
	assert.InDelta(t, fallbackCellConfidence, set.OverallConfidence, 1e-9)
}

func TestTextLayer_NotAPDF(t *testing.T) {
	_, err := NewTextLayer().Analyze(context.Background(), []byte("plain text"), Options{})
	require.Error(t, err)
}
