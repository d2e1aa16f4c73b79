package ocr

import (
	"bytes"
	"context"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/confidence"
	"github.com/sells-group/fin-ingest/internal/model"
)

const (
	textLayerModel = "textlayer-1"

	// columnGapFactor multiplies the font size to get the horizontal gap
	// that starts a new cell.
	columnGapFactor = 1.5
)

// TextLayer reads tables from the embedded text layer of digitally
// produced PDFs. Each page becomes one table whose rows are text lines and
// whose cells are runs of text separated by wide horizontal gaps. Scanned
// PDFs without a text layer yield no tables.
type TextLayer struct{}

// NewTextLayer creates a TextLayer analyzer.
func NewTextLayer() *TextLayer {
	return &TextLayer{}
}

// Analyze parses pdf in-process. opts has no effect.
func (tl *TextLayer) Analyze(ctx context.Context, data []byte, _ Options) (set *model.TableSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			set, err = nil, eris.Errorf("ocr: pdf reader crashed: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "ocr: open pdf")
	}

	set = &model.TableSet{ModelVersion: textLayerModel, PageCount: r.NumPage()}
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "ocr: text layer")
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		lines, err := pageLines(page)
		if err != nil {
			zap.L().Warn("ocr: skipping unreadable page", zap.Int("page", i), zap.Error(err))
			continue
		}
		t := pageTable(lines, i)
		if len(t.Cells) == 0 {
			continue
		}
		t.ID = tableID(len(set.Tables))
		set.Tables = append(set.Tables, t)
	}
	set.OverallConfidence = confidence.DocumentConfidence(set.Tables)

	zap.L().Debug("ocr: text layer read",
		zap.Int("pages", set.PageCount),
		zap.Int("tables", len(set.Tables)),
	)
	return set, nil
}

// pageLines returns the text runs of a page as lines, top to bottom. Some
// writers produce row output without positions; for those the lines are
// rebuilt from the positioned glyphs of the page content.
func pageLines(page pdf.Page) ([][]pdf.Text, error) {
	rows, err := page.GetTextByRow()
	if err == nil && rowsPositioned(rows) {
		lines := make([][]pdf.Text, 0, len(rows))
		for _, row := range rows {
			lines = append(lines, row.Content)
		}
		return lines, nil
	}

	lines := linesByY(page.Content().Text)
	if len(lines) == 0 && err != nil {
		return nil, eris.Wrap(err, "ocr: read text rows")
	}
	return lines, nil
}

// rowsPositioned reports whether any run carries a coordinate or width.
func rowsPositioned(rows pdf.Rows) bool {
	for _, row := range rows {
		for _, t := range row.Content {
			if t.X != 0 || t.Y != 0 || t.W != 0 {
				return true
			}
		}
	}
	return false
}

// linesByY groups glyphs sharing a rounded baseline into one line. Lines
// come out top to bottom (PDF y grows upwards), glyphs left to right.
func linesByY(texts []pdf.Text) [][]pdf.Text {
	byY := make(map[int][]pdf.Text)
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		y := int(math.Round(t.Y))
		byY[y] = append(byY[y], t)
	}

	ys := make([]int, 0, len(byY))
	for y := range byY {
		ys = append(ys, y)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ys)))

	lines := make([][]pdf.Text, 0, len(ys))
	for _, y := range ys {
		line := byY[y]
		sort.SliceStable(line, func(a, b int) bool { return line[a].X < line[b].X })
		lines = append(lines, line)
	}
	return lines
}

// pageTable groups the text runs of one page into a table. lines are
// ordered top to bottom; runs within a line left to right.
func pageTable(lines [][]pdf.Text, pageNumber int) model.Table {
	t := model.Table{PageNumber: pageNumber}
	row := 0
	for _, line := range lines {
		cells := groupRuns(line)
		if len(cells) == 0 {
			continue
		}
		for col, c := range cells {
			t.Cells = append(t.Cells, model.Cell{
				RowIndex:    row,
				ColumnIndex: col,
				RowSpan:     1,
				ColumnSpan:  1,
				Content:     c.text,
				Confidence:  fallbackCellConfidence,
				Kind:        model.CellKindContent,
				Locator: model.Locator{
					PageNumber:  pageNumber,
					BoundingBox: &model.BoundingBox{X1: c.x1, Y1: c.y1, X2: c.x2, Y2: c.y2},
				},
			})
		}
		t.ColumnCount = max(t.ColumnCount, len(cells))
		row++
	}
	t.RowCount = row
	return t
}

type textRun struct {
	text           string
	x1, y1, x2, y2 float64
}

// groupRuns merges adjacent text fragments into cells, splitting where the
// gap to the next fragment exceeds columnGapFactor font sizes.
func groupRuns(line []pdf.Text) []textRun {
	var out []textRun
	var cur *textRun
	var sb strings.Builder
	var lastEnd, lastSize float64

	flush := func() {
		if cur == nil {
			return
		}
		cur.text = strings.Join(strings.Fields(sb.String()), " ")
		if cur.text != "" {
			out = append(out, *cur)
		}
		cur = nil
		sb.Reset()
	}

	for _, t := range line {
		if t.S == "" {
			continue
		}
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		end := runEnd(t, size)
		if cur != nil && t.X-lastEnd > columnGapFactor*max(size, lastSize) {
			flush()
		}
		if cur == nil {
			cur = &textRun{x1: t.X, y1: t.Y, x2: end, y2: t.Y + size}
		}
		if sb.Len() > 0 && t.X-lastEnd > size*0.1 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t.S)
		cur.x2 = max(cur.x2, end)
		cur.y2 = max(cur.y2, t.Y+size)
		lastEnd, lastSize = end, size
	}
	flush()
	return out
}

// runEnd estimates where a fragment ends when the reader reports no width.
func runEnd(t pdf.Text, size float64) float64 {
	if t.W > 0 {
		return t.X + t.W
	}
	return t.X + float64(len([]rune(t.S)))*size*0.5
}
