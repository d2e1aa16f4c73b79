// Package sheet reads spreadsheet workbooks into normalized tables, one
// table per non-empty sheet.
package sheet

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/fin-ingest/internal/model"
)

// ModelVersion identifies spreadsheet-derived table sets.
const ModelVersion = "xlsx-reader-1"

// cellConfidence is fixed: spreadsheet values are read, not recognized.
const cellConfidence = 1.0

// Read parses an xlsx workbook. Empty sheets produce no table, but still
// count toward SheetCount.
func Read(ctx context.Context, data []byte) (*model.TableSet, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open workbook")
	}

	set := &model.TableSet{
		ModelVersion:      ModelVersion,
		SheetCount:        len(f.Sheets),
		OverallConfidence: cellConfidence,
	}
	for i, sh := range f.Sheets {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "sheet: read cancelled")
		}
		t := sheetTable(sh, i)
		if len(t.Cells) == 0 {
			zap.L().Debug("sheet: skipping empty sheet", zap.String("sheet", sh.Name))
			continue
		}
		set.Tables = append(set.Tables, t)
	}
	return set, nil
}

func sheetTable(sh *xlsx.Sheet, index int) model.Table {
	t := model.Table{
		ID:          "sheet-" + strconv.Itoa(index+1),
		SheetName:   sh.Name,
		RowCount:    sh.MaxRow,
		ColumnCount: sh.MaxCol,
	}
	for r, row := range sh.Rows {
		if row == nil {
			continue
		}
		for c, cell := range row.Cells {
			if cell == nil {
				continue
			}
			content := cellText(cell, sh.File != nil && sh.File.Date1904)
			if content == "" {
				continue
			}
			t.Cells = append(t.Cells, model.Cell{
				RowIndex:    r,
				ColumnIndex: c,
				RowSpan:     1,
				ColumnSpan:  1,
				Content:     content,
				Confidence:  cellConfidence,
				Kind:        model.CellKindContent,
				Locator: model.Locator{
					SheetName:   sh.Name,
					CellAddress: sh.Name + "!" + xlsx.GetCellIDStringFromCoords(c, r),
				},
			})
		}
	}
	return t
}

// cellText renders a cell the way it should be matched and parsed:
// date-formatted serials as ISO dates, whole numbers without a decimal
// part, other numbers in shortest form, everything else trimmed.
func cellText(cell *xlsx.Cell, date1904 bool) string {
	switch cell.Type() {
	case xlsx.CellTypeNumeric, xlsx.CellTypeDate:
		if cell.IsTime() {
			if t, err := cell.GetTime(date1904); err == nil {
				return t.Format(dateLayout)
			}
		}
		v, err := cell.Float()
		if err != nil {
			return strings.TrimSpace(cell.Value)
		}
		return formatNumber(v)
	case xlsx.CellTypeBool:
		return strconv.FormatBool(cell.Bool())
	default:
		return strings.TrimSpace(cell.String())
	}
}

const dateLayout = "2006-01-02"

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
