package model

import "fmt"

// CellKind distinguishes header cells from content cells. Informational only.
type CellKind string

const (
	CellKindContent      CellKind = "content"
	CellKindColumnHeader CellKind = "columnHeader"
	CellKindRowHeader    CellKind = "rowHeader"
)

// Cell is one addressable unit of extracted table content.
type Cell struct {
	RowIndex    int      `json:"row_index"`
	ColumnIndex int      `json:"column_index"`
	RowSpan     int      `json:"row_span"`
	ColumnSpan  int      `json:"column_span"`
	Content     string   `json:"content"`
	Confidence  float64  `json:"confidence"`
	Kind        CellKind `json:"kind"`
	Locator     Locator  `json:"locator"`
}

// Reference returns the cell's address for provenance: the spreadsheet
// address when present, otherwise a row/column pair.
func (c Cell) Reference() string {
	if c.Locator.CellAddress != "" {
		return c.Locator.CellAddress
	}
	return fmt.Sprintf("row:%d,col:%d", c.RowIndex, c.ColumnIndex)
}

// Table is an ordered set of cells for one sheet or one detected region.
// Cells keep the order the adapter produced them in; extraction relies on it.
type Table struct {
	ID          string `json:"table_id"`
	RowCount    int    `json:"row_count"`
	ColumnCount int    `json:"column_count"`
	PageNumber  int    `json:"page_number,omitempty"`
	SheetName   string `json:"sheet_name,omitempty"`
	Cells       []Cell `json:"cells"`
}

// TableSet is the output of a table-producing adapter.
type TableSet struct {
	Tables            []Table `json:"tables"`
	OverallConfidence float64 `json:"overall_confidence"`
	ModelVersion      string  `json:"model_version"`
	PageCount         int     `json:"page_count,omitempty"`
	SheetCount        int     `json:"sheet_count,omitempty"`
}
