package model

// BoundingBox is an axis-aligned box [X1,Y1]-[X2,Y2] in page units.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// BoundingBoxFromPolygon returns the min/max box around a flat polygon
// of x,y pairs. Polygons with fewer than four points yield nil.
func BoundingBoxFromPolygon(polygon []float64) *BoundingBox {
	if len(polygon) < 8 {
		return nil
	}
	bb := BoundingBox{X1: polygon[0], Y1: polygon[1], X2: polygon[0], Y2: polygon[1]}
	for i := 2; i+1 < len(polygon); i += 2 {
		x, y := polygon[i], polygon[i+1]
		bb.X1 = min(bb.X1, x)
		bb.Y1 = min(bb.Y1, y)
		bb.X2 = max(bb.X2, x)
		bb.Y2 = max(bb.Y2, y)
	}
	return &bb
}

// Locator is where a cell came from: a page region for OCR-derived cells
// or a sheet address for spreadsheet-derived cells.
type Locator struct {
	PageNumber  int          `json:"page_number,omitempty"`
	BoundingBox *BoundingBox `json:"bounding_box,omitempty"`
	SheetName   string       `json:"sheet_name,omitempty"`
	CellAddress string       `json:"cell_address,omitempty"`
}

// SourceReference traces a metric back to its cell in the source document.
type SourceReference struct {
	DocumentID    string       `json:"document_id"`
	DocumentName  string       `json:"document_name"`
	PageNumber    int          `json:"page_number,omitempty"`
	SheetName     string       `json:"sheet_name,omitempty"`
	TableID       string       `json:"table_id"`
	CellReference string       `json:"cell_reference"`
	BoundingBox   *BoundingBox `json:"bounding_box,omitempty"`
}
