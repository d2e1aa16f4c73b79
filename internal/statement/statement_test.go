package statement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fin-ingest/internal/model"
)

// buildTable lays rows out row-major with a uniform confidence.
func buildTable(id string, conf float64, rows ...[]string) model.Table {
	t := model.Table{ID: id, RowCount: len(rows)}
	for r, row := range rows {
		if len(row) > t.ColumnCount {
			t.ColumnCount = len(row)
		}
		for c, content := range row {
			if content == "" {
				continue
			}
			t.Cells = append(t.Cells, model.Cell{
				RowIndex:    r,
				ColumnIndex: c,
				RowSpan:     1,
				ColumnSpan:  1,
				Content:     content,
				Confidence:  conf,
				Kind:        model.CellKindContent,
			})
		}
	}
	return t
}

func sampleIncomeStatement() model.Table {
	return buildTable("table-1", 0.92,
		[]string{"Income Statement", "Q4 2024"},
		[]string{"Total Revenue", "$1,000,000"},
		[]string{"Cost of Goods Sold", "600,000"},
		[]string{"Gross Profit", "400,000"},
		[]string{"Operating Expenses", "250,000"},
		[]string{"Net Income", "(50,000)"},
	)
}

func TestIsIncomeStatement_TitleKeyword(t *testing.T) {
	t.Parallel()

	for _, title := range []string{
		"Consolidated Income Statement",
		"STATEMENT OF INCOME",
		"Profit and Loss",
		"P&L FY2024",
		"Statement of Operations",
		"Operating Statement",
		"Earnings Statement",
	} {
		tbl := buildTable("t", 1, []string{title}, []string{"Widgets", "12"})
		assert.True(t, IsIncomeStatement(tbl), title)
	}
}

func TestIsIncomeStatement_Structural(t *testing.T) {
	t.Parallel()

	withExpenses := buildTable("t", 1,
		[]string{"Net Sales", "500"},
		[]string{"SG&A", "100"},
	)
	assert.True(t, IsIncomeStatement(withExpenses))

	withNetIncome := buildTable("t", 1,
		[]string{"Revenue", "500"},
		[]string{"Net   Profit", "40"},
	)
	assert.True(t, IsIncomeStatement(withNetIncome))

	revenueOnly := buildTable("t", 1,
		[]string{"Revenue", "500"},
		[]string{"Headcount", "40"},
	)
	assert.False(t, IsIncomeStatement(revenueOnly))

	balanceSheet := buildTable("t", 1,
		[]string{"Balance Sheet"},
		[]string{"Total Assets", "900"},
		[]string{"Total Liabilities", "400"},
	)
	assert.False(t, IsIncomeStatement(balanceSheet))

	assert.False(t, IsIncomeStatement(model.Table{}))
}

func TestExtract_IncomeStatement(t *testing.T) {
	t.Parallel()

	metrics := Extract(sampleIncomeStatement())
	require.Len(t, metrics, 5)

	want := []struct {
		typ   model.MetricType
		name  string
		value float64
	}{
		{model.MetricRevenue, "Total Revenue", 1000000},
		{model.MetricCOGS, "Cost of Goods Sold", 600000},
		{model.MetricGrossProfit, "Gross Profit", 400000},
		{model.MetricOperatingExpenses, "Operating Expenses", 250000},
		{model.MetricNetIncome, "Net Income", -50000},
	}
	for i, w := range want {
		assert.Equal(t, w.typ, metrics[i].Type)
		assert.Equal(t, w.name, metrics[i].Name)
		assert.InDelta(t, w.value, metrics[i].Value, 1e-6)
		assert.Equal(t, "USD", metrics[i].Currency)
		assert.InDelta(t, 0.92, metrics[i].Confidence, 1e-9)
		assert.Equal(t, metrics[i].LabelCell.RowIndex, metrics[i].ValueCell.RowIndex)
		assert.Greater(t, metrics[i].ValueCell.ColumnIndex, metrics[i].LabelCell.ColumnIndex)
	}
}

func TestExtract_NoBreakSpaceLabels(t *testing.T) {
	t.Parallel()

	tbl := buildTable("t", 0.9,
		[]string{"Total\u00a0Revenue", "1,000,000"},
		[]string{"Cost\u00a0of\u00a0Goods\u00a0Sold", "600,000"},
		[]string{"Gross\u00a0Profit", "400,000"},
		[]string{"Net\u2007Income ", "90,000"},
	)
	assert.True(t, IsIncomeStatement(tbl))

	var types []model.MetricType
	for _, m := range Extract(tbl) {
		types = append(types, m.Type)
	}
	assert.Equal(t, []model.MetricType{
		model.MetricRevenue,
		model.MetricCOGS,
		model.MetricGrossProfit,
		model.MetricNetIncome,
	}, types)

	assert.True(t, IsIncomeStatement(buildTable("t", 1, []string{"Income\u00a0Statement"})))
}

func TestExtract_OneMetricPerNumericCell(t *testing.T) {
	t.Parallel()

	tbl := buildTable("t", 1,
		[]string{"", "FY2024", "FY2023"},
		[]string{"Total Revenue", "1,200,000", "1,000,000"},
	)
	metrics := Extract(tbl)
	require.Len(t, metrics, 2)
	assert.InDelta(t, 1200000, metrics[0].Value, 1e-6)
	assert.InDelta(t, 1000000, metrics[1].Value, 1e-6)
	assert.Equal(t, 1, metrics[0].ValueCell.ColumnIndex)
	assert.Equal(t, 2, metrics[1].ValueCell.ColumnIndex)
}

func TestExtract_LabelMatchesSeveralTypes(t *testing.T) {
	t.Parallel()

	tbl := buildTable("t", 1, []string{"Cost of Revenue", "300"})
	metrics := Extract(tbl)
	require.Len(t, metrics, 2)
	assert.Equal(t, model.MetricRevenue, metrics[0].Type)
	assert.Equal(t, model.MetricCOGS, metrics[1].Type)
}

func TestExtract_SkipsNonNumericAndLeftCells(t *testing.T) {
	t.Parallel()

	tbl := buildTable("t", 1,
		[]string{"1,000", "Net Income", "n/a", "see note 4", "2,500"},
	)
	metrics := Extract(tbl)
	require.Len(t, metrics, 1)
	assert.Equal(t, model.MetricNetIncome, metrics[0].Type)
	assert.InDelta(t, 2500, metrics[0].Value, 1e-6)
}

func TestExtract_DropsUnparseableValues(t *testing.T) {
	t.Parallel()

	// Looks numeric (digits dominate) but fails to parse.
	tbl := buildTable("t", 1, []string{"Revenue", "12.3.4"})
	assert.Empty(t, Extract(tbl))
}

func TestExtract_DetectedCurrency(t *testing.T) {
	t.Parallel()

	tbl := buildTable("t", 0.8, []string{"Net Sales", "€1.234,56"})
	metrics := Extract(tbl)
	require.Len(t, metrics, 1)
	assert.Equal(t, "EUR", metrics[0].Currency)
	assert.InDelta(t, 1234.56, metrics[0].Value, 1e-6)
}

func TestExtract_Idempotent(t *testing.T) {
	t.Parallel()

	tbl := sampleIncomeStatement()
	assert.Equal(t, Extract(tbl), Extract(tbl))
}

func TestLooksLikeNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"1,234.56", true},
		{"$(5,000)", true},
		{"-12", true},
		{"2024A", true},
		{"Q4", false},
		{"N/A", false},
		{"---", false},
		{"", false},
		{"Revenue", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LooksLikeNumber(tt.in), tt.in)
	}
}

func TestIdentifyPeriod(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Q4 2024", IdentifyPeriod(sampleIncomeStatement()))

	fy := buildTable("t", 1, []string{"Statement of Operations", "fy2023"})
	assert.Equal(t, "fy2023", IdentifyPeriod(fy))

	dated := buildTable("t", 1, []string{"For the year ended December 31, 2024"})
	assert.Equal(t, "December 31, 2024", IdentifyPeriod(dated))

	year := buildTable("t", 1, []string{"Results 2022"})
	assert.Equal(t, "2022", IdentifyPeriod(year))

	// Only the first three rows are considered.
	late := buildTable("t", 1,
		[]string{"Income Statement"},
		[]string{"Revenue", "10"},
		[]string{"Costs", "5"},
		[]string{"Q1 2025"},
	)
	assert.Equal(t, "", IdentifyPeriod(late))
}
