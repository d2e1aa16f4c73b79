package statement

import (
	"regexp"
	"strings"

	"github.com/sells-group/fin-ingest/internal/model"
)

// headerRows is how many leading rows are searched for a period.
const headerRows = 3

var periodPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Q[1-4]\s+20\d{2}`),
	regexp.MustCompile(`(?i)FY\s*20\d{2}`),
	regexp.MustCompile(`(?i)(January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+20\d{2}`),
	regexp.MustCompile(`(?i)20\d{2}`),
}

// IdentifyPeriod guesses the reporting period ("Q4 2024", "FY2024",
// "December 31, 2024", "2024") from the table's header rows. It returns ""
// when nothing matches.
func IdentifyPeriod(t model.Table) string {
	var parts []string
	for _, c := range t.Cells {
		if c.RowIndex < headerRows {
			parts = append(parts, c.Content)
		}
	}
	text := strings.Join(parts, " ")

	for _, p := range periodPatterns {
		if m := p.FindString(text); m != "" {
			return m
		}
	}
	return ""
}
