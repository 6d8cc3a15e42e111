// Package export writes a per-user snapshot of the ledger and its latest
// insight analysis to an external spreadsheet.
package export

import (
	"context"
	"regexp"
	"strings"
	"time"

	"finsight/internal/analytics"
	"finsight/internal/core"
	"finsight/internal/insight"
)

// Export triggers, used as a metrics label.
const (
	TriggerEvent   = "event"
	TriggerOutbox  = "outbox"
	TriggerStartup = "startup"
	TriggerManual  = "manual"
)

// Writer replaces the whole tab of a user. Writes are idempotent: the same
// input always yields the same sheet.
type Writer interface {
	ReplaceUserSheet(ctx context.Context, userID string, rows []core.Transaction, summary insight.Result) error
}

// Header is the first row of the transactions table.
var Header = []any{"Date", "Title", "Category", "Type", "Amount"}

// maxTabName is the longest sheet title accepted by Google Sheets.
const maxTabName = 100

var unsafeTabChars = regexp.MustCompile(`[\[\]\*\?/\\:']`)

// TabName derives a stable sheet title from a user id.
func TabName(userID string) string {
	name := unsafeTabChars.ReplaceAllString(strings.TrimSpace(userID), "_")
	if name == "" {
		name = "unknown"
	}
	name = "user " + name
	if len(name) > maxTabName {
		name = name[:maxTabName]
	}
	return name
}

// Grid lays out the tab: a summary block, a blank row, then the
// transactions table newest first.
func Grid(rows []core.Transaction, summary insight.Result) [][]any {
	sorted := append([]core.Transaction(nil), rows...)
	analytics.SortNewestFirst(sorted)

	agg := summary.Aggregates
	grid := [][]any{
		{"Month", agg.Month},
		{"Score", summary.Score},
		{"Summary", summary.Summary},
		{"Income", agg.TotalIncome.Units()},
		{"Expenses", agg.TotalExpenses.Units()},
		{"Top category", agg.TopCategory},
		{"Analyzed at", summary.AnalyzedAt.UTC().Format(time.RFC3339)},
	}
	for _, it := range summary.Insights {
		grid = append(grid, []any{"Insight", it.Text, string(it.Tone)})
	}
	for _, it := range summary.Recommendations {
		grid = append(grid, []any{"Recommendation", it.Text, string(it.Tone)})
	}
	grid = append(grid, []any{}, Header)
	for _, tx := range sorted {
		grid = append(grid, []any{
			tx.OccurredAt.UTC().Format("2006-01-02"),
			tx.Title,
			tx.Category,
			tx.Kind.String(),
			tx.Amount.Units(),
		})
	}
	return grid
}
