package analytics

import (
	"sort"
	"strings"

	"finsight/internal/core"
)

// All matches every month or kind in a Criteria.
const All = "all"

// Criteria narrows a transaction list. Empty fields match everything.
type Criteria struct {
	Month  string // "YYYY-MM" or "all"
	Kind   string // "income", "expense" or "all"
	Search string // case-insensitive, over title and category
}

// Filter keeps the transactions matching c, preserving order.
func Filter(txs []core.Transaction, c Criteria) []core.Transaction {
	needle := strings.ToLower(strings.TrimSpace(c.Search))
	month := strings.TrimSpace(c.Month)
	kind := strings.ToLower(strings.TrimSpace(c.Kind))

	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if month != "" && month != All && core.MonthKey(tx.OccurredAt) != month {
			continue
		}
		if kind != "" && kind != All && string(tx.Kind) != kind {
			continue
		}
		if needle != "" {
			hay := strings.ToLower(tx.Title + " " + tx.Category)
			if !strings.Contains(hay, needle) {
				continue
			}
		}
		out = append(out, tx)
	}
	return out
}

// MonthOptions lists the distinct months present in txs, newest first.
func MonthOptions(txs []core.Transaction) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, tx := range txs {
		key := core.MonthKey(tx.OccurredAt)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out
}
