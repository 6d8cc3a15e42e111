// Package analytics builds the dashboard and reporting views over a user's
// transactions. Everything here is a pure function of the transaction list
// and the reference time.
package analytics

import (
	"sort"
	"time"

	"finsight/internal/core"
	"finsight/internal/insight"
)

const (
	TrendMonths     = 6
	RecentLimit     = 5
	BudgetUsageSize = 3
	NoCategory      = "N/A"
)

const (
	QuickInsightPositive = "Positive cashflow. Keep your savings rate steady."
	QuickInsightNegative = "Net balance is negative. Review top expenses."
)

// Totals are income and expense sums for a period. Net is in cents and may be negative.
type Totals struct {
	Month   string
	Income  core.Money
	Expense core.Money
	Net     int64
}

// Change holds month-over-month percentages.
type Change struct {
	Income  float64
	Expense float64
	Savings float64
}

// CategoryShare is a category total with its share of the month's expenses, in percent.
type CategoryShare struct {
	Name    string
	Amount  core.Money
	Percent float64
}

// Dashboard is the overview page model.
type Dashboard struct {
	Overall           Totals
	SavingsRate       float64
	SavingsTone       insight.Tone
	QuickInsight      string
	Current           Totals
	Previous          Totals
	Change            Change
	TopCategory       string
	TopCategoryAmount core.Money
	TopCategoryShare  float64
	BudgetUsage       []CategoryShare
	Trend             []Totals
	Recent            []core.Transaction
}

// Sum totals every transaction in txs regardless of date.
func Sum(txs []core.Transaction) Totals {
	var t Totals
	for _, tx := range txs {
		switch tx.Kind {
		case core.Income:
			t.Income.Cents += tx.Amount.Cents
		case core.Expense:
			t.Expense.Cents += tx.Amount.Cents
		}
	}
	t.Net = t.Income.Cents - t.Expense.Cents
	return t
}

// MonthTotals totals the transactions that fall in the month of ref.
func MonthTotals(txs []core.Transaction, ref time.Time) Totals {
	t := Sum(insight.CurrentMonth(txs, ref))
	t.Month = core.MonthKey(ref)
	return t
}

// Monthly returns totals for the last n months ending with now's month, oldest first.
func Monthly(txs []core.Transaction, now time.Time, n int) []Totals {
	if n <= 0 {
		return nil
	}
	out := make([]Totals, 0, n)
	for i := n - 1; i >= 0; i-- {
		out = append(out, MonthTotals(txs, core.AddMonths(now, -i)))
	}
	return out
}

// PctChange is the relative change from prev to cur in percent; 0 when prev is 0.
func PctChange(cur, prev int64) float64 {
	if prev == 0 {
		return 0
	}
	return float64(cur-prev) / float64(prev) * 100
}

// SavingsRate is net over income in percent, 0 without income.
func SavingsRate(t Totals) float64 {
	if t.Income.Cents <= 0 {
		return 0
	}
	return float64(t.Net) / float64(t.Income.Cents) * 100
}

// SavingsTone classifies a savings rate.
func SavingsTone(rate float64) insight.Tone {
	switch {
	case rate > 30:
		return insight.Good
	case rate >= 15:
		return insight.Warn
	default:
		return insight.Risk
	}
}

// CategoryBreakdown lists now's expense categories, largest first, with
// their share of the month's expenses.
func CategoryBreakdown(txs []core.Transaction, now time.Time) []CategoryShare {
	agg := insight.Aggregate(insight.CurrentMonth(txs, now))
	sorted := insight.SortedCategories(agg.CategoryTotals)

	out := make([]CategoryShare, 0, len(sorted))
	for _, c := range sorted {
		out = append(out, CategoryShare{
			Name:    c.Name,
			Amount:  c.Amount,
			Percent: percent(c.Amount.Cents, agg.TotalExpenses.Cents),
		})
	}
	return out
}

// Overview assembles the dashboard for now.
func Overview(txs []core.Transaction, now time.Time) Dashboard {
	d := Dashboard{Overall: Sum(txs)}

	d.SavingsRate = SavingsRate(d.Overall)
	d.SavingsTone = SavingsTone(d.SavingsRate)
	if d.Overall.Net > 0 {
		d.QuickInsight = QuickInsightPositive
	} else {
		d.QuickInsight = QuickInsightNegative
	}

	d.Current = MonthTotals(txs, now)
	d.Previous = MonthTotals(txs, core.AddMonths(now, -1))
	d.Change = Change{
		Income:  PctChange(d.Current.Income.Cents, d.Previous.Income.Cents),
		Expense: PctChange(d.Current.Expense.Cents, d.Previous.Expense.Cents),
		Savings: PctChange(d.Current.Net, d.Previous.Net),
	}

	breakdown := CategoryBreakdown(txs, now)
	d.TopCategory = NoCategory
	if len(breakdown) > 0 {
		d.TopCategory = breakdown[0].Name
		d.TopCategoryAmount = breakdown[0].Amount
		d.TopCategoryShare = breakdown[0].Percent
	}
	if len(breakdown) > BudgetUsageSize {
		breakdown = breakdown[:BudgetUsageSize]
	}
	d.BudgetUsage = breakdown

	d.Trend = Monthly(txs, now, TrendMonths)
	d.Recent = Recent(txs, RecentLimit)
	return d
}

// Recent returns up to n transactions, newest first.
func Recent(txs []core.Transaction, n int) []core.Transaction {
	sorted := make([]core.Transaction, len(txs))
	copy(sorted, txs)
	SortNewestFirst(sorted)
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// SortNewestFirst orders txs by OccurredAt descending, keeping ties stable.
func SortNewestFirst(txs []core.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].OccurredAt.After(txs[j].OccurredAt)
	})
}

func percent(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
