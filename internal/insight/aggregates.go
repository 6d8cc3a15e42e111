package insight

import (
	"sort"
	"time"

	"finsight/internal/core"
)

// minShareDenominator keeps the top-category share finite when expenses are
// tiny or zero: one currency unit.
const minShareDenominator = 100

// Aggregates are the current-month figures the rules are evaluated against.
type Aggregates struct {
	Month              string
	TotalIncome        core.Money
	TotalExpenses      core.Money
	NetBalance         int64 // cents, negative on a deficit
	ExpenseRatio       float64
	CategoryTotals     []core.CategoryAmount // first-encountered order
	TopCategory        string
	TopCategoryTotal   core.Money
	TopCategoryShare   float64
	LargestExpense     core.Money
	TransactionCount   int
	AverageTransaction core.Money
}

// CurrentMonth returns the transactions that fall in now's calendar month.
func CurrentMonth(txs []core.Transaction, now time.Time) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if core.SameMonth(tx.OccurredAt, now) {
			out = append(out, tx)
		}
	}
	return out
}

// Aggregate computes the month figures for txs, which must already be
// restricted to a single month.
func Aggregate(txs []core.Transaction) Aggregates {
	var agg Aggregates
	index := make(map[string]int)

	var turnover int64
	for _, tx := range txs {
		agg.TransactionCount++
		turnover += tx.Amount.Cents
		switch tx.Kind {
		case core.Income:
			agg.TotalIncome.Cents += tx.Amount.Cents
		case core.Expense:
			agg.TotalExpenses.Cents += tx.Amount.Cents
			if tx.Amount.Cents > agg.LargestExpense.Cents {
				agg.LargestExpense = tx.Amount
			}
			i, ok := index[tx.Category]
			if !ok {
				i = len(agg.CategoryTotals)
				index[tx.Category] = i
				agg.CategoryTotals = append(agg.CategoryTotals, core.CategoryAmount{Name: tx.Category})
			}
			agg.CategoryTotals[i].Amount.Cents += tx.Amount.Cents
		}
	}

	agg.NetBalance = agg.TotalIncome.Cents - agg.TotalExpenses.Cents
	agg.ExpenseRatio = expenseRatio(agg.TotalIncome.Cents, agg.TotalExpenses.Cents)
	if agg.TransactionCount > 0 {
		agg.AverageTransaction = core.Money{Cents: turnover / int64(agg.TransactionCount)}
	}

	if top, ok := topCategory(agg.CategoryTotals); ok {
		agg.TopCategory = top.Name
		agg.TopCategoryTotal = top.Amount
		denom := agg.TotalExpenses.Cents
		if denom < minShareDenominator {
			denom = minShareDenominator
		}
		agg.TopCategoryShare = float64(top.Amount.Cents) / float64(denom)
	}
	return agg
}

func expenseRatio(income, expenses int64) float64 {
	if income == 0 {
		if expenses > 0 {
			return 1
		}
		return 0
	}
	return float64(expenses) / float64(income)
}

// topCategory picks the largest category; ties go to the first encountered.
func topCategory(totals []core.CategoryAmount) (core.CategoryAmount, bool) {
	if len(totals) == 0 {
		return core.CategoryAmount{}, false
	}
	sorted := SortedCategories(totals)
	return sorted[0], true
}

// SortedCategories returns a copy of totals ordered by amount, largest first.
// Equal amounts keep their original order.
func SortedCategories(totals []core.CategoryAmount) []core.CategoryAmount {
	sorted := make([]core.CategoryAmount, len(totals))
	copy(sorted, totals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Amount.Cents > sorted[j].Amount.Cents
	})
	return sorted
}
