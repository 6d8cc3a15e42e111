// Package insight scores a user's current month of transactions.
//
// The score starts at 100 and loses points for each risk signal found in the
// month aggregates. Insight and recommendation statements come from a second,
// independent set of thresholds, so a rule can produce a statement without a
// penalty and the other way round.
package insight

import (
	"time"

	"finsight/internal/core"
)

// Tone classifies the severity of a statement.
type Tone string

const (
	Good Tone = "good"
	Warn Tone = "warn"
	Risk Tone = "risk"
)

const (
	MinInsights        = 3
	MinRecommendations = 2
	maxScore           = 100
)

const (
	SummaryStrong = "Financial health looks strong with good savings momentum."
	SummaryStable = "Financial health is stable but needs active monitoring."
	SummaryAtRisk = "Financial health is at risk. Adjust spending patterns quickly."

	FillerInsight        = "Keep reviewing your spending patterns to stay on track."
	FillerRecommendation = "Review your budget weekly to stay aligned with goals."
)

// Item is one insight or recommendation line.
type Item struct {
	Tone Tone
	Text string
}

// Result is the outcome of one analysis. It is never persisted.
type Result struct {
	Score           int
	Summary         string
	Band            Tone
	Insights        []Item
	Recommendations []Item
	Aggregates      Aggregates
	AnalyzedAt      time.Time
}

// Analyzer runs the scoring rules. Clock stamps AnalyzedAt; nil means time.Now.
type Analyzer struct {
	Clock func() time.Time
}

// Analyze scores txs against the calendar month of now.
func Analyze(txs []core.Transaction, now time.Time) Result {
	return Analyzer{}.Analyze(txs, now)
}

func (a Analyzer) Analyze(txs []core.Transaction, now time.Time) Result {
	agg := Aggregate(CurrentMonth(txs, now))
	agg.Month = core.MonthKey(now)

	score := Score(agg)
	insights, recs := Statements(agg)

	clock := a.Clock
	if clock == nil {
		clock = time.Now
	}
	return Result{
		Score:           score,
		Summary:         Summary(score),
		Band:            ScoreTone(score),
		Insights:        insights,
		Recommendations: recs,
		Aggregates:      agg,
		AnalyzedAt:      clock(),
	}
}

// Score applies the cumulative penalties and clamps to [0, 100].
func Score(agg Aggregates) int {
	income := agg.TotalIncome.Cents
	expenses := agg.TotalExpenses.Cents

	score := maxScore
	if agg.ExpenseRatio > 0.8 {
		score -= 20
	}
	if income > 0 && float64(agg.LargestExpense.Cents) > 0.4*float64(income) {
		score -= 15
	}
	if agg.TopCategoryShare > 0.5 {
		score -= 10
	}
	if expenses > income {
		score -= 10
	}
	if agg.TransactionCount > 50 {
		score -= 5
	}
	return clamp(score, 0, maxScore)
}

// Statements evaluates the insight rules in order and pads both lists to
// their minimum length.
func Statements(agg Aggregates) (insights, recs []Item) {
	income := agg.TotalIncome.Cents
	expenses := agg.TotalExpenses.Cents
	ratio := agg.ExpenseRatio

	switch {
	case ratio > 0.9:
		insights = append(insights, Item{Risk, "You are spending almost all your income. High financial risk."})
		recs = append(recs, Item{Risk, "Reduce discretionary spending by 10–15% this month."})
	case ratio >= 0.7:
		insights = append(insights, Item{Warn, "Your expenses are consuming most of your income. Monitor closely."})
		recs = append(recs, Item{Warn, "Set category caps for your top spending areas."})
	case ratio < 0.5 && income > 0:
		insights = append(insights, Item{Good, "Great job! You are maintaining healthy savings."})
		recs = append(recs, Item{Good, "Allocate fixed savings first to keep momentum."})
	}

	if expenses > income && income > 0 {
		insights = append(insights, Item{Risk, "You are running at a deficit this month."})
		recs = append(recs, Item{Risk, "Track daily micro-expenses to plug leaks quickly."})
	}

	if agg.TopCategory != "" && agg.TopCategoryShare > 0.5 {
		insights = append(insights, Item{Warn, "Most of your spending is concentrated in " + agg.TopCategory + ". Consider balancing."})
		recs = append(recs, Item{Warn, "Spread large expenses across multiple months when possible."})
	}

	if income > 0 && float64(agg.LargestExpense.Cents) > 0.3*float64(income) {
		insights = append(insights, Item{Warn, "A single large expense is significantly impacting your budget."})
	}

	if income > 0 && float64(agg.NetBalance) > 0.3*float64(income) {
		insights = append(insights, Item{Good, "Strong savings performance this month."})
	}

	for len(insights) < MinInsights {
		insights = append(insights, Item{Warn, FillerInsight})
	}
	for len(recs) < MinRecommendations {
		recs = append(recs, Item{Good, FillerRecommendation})
	}
	return insights, recs
}

// Summary picks the fixed summary line for a score band.
func Summary(score int) string {
	switch {
	case score >= 75:
		return SummaryStrong
	case score >= 55:
		return SummaryStable
	default:
		return SummaryAtRisk
	}
}

// ScoreTone maps a score to the tone used to colour it.
func ScoreTone(score int) Tone {
	switch {
	case score >= 75:
		return Good
	case score >= 55:
		return Warn
	default:
		return Risk
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
