package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"finsight/internal/analytics"
	"finsight/internal/core"
	"finsight/internal/insight"
	"finsight/internal/ledger"
	"finsight/internal/log"
	"finsight/internal/services"
	"finsight/internal/session"
)

const internalErrorMessage = "Something went wrong. Please try again."

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps the error taxonomy onto HTTP. The message is what the user
// sees.
func statusFor(err error) (int, string) {
	var br *badRequest
	var ne *ledger.NetworkError
	var be *ledger.BackendError
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, br.msg
	case core.IsValidationError(err):
		return http.StatusUnprocessableEntity, ledger.UserMessage(err)
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, ledger.NotFoundMessage
	case errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized, ledger.NoSessionMessage
	case errors.As(err, &ne):
		return http.StatusServiceUnavailable, ledger.NetworkMessage
	case errors.As(err, &be):
		return http.StatusBadGateway, be.Message
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out."
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Request cancelled."
	default:
		return http.StatusInternalServerError, internalErrorMessage
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	logger := log.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldStatusCode, status,
			"kind", services.ErrorKind(err),
			log.FieldError, err)
	} else {
		logger.DebugContext(r.Context(), "Request rejected", log.FieldStatusCode, status, log.FieldError, err)
	}
	writeMessage(w, status, msg)
}

type transactionJSON struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Amount      float64   `json:"amount"`
	AmountCents int64     `json:"amount_cents"`
	Category    string    `json:"category"`
	Type        string    `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	Month       string    `json:"month"`
}

func toTransactionJSON(tx core.Transaction) transactionJSON {
	return transactionJSON{
		ID:          tx.ID,
		Title:       tx.Title,
		Amount:      tx.Amount.Units(),
		AmountCents: tx.Amount.Cents,
		Category:    tx.Category,
		Type:        tx.Kind.String(),
		OccurredAt:  tx.OccurredAt,
		Month:       core.MonthKey(tx.OccurredAt),
	}
}

func toTransactionsJSON(txs []core.Transaction) []transactionJSON {
	out := make([]transactionJSON, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionJSON(tx))
	}
	return out
}

type listJSON struct {
	Transactions []transactionJSON `json:"transactions"`
	Count        int               `json:"count"`
	Months       []string          `json:"months"`
}

type itemJSON struct {
	Tone string `json:"tone"`
	Text string `json:"text"`
}

type categoryJSON struct {
	Name    string  `json:"name"`
	Amount  float64 `json:"amount"`
	Percent float64 `json:"percent,omitempty"`
}

type aggregatesJSON struct {
	Month              string         `json:"month"`
	TotalIncome        float64        `json:"total_income"`
	TotalExpenses      float64        `json:"total_expenses"`
	NetBalance         float64        `json:"net_balance"`
	ExpenseRatio       float64        `json:"expense_ratio"`
	TopCategory        string         `json:"top_category,omitempty"`
	TopCategoryShare   float64        `json:"top_category_share"`
	LargestExpense     float64        `json:"largest_expense"`
	TransactionCount   int            `json:"transaction_count"`
	AverageTransaction float64        `json:"average_transaction"`
	Categories         []categoryJSON `json:"categories"`
}

type insightJSON struct {
	Score           int            `json:"score"`
	Summary         string         `json:"summary"`
	Band            string         `json:"band"`
	Insights        []itemJSON     `json:"insights"`
	Recommendations []itemJSON     `json:"recommendations"`
	Aggregates      aggregatesJSON `json:"aggregates"`
	AnalyzedAt      time.Time      `json:"analyzed_at"`
}

func toItems(items []insight.Item) []itemJSON {
	out := make([]itemJSON, 0, len(items))
	for _, it := range items {
		out = append(out, itemJSON{Tone: string(it.Tone), Text: it.Text})
	}
	return out
}

func toInsightJSON(res insight.Result) insightJSON {
	agg := res.Aggregates
	cats := make([]categoryJSON, 0, len(agg.CategoryTotals))
	for _, c := range agg.CategoryTotals {
		cats = append(cats, categoryJSON{Name: c.Name, Amount: c.Amount.Units()})
	}
	return insightJSON{
		Score:           res.Score,
		Summary:         res.Summary,
		Band:            string(res.Band),
		Insights:        toItems(res.Insights),
		Recommendations: toItems(res.Recommendations),
		Aggregates: aggregatesJSON{
			Month:              agg.Month,
			TotalIncome:        agg.TotalIncome.Units(),
			TotalExpenses:      agg.TotalExpenses.Units(),
			NetBalance:         centsToUnits(agg.NetBalance),
			ExpenseRatio:       agg.ExpenseRatio,
			TopCategory:        agg.TopCategory,
			TopCategoryShare:   agg.TopCategoryShare,
			LargestExpense:     agg.LargestExpense.Units(),
			TransactionCount:   agg.TransactionCount,
			AverageTransaction: agg.AverageTransaction.Units(),
			Categories:         cats,
		},
		AnalyzedAt: res.AnalyzedAt,
	}
}

type totalsJSON struct {
	Month   string  `json:"month,omitempty"`
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
	Net     float64 `json:"net"`
}

func toTotals(t analytics.Totals) totalsJSON {
	return totalsJSON{Month: t.Month, Income: t.Income.Units(), Expense: t.Expense.Units(), Net: centsToUnits(t.Net)}
}

func toTotalsList(ts []analytics.Totals) []totalsJSON {
	out := make([]totalsJSON, 0, len(ts))
	for _, t := range ts {
		out = append(out, toTotals(t))
	}
	return out
}

func toShares(shares []analytics.CategoryShare) []categoryJSON {
	out := make([]categoryJSON, 0, len(shares))
	for _, s := range shares {
		out = append(out, categoryJSON{Name: s.Name, Amount: s.Amount.Units(), Percent: s.Percent})
	}
	return out
}

type changeJSON struct {
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
	Savings float64 `json:"savings"`
}

type overviewJSON struct {
	Overall           totalsJSON        `json:"overall"`
	SavingsRate       float64           `json:"savings_rate"`
	SavingsTone       string            `json:"savings_tone"`
	QuickInsight      string            `json:"quick_insight"`
	Current           totalsJSON        `json:"current"`
	Previous          totalsJSON        `json:"previous"`
	Change            changeJSON        `json:"change"`
	TopCategory       string            `json:"top_category,omitempty"`
	TopCategoryAmount float64           `json:"top_category_amount"`
	TopCategoryShare  float64           `json:"top_category_share"`
	BudgetUsage       []categoryJSON    `json:"budget_usage"`
	Trend             []totalsJSON      `json:"trend"`
	Recent            []transactionJSON `json:"recent"`
}

type dashboardJSON struct {
	Overview overviewJSON `json:"overview"`
	Insight  insightJSON  `json:"insight"`
}

func toDashboardJSON(v services.DashboardView) dashboardJSON {
	d := v.Overview
	return dashboardJSON{
		Overview: overviewJSON{
			Overall:           toTotals(d.Overall),
			SavingsRate:       d.SavingsRate,
			SavingsTone:       string(d.SavingsTone),
			QuickInsight:      d.QuickInsight,
			Current:           toTotals(d.Current),
			Previous:          toTotals(d.Previous),
			Change:            changeJSON(d.Change),
			TopCategory:       d.TopCategory,
			TopCategoryAmount: d.TopCategoryAmount.Units(),
			TopCategoryShare:  d.TopCategoryShare,
			BudgetUsage:       toShares(d.BudgetUsage),
			Trend:             toTotalsList(d.Trend),
			Recent:            toTransactionsJSON(d.Recent),
		},
		Insight: toInsightJSON(v.Insight),
	}
}

type analyticsJSON struct {
	Monthly    []totalsJSON   `json:"monthly"`
	Categories []categoryJSON `json:"categories"`
}

func toAnalyticsJSON(v services.AnalyticsView) analyticsJSON {
	return analyticsJSON{Monthly: toTotalsList(v.Monthly), Categories: toShares(v.Categories)}
}

func centsToUnits(c int64) float64 {
	return core.Money{Cents: c}.Units()
}
