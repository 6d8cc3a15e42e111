package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"finsight/internal/csvio"
	"finsight/internal/insight"
)

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringP("file", "f", "", "CSV file of transactions")
	analyzeCmd.Flags().String("at", "", "Reference date (YYYY-MM-DD or RFC3339), default now")
	_ = analyzeCmd.MarkFlagRequired("file")
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Score a CSV of transactions",
	Long: `Run the insight scorer over a CSV export without touching any ledger.
Only transactions in the month of --at are scored. The result is printed as JSON.`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

type itemReport struct {
	Tone string `json:"tone"`
	Text string `json:"text"`
}

type analysisReport struct {
	Month           string       `json:"month"`
	Score           int          `json:"score"`
	Band            string       `json:"band"`
	Summary         string       `json:"summary"`
	Income          string       `json:"income"`
	Expenses        string       `json:"expenses"`
	ExpenseRatio    float64      `json:"expense_ratio"`
	TopCategory     string       `json:"top_category,omitempty"`
	Transactions    int          `json:"transactions"`
	Insights        []itemReport `json:"insights"`
	Recommendations []itemReport `json:"recommendations"`
}

func newAnalysisReport(res insight.Result) analysisReport {
	items := func(in []insight.Item) []itemReport {
		out := make([]itemReport, 0, len(in))
		for _, it := range in {
			out = append(out, itemReport{Tone: string(it.Tone), Text: it.Text})
		}
		return out
	}
	agg := res.Aggregates
	return analysisReport{
		Month:           agg.Month,
		Score:           res.Score,
		Band:            string(res.Band),
		Summary:         res.Summary,
		Income:          agg.TotalIncome.String(),
		Expenses:        agg.TotalExpenses.String(),
		ExpenseRatio:    agg.ExpenseRatio,
		TopCategory:     agg.TopCategory,
		Transactions:    agg.TransactionCount,
		Insights:        items(res.Insights),
		Recommendations: items(res.Recommendations),
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	atFlag, _ := cmd.Flags().GetString("at")

	at := time.Now().UTC()
	if atFlag != "" {
		t, err := csvio.ParseTime(atFlag)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		at = t
	}

	txs, err := csvio.ReadFile(file)
	if err != nil {
		return err
	}

	res := insight.Analyze(txs, at)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(newAnalysisReport(res))
}
