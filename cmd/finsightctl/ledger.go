package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"finsight/internal/backend"
	"finsight/internal/core"
	"finsight/internal/csvio"
	"finsight/internal/services"
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringP("file", "f", "", "CSV file of transactions")
	importCmd.Flags().StringP("user", "u", "", "Owner of the imported transactions")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(exportCSVCmd)
	exportCSVCmd.Flags().StringP("user", "u", "", "User whose ledger is exported")
	exportCSVCmd.Flags().StringP("out", "o", "", "Output file, default stdout")
	_ = exportCSVCmd.MarkFlagRequired("user")
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a CSV of transactions into the configured ledger",
	Long: `Validate every row of the CSV, then create one transaction per row for --user.
The id column is ignored; the ledger assigns new ids.`,
	Args: cobra.NoArgs,
	RunE: runImport,
}

var exportCSVCmd = &cobra.Command{
	Use:   "export-csv",
	Short: "Write a user's ledger as CSV",
	Args:  cobra.NoArgs,
	RunE:  runExportCSV,
}

func openLedger(cmd *cobra.Command) (*backend.Ledger, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	if backendCfg.Type == backend.MemoryBackend {
		logger.Warn("Memory backend selected; changes are lost when finsightctl exits")
	}
	return backend.NewFactory(logger).OpenLedger(cmd.Context(), backendCfg)
}

func runImport(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	user, _ := cmd.Flags().GetString("user")

	// Read first so a bad file never leaves a partial import behind
	txs, err := csvio.ReadFile(file)
	if err != nil {
		return err
	}

	l, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	svc := services.NewTransactionService(l.Repository, nil, nil)
	return importTransactions(cmd, svc, user, txs)
}

func importTransactions(cmd *cobra.Command, svc *services.TransactionService, user string, txs []core.Transaction) error {
	for i, tx := range txs {
		_, err := svc.Create(cmd.Context(), user, core.Draft{
			Title:      tx.Title,
			Amount:     tx.Amount,
			Category:   tx.Category,
			Kind:       tx.Kind,
			OccurredAt: tx.OccurredAt,
		})
		if err != nil {
			return fmt.Errorf("import row %d (%s): %w", i+1, tx.Title, err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d transactions for %s\n", len(txs), user)
	return nil
}

func runExportCSV(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	out, _ := cmd.Flags().GetString("out")

	l, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	txs, err := l.Repository.List(cmd.Context(), user)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if out != "" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}
	return csvio.Write(w, txs)
}
