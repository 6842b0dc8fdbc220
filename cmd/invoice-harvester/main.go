package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"invoice-harvester-go/internal/app"
	"invoice-harvester-go/internal/ledger"
	"invoice-harvester-go/internal/models"
	"invoice-harvester-go/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "invoice-harvester",
	Short: "Harvests supplier invoices from a mailbox into a ledger",
	Long: `invoice-harvester searches a mailbox for supplier invoices, extracts
their fields with a language model, files the PDF and registers one
ledger row per accepted invoice.

Examples:
  invoice-harvester serve          # HTTP API plus periodic runs
  invoice-harvester run            # one run in the foreground
  invoice-harvester runs -n 20     # latest run logs
  invoice-harvester invoices -n 5  # latest ledger rows`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run()
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one harvest now, following continuations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.Load()
		if err != nil {
			return err
		}
		log := app.NewLogger(cfg.Log)
		ctx, stop := app.SignalContext()
		defer stop()

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		summaries, err := a.RunOnce(ctx)
		printSummaries(summaries)
		return err
	},
}

var limit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List the latest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.Load()
		if err != nil {
			return err
		}
		db, err := store.Open(cfg.Database, app.NewLogger(cfg.Log))
		if err != nil {
			return err
		}
		logs, err := store.NewRunLogRepository(db).Recent(context.Background(), limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tTRIGGER\tCANDIDATES\tCREATED\tSKIPPED\tERRORS\tCONTINUED\tERROR")
		for _, l := range logs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%t\t%s\n",
				l.StartedAt.Format(time.RFC3339), l.Trigger, l.Candidates, l.Created, l.Skipped, l.Errors, l.ContinuationScheduled, l.ErrorMsg)
		}
		return w.Flush()
	},
}

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "List the latest ledger rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.Load()
		if err != nil {
			return err
		}
		book := ledger.NewWorkbook(cfg.Ledger.Path, cfg.Ledger.Sheet, app.NewLogger(cfg.Log))
		rows, err := book.FindRecent(context.Background(), limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tPROVIDER\tNUMBER\tTOTAL\tFILE")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.InvoiceDate, r.Provider, r.InvoiceNumber, r.TotalAmount, r.FileURL)
		}
		return w.Flush()
	},
}

func printSummaries(summaries []*models.RunSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPROCESSED\tCREATED\tSKIPPED\tERRORS\tREMAINING\tELAPSED")
	for _, s := range summaries {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.RunID, s.Processed, s.Created, s.Skipped, s.Errors, s.Remaining, s.Elapsed.Round(time.Second))
	}
	w.Flush()
}

func init() {
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows")
	invoicesCmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(invoicesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}
