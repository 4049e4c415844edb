package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/warp/dues-engine/api"
	"github.com/warp/dues-engine/billing"
	"github.com/warp/dues-engine/config"
	"github.com/warp/dues-engine/store/sqlite"
)

func newLedgerCmd() *cobra.Command {
	var (
		account  string
		asOf     string
		scenario string
	)

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Run one reconciliation cycle and print the ledger",
		Long: `Run one reconciliation cycle against the configured database and print
the resulting rows: overdue months first, then payments newest first.`,
		Example: `  # Whole academy
  dues ledger

  # One player, as of a past date
  dues ledger --account V-30111222 --as-of 2026-02-10

  # Demo data without touching a database file
  DUES_DATABASE_PATH=":memory:" dues ledger --scenario mixed-academy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedger(cmd.Context(), account, asOf, scenario)
		},
	}
	cmd.Flags().StringVarP(&account, "account", "a", "", "only show this player's statement")
	cmd.Flags().StringVar(&asOf, "as-of", "", "reconcile as of this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&scenario, "scenario", "", "load a demo scenario first (replaces all data)")
	return cmd
}

func runLedger(ctx context.Context, account, asOf, scenario string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	clock := time.Now
	if asOf != "" {
		t, ok := billing.ParseDate(asOf)
		if !ok {
			return fmt.Errorf("invalid --as-of date %q", asOf)
		}
		clock = func() time.Time { return t }
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	rec := billing.NewReconciler(store, cfg.Policy(), log)
	rec.FetchTimeout = cfg.Billing.FetchTimeout
	rec.Clock = clock

	if scenario != "" {
		h := api.NewHandler(store, rec, log)
		if _, err := h.LoadScenarioByID(ctx, scenario); err != nil {
			return fmt.Errorf("failed to load scenario %q: %w", scenario, err)
		}
	}

	var l *billing.Ledger
	if account != "" {
		l, err = rec.RefreshAccount(ctx, billing.AccountID(account))
	} else {
		l, err = rec.Refresh(ctx)
	}
	if err != nil {
		return fmt.Errorf("reconciliation failed: %s", billing.UserMessage(err))
	}

	printLedger(l)
	return nil
}

func printLedger(l *billing.Ledger) {
	periods := make([]string, len(l.Schedule))
	for i, p := range l.Schedule {
		periods[i] = p.String()
	}
	if l.Account != nil {
		pterm.DefaultSection.Printf("Statement for %s", *l.Account)
	} else {
		pterm.DefaultSection.Println("Academy ledger")
	}
	pterm.Info.Printf("Cycle %s | owed months: %v\n", l.CycleID, periods)

	rows := l.Rows()
	if len(rows) == 0 {
		pterm.Warning.Println("No rows")
		return
	}

	tableData := pterm.TableData{
		{"Status", "Account", "Name", "Concept", "Month", "Date", "Amount"},
	}
	for _, r := range rows {
		status := r.StatusLabel
		switch status {
		case billing.StatusOverdue:
			status = pterm.Red(status)
		case billing.StatusPaid:
			status = pterm.Green(status)
		default:
			status = pterm.Yellow(status)
		}

		month, date := "", ""
		if r.Period != nil {
			month = r.Period.String()
		}
		if p, ok := r.Payment(); ok && p.HasDate() {
			date = p.PaymentDate.Format("2006-01-02")
		}

		tableData = append(tableData, []string{
			status,
			string(r.AccountID),
			r.DisplayName,
			r.TypeName,
			month,
			date,
			r.Amount().StringFixed(2),
		})
	}
	pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()

	totals := l.Totals()
	pterm.Info.Printf("%d rows, %d overdue, %s collected\n", totals.Rows, totals.VirtualRows, totals.PaidAmount.StringFixed(2))

	if l.Account == nil {
		if gaps := billing.CheckCompleteness(l); len(gaps) > 0 {
			for _, g := range gaps {
				pterm.Warning.Println(g.String())
			}
		}
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "dues.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := config.Save(path, config.Default()); err != nil {
				return err
			}
			pterm.Success.Printf("Configuration written to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
