package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"conti/internal/backend"
	"conti/internal/config"
	"conti/internal/core"
	"conti/internal/services"
	"conti/internal/storage"

	"github.com/spf13/cobra"
)

type opener func(ctx context.Context, envFile string, debug bool) (*backend.Backend, *config.Config, error)

type app struct {
	out     io.Writer
	open    opener
	envFile string
	debug   bool

	backend *backend.Backend
	cfg     *config.Config
}

func (a *app) ledger() *services.LedgerService { return a.backend.Ledger }

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "conti-cli",
		Short: "Administer a household ledger",
		Long: `conti-cli closes months, previews settlements and inspects history
for the household configured through the environment (HOUSEHOLD_ID or
HOUSEHOLD_FILE, DATA_BACKEND, SQLITE_DB_PATH).

Example:
  conti-cli transfers
  conti-cli close --adjust b:a:25.00
  conti-cli history 2026-09`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["backend"] == "none" {
				return nil
			}
			b, cfg, err := a.open(cmd.Context(), a.envFile, a.debug)
			if err != nil {
				return err
			}
			a.backend, a.cfg = b, cfg
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.backend == nil || a.backend.Cleanup == nil {
				return nil
			}
			return a.backend.Cleanup()
		},
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "environment file to load (default .env)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newMembersCmd(a),
		newTransfersCmd(a),
		newBalanceCmd(a),
		newCloseCmd(a),
		newMaterializeCmd(a),
		newHistoryCmd(a),
		newMigrateVersionCmd(a),
	)
	return root
}

func newMembersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "members",
		Short: "List household members",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			members, err := a.ledger().Members(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME")
			for _, m := range members {
				fmt.Fprintf(tw, "%s\t%s\n", m.ID, m.Name)
			}
			return tw.Flush()
		},
	}
}

func newTransfersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "transfers",
		Short: "Preview the settlement of the current month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			debts, err := a.ledger().GetSimplifiedTransfers(cmd.Context(), "")
			if err != nil {
				return err
			}
			printDebts(a.out, debts)
			return nil
		},
	}
}

func newBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <member>",
		Short: "Show a member's position in the current month",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pb, err := a.ledger().GetPersonalBalance(cmd.Context(), "", args[0])
			if err != nil {
				return err
			}
			r := pb.Rounded()
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintf(tw, "rent\t%s\t\n", r.Rent.StringFixed(2))
			fmt.Fprintf(tw, "fixed\t%s\t\n", r.Fixed.StringFixed(2))
			fmt.Fprintf(tw, "variable\t%s\t\n", r.Variable.StringFixed(2))
			fmt.Fprintf(tw, "total\t%s\t\n", r.Total.StringFixed(2))
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s %s\n", r.MemberID, r.Status())
			return nil
		},
	}
}

func newCloseCmd(a *app) *cobra.Command {
	var (
		month   string
		adjusts []string
	)
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Finalize the current month, or --month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := services.CloseRequest{}
			for _, raw := range adjusts {
				adj, err := parseAdjustment(raw)
				if err != nil {
					return err
				}
				req.Adjustments = append(req.Adjustments, adj)
			}

			var closed core.MonthlyAccount
			if month != "" {
				key, err := core.ParseMonthKey(month)
				if err != nil {
					return err
				}
				if closed, err = a.ledger().CloseMonthKey(cmd.Context(), key, req); err != nil {
					return err
				}
			} else {
				p, err := a.ledger().LoadCurrentPeriod(cmd.Context(), "")
				if err != nil {
					return err
				}
				if _, err := a.ledger().CloseMonth(cmd.Context(), "", req); err != nil {
					return err
				}
				if closed, err = a.ledger().GetHistoricalAccount(cmd.Context(), p.Account.ID); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "Closed %s\n", closed.ID)
			printDebts(a.out, closed.SettlementDebts)
			return nil
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "month to close (YYYY-MM), default current")
	cmd.Flags().StringArrayVar(&adjusts, "adjust", nil, "manual adjustment debtor:creditor:amount (repeatable)")
	return cmd
}

func newMaterializeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "materialize",
		Short: "Create the recurring charges due in the current month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.ledger().MaterializeDue(cmd.Context())
			var pf *core.PartialFailure
			if err != nil && !errors.As(err, &pf) {
				return err
			}
			fmt.Fprintf(a.out, "Created %d charges (skipped %d)\n", len(res.Created), res.Skipped)
			for _, c := range res.Created {
				fmt.Fprintf(a.out, "  %s  %s  %s\n", c.OccurredAt.Format("2006-01-02"), c.Description, c.Amount)
			}
			return err
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history [month]",
		Short: "List finalized months or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				key, err := core.ParseMonthKey(args[0])
				if err != nil {
					return err
				}
				acc, err := a.ledger().GetHistoricalAccount(cmd.Context(), key)
				if err != nil {
					return err
				}
				printAccount(a.out, acc)
				return nil
			}

			accounts, err := a.ledger().ListHistory(cmd.Context())
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Fprintln(a.out, "No finalized months")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "MONTH\tRENT\tTRANSFERS\tFINALIZED")
			for _, acc := range accounts {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", acc.ID, acc.RentTotal, len(acc.SettlementDebts), acc.FinalizedAt.Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}
}

func newMigrateVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "migrate-version",
		Short:       "Print the SQLite schema version",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"backend": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			version, dirty, err := storage.MigrationVersion(cfg.SQLiteDBPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s: version %d (dirty=%t)\n", cfg.SQLiteDBPath, version, dirty)
			return nil
		},
	}
}

// parseAdjustment reads "debtor:creditor:amount".
func parseAdjustment(raw string) (core.Adjustment, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return core.Adjustment{}, fmt.Errorf("adjustment %q: want debtor:creditor:amount", raw)
	}
	cents, err := core.ParseDecimalToCents(parts[2])
	if err != nil {
		return core.Adjustment{}, fmt.Errorf("adjustment %q: %w", raw, err)
	}
	adj := core.Adjustment{
		Debtor:   strings.TrimSpace(parts[0]),
		Creditor: strings.TrimSpace(parts[1]),
		Amount:   core.Cents(cents),
	}
	return adj, adj.Validate()
}

func printDebts(w io.Writer, debts []core.DebtEntry) {
	if len(debts) == 0 {
		fmt.Fprintln(w, "No transfers needed")
		return
	}
	for _, d := range debts {
		fmt.Fprintf(w, "%s -> %s  %s\n", d.Debtor, d.Creditor, d.Amount)
	}
}

func printAccount(w io.Writer, acc core.MonthlyAccount) {
	fmt.Fprintf(w, "Month %s (%s)\n", acc.ID, acc.Status)
	fmt.Fprintf(w, "Rent %s paid by %s\n", acc.RentTotal, acc.RentPayer)
	if len(acc.FixedChargeSnapshot) > 0 {
		fmt.Fprintln(w, "Fixed charges:")
		for _, s := range acc.FixedChargeSnapshot {
			fmt.Fprintf(w, "  %s  %s  paid by %s\n", s.Description, s.Amount, s.Payer)
		}
	}
	fmt.Fprintln(w, "Settlement:")
	printDebts(w, acc.SettlementDebts)
}
