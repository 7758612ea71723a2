package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/courseforge/am"
	"github.com/teranos/courseforge/credits"
	"github.com/teranos/courseforge/errors"
)

// CreditsCmd groups credit account commands
var CreditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and top up credit accounts",
	Long: `Inspect and top up credit accounts.

Examples:
  courseforge credits show ada          # Current balance
  courseforge credits grant ada 50      # Add 50 credits
  courseforge credits entries ada -n 5  # Last five ledger entries`,
}

var creditsShowCmd = &cobra.Command{
	Use:   "show <owner>",
	Short: "Show an owner's balance",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsShow,
}

var creditsGrantCmd = &cobra.Command{
	Use:   "grant <owner> <amount>",
	Short: "Add credits to an owner's account",
	Args:  cobra.ExactArgs(2),
	RunE:  runCreditsGrant,
}

var creditsEntriesCmd = &cobra.Command{
	Use:   "entries <owner>",
	Short: "List ledger entries, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditsEntries,
}

var (
	creditsReason string
	creditsLimit  int
)

func init() {
	creditsGrantCmd.Flags().StringVar(&creditsReason, "reason", credits.ReasonGrant, "Reason recorded on the ledger entry")
	creditsEntriesCmd.Flags().IntVarP(&creditsLimit, "limit", "n", 20, "Maximum number of entries")

	CreditsCmd.AddCommand(creditsShowCmd)
	CreditsCmd.AddCommand(creditsGrantCmd)
	CreditsCmd.AddCommand(creditsEntriesCmd)
}

// openLedger opens the database and a ledger using the configured grant
func openLedger(cmd *cobra.Command) (*credits.Ledger, func(), error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load config")
	}
	dbPath, _ := cmd.Flags().GetString("db-path")
	database, _, err := openDatabase(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return credits.NewLedger(database, cfg.Credits.DefaultGrant), func() { database.Close() }, nil
}

func runCreditsShow(cmd *cobra.Command, args []string) error {
	ledger, closeDB, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	acc, err := ledger.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	pterm.Info.Printf("%s has %d credits (updated %s)\n", acc.OwnerID, acc.CreditsRemaining, acc.UpdatedAt.Local().Format(time.DateTime))
	return nil
}

func runCreditsGrant(cmd *cobra.Command, args []string) error {
	amount, err := strconv.Atoi(args[1])
	if err != nil || amount <= 0 {
		return errors.Newf("amount must be a positive integer, got %q", args[1])
	}

	ledger, closeDB, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	acc, err := ledger.Grant(cmd.Context(), args[0], amount, creditsReason)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Granted %d credits to %s, balance %d\n", amount, acc.OwnerID, acc.CreditsRemaining)
	return nil
}

func runCreditsEntries(cmd *cobra.Command, args []string) error {
	ledger, closeDB, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	entries, err := ledger.Entries(cmd.Context(), args[0], creditsLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		pterm.Info.Printf("No ledger entries for %s\n", args[0])
		return nil
	}

	data := pterm.TableData{{"When", "Delta", "Balance", "Reason", "Job", "Batch"}}
	for _, e := range entries {
		data = append(data, []string{
			e.CreatedAt.Local().Format(time.DateTime),
			fmt.Sprintf("%+d", e.Delta),
			strconv.Itoa(e.BalanceAfter),
			e.Reason,
			shortOrDash(e.JobID),
			shortOrDash(e.BatchID),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
