package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/generation"
)

// BatchCmd groups batch commands
var BatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run batches of generation requests",
}

var batchRunCmd = &cobra.Command{
	Use:   "run <items.json>",
	Short: "Charge for and run a batch, waiting for every member",
	Long: `Run a batch read from a JSON file holding an array of requests:

  [
    {"jobType": "script", "parentEntityId": "<lesson-id>"},
    {"jobType": "quiz", "parentEntityId": "<lesson-id>", "config": {"question_count": 8}}
  ]

The whole batch is priced and debited upfront. Members run in windows;
a failed member does not stop the others.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

var batchOwner string

func init() {
	batchRunCmd.Flags().StringVar(&batchOwner, "owner", "", "Owner id to charge (required)")
	_ = batchRunCmd.MarkFlagRequired("owner")
	BatchCmd.AddCommand(batchRunCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", args[0])
	}
	var items []generation.Request
	if err := json.Unmarshal(data, &items); err != nil {
		return errors.Wrapf(err, "failed to parse %s", args[0])
	}

	dbPath, _ := cmd.Flags().GetString("db-path")
	a, err := openApp(cmd.Context(), appOptions{dbPath: dbPath})
	if err != nil {
		return err
	}
	defer a.Close()

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Running %d items in windows of %d", len(items), a.batches.WindowSize()))
	summary, err := a.batches.RunSync(cmd.Context(), batchOwner, items)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	if summary.Failed > 0 {
		spinner.Warning(fmt.Sprintf("Batch %s: %d succeeded, %d failed", shortOrDash(summary.BatchID), summary.Succeeded, summary.Failed))
	} else {
		spinner.Success(fmt.Sprintf("Batch %s: all %d succeeded", shortOrDash(summary.BatchID), summary.Total))
	}

	rows := pterm.TableData{{"Job", "Type", "Status", "Error"}}
	members, err := a.jobs.ListByBatch(cmd.Context(), batchOwner, summary.BatchID)
	if err != nil {
		return err
	}
	for _, j := range members {
		rows = append(rows, []string{shortOrDash(j.ID), j.JobType, statusLabel(j.Status), truncate(j.ErrorMessage, 50)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
