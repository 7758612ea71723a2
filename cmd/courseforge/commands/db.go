package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/courseforge/db"
	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/pulse/async"
)

// DbCmd groups database maintenance commands
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the courseforge database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied migrations and job counts",
	RunE:  runDbStatus,
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Hide settled jobs older than a cutoff from listings",
	Long: `Soft-delete completed and failed jobs last updated before the cutoff.
Rows stay in the database; they are only excluded from listings.`,
	RunE: runDbCleanup,
}

var cleanupDays int

func init() {
	dbCleanupCmd.Flags().IntVar(&cleanupDays, "older-than-days", 30, "Age in days after which settled jobs are hidden")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatusCmd)
	DbCmd.AddCommand(dbCleanupCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db-path")
	if dbPath == "" {
		resolved, err := resolveDBPath()
		if err != nil {
			return err
		}
		dbPath = resolved
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	before, err := db.AppliedVersions(database)
	if err != nil {
		// A fresh database has no bookkeeping table yet
		before = nil
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrapf(err, "failed to migrate %s", dbPath)
	}
	after, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}
	pterm.Success.Printf("%s: %d migrations applied (%d new)\n", dbPath, len(after), len(after)-len(before))
	return nil
}

func runDbStatus(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db-path")
	database, path, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	versions, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}
	counts, err := async.NewStore(database).CountByStatus(cmd.Context())
	if err != nil {
		return err
	}

	pterm.DefaultSection.Println(path)
	data := pterm.TableData{{"Migration"}}
	for _, v := range versions {
		data = append(data, []string{v})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	jobs := pterm.TableData{{"Status", "Jobs"}}
	for _, s := range []async.JobStatus{async.JobStatusPending, async.JobStatusProcessing, async.JobStatusCompleted, async.JobStatusFailed} {
		jobs = append(jobs, []string{string(s), fmt.Sprintf("%d", counts[s])})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(jobs).Render()
}

func runDbCleanup(cmd *cobra.Command, args []string) error {
	if cleanupDays <= 0 {
		return errors.Newf("--older-than-days must be positive, got %d", cleanupDays)
	}
	dbPath, _ := cmd.Flags().GetString("db-path")
	database, _, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	n, err := async.NewQueue(database).Cleanup(cmd.Context(), time.Duration(cleanupDays)*24*time.Hour)
	if err != nil {
		return err
	}
	pterm.Success.Printf("Hid %d settled jobs older than %d days\n", n, cleanupDays)
	return nil
}
