package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/notify"
	"github.com/teranos/courseforge/pulse/async"
)

// JobsCmd groups job inspection commands
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List, inspect, retry and watch generation jobs",
	Long: `Inspect generation jobs straight from the database.

Examples:
  courseforge jobs ls --owner ada              # Recent jobs for ada
  courseforge jobs show --owner ada <job-id>   # One job with its result
  courseforge jobs retry --owner ada <job-id>  # Rerun a failed job
  courseforge jobs watch --owner ada           # Follow live updates from a running server`,
}

var jobsLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List recent jobs for an owner",
	RunE:    runJobsLs,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job with its config and result",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Rerun a failed job with its stored config",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRetry,
}

var jobsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow job updates from a running server",
	RunE:  runJobsWatch,
}

var (
	jobsOwner     string
	jobsLimit     int
	jobsServerURL string
)

func init() {
	JobsCmd.PersistentFlags().StringVar(&jobsOwner, "owner", "", "Owner id whose jobs to act on (required)")
	_ = JobsCmd.MarkPersistentFlagRequired("owner")

	jobsLsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "Maximum number of jobs to list")
	jobsWatchCmd.Flags().StringVar(&jobsServerURL, "server", "ws://localhost:8470", "Base URL of a running courseforge server")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsShowCmd)
	JobsCmd.AddCommand(jobsRetryCmd)
	JobsCmd.AddCommand(jobsWatchCmd)
}

func runJobsLs(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db-path")
	database, _, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	jobs, err := async.NewQueue(database).ListForOwner(cmd.Context(), jobsOwner, jobsLimit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		pterm.Info.Printf("No jobs for %s\n", jobsOwner)
		return nil
	}

	data := pterm.TableData{{"ID", "Type", "Status", "Attempts", "Batch", "Created", "Error"}}
	for _, j := range jobs {
		data = append(data, []string{
			shortOrDash(j.ID),
			j.JobType,
			statusLabel(j.Status),
			fmt.Sprintf("%d", j.Attempts),
			shortOrDash(j.BatchID),
			j.CreatedAt.Local().Format(time.DateTime),
			truncate(j.ErrorMessage, 40),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db-path")
	database, _, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := async.NewQueue(database).GetOwned(cmd.Context(), jobsOwner, args[0])
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to format job")
	}
	fmt.Println(string(out))
	return nil
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db-path")
	a, err := openApp(cmd.Context(), appOptions{dbPath: dbPath})
	if err != nil {
		return err
	}
	defer a.Close()

	spinner, _ := pterm.DefaultSpinner.Start("Retrying " + args[0])
	out, err := a.orch.Retry(cmd.Context(), jobsOwner, args[0])
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success(fmt.Sprintf("Job %s %s (%d credits used, %d remaining)",
		shortOrDash(out.JobID), out.Status, out.CreditsUsed, out.CreditsRemaining))
	return nil
}

// runJobsWatch subscribes to the server's websocket event hub. Job updates
// only exist inside the serving process, so this talks to it rather than to
// the database.
func runJobsWatch(cmd *cobra.Command, args []string) error {
	u, err := url.Parse(strings.TrimRight(jobsServerURL, "/") + "/ws/events")
	if err != nil {
		return errors.Wrapf(err, "invalid server URL %q", jobsServerURL)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	header.Set(notify.OwnerHeader, jobsOwner)
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		return errors.WithHint(errors.Wrapf(err, "failed to connect to %s", u), "Is `courseforge serve` running?")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	pterm.Info.Printf("Watching jobs for %s (Ctrl+C to stop)\n", jobsOwner)
	for {
		var msg struct {
			Type  string               `json:"type"`
			Job   json.RawMessage      `json:"job"`
			Batch *notify.BatchSummary `json:"batch"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "event stream closed")
		}
		printEvent(msg.Type, msg.Job, msg.Batch)
	}
}

func printEvent(kind string, rawJob json.RawMessage, b *notify.BatchSummary) {
	stamp := time.Now().Format(time.TimeOnly)
	switch kind {
	case "job_update":
		var j async.Job
		if json.Unmarshal(rawJob, &j) == nil {
			fmt.Printf("%s  %-8s %-18s %s\n", stamp, shortOrDash(j.ID), j.JobType, statusLabel(j.Status))
		}
	case notify.EventJobCompleted:
		var j notify.JobSummary
		if json.Unmarshal(rawJob, &j) == nil {
			pterm.Success.Printf("%s  job %s %s, %d credits\n", stamp, shortOrDash(j.JobID), j.Status, j.CreditsUsed)
		}
	case notify.EventBatchCompleted:
		if b != nil {
			pterm.Success.Printf("%s  batch %s settled: %d/%d succeeded\n", stamp, shortOrDash(b.BatchID), b.Succeeded, b.Total)
		}
	}
}

func statusLabel(s async.JobStatus) string {
	switch s {
	case async.JobStatusCompleted:
		return pterm.Green(string(s))
	case async.JobStatusFailed:
		return pterm.Red(string(s))
	case async.JobStatusProcessing:
		return pterm.Yellow(string(s))
	default:
		return string(s)
	}
}

func shortOrDash(id string) string {
	if id == "" {
		return "-"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
