package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/courseforge/am"
	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/pulse/async"
	"github.com/teranos/courseforge/server"
)

// ServeCmd starts the HTTP API
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the courseforge HTTP API",
	Long: `Start the HTTP API, the websocket job event hub and the stuck job sweeper.

Requests are authenticated upstream; the owner arrives in the X-Owner-ID header.
The config file is watched and budget limits are applied on change.`,
	RunE: runServe,
}

var servePort int

func init() {
	ServeCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	dbPath, _ := cmd.Flags().GetString("db-path")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, appOptions{dbPath: dbPath, hub: true})
	if err != nil {
		return err
	}
	defer a.Close()

	port := a.cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	printStartupBanner(a, verbosity, port)

	a.hub.Start(ctx, a.jobs)

	if a.cfg.Pulse.SweepIntervalSeconds > 0 {
		sweeper := async.NewSweeper(a.jobs,
			time.Duration(a.cfg.Pulse.StuckAfterMinutes)*time.Minute,
			time.Duration(a.cfg.Pulse.SweepIntervalSeconds)*time.Second,
			logger.ComponentLogger("sweeper")).
			OnFailed(a.orch.ReleaseAbandoned)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	if path := am.FindProjectConfig(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			logger.Warnw("Config watching disabled", "path", path, "error", err)
		} else {
			watcher.OnReload(a.applyReload)
			watcher.Start()
			defer watcher.Stop()
		}
	}

	var gatherer prometheus.Gatherer
	if a.cfg.Server.Metrics {
		gatherer = a.registry
	}
	srv := server.New(server.Deps{
		Orchestrator:   a.orch,
		Batches:        a.batches,
		Jobs:           a.jobs,
		Ledger:         a.ledger,
		Content:        a.content,
		Hub:            a.hub,
		Gatherer:       gatherer,
		Metrics:        a.metrics,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		ReadTimeout:    time.Duration(a.cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:   time.Duration(a.cfg.Server.WriteTimeoutSeconds) * time.Second,
		Logger:         logger.ComponentLogger("server"),
	})

	err = srv.ListenAndServe(ctx, fmt.Sprintf(":%d", port))
	if err != nil {
		return errors.Wrap(err, "server stopped")
	}
	pterm.Success.Println("Server stopped cleanly")
	return nil
}

// printStartupBanner prints where the API listens and what it is wired to
func printStartupBanner(a *app, verbosity, port int) {
	research := "disabled"
	if a.research.Enabled() {
		research = a.cfg.Research.BaseURL
	}
	redis := "disabled"
	if a.redis != nil {
		redis = a.cfg.Notify.Redis.Addr
	}

	pterm.DefaultHeader.WithFullWidth().Println("courseforge")
	_ = pterm.DefaultTable.WithData(pterm.TableData{
		{"Listen", fmt.Sprintf("http://localhost:%d", port)},
		{"Database", a.dbPath},
		{"Verbosity", logger.VerbosityToLevel(verbosity).String()},
		{"Research", research},
		{"Redis stream", redis},
		{"Batch window", fmt.Sprintf("%d", a.batches.WindowSize())},
	}).Render()
	pterm.Info.Println("Press Ctrl+C to stop")
}
