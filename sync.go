package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/offlineq/internal/config"
	"github.com/tonimelisma/offlineq/internal/sync"
)

// errSyncIncomplete makes the process exit with exitSyncIncomplete when a
// run left actions queued or abandoned some. The report has already been
// printed, so main does not print it again.
var errSyncIncomplete = errors.New("sync incomplete")

const exitSyncIncomplete = 2

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send pending actions to the server once",
		Long: `Run one sync pass: dispatch every pending action in FIFO order, retry
transient failures up to each action's retry ceiling, and resolve conflicts
with last-write-wins.

Exits 0 when the queue drained cleanly, 2 when actions remain queued or some
were abandoned. Does nothing when the network is offline.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}
}

// syncResult is the JSON shape of a sync pass.
type syncResult struct {
	Ran        bool        `json:"ran"`
	Status     sync.Status `json:"status"`
	Attempted  int         `json:"attempted"`
	Succeeded  int         `json:"succeeded"`
	Retried    int         `json:"retried"`
	Abandoned  int         `json:"abandoned"`
	Discarded  int         `json:"discarded"`
	Remaining  int         `json:"remaining"`
	DurationMS int64       `json:"duration_ms"`
}

func runSync(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	if cc.Cfg.BaseURL == "" {
		return fmt.Errorf("base_url not configured; set it in the config file or via %s", config.EnvBaseURL)
	}

	network, prober := newNetworkMonitor(cc)

	a, err := openApp(ctx, cc, network, prober)
	if err != nil {
		return err
	}
	defer a.Close()

	unsub := a.engine.OnActionReport(func(r sync.Report) {
		cc.Statusf("%s: %s %s %s: %s\n", r.Outcome, r.Type, r.Entity, r.ActionID, r.Reason)
	})
	defer unsub()

	report, err := a.engine.SyncReport(ctx)
	if err != nil {
		return err
	}

	if report == nil {
		return printSkippedSync(cmd, cc, a)
	}

	if cc.Flags.JSON {
		if err := printJSON(cmd.OutOrStdout(), syncResult{
			Ran:        true,
			Status:     report.Status,
			Attempted:  report.Attempted,
			Succeeded:  report.Succeeded,
			Retried:    report.Retried,
			Abandoned:  report.Abandoned,
			Discarded:  report.Discarded,
			Remaining:  report.Remaining,
			DurationMS: report.Duration.Milliseconds(),
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Sent %d, retried %d, abandoned %d, discarded %d; %d pending (%s)\n",
			report.Succeeded, report.Retried, report.Abandoned, report.Discarded, report.Remaining, report.Status)
	}

	if report.Status == sync.StatusError {
		return errSyncIncomplete
	}

	return nil
}

func printSkippedSync(cmd *cobra.Command, cc *CLIContext, a *app) error {
	pending, err := a.engine.PendingCount(cmd.Context())
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), syncResult{Status: sync.StatusIdle, Remaining: pending})
	}

	cc.Statusf("Offline: %d actions stay queued\n", pending)

	return nil
}
