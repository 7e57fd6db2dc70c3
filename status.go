package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/offlineq/internal/config"
)

// Network state labels for status reporting.
const (
	networkOnline  = "online"
	networkOffline = "offline"
	networkForced  = "offline (--offline)"
)

// statusAbandonedWindow is how many recent abandoned entries status inspects.
const statusAbandonedWindow = 100

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue, network and daemon status",
		Long: `Display the number of pending actions, recent abandoned actions, current
connectivity as seen by the configured probe, and whether a watch daemon is
running for this queue.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

// statusReport holds everything status prints.
type statusReport struct {
	ConfigPath    string `json:"config_path"`
	DBPath        string `json:"db_path"`
	BaseURL       string `json:"base_url,omitempty"`
	Pending       int    `json:"pending"`
	Abandoned     int    `json:"recent_abandoned"`
	LastAbandoned string `json:"last_abandoned,omitempty"`
	Network       string `json:"network"`
	DaemonPID     int    `json:"daemon_pid,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	network, prober := newNetworkMonitor(cc)

	a, err := openApp(ctx, cc, network, prober)
	if err != nil {
		return err
	}
	defer a.Close()

	pending, err := a.engine.PendingCount(ctx)
	if err != nil {
		return err
	}

	abandoned, err := a.engine.Abandoned(ctx, statusAbandonedWindow)
	if err != nil {
		return err
	}

	report := statusReport{
		ConfigPath: cc.CfgPath,
		DBPath:     cc.Cfg.EffectiveDBPath(),
		BaseURL:    cc.Cfg.BaseURL,
		Pending:    pending,
		Abandoned:  len(abandoned),
		Network:    networkLabel(ctx, cc, a),
	}

	if len(abandoned) > 0 {
		report.LastAbandoned = formatTime(abandoned[0].AbandonedAt)
	}

	if proc, err := findDaemon(config.PIDPath(report.DBPath)); err == nil {
		report.DaemonPID = proc.Pid
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), report)
	}

	printStatusText(cmd.OutOrStdout(), &report)

	return nil
}

func networkLabel(ctx context.Context, cc *CLIContext, a *app) string {
	switch {
	case cc.Flags.Offline:
		return networkForced
	case a.network.IsOnline(ctx):
		return networkOnline
	default:
		return networkOffline
	}
}

func printStatusText(w io.Writer, r *statusReport) {
	fmt.Fprintf(w, "Config:     %s\n", r.ConfigPath)
	fmt.Fprintf(w, "Queue:      %s\n", r.DBPath)

	if r.BaseURL != "" {
		fmt.Fprintf(w, "Server:     %s\n", r.BaseURL)
	} else {
		fmt.Fprintf(w, "Server:     (not set)\n")
	}

	fmt.Fprintf(w, "Network:    %s\n", r.Network)
	fmt.Fprintf(w, "Pending:    %d\n", r.Pending)

	if r.Abandoned > 0 {
		fmt.Fprintf(w, "Abandoned:  %d recent, last %s\n", r.Abandoned, r.LastAbandoned)
	} else {
		fmt.Fprintf(w, "Abandoned:  0\n")
	}

	if r.DaemonPID > 0 {
		fmt.Fprintf(w, "Daemon:     running (PID %d)\n", r.DaemonPID)
	} else {
		fmt.Fprintf(w, "Daemon:     not running\n")
	}
}
