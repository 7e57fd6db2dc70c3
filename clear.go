package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/offlineq/internal/netstate"
)

func newClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Discard every pending action",
		Long: `Remove all pending actions from the queue without sending them.

Cleared actions are not recorded in the abandoned-action log. Use this after
signing out or when the queued work is no longer wanted. Requires --yes when
the queue is not empty.`,
		Args: cobra.NoArgs,
		RunE: runClear,
	}

	cmd.Flags().Bool("yes", false, "confirm discarding pending actions")

	return cmd
}

func runClear(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	a, err := openApp(ctx, cc, netstate.NewStatic(false, cc.Logger), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	pending, err := a.engine.PendingCount(ctx)
	if err != nil {
		return err
	}

	if confirmed, _ := cmd.Flags().GetBool("yes"); pending > 0 && !confirmed {
		return fmt.Errorf("refusing to discard %d pending actions without --yes", pending)
	}

	if err := a.engine.Clear(ctx); err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), map[string]int{"cleared": pending})
	}

	cc.Statusf("Cleared %d pending actions\n", pending)

	return nil
}
