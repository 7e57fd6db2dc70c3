package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/offlineq/internal/netstate"
)

const defaultAbandonedLimit = 20

func newAbandonedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "abandoned",
		Short: "Show actions that were dropped without being applied",
		Long: `List the most recent entries of the abandoned-action log: actions that
failed permanently, ran out of retries, or lost a conflict to a newer server
version. Newest first.`,
		Args: cobra.NoArgs,
		RunE: runAbandoned,
	}

	cmd.Flags().Int("limit", defaultAbandonedLimit, "maximum number of entries to show")

	return cmd
}

func runAbandoned(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	a, err := openApp(ctx, cc, netstate.NewStatic(false, cc.Logger), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.engine.Abandoned(ctx, limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if cc.Flags.JSON {
		views := make([]abandonedView, 0, len(entries))
		for i := range entries {
			views = append(views, newAbandonedView(&entries[i]))
		}

		return printJSON(out, views)
	}

	if len(entries) == 0 {
		cc.Statusf("No abandoned actions.\n")

		return nil
	}

	rows := make([][]string, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		rows = append(rows, []string{
			formatTime(e.AbandonedAt),
			e.ID,
			e.Type.String(),
			e.Entity,
			e.Reason,
		})
	}

	printTable(out, []string{"WHEN", "ID", "TYPE", "ENTITY", "REASON"}, rows)

	return nil
}
