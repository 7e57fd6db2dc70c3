package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/offlineq/internal/netstate"
)

func newQueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List pending actions in dispatch order",
		Args:  cobra.NoArgs,
		RunE:  runQueue,
	}
}

func runQueue(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	a, err := openApp(ctx, cc, netstate.NewStatic(false, cc.Logger), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	actions, err := a.engine.Queue(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if cc.Flags.JSON {
		views := make([]actionView, 0, len(actions))
		for i := range actions {
			views = append(views, newActionView(&actions[i]))
		}

		return printJSON(out, views)
	}

	if len(actions) == 0 {
		cc.Statusf("Queue is empty.\n")

		return nil
	}

	now := time.Now()
	rows := make([][]string, 0, len(actions))

	for i := range actions {
		act := &actions[i]
		rows = append(rows, []string{
			act.ID,
			act.Type.String(),
			act.Entity,
			fmt.Sprintf("%d/%d", act.RetryCount, act.MaxRetries),
			formatAge(now, act.CreatedAt),
			truncate(string(act.Payload), maxPayloadWidth),
		})
	}

	printTable(out, []string{"ID", "TYPE", "ENTITY", "RETRIES", "AGE", "PAYLOAD"}, rows)
	cc.Statusf("%d pending\n", len(actions))

	return nil
}
