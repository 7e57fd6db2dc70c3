package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/offlineq/internal/config"
	"github.com/tonimelisma/offlineq/internal/netstate"
	"github.com/tonimelisma/offlineq/internal/queue"
	"github.com/tonimelisma/offlineq/internal/sync"
)

// stdinPayload is the --payload value that reads the payload from stdin.
const stdinPayload = "-"

func newEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Append an action to the queue",
		Long: `Append a CREATE, UPDATE or DELETE action to the durable queue.

The action is stored locally and is not sent until "offlineq sync" runs or a
running "offlineq watch" daemon picks it up. If a daemon is running it is
woken immediately.

Examples:
  offlineq enqueue --entity jobs --payload '{"title":"Fix pump"}'
  offlineq enqueue --entity jobs --type update --payload '{"id":"42","status":"done"}'
  echo '{"id":"42"}' | offlineq enqueue --entity jobs --type delete --payload -`,
		Args: cobra.NoArgs,
		RunE: runEnqueue,
	}

	cmd.Flags().String("entity", "", "entity (resource collection) the action targets")
	cmd.Flags().String("type", "create", "action type: create, update or delete")
	cmd.Flags().String("payload", "", `JSON payload, or "-" to read it from stdin`)
	cmd.Flags().Int("max-retries", 0, "retry ceiling for this action (default from config)")
	cmd.Flags().String("invalidate", "", "cache key announced when the action succeeds")

	cmd.MarkFlagRequired("entity")
	cmd.MarkFlagRequired("payload")

	return cmd
}

func runEnqueue(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	draft, err := draftFromFlags(cmd)
	if err != nil {
		return err
	}

	// Enqueue never dispatches in-process: the command exits right away, so
	// a background sync would be cut short. Sending is left to sync/watch.
	a, err := openApp(ctx, cc, netstate.NewStatic(false, cc.Logger), nil)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := a.engine.Enqueue(ctx, draft)
	if err != nil {
		var verr *queue.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("invalid action: %w", err)
		}

		return err
	}

	pending, err := a.engine.PendingCount(ctx)
	if err != nil {
		return err
	}

	wakeDaemon(cc)

	if cc.Flags.JSON {
		return printJSON(cmd.OutOrStdout(), map[string]any{"id": id, "pending": pending})
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
	cc.Statusf("Queued %s %s (%d pending)\n", draft.Type, draft.Entity, pending)

	return nil
}

func draftFromFlags(cmd *cobra.Command) (sync.Draft, error) {
	entity, _ := cmd.Flags().GetString("entity")
	typName, _ := cmd.Flags().GetString("type")
	raw, _ := cmd.Flags().GetString("payload")
	maxRetries, _ := cmd.Flags().GetInt("max-retries")
	invalidate, _ := cmd.Flags().GetString("invalidate")

	typ, err := queue.ParseActionType(typName)
	if err != nil {
		return sync.Draft{}, fmt.Errorf("--type: %w", err)
	}

	payload := []byte(raw)
	if raw == stdinPayload {
		payload, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return sync.Draft{}, fmt.Errorf("reading payload from stdin: %w", err)
		}
	}

	return sync.Draft{
		Type:            typ,
		Entity:          entity,
		Payload:         json.RawMessage(payload),
		MaxRetries:      maxRetries,
		InvalidationKey: invalidate,
	}, nil
}

// wakeDaemon sends SIGHUP to a running watch daemon for this queue so it
// syncs now instead of at the next poll. No daemon is not an error.
func wakeDaemon(cc *CLIContext) {
	pidPath := config.PIDPath(cc.Cfg.EffectiveDBPath())

	err := signalDaemon(pidPath, syscall.SIGHUP)
	if errors.Is(err, errNoDaemon) {
		return
	}

	if err != nil {
		cc.Logger.Debug("could not wake watch daemon", slog.String("error", err.Error()))

		return
	}

	cc.Logger.Debug("woke watch daemon", slog.String("pid_file", pidPath))
}
