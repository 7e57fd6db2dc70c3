package sync

import (
	"fmt"
	"time"

	"github.com/tonimelisma/offlineq/internal/dispatch"
	"github.com/tonimelisma/offlineq/internal/queue"
)

// Decision is the outcome of conflict resolution.
type Decision int

// Conflict decisions.
const (
	// DecisionDiscard drops the local action.
	DecisionDiscard Decision = iota
	// DecisionOverride re-dispatches the action once with the override flag.
	DecisionOverride
)

func (d Decision) String() string {
	if d == DecisionOverride {
		return "override"
	}

	return "discard"
}

// Resolution carries a decision and, for discards, the reason reported to
// listeners and written to the abandoned-action log.
type Resolution struct {
	Decision Decision
	Reason   string
}

// Policy decides what happens to an action whose dispatch hit a conflict.
type Policy interface {
	Resolve(a *queue.Action, conflict *dispatch.ConflictError) Resolution
}

// LastWriteWins lets the local action through only when it was created after
// the server's last modification. Ties and unknown server times go to the
// server.
type LastWriteWins struct{}

// Resolve implements Policy.
func (LastWriteWins) Resolve(a *queue.Action, conflict *dispatch.ConflictError) Resolution {
	var serverTime time.Time
	if conflict != nil {
		serverTime = conflict.ServerModifiedAt
	}

	if serverTime.IsZero() {
		return Resolution{
			Decision: DecisionDiscard,
			Reason:   "conflict: server modification time unknown, server version kept",
		}
	}

	if a.CreatedAt.After(serverTime) {
		return Resolution{Decision: DecisionOverride}
	}

	return Resolution{
		Decision: DecisionDiscard,
		Reason: fmt.Sprintf("conflict: server modified at %s, local action created at %s",
			serverTime.UTC().Format(time.RFC3339Nano), a.CreatedAt.UTC().Format(time.RFC3339Nano)),
	}
}
