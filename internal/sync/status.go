package sync

import (
	"time"

	"github.com/tonimelisma/offlineq/internal/queue"
)

// Status is the value broadcast to sync status listeners.
type Status string

// Sync statuses.
const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// StatusEvent pairs a status with the number of actions still queued.
type StatusEvent struct {
	Status  Status `json:"status"`
	Pending int    `json:"pending"`
}

// State is the orchestrator's state machine position.
type State int

// Orchestrator states.
const (
	StateIdle State = iota
	StateSyncing
)

func (s State) String() string {
	if s == StateSyncing {
		return "syncing"
	}

	return "idle"
}

// Outcome says why an action left the queue without succeeding.
type Outcome string

// Action outcomes reported through OnActionReport.
const (
	OutcomeAbandoned Outcome = "abandoned"
	OutcomeDiscarded Outcome = "resolved-discarded"
)

// Report describes an action that left the queue without being applied
// remotely.
type Report struct {
	ActionID string           `json:"action_id"`
	Entity   string           `json:"entity"`
	Type     queue.ActionType `json:"-"`
	Outcome  Outcome          `json:"outcome"`
	Reason   string           `json:"reason"`
	At       time.Time        `json:"at"`
}
