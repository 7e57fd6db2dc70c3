// Package queue implements the durable action queue: the Action model and a
// crash-safe SQLite store that preserves enqueue order across restarts.
package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxRetries is the retry ceiling applied when an action does not set one.
const DefaultMaxRetries = 3

// ActionType identifies the kind of mutation an action represents.
type ActionType int

// Action types. The store persists the String() form, never the integer.
const (
	ActionCreate ActionType = iota
	ActionUpdate
	ActionDelete
)

func (t ActionType) String() string {
	switch t {
	case ActionCreate:
		return "CREATE"
	case ActionUpdate:
		return "UPDATE"
	case ActionDelete:
		return "DELETE"
	default:
		return fmt.Sprintf("ActionType(%d)", int(t))
	}
}

// Valid reports whether t is one of the known action types.
func (t ActionType) Valid() bool {
	return t >= ActionCreate && t <= ActionDelete
}

// ParseActionType converts a persisted or user-supplied name to ActionType.
// Matching is case-insensitive.
func ParseActionType(s string) (ActionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CREATE":
		return ActionCreate, nil
	case "UPDATE":
		return ActionUpdate, nil
	case "DELETE":
		return ActionDelete, nil
	default:
		return ActionCreate, fmt.Errorf("queue: unknown action type %q", s)
	}
}

// Action is one durable record of an intended remote mutation. Apart from
// RetryCount, an Action is never modified after it has been appended.
type Action struct {
	ID              string
	Type            ActionType
	Entity          string
	Payload         json.RawMessage
	CreatedAt       time.Time
	RetryCount      int
	MaxRetries      int
	InvalidationKey string
}

// Exhausted reports whether one more failure would exceed the retry ceiling.
func (a *Action) Exhausted() bool {
	return a.RetryCount+1 >= a.MaxRetries
}

// AbandonedAction is an entry in the abandoned-action log: an action removed
// from the queue without being applied remotely, and the reason why.
type AbandonedAction struct {
	Action
	AbandonedAt time.Time
	Reason      string
}
