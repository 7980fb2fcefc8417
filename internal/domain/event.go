package domain

import (
	"time"

	"github.com/google/uuid"
)

// Level is the severity of an event.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarn    Level = "warning"
	LevelError   Level = "error"
)

// EventKind groups events by what produced them.
type EventKind string

const (
	EventPrice     EventKind = "price"
	EventPurchase  EventKind = "purchase"
	EventSell      EventKind = "sell"
	EventApproval  EventKind = "approval"
	EventBudget    EventKind = "budget"
	EventLifecycle EventKind = "lifecycle"
	EventFailure   EventKind = "failure"
	// EventState carries []AssetView as payload.
	EventState EventKind = "state"
	// EventStatus carries Status as payload.
	EventStatus EventKind = "status"
)

// Event is a notification emitted by trackers and the coordinator.
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"timestamp"`
	Level   Level     `json:"type"`
	Kind    EventKind `json:"kind"`
	AssetID string    `json:"pairId,omitempty"`
	Message string    `json:"message"`
	// ErrorKind classifies failure events, see ErrorKind.
	ErrorKind string `json:"errorKind,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// NewEvent stamps a new event with a unique id and the current time.
func NewEvent(level Level, kind EventKind, assetID, message string) Event {
	return Event{
		ID:      uuid.NewString(),
		Time:    time.Now().UTC(),
		Level:   level,
		Kind:    kind,
		AssetID: assetID,
		Message: message,
	}
}

// WithPayload returns a copy of the event carrying payload.
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// Status is the coordinator run status.
type Status struct {
	Running      bool   `json:"isRunning"`
	ActiveAssets int    `json:"activePairs"`
	Wallet       string `json:"wallet,omitempty"`
}
