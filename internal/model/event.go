package model

import "github.com/google/uuid"

// AttemptEventType enumerates attempt lifecycle events broadcast to listeners.
type AttemptEventType string

const (
	AttemptEventFinalized AttemptEventType = "finalized"
)

// AttemptEvent is published on the attempt's events channel.
type AttemptEvent struct {
	Type      AttemptEventType `json:"type"`
	AttemptID uuid.UUID        `json:"attempt_id"`
	Status    AttemptStatus    `json:"status"`
	Trigger   string           `json:"trigger,omitempty"`
}
