package websocket

import (
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionNavigate Action = "navigate"
	ActionAnswer   Action = "answer"
	ActionClear    Action = "clear"
	ActionReview   Action = "review"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload carries every client action; unused fields stay empty.
type RequestPayload struct {
	Action  Action `json:"action" binding:"required,oneof=navigate answer clear review submit ping"`
	Index   *int   `json:"index,omitempty" binding:"omitempty,min=0"`
	Option  string `json:"option,omitempty" binding:"omitempty,option"`
	Confirm bool   `json:"confirm,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState     Event = "state"
	EventTick      Event = "tick"
	EventFinalized Event = "finalized"
	EventWarning   Event = "warning"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// StateResponse pushes the full session view after every action.
type StateResponse struct {
	Event Event         `json:"event"`
	State session.State `json:"state"`
}

// TickResponse is pushed once per tick while the attempt is live.
type TickResponse struct {
	Event            Event              `json:"event"`
	RemainingSeconds int                `json:"remaining_seconds"`
	TimerLevel       session.TimerLevel `json:"timer_level"`
}

// FinalizedResponse announces the terminal status; the client leaves the
// attempt and opens the results view.
type FinalizedResponse struct {
	Event     Event               `json:"event"`
	AttemptID string              `json:"attempt_id"`
	Status    model.AttemptStatus `json:"status"`
	Trigger   session.Trigger     `json:"trigger"`
}

// ErrorResponse reports a rejected action. Warnings share the shape.
type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
