package websocket

import (
	"time"

	"github.com/stemsi/exstem-attempts/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionStatus   Action = "status"
	ActionPing     Action = "ping"
)

// Request is a single client message. Answer fields are only read for autosave.
type Request struct {
	Action            Action   `json:"action"`
	QuestionID        string   `json:"question_id"`
	SelectedOptionIDs []string `json:"selected_option_ids"`
	WrittenText       *string  `json:"written_text"`
	TimeSpentSeconds  int      `json:"time_spent_seconds"`
}

// AnswerRequest converts an autosave message into the HTTP answer payload so both
// paths share validation rules.
func (r Request) AnswerRequest() model.SubmitAnswerRequest {
	return model.SubmitAnswerRequest{
		QuestionID:        r.QuestionID,
		SelectedOptionIDs: r.SelectedOptionIDs,
		WrittenText:       r.WrittenText,
		TimeSpentSeconds:  r.TimeSpentSeconds,
	}
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventFinalized Event = "finalized"
	EventStatus    Event = "status"
	EventPong      Event = "pong"
)

type SavedResponse struct {
	Event      Event  `json:"event"`
	QuestionID string `json:"question_id"`
}

type FinalizedResponse struct {
	Event  Event                `json:"event"`
	Result *model.ScoredAttempt `json:"result"`
}

type StatusResponse struct {
	Event  Event                    `json:"event"`
	Status *model.AttemptStatusView `json:"status"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event      Event     `json:"event"`
	ServerTime time.Time `json:"server_time"`
}
