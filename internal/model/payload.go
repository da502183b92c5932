package model

import (
	"time"
)

// TwilioCredentials is the outbound channel configuration shipped with a
// job so the worker can send the reply without its own Twilio config.
type TwilioCredentials struct {
	AccountSID string `json:"account_sid"`
	AuthToken  string `json:"auth_token"`
	FromNumber string `json:"from_number"`
}

// Configured reports whether all credential fields are present.
func (c TwilioCredentials) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.FromNumber != ""
}

// JobPayload is the unit transferred across the dispatch boundary. It is
// constructed by the dispatcher, owned exclusively by one worker job, and
// never mutated concurrently.
type JobPayload struct {
	ConversationID string            `json:"conversation_id"`
	InboundText    string            `json:"inbound_text"`
	CallbackURL    string            `json:"callback_url"`
	CallbackToken  string            `json:"callback_token,omitempty"`
	Twilio         TwilioCredentials `json:"twilio_config"`
	Transcript     *Transcript       `json:"transcript,omitempty"`
}

// Action is the terminal outcome of one conversation turn.
type Action string

const (
	ActionSent    Action = "sent"
	ActionSkipped Action = "skipped"
	ActionError   Action = "error"
)

// TurnResult is produced exactly once per turn by the worker. It is
// terminal; there are no retries within a turn.
type TurnResult struct {
	Action  Action `json:"action"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// CompletionReport is the body of the worker's completion callback.
type CompletionReport struct {
	ConversationID string      `json:"conversation_id"`
	Transcript     *Transcript `json:"transcript,omitempty"`
	Result         *TurnResult `json:"result,omitempty"`
}

// ConversationRecord is the durable per-conversation state held by the
// context store.
type ConversationRecord struct {
	Transcript Transcript `json:"transcript"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
