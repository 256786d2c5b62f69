package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a session or gift notification.
type EventType string

const (
	EventSessionCreated  EventType = "session_created"
	EventSessionActive   EventType = "session_active"
	EventSessionTick     EventType = "session_tick"
	EventSessionEnded    EventType = "session_ended"
	EventGiftSent        EventType = "gift_sent"
	EventGiftProcessed   EventType = "gift_processed"
	EventLivestreamEnded EventType = "livestream_ended"
)

const unexpectedEndMessage = "session ended unexpectedly"

// Event is pushed to the parties of a session and to downstream consumers.
type Event struct {
	Type              EventType      `json:"type"`
	SessionID         string         `json:"sessionId,omitempty"`
	LivestreamID      string         `json:"livestreamId,omitempty"`
	UserIDs           []string       `json:"-"`
	State             SessionState   `json:"state,omitempty"`
	Minutes           int64          `json:"minutes,omitempty"`
	AccumulatedAmount int64          `json:"accumulatedAmount"`
	EndReason         EndReason      `json:"endReason,omitempty"`
	Message           string         `json:"message,omitempty"`
	Settlement        *SettlementLog `json:"settlement,omitempty"`
	Gift              *Gift          `json:"gift,omitempty"`
	At                time.Time      `json:"at"`
}

// SessionEndedEvent builds the user-facing end notification. Error endings
// are reported generically; the cause stays in server logs.
func SessionEndedEvent(s *Session, log *SettlementLog, at time.Time) Event {
	ev := Event{
		Type:              EventSessionEnded,
		SessionID:         s.ID,
		UserIDs:           []string{s.ReaderID, s.ClientID},
		State:             s.State,
		Minutes:           s.Minutes,
		AccumulatedAmount: s.AccumulatedAmount,
		Settlement:        log,
		At:                at,
	}
	if log != nil {
		ev.EndReason = log.EndReason
	}
	if ev.EndReason == EndError {
		ev.Message = unexpectedEndMessage
	}
	return ev
}

// FormatMinor renders a minor-unit amount with two decimals, e.g. 9000 -> "90.00".
func FormatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}
