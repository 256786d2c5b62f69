package models

import (
	"time"
)

// SessionMode is the medium of a billed interaction.
type SessionMode string

const (
	ModeChat  SessionMode = "chat"
	ModeVoice SessionMode = "voice"
	ModeVideo SessionMode = "video"
)

// Valid reports whether m is a known mode.
func (m SessionMode) Valid() bool {
	switch m {
	case ModeChat, ModeVoice, ModeVideo:
		return true
	}
	return false
}

// SessionState is a node of the session state machine. Terminal states are sinks.
type SessionState string

const (
	StatePending           SessionState = "pending"
	StateConnecting        SessionState = "connecting"
	StateActive            SessionState = "active"
	StateCompleted         SessionState = "completed"
	StateDisconnected      SessionState = "disconnected"
	StateInsufficientFunds SessionState = "insufficient_funds"
	StateError             SessionState = "error"
	StateExpired           SessionState = "expired"
)

// IsTerminal reports whether no further transition can leave s.
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateDisconnected, StateInsufficientFunds, StateError, StateExpired:
		return true
	}
	return false
}

// EndReason is recorded on every SettlementLog.
type EndReason string

const (
	EndCompleted         EndReason = "completed"
	EndDisconnected      EndReason = "disconnected"
	EndInsufficientFunds EndReason = "insufficient_funds"
	EndError             EndReason = "error"
	EndExpired           EndReason = "expired"
)

// Valid reports whether r is a known end reason.
func (r EndReason) Valid() bool {
	switch r {
	case EndCompleted, EndDisconnected, EndInsufficientFunds, EndError, EndExpired:
		return true
	}
	return false
}

// TerminalState maps an end reason to the state the session finishes in.
func (r EndReason) TerminalState() SessionState {
	switch r {
	case EndCompleted:
		return StateCompleted
	case EndDisconnected:
		return StateDisconnected
	case EndInsufficientFunds:
		return StateInsufficientFunds
	case EndExpired:
		return StateExpired
	default:
		return StateError
	}
}

// Session is a billed live interaction between a reader and a client.
type Session struct {
	ID                string       `json:"sessionId" db:"room_id"`
	ReaderID          string       `json:"readerId" db:"reader_id"`
	ClientID          string       `json:"clientId" db:"client_id"`
	Mode              SessionMode  `json:"mode" db:"session_type"`
	Rate              int64        `json:"rate" db:"rate"` // minor units per minute
	State             SessionState `json:"state" db:"state"`
	Minutes           int64        `json:"minutes" db:"minutes"`
	AccumulatedAmount int64        `json:"accumulatedAmount" db:"accumulated"`
	CreatedAt         time.Time    `json:"createdAt" db:"created_at"`
	ConnectedAt       *time.Time   `json:"connectedAt,omitempty" db:"connected_at"`
	LastTickAt        *time.Time   `json:"lastTickAt,omitempty" db:"last_tick_at"`
	EndedAt           *time.Time   `json:"endedAt,omitempty" db:"ended_at"`
}

// LastActivity is the most recent moment the session showed signs of life.
func (s *Session) LastActivity() time.Time {
	if s.LastTickAt != nil {
		return *s.LastTickAt
	}
	if s.ConnectedAt != nil {
		return *s.ConnectedAt
	}
	return s.CreatedAt
}

// Tick is one authorized-or-not minute of billing for a session.
// Sequence is the 1-based minute number and makes a tick safe to replay.
type Tick struct {
	SessionID string
	ClientID  string
	ReaderID  string
	Sequence  int64
	Amount    int64
	At        time.Time
}

// SettlementLog is written exactly once per terminated session.
type SettlementLog struct {
	SessionID     string       `json:"sessionId" db:"room_id"`
	ReaderID      string       `json:"readerId" db:"reader_id"`
	ClientID      string       `json:"clientId" db:"client_id"`
	Mode          SessionMode  `json:"mode" db:"session_type"`
	Duration      int64        `json:"duration" db:"duration"` // whole minutes billed
	TotalAmount   int64        `json:"totalAmount" db:"total_amount"`
	ReaderShare   int64        `json:"readerShare" db:"reader_earned"`
	PlatformShare int64        `json:"platformShare" db:"platform_earned"`
	Status        SessionState `json:"status" db:"status"`
	EndReason     EndReason    `json:"endReason" db:"end_reason"`
	CreatedAt     time.Time    `json:"createdAt" db:"created_at"`
}

// Balanced reports whether the shares add up to the total.
func (l *SettlementLog) Balanced() bool {
	return l.ReaderShare+l.PlatformShare == l.TotalAmount
}
