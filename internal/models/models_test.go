package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEndReason_TerminalState(t *testing.T) {
	cases := map[EndReason]SessionState{
		EndCompleted:         StateCompleted,
		EndDisconnected:      StateDisconnected,
		EndInsufficientFunds: StateInsufficientFunds,
		EndError:             StateError,
		EndExpired:           StateExpired,
	}
	for reason, want := range cases {
		t.Run(string(reason), func(t *testing.T) {
			assert.True(t, reason.Valid())
			assert.Equal(t, want, reason.TerminalState())
			assert.True(t, reason.TerminalState().IsTerminal())
		})
	}

	assert.False(t, EndReason("bogus").Valid())
}

func TestSessionState_IsTerminal(t *testing.T) {
	assert.False(t, StatePending.IsTerminal())
	assert.False(t, StateConnecting.IsTerminal())
	assert.False(t, StateActive.IsTerminal())
	assert.True(t, StateExpired.IsTerminal())
}

func TestSession_LastActivity(t *testing.T) {
	created := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	connected := created.Add(time.Minute)
	ticked := connected.Add(3 * time.Minute)

	s := Session{CreatedAt: created}
	assert.Equal(t, created, s.LastActivity())

	s.ConnectedAt = &connected
	assert.Equal(t, connected, s.LastActivity())

	s.LastTickAt = &ticked
	assert.Equal(t, ticked, s.LastActivity())
}

func TestSessionEndedEvent_HidesErrorCause(t *testing.T) {
	s := &Session{ID: "room-1", ReaderID: "r", ClientID: "c", State: StateError}
	ev := SessionEndedEvent(s, &SettlementLog{EndReason: EndError}, time.Now())

	assert.Equal(t, EventSessionEnded, ev.Type)
	assert.Equal(t, "session ended unexpectedly", ev.Message)
	assert.ElementsMatch(t, []string{"r", "c"}, ev.UserIDs)

	ev = SessionEndedEvent(s, &SettlementLog{EndReason: EndCompleted}, time.Now())
	assert.Empty(t, ev.Message)
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "90.00", FormatMinor(9000))
	assert.Equal(t, "0.07", FormatMinor(7))
	assert.Equal(t, "-4.50", FormatMinor(-450))
}

func TestUserLedger_RateFor(t *testing.T) {
	u := UserLedger{ChatRate: 300, VoiceRate: 450, VideoRate: 600}
	assert.Equal(t, int64(300), u.RateFor(ModeChat))
	assert.Equal(t, int64(450), u.RateFor(ModeVoice))
	assert.Equal(t, int64(600), u.RateFor(ModeVideo))
	assert.Zero(t, u.RateFor(SessionMode("fax")))
}
