package audit

import (
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Event is one money-movement audit record.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Reference string            `json:"reference"`
	UserID    string            `json:"user_id,omitempty"`
	Amount    int64             `json:"amount"`
	Status    string            `json:"status"`
	Details   map[string]string `json:"details,omitempty"`
}

const (
	EventTick       = "BILLING_TICK"
	EventSettlement = "SETTLEMENT"
	EventGift       = "GIFT"
	EventTopUp      = "TOPUP"
	EventError      = "ERROR"
)

// Logger writes audit events on a dedicated zerolog stream tagged audit=true.
type Logger struct {
	log zerolog.Logger
	now func() time.Time
}

func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
		now: time.Now,
	}
}

func (a *Logger) LogTick(sessionID, clientID, readerID string, sequence, amount int64) {
	a.write(Event{
		EventType: EventTick,
		Reference: sessionID,
		UserID:    clientID,
		Amount:    amount,
		Status:    "APPLIED",
		Details: map[string]string{
			"reader_id": readerID,
			"sequence":  formatInt(sequence),
		},
	})
}

func (a *Logger) LogSettlement(sessionID, readerID string, total, readerShare, platformShare int64, endReason string) {
	a.write(Event{
		EventType: EventSettlement,
		Reference: sessionID,
		UserID:    readerID,
		Amount:    total,
		Status:    "SETTLED",
		Details: map[string]string{
			"reader_share":   formatInt(readerShare),
			"platform_share": formatInt(platformShare),
			"end_reason":     endReason,
		},
	})
}

func (a *Logger) LogGift(giftID, recipientID string, amount, readerShare int64, status string) {
	a.write(Event{
		EventType: EventGift,
		Reference: giftID,
		UserID:    recipientID,
		Amount:    amount,
		Status:    status,
		Details:   map[string]string{"reader_share": formatInt(readerShare)},
	})
}

func (a *Logger) LogTopUp(chargeID, userID string, amount int64) {
	a.write(Event{
		EventType: EventTopUp,
		Reference: chargeID,
		UserID:    userID,
		Amount:    amount,
		Status:    "SUCCESS",
	})
}

func (a *Logger) LogError(reference, userID string, err error) {
	a.write(Event{
		EventType: EventError,
		Reference: reference,
		UserID:    userID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) write(event Event) {
	if a == nil {
		return
	}
	event.Timestamp = a.now().UTC()
	entry := a.log.Info()
	if event.EventType == EventError {
		entry = a.log.Error()
	}
	dict := zerolog.Dict()
	for k, v := range event.Details {
		dict = dict.Str(k, v)
	}
	entry.
		Time("event_time", event.Timestamp).
		Str("event_type", event.EventType).
		Str("reference", event.Reference).
		Str("user_id", event.UserID).
		Int64("amount", event.Amount).
		Str("status", event.Status).
		Dict("details", dict).
		Msg("AUDIT")
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
