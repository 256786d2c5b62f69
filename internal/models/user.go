package models

// UserRole distinguishes paying clients from earning readers.
type UserRole string

const (
	RoleClient UserRole = "client"
	RoleReader UserRole = "reader"
	RoleAdmin  UserRole = "admin"
)

// UserLedger is the billing-relevant slice of a user. Amounts are minor units.
type UserLedger struct {
	UserID          string   `json:"userId" db:"id"`
	Role            UserRole `json:"role" db:"role"`
	Balance         int64    `json:"balance" db:"balance"`
	PendingEarnings int64    `json:"pendingEarnings" db:"pending_earnings"`
	Earnings        int64    `json:"earnings" db:"earnings"`
	ChatRate        int64    `json:"chatRate" db:"chat_rate"`
	VoiceRate       int64    `json:"voiceRate" db:"voice_rate"`
	VideoRate       int64    `json:"videoRate" db:"video_rate"`
}

// RateFor returns the reader's per-minute price for mode.
func (u *UserLedger) RateFor(mode SessionMode) int64 {
	switch mode {
	case ModeChat:
		return u.ChatRate
	case ModeVoice:
		return u.VoiceRate
	case ModeVideo:
		return u.VideoRate
	}
	return 0
}
