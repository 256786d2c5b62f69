package models

import (
	"time"
)

// Gift is a one-off tip sent during a livestream. Rows are write-once:
// after Processed flips to true nothing about the gift changes again.
type Gift struct {
	ID            string     `json:"giftId" db:"id"`
	SenderID      string     `json:"senderId" db:"sender_id"`
	RecipientID   string     `json:"recipientId" db:"recipient_id"`
	LivestreamID  string     `json:"livestreamId" db:"livestream_id"`
	Amount        int64      `json:"amount" db:"amount"`
	ReaderShare   int64      `json:"readerShare" db:"reader_amount"`
	PlatformShare int64      `json:"platformShare" db:"platform_amount"`
	Processed     bool       `json:"processed" db:"processed"`
	CreatedAt     time.Time  `json:"createdAt" db:"created_at"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty" db:"processed_at"`
}

// LivestreamStatus is the broadcast state of a livestream.
type LivestreamStatus string

const (
	LivestreamLive  LivestreamStatus = "live"
	LivestreamEnded LivestreamStatus = "ended"
)

// Livestream is a reader's broadcast that gifts are attached to.
type Livestream struct {
	ID             string           `json:"livestreamId" db:"id"`
	ReaderID       string           `json:"readerId" db:"reader_id"`
	Status         LivestreamStatus `json:"status" db:"status"`
	StartedAt      time.Time        `json:"startedAt" db:"started_at"`
	ScheduledEndAt time.Time        `json:"scheduledEndAt" db:"scheduled_end_at"`
	EndedAt        *time.Time       `json:"endedAt,omitempty" db:"ended_at"`
}
