package models

import "errors"

var (
	// Session creation
	ErrInvalidParty = errors.New("invalid session party")
	ErrInvalidMode  = errors.New("invalid session mode")
	ErrInvalidRate  = errors.New("rate must be a positive amount")

	// Billing
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrTickAlreadyApplied = errors.New("billing tick already applied")
	ErrTickOutOfOrder     = errors.New("billing tick out of order")
	ErrSessionNotActive   = errors.New("session is not active")
	ErrLedgerWrite        = errors.New("ledger write failed")

	// Lifecycle
	ErrSessionNotFound     = errors.New("session not found")
	ErrSignalingDesync     = errors.New("signaling state does not match session state")
	ErrDuplicateSettlement = errors.New("session already settled")
	ErrSettlementNotFound  = errors.New("settlement not found")

	// Users, gifts, livestreams
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrGiftNotFound         = errors.New("gift not found")
	ErrGiftAlreadyProcessed = errors.New("gift already processed")
	ErrLivestreamNotFound   = errors.New("livestream not found")
	ErrLivestreamEnded      = errors.New("livestream has ended")
	ErrRateLimited          = errors.New("rate limit exceeded")

	// Payments
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrPaymentUnavailable = errors.New("payment provider unavailable")
)
