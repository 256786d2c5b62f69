package models

import (
	"time"
)

// EntryType is the accounting side of a ledger entry.
type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// Account names the user column a ledger entry moved.
type Account string

const (
	AccountBalance         Account = "balance"
	AccountPendingEarnings Account = "pending_earnings"
	AccountEarnings        Account = "earnings"
)

// LedgerEntry is an append-only record of a single balance movement.
type LedgerEntry struct {
	ID           string    `json:"id" db:"id"`
	ReferenceID  string    `json:"referenceId" db:"reference_id"`
	UserID       string    `json:"userId" db:"user_id"`
	Account      Account   `json:"account" db:"account"`
	EntryType    EntryType `json:"entryType" db:"entry_type"`
	Amount       int64     `json:"amount" db:"amount"` // in minor units
	BalanceAfter int64     `json:"balanceAfter" db:"balance_after"`
	Reason       string    `json:"reason" db:"reason"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
