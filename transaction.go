package main

import (
	"errors"
	"fmt"
	"time"
)

// TimeLayout is the time-of-day layout used by the feed and by every report line.
const TimeLayout = "15:04:05"

// MaxTransactionAmount is the largest amount a single transaction may carry,
// in the smallest currency unit.
const MaxTransactionAmount int64 = 1_000_000_000_000_000

var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrAccountMismatch    = errors.New("transaction does not belong to this account")
)

type Transaction struct {
	Timestamp time.Time
	Amount    int64
	AccountID int64
}

func NewTransaction(timestamp time.Time, amount int64, accountID int64) Transaction {
	return Transaction{
		Timestamp: timestamp,
		Amount:    amount,
		AccountID: accountID,
	}
}

// Validate reports whether the transaction can enter a window.
func (t Transaction) Validate() error {
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidTransaction)
	}
	if t.Amount < 0 {
		return fmt.Errorf("%w: negative amount %d", ErrInvalidTransaction, t.Amount)
	}
	if t.Amount > MaxTransactionAmount {
		return fmt.Errorf("%w: amount %d above ceiling %d", ErrInvalidTransaction, t.Amount, MaxTransactionAmount)
	}
	return nil
}

func (t Transaction) String() string {
	return fmt.Sprintf("%s %d %d", t.Timestamp.Format(TimeLayout), t.Amount, t.AccountID)
}

// transactionPayload is the JSON form accepted over HTTP and from the feed topic.
type transactionPayload struct {
	Timestamp string `json:"timestamp"`
	Amount    *int64 `json:"amount"`
	AccountID *int64 `json:"account_id"`
}

func (p transactionPayload) transaction() (Transaction, error) {
	if p.Timestamp == "" || p.Amount == nil || p.AccountID == nil {
		return Transaction{}, fmt.Errorf("%w: timestamp, amount and account_id are required", ErrInvalidTransaction)
	}
	ts, err := parseTimestamp(p.Timestamp)
	if err != nil {
		return Transaction{}, fmt.Errorf("%w: timestamp must be HH:MM:SS", ErrInvalidTransaction)
	}

	tx := NewTransaction(ts, *p.Amount, *p.AccountID)
	return tx, tx.Validate()
}
