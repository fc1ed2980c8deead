package main

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

// compactAfter is the number of evicted slots tolerated at the head of the
// history buffer before it is copied down.
const compactAfter = 1024

// Window keeps the trailing-window sum for a single account.
//
// History is ordered by timestamp, oldest first. Entries before head have
// been evicted and are only waiting for compaction.
type Window struct {
	mu sync.Mutex

	accountID int64
	span      time.Duration
	threshold int64

	history []Transaction
	head    int
	sum     int64
	latest  time.Time
}

type WindowSnapshot struct {
	AccountID int64     `json:"account_id"`
	Sum       int64     `json:"sum"`
	Count     int       `json:"count"`
	Oldest    time.Time `json:"-"`
	Newest    time.Time `json:"-"`
	Alerting  bool      `json:"alerting"`
}

func NewWindow(accountID int64, span time.Duration, threshold int64) *Window {
	return &Window{
		accountID: accountID,
		span:      span,
		threshold: threshold,
		history:   make([]Transaction, 0, 16),
	}
}

// Append evicts expired entries, adds tx and reports whether the in-window
// sum now exceeds the threshold. Invalid input, including an amount that would
// overflow the sum, leaves the window untouched.
//
// The window edge follows the latest timestamp seen so far. A transaction
// older than that is inserted at its sorted position, or dropped when it
// already falls before the edge.
func (w *Window) Append(tx Transaction) (bool, error) {
	if err := tx.Validate(); err != nil {
		return false, err
	}
	if tx.AccountID != w.accountID {
		return false, fmt.Errorf("%w: got account %d, window owns %d", ErrAccountMismatch, tx.AccountID, w.accountID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	latest := w.latest
	if latest.IsZero() || tx.Timestamp.After(latest) {
		latest = tx.Timestamp
	}
	cutoff := latest.Add(-w.span)

	retained := !tx.Timestamp.Before(cutoff)
	if retained && tx.Amount > math.MaxInt64-w.sumFrom(cutoff) {
		return false, fmt.Errorf("%w: amount %d overflows the window sum of account %d",
			ErrInvalidTransaction, tx.Amount, w.accountID)
	}

	w.latest = latest
	w.evict(cutoff)

	if !retained {
		return w.sum > w.threshold, nil
	}

	w.insert(tx)
	w.sum += tx.Amount

	return w.sum > w.threshold, nil
}

// Snapshot returns the current state of the window.
func (w *Window) Snapshot() WindowSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := WindowSnapshot{
		AccountID: w.accountID,
		Sum:       w.sum,
		Count:     len(w.history) - w.head,
		Alerting:  w.sum > w.threshold,
	}
	if s.Count > 0 {
		s.Oldest = w.history[w.head].Timestamp
		s.Newest = w.history[len(w.history)-1].Timestamp
	}
	return s
}

// sumFrom returns what the sum would be once entries before cutoff are gone.
func (w *Window) sumFrom(cutoff time.Time) int64 {
	sum := w.sum
	for i := w.head; i < len(w.history) && w.history[i].Timestamp.Before(cutoff); i++ {
		sum -= w.history[i].Amount
	}
	return sum
}

// evict drops entries strictly before cutoff. An entry exactly at cutoff stays.
func (w *Window) evict(cutoff time.Time) {
	for w.head < len(w.history) && w.history[w.head].Timestamp.Before(cutoff) {
		w.sum -= w.history[w.head].Amount
		w.history[w.head] = Transaction{}
		w.head++
	}
	w.compact()
}

func (w *Window) insert(tx Transaction) {
	n := len(w.history)
	if n == w.head || !w.history[n-1].Timestamp.After(tx.Timestamp) {
		w.history = append(w.history, tx)
		return
	}

	// Late arrival: place it after every entry with an equal or earlier timestamp.
	live := w.history[w.head:]
	i := sort.Search(len(live), func(i int) bool {
		return live[i].Timestamp.After(tx.Timestamp)
	})
	w.history = slices.Insert(w.history, w.head+i, tx)
}

func (w *Window) compact() {
	if w.head == len(w.history) {
		w.history = w.history[:0]
		w.head = 0
		return
	}
	if w.head < compactAfter || w.head*2 < len(w.history) {
		return
	}

	live := make([]Transaction, len(w.history)-w.head, cap(w.history))
	copy(live, w.history[w.head:])
	w.history = live
	w.head = 0
}
