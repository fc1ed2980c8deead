package main

import (
	"sync"
	"time"
)

// Registry maps account ids to their windows. Each account gets exactly one
// Window for the lifetime of the registry; windows carry their own lock so
// unrelated accounts never wait on each other.
type Registry struct {
	span      time.Duration
	threshold int64

	mu      sync.RWMutex
	windows map[int64]*Window
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		span:      cfg.AlertWindow(),
		threshold: cfg.ThresholdAmount,
		windows:   make(map[int64]*Window, cfg.MaxAccounts),
	}
}

// Process screens tx against its account's window and reports whether an
// alert must be raised.
//
// Invalid transactions are rejected here, before an account is created.
// Window.Append checks again for callers that use a Window directly.
func (r *Registry) Process(tx Transaction) (bool, error) {
	if err := tx.Validate(); err != nil {
		transactionsProcessed.WithLabelValues("rejected").Inc()
		return false, err
	}

	start := time.Now()

	alert, err := r.window(tx.AccountID).Append(tx)

	processDuration.Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		transactionsProcessed.WithLabelValues("rejected").Inc()
	case alert:
		transactionsProcessed.WithLabelValues("alert").Inc()
		alertsTotal.Inc()
	default:
		transactionsProcessed.WithLabelValues("clear").Inc()
	}

	return alert, err
}

// Snapshot returns the window state for accountID, if the account has been seen.
func (r *Registry) Snapshot(accountID int64) (WindowSnapshot, bool) {
	r.mu.RLock()
	w, ok := r.windows[accountID]
	r.mu.RUnlock()

	if !ok {
		return WindowSnapshot{}, false
	}
	return w.Snapshot(), true
}

// Len returns the number of accounts seen so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.windows)
}

// window returns the account's window, creating it on first use.
func (r *Registry) window(accountID int64) *Window {
	r.mu.RLock()
	w, ok := r.windows[accountID]
	r.mu.RUnlock()
	if ok {
		return w
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another caller may have created it between the two locks.
	if w, ok := r.windows[accountID]; ok {
		return w
	}
	w = NewWindow(accountID, r.span, r.threshold)
	r.windows[accountID] = w
	accountsTracked.Inc()

	return w
}
