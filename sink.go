package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// Sink receives screening decisions in feed order.
type Sink interface {
	Emit(ctx context.Context, d Decision) error
	Close() error
}

// Emit drives decisions through sink in order and stops at the first failure.
func Emit(ctx context.Context, sink Sink, decisions []Decision) error {
	for _, d := range decisions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sink.Emit(ctx, d); err != nil {
			return fmt.Errorf("emit %s: %w", d, err)
		}
	}
	return nil
}

// LineSink writes "<time> <amount> <account> <Y|N>" per decision.
type LineSink struct {
	mu     sync.Mutex
	w      *bufio.Writer
	logger *slog.Logger
}

func NewLineSink(w io.Writer, logger *slog.Logger) *LineSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LineSink{w: bufio.NewWriter(w), logger: logger}
}

func (s *LineSink) Emit(_ context.Context, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Alert {
		s.logger.Info("alert raised",
			"account_id", d.Transaction.AccountID,
			"amount", d.Transaction.Amount,
			"timestamp", d.Transaction.Timestamp.Format(TimeLayout))
	}

	_, err := fmt.Fprintln(s.w, d.String())
	return err
}

// Close flushes buffered lines. The underlying writer is left open.
func (s *LineSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}

// MultiSink forwards each decision to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, d Decision) error {
	for _, s := range m {
		if err := s.Emit(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
