package main

import (
	"context"
	"fmt"
)

// Screener runs a feed through a registry and returns one decision per
// transaction, in feed order.
type Screener interface {
	Screen(ctx context.Context, transactions []Transaction) ([]Decision, error)
}

type Decision struct {
	Transaction Transaction
	Alert       bool
}

func (d Decision) String() string {
	flag := "N"
	if d.Alert {
		flag = "Y"
	}
	return d.Transaction.String() + " " + flag
}

// NewScreener picks the driver named in the config.
func NewScreener(cfg Config, registry *Registry) (Screener, error) {
	switch cfg.Driver {
	case DriverSequential, "":
		return NewSequentialScreener(registry), nil
	case DriverSharded:
		return NewShardedScreener(registry, cfg.Workers), nil
	case DriverPipeline:
		return NewPipelineScreener(registry, cfg.Workers), nil
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// SequentialScreener submits transactions one at a time in feed order.
type SequentialScreener struct {
	registry *Registry
}

func NewSequentialScreener(registry *Registry) SequentialScreener {
	return SequentialScreener{registry: registry}
}

func (s SequentialScreener) Screen(ctx context.Context, transactions []Transaction) ([]Decision, error) {
	decisions := make([]Decision, 0, len(transactions))

	for i, tx := range transactions {
		if err := ctx.Err(); err != nil {
			return decisions, err
		}

		alert, err := s.registry.Process(tx)
		if err != nil {
			return decisions, fmt.Errorf("transaction %d (%s): %w", i, tx, err)
		}
		decisions = append(decisions, Decision{Transaction: tx, Alert: alert})
	}

	return decisions, nil
}
