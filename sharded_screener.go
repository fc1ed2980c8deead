// Sharded worker pool:
// Every account is pinned to one worker, so its transactions reach the
// registry in feed order while unrelated accounts run in parallel.
// Decisions are written back by feed position, so output order never
// depends on scheduling.

package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

type screenJob struct {
	index int
	tx    Transaction
}

// ShardedScreener fans transactions out to a fixed pool of workers by account.
type ShardedScreener struct {
	registry    *Registry
	WorkerCount int
}

func NewShardedScreener(registry *Registry, workerCount int) ShardedScreener {
	if workerCount <= 0 {
		workerCount = DefaultWorkers
	}
	return ShardedScreener{
		registry:    registry,
		WorkerCount: workerCount,
	}
}

func (s ShardedScreener) Screen(ctx context.Context, transactions []Transaction) ([]Decision, error) {
	decisions := make([]Decision, len(transactions))

	shards := make([]chan screenJob, s.WorkerCount)
	for i := range shards {
		shards[i] = make(chan screenJob, 256)
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, jobs := range shards {
		g.Go(func() error {
			return s.worker(ctx, jobs, decisions)
		})
	}

	g.Go(func() error {
		defer func() {
			for _, jobs := range shards {
				close(jobs)
			}
		}()

		for i, tx := range transactions {
			select {
			case shards[s.shardFor(tx.AccountID)] <- screenJob{index: i, tx: tx}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decisions, nil
}

// worker owns every account hashed to its shard.
func (s ShardedScreener) worker(ctx context.Context, jobs <-chan screenJob, decisions []Decision) error {
	for job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}

		alert, err := s.registry.Process(job.tx)
		if err != nil {
			return fmt.Errorf("transaction %d (%s): %w", job.index, job.tx, err)
		}
		decisions[job.index] = Decision{Transaction: job.tx, Alert: alert}
	}
	return nil
}

func (s ShardedScreener) shardFor(accountID int64) int {
	return int(uint64(accountID) % uint64(s.WorkerCount))
}
