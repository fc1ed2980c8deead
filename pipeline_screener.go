// Fan-out/Fan-in pipeline:
// Streaming feed: transactions arrive on a channel and decisions leave on
// another as soon as every earlier transaction has been decided.
// Stages: sequence and route by account -> per-shard workers -> reorder.

package main

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

type sequencedTx struct {
	seq int
	tx  Transaction
}

type sequencedDecision struct {
	seq int
	Decision
}

// PipelineScreener streams a feed through the registry with per-account
// workers and emits decisions in submission order.
type PipelineScreener struct {
	registry    *Registry
	WorkerCount int
}

func NewPipelineScreener(registry *Registry, workerCount int) PipelineScreener {
	if workerCount <= 0 {
		workerCount = DefaultWorkers
	}
	return PipelineScreener{
		registry:    registry,
		WorkerCount: workerCount,
	}
}

// Stream consumes in until it is closed. Decisions are delivered in the order
// transactions were received. The error channel yields at most one error once
// the decision channel is closed. Callers must drain decisions or cancel ctx.
func (p PipelineScreener) Stream(ctx context.Context, in <-chan Transaction) (<-chan Decision, <-chan error) {
	out := make(chan Decision, 1000)
	errc := make(chan error, 1)

	g, ctx := errgroup.WithContext(ctx)

	shards := p.fanOut(ctx, g, in)
	results := p.process(ctx, g, shards)
	g.Go(func() error {
		return p.fanIn(ctx, results, out)
	})

	go func() {
		err := g.Wait()
		close(out)
		if err != nil {
			errc <- err
		}
		close(errc)
	}()

	return out, errc
}

// Screen runs a finite feed through Stream and collects the decisions.
func (p PipelineScreener) Screen(ctx context.Context, transactions []Transaction) ([]Decision, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	in := make(chan Transaction)
	go func() {
		defer close(in)
		for _, tx := range transactions {
			select {
			case in <- tx:
			case <-streamCtx.Done():
				return
			}
		}
	}()

	out, errc := p.Stream(streamCtx, in)

	decisions := make([]Decision, 0, len(transactions))
	for d := range out {
		decisions = append(decisions, d)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return decisions, nil
}

func (p PipelineScreener) fanOut(ctx context.Context, g *errgroup.Group, in <-chan Transaction) []chan sequencedTx {
	shards := make([]chan sequencedTx, p.WorkerCount)
	for i := range shards {
		shards[i] = make(chan sequencedTx, 256)
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()

		for seq := 0; ; seq++ {
			select {
			case tx, ok := <-in:
				if !ok {
					return nil
				}
				shard := shards[int(uint64(tx.AccountID)%uint64(len(shards)))]
				select {
				case shard <- sequencedTx{seq: seq, tx: tx}:
				case <-ctx.Done():
					return ctx.Err()
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	return shards
}

func (p PipelineScreener) process(ctx context.Context, g *errgroup.Group, shards []chan sequencedTx) <-chan sequencedDecision {
	results := make(chan sequencedDecision, 1000)
	var wg sync.WaitGroup

	for _, jobs := range shards {
		wg.Add(1)

		g.Go(func() error {
			defer wg.Done()

			for job := range jobs {
				if err := ctx.Err(); err != nil {
					return err
				}

				alert, err := p.registry.Process(job.tx)
				if err != nil {
					return fmt.Errorf("transaction %d (%s): %w", job.seq, job.tx, err)
				}

				select {
				case results <- sequencedDecision{seq: job.seq, Decision: Decision{Transaction: job.tx, Alert: alert}}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// fanIn restores submission order: a decision is held back until every
// decision with a lower sequence number has been sent.
func (p PipelineScreener) fanIn(ctx context.Context, results <-chan sequencedDecision, out chan<- Decision) error {
	pending := make(map[int]Decision)
	next := 0

	for r := range results {
		pending[r.seq] = r.Decision

		for {
			d, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)

			select {
			case out <- d:
			case <-ctx.Done():
				return ctx.Err()
			}
			next++
		}
	}

	return nil
}
