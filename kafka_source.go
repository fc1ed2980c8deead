package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// TransactionSource pushes transactions onto out until ctx is done or the
// source fails. It never closes out.
type TransactionSource interface {
	Run(ctx context.Context, out chan<- Transaction) error
}

// KafkaSource consumes JSON transactions from the feed topic. Producers key
// messages by account so that one account's transactions stay ordered on a
// single partition.
type KafkaSource struct {
	group  sarama.ConsumerGroup
	topic  string
	logger *slog.Logger
}

func NewKafkaSource(cfg Config, saramaCfg *sarama.Config, logger *slog.Logger) (*KafkaSource, error) {
	if saramaCfg == nil {
		saramaCfg = sarama.NewConfig()
	}
	saramaCfg.Consumer.Return.Errors = true
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	group, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.Group, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSource{group: group, topic: cfg.Kafka.FeedTopic, logger: logger}, nil
}

func (s *KafkaSource) Run(ctx context.Context, out chan<- Transaction) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	handler := feedHandler{out: out, logger: s.logger}
	errs := make(chan error, 1)

	go func() {
		for {
			// Consume returns on every rebalance.
			if err := s.group.Consume(ctx, []string{s.topic}, handler); err != nil {
				errs <- err
				return
			}
			if ctx.Err() != nil {
				errs <- ctx.Err()
				return
			}
		}
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("consume %s: %w", s.topic, err)
	case err := <-s.group.Errors():
		return fmt.Errorf("consumer group: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *KafkaSource) Close() error {
	return s.group.Close()
}

var _ sarama.ConsumerGroupHandler = feedHandler{}

type feedHandler struct {
	out    chan<- Transaction
	logger *slog.Logger
}

func (h feedHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h feedHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim forwards valid messages and marks every message once it has
// been handed over or rejected. Undecodable messages are skipped.
func (h feedHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			tx, err := decodeTransaction(msg.Value)
			if err != nil {
				ingestRowsSkipped.WithLabelValues("message").Inc()
				h.logger.Warn("skipping malformed message",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
				session.MarkMessage(msg, "")
				continue
			}

			select {
			case h.out <- tx:
				session.MarkMessage(msg, "")
			case <-session.Context().Done():
				return nil
			}

		case <-session.Context().Done():
			return nil
		}
	}
}

func decodeTransaction(value []byte) (Transaction, error) {
	var p transactionPayload
	if err := json.Unmarshal(value, &p); err != nil {
		return Transaction{}, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return p.transaction()
}
