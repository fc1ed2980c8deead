package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const alertEnvelopeType = "aml_alert"

// Envelope wraps every message published on the alert topic.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"` // unix milli
	Data json.RawMessage `json:"data"`
}

// Alert is the payload published for each flagged transaction.
type Alert struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     int64           `json:"account_id"`
	Timestamp     string          `json:"timestamp"`
	Amount        decimal.Decimal `json:"amount"`
	Threshold     decimal.Decimal `json:"threshold"`
	WindowSeconds int             `json:"window_seconds"`
}

// KafkaSink publishes alerts, keyed by account so that one account's alerts
// stay on one partition. Decisions without an alert are not published.
type KafkaSink struct {
	topic         string
	p             sarama.SyncProducer
	threshold     decimal.Decimal
	windowSeconds int
}

func NewKafkaSink(cfg Config, saramaCfg *sarama.Config) (*KafkaSink, error) {
	if saramaCfg == nil {
		saramaCfg = sarama.NewConfig()
	}
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll

	p, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return newKafkaSink(p, cfg), nil
}

func newKafkaSink(p sarama.SyncProducer, cfg Config) *KafkaSink {
	return &KafkaSink{
		topic:         cfg.Kafka.Topic,
		p:             p,
		threshold:     decimal.NewFromInt(cfg.ThresholdAmount),
		windowSeconds: cfg.AlertWindowSeconds,
	}
}

func (s *KafkaSink) Emit(ctx context.Context, d Decision) error {
	_ = ctx // SyncProducer takes no context

	if !d.Alert {
		return nil
	}

	data, err := json.Marshal(Alert{
		ID:            uuid.New(),
		AccountID:     d.Transaction.AccountID,
		Timestamp:     d.Transaction.Timestamp.Format(TimeLayout),
		Amount:        decimal.NewFromInt(d.Transaction.Amount),
		Threshold:     s.threshold,
		WindowSeconds: s.windowSeconds,
	})
	if err != nil {
		return err
	}
	b, err := json.Marshal(Envelope{
		Type: alertEnvelopeType,
		TS:   time.Now().UnixMilli(),
		Data: data,
	})
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(d.Transaction.AccountID, 10)),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka emit failed: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}
