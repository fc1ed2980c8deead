package main

import (
	"context"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	sarama.ConsumerGroupSession

	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim

	messages chan *sarama.ConsumerMessage
}

func (c fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func newFakeClaim(values ...string) fakeClaim {
	messages := make(chan *sarama.ConsumerMessage, len(values))
	for i, v := range values {
		messages <- &sarama.ConsumerMessage{Topic: "aml.transactions", Offset: int64(i), Value: []byte(v)}
	}
	close(messages)
	return fakeClaim{messages: messages}
}

func TestFeedHandler_ConsumeClaim(t *testing.T) {
	out := make(chan Transaction, 10)
	handler := feedHandler{out: out, logger: discardLogger()}
	session := &fakeSession{ctx: context.Background()}
	claim := newFakeClaim(
		`{"timestamp":"10:00:00","amount":30000,"account_id":1}`,
		`{"timestamp":"10:00:01","amount":"lots","account_id":1}`,
		`{"timestamp":"10:00:02","amount":-5,"account_id":2}`,
		`{"timestamp":"10:00:03","amount":20001,"account_id":1}`,
	)
	before := testutil.ToFloat64(ingestRowsSkipped.WithLabelValues("message"))

	require.NoError(t, handler.ConsumeClaim(session, claim))
	close(out)

	var got []Transaction
	for tx := range out {
		got = append(got, tx)
	}
	assert.Equal(t, []Transaction{
		NewTransaction(tod(10, 0, 0), 30000, 1),
		NewTransaction(tod(10, 0, 3), 20001, 1),
	}, got)
	assert.Equal(t, []int64{0, 1, 2, 3}, session.marked)
	assert.Equal(t, before+2, testutil.ToFloat64(ingestRowsSkipped.WithLabelValues("message")))
}

func TestFeedHandler_ConsumeClaim_SessionEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// nobody reads out, so the handler can only leave through the session context
	handler := feedHandler{out: make(chan Transaction), logger: discardLogger()}
	session := &fakeSession{ctx: ctx}
	claim := newFakeClaim(`{"timestamp":"10:00:00","amount":1,"account_id":1}`)

	assert.NoError(t, handler.ConsumeClaim(session, claim))
	assert.Empty(t, session.marked)
}

func TestDecodeTransaction(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    Transaction
		wantErr bool
	}{
		{name: "valid", value: `{"timestamp":"23:59:59","amount":0,"account_id":42}`, want: NewTransaction(tod(23, 59, 59), 0, 42)},
		{name: "short timestamp", value: `{"timestamp":"08:30","amount":7,"account_id":1}`, want: NewTransaction(tod(8, 30, 0), 7, 1)},
		{name: "not json", value: `10:00:00,1,1`, wantErr: true},
		{name: "missing account", value: `{"timestamp":"10:00:00","amount":1}`, wantErr: true},
		{name: "bad timestamp", value: `{"timestamp":"25:00:00","amount":1,"account_id":1}`, wantErr: true},
		{name: "negative amount", value: `{"timestamp":"10:00:00","amount":-1,"account_id":1}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeTransaction([]byte(tt.value))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
