package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	skafka "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []skafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisherPublish(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(w)

	ev := SettlementEvent{
		Type:     PaymentCompleted,
		EntityID: "ref-1",
		EventID:  "evt-1",
		Amount:   decimal.RequireFromString("2000"),
		At:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, p.Publish(context.Background(), "ref-1", ev))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "ref-1", string(w.msgs[0].Key))

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	require.Equal(t, PaymentCompleted, got["type"])
	require.Equal(t, "2000", got["amount"])
	require.Equal(t, "evt-1", got["eventId"])

	require.NoError(t, p.Close())
	require.True(t, w.closed)
}

func TestKafkaPublisherWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p := NewKafkaPublisherWithWriter(w)

	err := p.Publish(context.Background(), "k", SettlementEvent{Type: BookingCancelled})
	require.Error(t, err)
	require.Contains(t, err.Error(), "broker down")
}

func TestKafkaPublisherEncodeError(t *testing.T) {
	p := NewKafkaPublisherWithWriter(&fakeWriter{})
	err := p.Publish(context.Background(), "k", make(chan int))
	require.Error(t, err)
}
