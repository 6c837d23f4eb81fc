package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

// EncodeEnvelope builds the Kafka message for an order event. The order id is
// the key, so all events of one order land on one partition in order.
func EncodeEnvelope(ev orders.Envelope) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", ev.EventType, err)
	}
	return kafka.Message{
		Key:   orders.PartitionKey(ev.CorrelationID),
		Value: b,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(ev.EventType)},
			{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(ev.EventVersion))},
		},
	}, nil
}

func DecodeEnvelope(m kafka.Message) (orders.Envelope, error) {
	var ev orders.Envelope
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return ev, fmt.Errorf("decode envelope at offset %d: %w", m.Offset, err)
	}
	return ev, nil
}

// EventPublisher sends order envelopes through a Producer.
type EventPublisher struct {
	Producer *Producer
}

func (p *EventPublisher) Publish(ctx context.Context, ev orders.Envelope) error {
	m, err := EncodeEnvelope(ev)
	if err != nil {
		return err
	}
	return p.Producer.Publish(ctx, m)
}
