package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated           = "OrderCreated"
	EventOrderStatusChanged     = "OrderStatusChanged"
	EventOrderItemStatusChanged = "OrderItemStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderEventPayload carries a full snapshot of the order after the change,
// so consumers rebuild their projections instead of patching them.
type OrderEventPayload struct {
	Order              Order      `json:"order"`
	PreviousStatus     Status     `json:"previous_status,omitempty"`
	ItemID             string     `json:"item_id,omitempty"`
	PreviousItemStatus ItemStatus `json:"previous_item_status,omitempty"`
	DerivedStatuses    []Status   `json:"derived_statuses,omitempty"`
}

func NewEnvelope(eventType, producer string, at time.Time, p OrderEventPayload) (Envelope, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at.UTC(),
		Producer:      producer,
		CorrelationID: p.Order.ID,
		Payload:       b,
	}, nil
}

func (e Envelope) OrderPayload() (OrderEventPayload, error) {
	var p OrderEventPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return p, nil
}
