// Package events fans order envelopes out to in-process subscribers and to
// external transports.
package events

import (
	"context"
	"errors"
	"sync"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, ev orders.Envelope) error
}

type Handler func(ctx context.Context, ev orders.Envelope) error

// Bus delivers every published envelope to its subscribers synchronously,
// in subscription order. A failing handler is logged and does not stop the
// others.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Bus) Publish(ctx context.Context, ev orders.Envelope) error {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range hs {
		if err := h(ctx, ev); err != nil {
			log.Error().Err(err).Str("event_id", ev.EventID).Str("event_type", ev.EventType).
				Str("order_id", ev.CorrelationID).Msg("event handler failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev orders.Envelope) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every envelope.
type Discard struct{}

func (Discard) Publish(context.Context, orders.Envelope) error { return nil }
