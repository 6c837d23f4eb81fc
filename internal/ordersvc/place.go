package ordersvc

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/events"
	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/ariefcatur/go-restaurant-orders/internal/pricing"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func validatePlace(req *PlaceOrderRequest) error {
	if len(req.Items) == 0 {
		return orders.ErrEmptyOrder
	}
	if req.RestaurantID == "" {
		return &orders.InvalidRequestError{Field: "restaurant_id", Reason: "required"}
	}
	if !req.Type.Valid() {
		return &orders.InvalidRequestError{Field: "type", Reason: fmt.Sprintf("unknown order type %q", req.Type)}
	}
	switch req.Priority {
	case "":
		req.Priority = orders.PriorityNormal
	case orders.PriorityNormal, orders.PriorityRush:
	default:
		return &orders.InvalidRequestError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", req.Priority)}
	}
	if req.DeliveryFee != 0 && req.Type != orders.TypeDelivery {
		return &orders.InvalidRequestError{Field: "delivery_fee", Reason: "only allowed for delivery orders"}
	}
	if req.LoyaltyPointsToUse > 0 && req.CustomerID == "" {
		return &orders.InvalidRequestError{Field: "customer_id", Reason: "required to redeem loyalty points"}
	}
	for i, it := range req.Items {
		if it.MenuItemID == "" {
			return &orders.InvalidRequestError{Field: fmt.Sprintf("items[%d].menu_item_id", i), Reason: "required"}
		}
		if it.Quantity <= 0 {
			return &orders.InvalidRequestError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: "must be positive"}
		}
		if it.Quantity > maxItemQuantity {
			return &orders.InvalidRequestError{Field: fmt.Sprintf("items[%d].quantity", i), Reason: fmt.Sprintf("must not exceed %d", maxItemQuantity)}
		}
	}
	return nil
}

// resolveItems snapshots current catalog prices into order items.
func (s *Service) resolveItems(ctx context.Context, reqs []ItemRequest) ([]orders.OrderItem, []pricing.Line, error) {
	items := make([]orders.OrderItem, 0, len(reqs))
	lines := make([]pricing.Line, 0, len(reqs))
	for _, r := range reqs {
		mi, err := s.Catalog.GetMenuItem(ctx, r.MenuItemID)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve %s: %w", r.MenuItemID, err)
		}
		if !mi.Available {
			return nil, nil, &orders.MenuItemNotFoundError{MenuItemID: r.MenuItemID}
		}
		it := orders.OrderItem{
			ID:         uuid.NewString(),
			MenuItemID: mi.ID,
			Name:       mi.Name,
			Quantity:   r.Quantity,
			UnitPrice:  mi.Price,
			Notes:      r.Notes,
			Status:     orders.ItemPending,
		}
		line := pricing.Line{UnitPrice: mi.Price, Quantity: r.Quantity}
		for _, modID := range r.ModifierIDs {
			m, ok := mi.Modifier(modID)
			if !ok {
				return nil, nil, &orders.MenuItemNotFoundError{MenuItemID: r.MenuItemID, ModifierID: modID}
			}
			it.Modifiers = append(it.Modifiers, m)
			line.Modifiers = append(line.Modifiers, m.PriceAdjustment)
		}
		items = append(items, it)
		lines = append(lines, line)
	}
	return items, lines, nil
}

// estimateReady is the base prep time plus one more base period for every
// four units ordered, capped. Rush orders get half of that slack.
func (s *Service) estimateReady(o *orders.Order) time.Time {
	base := s.BasePrep
	if base <= 0 {
		base = defaultPrep
	}
	units := 0
	for _, it := range o.Items {
		units += it.Quantity
	}
	units = min(units, maxEstimateUnits)
	slack := base * time.Duration(units/4)
	if o.Priority == orders.PriorityRush {
		slack /= 2
	}
	return o.CreatedAt.Add(base + slack)
}

func (s *Service) orderNumber(ctx context.Context, now time.Time) (string, error) {
	loc := s.Location
	if loc == nil {
		loc = time.UTC
	}
	day := now.In(loc).Format("20060102")
	n, err := s.Sequence.Next(ctx, day)
	if err != nil {
		return "", fmt.Errorf("next order number: %w", err)
	}
	return fmt.Sprintf("%s-%04d", day, n), nil
}

// publish is best effort: the change is already committed, so a transport
// failure is logged rather than returned.
func (s *Service) publish(ctx context.Context, eventType string, p orders.OrderEventPayload) {
	if s.Publisher == nil {
		return
	}
	ev, err := orders.NewEnvelope(eventType, s.ServiceName, s.now(), p)
	if err != nil {
		log.Error().Err(err).Str("order_id", p.Order.ID).Msg("build event")
		return
	}
	ev.TraceID = events.TraceID(ctx)
	if err := s.Publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("order_id", p.Order.ID).Str("event_type", eventType).Msg("publish event")
	}
}
