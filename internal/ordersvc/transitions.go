package ordersvc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/rs/zerolog/log"
)

func (s *Service) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	return s.Repo.Get(ctx, id)
}

func (s *Service) GetOrderByNumber(ctx context.Context, number string) (*orders.Order, error) {
	return s.Repo.GetByNumber(ctx, number)
}

func (s *Service) ListOrders(ctx context.Context, f orders.ListFilter) (orders.Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return orders.Page{}, &orders.InvalidRequestError{Field: "status", Reason: fmt.Sprintf("unknown status %q", f.Status)}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = defaultPageSize
	}
	f.PageSize = min(f.PageSize, maxPageSize)
	return s.Repo.List(ctx, f)
}

// load fetches the order for a mutation; the caller holds the order's lock.
func (s *Service) load(ctx context.Context, id string, expectedVersion int64) (*orders.Order, error) {
	cur, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != AnyVersion && cur.Version != expectedVersion {
		return nil, fmt.Errorf("order %s at version %d, caller saw %d: %w", id, cur.Version, expectedVersion, orders.ErrVersionConflict)
	}
	return cur, nil
}

func (s *Service) UpdateOrderStatus(ctx context.Context, u StatusUpdate) (*orders.Order, error) {
	if !u.Status.Valid() {
		return nil, &orders.InvalidRequestError{Field: "status", Reason: fmt.Sprintf("unknown status %q", u.Status)}
	}
	unlock := s.locks.Lock(u.OrderID)
	defer unlock()

	cur, err := s.load(ctx, u.OrderID, u.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	now := s.now()
	if err := next.TransitionTo(u.Status, u.Note, now); err != nil {
		return nil, err
	}
	next.UpdatedAt = now
	if err := s.commit(ctx, cur, next); err != nil {
		return nil, err
	}
	log.Info().Str("order_id", next.ID).Str("from", string(cur.Status)).Str("to", string(next.Status)).
		Int64("version", next.Version).Msg("order status changed")
	orderTransitions.WithLabelValues(string(next.Status)).Inc()

	s.publish(ctx, orders.EventOrderStatusChanged, orders.OrderEventPayload{Order: *next, PreviousStatus: cur.Status})
	return next, nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID, reason string, expectedVersion int64) (*orders.Order, error) {
	if reason == "" {
		return nil, &orders.InvalidRequestError{Field: "reason", Reason: "required"}
	}
	return s.UpdateOrderStatus(ctx, StatusUpdate{
		OrderID:         orderID,
		Status:          orders.StatusCancelled,
		Note:            reason,
		ExpectedVersion: expectedVersion,
	})
}

func (s *Service) UpdateItemStatus(ctx context.Context, u ItemStatusUpdate) (*ItemStatusResult, error) {
	if !u.Status.Valid() {
		return nil, &orders.InvalidRequestError{Field: "status", Reason: fmt.Sprintf("unknown item status %q", u.Status)}
	}
	unlock := s.locks.Lock(u.OrderID)
	defer unlock()

	cur, err := s.load(ctx, u.OrderID, u.ExpectedVersion)
	if err != nil {
		return nil, err
	}
	prevItem, ok := cur.Item(u.ItemID)
	if !ok {
		return nil, fmt.Errorf("item %s on order %s: %w", u.ItemID, u.OrderID, orders.ErrItemNotFound)
	}

	next := cur.Clone()
	now := s.now()
	derived, err := next.TransitionItem(u.ItemID, u.Status, u.Note, now)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = now
	if err := s.commit(ctx, cur, next); err != nil {
		return nil, err
	}
	log.Info().Str("order_id", next.ID).Str("item_id", u.ItemID).Str("from", string(prevItem.Status)).
		Str("to", string(u.Status)).Str("order_status", string(next.Status)).Msg("item status changed")
	for _, st := range derived {
		orderTransitions.WithLabelValues(string(st)).Inc()
	}

	s.publish(ctx, orders.EventOrderItemStatusChanged, orders.OrderEventPayload{
		Order:              *next,
		PreviousStatus:     cur.Status,
		ItemID:             u.ItemID,
		PreviousItemStatus: prevItem.Status,
		DerivedStatuses:    derived,
	})

	item, _ := next.Item(u.ItemID)
	return &ItemStatusResult{
		Item:            *item,
		OrderStatus:     next.Status,
		Version:         next.Version,
		DerivedStatuses: derived,
	}, nil
}

// Reconcile reruns the ledger effects owed by the order's current status.
// It is safe to call at any time; effects already recorded are skipped.
func (s *Service) Reconcile(ctx context.Context, orderID string) (*orders.Order, error) {
	unlock := s.locks.Lock(orderID)
	defer unlock()

	cur, err := s.Repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := s.settleLedger(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// commit settles the ledger effect owed by next's status and then stores
// next in place of cur. A failed ledger step abandons the transition; the
// flags of any step that did go through are recorded against cur so a retry
// does not repeat it.
func (s *Service) commit(ctx context.Context, cur, next *orders.Order) error {
	if next.Status != cur.Status {
		if err := s.applyLedger(ctx, next); err != nil {
			ledgerFailures.Inc()
			if next.Ledger != cur.Ledger {
				err = errors.Join(err, s.recordLedger(ctx, cur, next.Ledger))
			}
			log.Error().Err(err).Str("order_id", cur.ID).Str("status", string(next.Status)).
				Msg("ledger settlement failed; transition not applied")
			return fmt.Errorf("settle ledger for %s: %w", next.Status, err)
		}
	}
	if err := s.Repo.Update(ctx, next, cur.Version); err != nil {
		if next.Ledger != cur.Ledger {
			if rerr := s.recordLedger(ctx, cur, next.Ledger); rerr != nil {
				log.Error().Err(rerr).Str("order_id", cur.ID).Str("status", string(next.Status)).
					Msg("ledger settled but order not stored; reconcile the order")
			}
		}
		return err
	}
	return nil
}

// recordLedger stores ledger flags on an otherwise unchanged order.
func (s *Service) recordLedger(ctx context.Context, cur *orders.Order, st orders.LedgerState) error {
	o := cur.Clone()
	o.Ledger = st
	if err := s.Repo.Update(ctx, o, cur.Version); err != nil {
		return fmt.Errorf("persist ledger flags: %w", err)
	}
	return nil
}

func (s *Service) applyLedger(ctx context.Context, o *orders.Order) error {
	switch o.Status {
	case orders.StatusCompleted:
		return s.Ledger.CreditEarned(ctx, o)
	case orders.StatusCancelled, orders.StatusRefunded:
		return s.Ledger.Reverse(ctx, o)
	}
	return nil
}

// settleLedger applies the ledger effect tied to o.Status and persists the
// resulting flags. Flags that changed are persisted even when a later step
// failed, so a retry never repeats a step that already happened.
func (s *Service) settleLedger(ctx context.Context, o *orders.Order) error {
	before := o.Ledger
	err := s.applyLedger(ctx, o)
	if err != nil {
		ledgerFailures.Inc()
	}
	if o.Ledger == before {
		return err
	}
	if uerr := s.Repo.Update(ctx, o, o.Version); uerr != nil {
		err = errors.Join(err, fmt.Errorf("persist ledger flags: %w", uerr))
	}
	return err
}
