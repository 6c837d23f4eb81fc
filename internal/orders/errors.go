package orders

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyOrder                = errors.New("order has no items")
	ErrOrderNotFound             = errors.New("order not found")
	ErrItemNotFound              = errors.New("order item not found")
	ErrMenuItemNotFound          = errors.New("menu item not found")
	ErrInvalidDiscount           = errors.New("invalid discount code")
	ErrInsufficientLoyaltyPoints = errors.New("insufficient loyalty points")
	ErrInvalidTransition         = errors.New("invalid status transition")
	// ErrVersionConflict is the only retryable error: refetch and resubmit.
	ErrVersionConflict = errors.New("order version conflict")
	ErrInvalidRequest  = errors.New("invalid request")
)

type MenuItemNotFoundError struct {
	MenuItemID string
	ModifierID string
}

func (e *MenuItemNotFoundError) Error() string {
	if e.ModifierID != "" {
		return fmt.Sprintf("modifier %s not found for menu item %s", e.ModifierID, e.MenuItemID)
	}
	return fmt.Sprintf("menu item not found: %s", e.MenuItemID)
}

func (e *MenuItemNotFoundError) Is(target error) bool { return target == ErrMenuItemNotFound }

type DiscountReason string

const (
	DiscountUnknown      DiscountReason = "unknown"
	DiscountExpired      DiscountReason = "expired"
	DiscountExhausted    DiscountReason = "exhausted"
	DiscountBelowMinimum DiscountReason = "below_minimum"
)

type InvalidDiscountError struct {
	Code   string
	Reason DiscountReason
}

func (e *InvalidDiscountError) Error() string {
	return fmt.Sprintf("invalid discount code %q: %s", e.Code, e.Reason)
}

func (e *InvalidDiscountError) Is(target error) bool { return target == ErrInvalidDiscount }

type TransitionScope string

const (
	ScopeOrder TransitionScope = "order"
	ScopeItem  TransitionScope = "item"
)

type InvalidTransitionError struct {
	Scope TransitionScope
	From  string
	To    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition %s -> %s", e.Scope, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

func invalidOrderTransition(from, to Status) error {
	return &InvalidTransitionError{Scope: ScopeOrder, From: string(from), To: string(to)}
}

func invalidItemTransition(from, to ItemStatus) error {
	return &InvalidTransitionError{Scope: ScopeItem, From: string(from), To: string(to)}
}
