package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
	"github.com/rs/zerolog/log"
)

type errorResp struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, orders.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, orders.ErrEmptyOrder):
		return http.StatusBadRequest, "empty_order"
	case errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound, "order_not_found"
	case errors.Is(err, orders.ErrItemNotFound):
		return http.StatusNotFound, "item_not_found"
	case errors.Is(err, orders.ErrVersionConflict):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, orders.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, orders.ErrInvalidDiscount):
		return http.StatusUnprocessableEntity, "invalid_discount"
	case errors.Is(err, orders.ErrInsufficientLoyaltyPoints):
		return http.StatusUnprocessableEntity, "insufficient_loyalty_points"
	case errors.Is(err, orders.ErrMenuItemNotFound):
		return http.StatusUnprocessableEntity, "menu_item_not_found"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = "internal error"
	}
	writeJSON(w, code, errorResp{Error: msg, Code: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResp{Error: msg, Code: "invalid_request"})
}
