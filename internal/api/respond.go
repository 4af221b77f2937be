package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/commerce-payments/internal/gateway"
	"github.com/example/commerce-payments/internal/inventory"
	"github.com/example/commerce-payments/internal/order"
	"github.com/example/commerce-payments/internal/payment"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondErr maps domain sentinel errors onto an HTTP status and a stable
// error kind. Internal failures and raw gateway payloads never reach the
// response body.
func respondErr(w http.ResponseWriter, err error) {
	status, kind := classify(err)
	message := err.Error()
	if status >= 500 {
		message = "internal error"
	}
	respondJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: message}})
}

func classify(err error) (int, string) {
	var transport *gateway.TransportError
	switch {
	case errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, payment.ErrPaymentNotFound),
		errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_inventory"
	case errors.Is(err, payment.ErrDuplicatePayment):
		return http.StatusConflict, "duplicate_payment"
	case errors.Is(err, gateway.ErrUnsupportedGateway):
		return http.StatusBadRequest, "unsupported_gateway"
	case errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, payment.ErrRefundExceedsCaptured):
		return http.StatusUnprocessableEntity, "refund_exceeds_captured"
	case errors.Is(err, payment.ErrGatewayDeclined):
		return http.StatusUnprocessableEntity, "gateway_declined"
	case errors.Is(err, payment.ErrInvalidTransition),
		errors.Is(err, payment.ErrNotRefundable),
		errors.Is(err, payment.ErrOrderNotPayable):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrUnknownMovementType),
		errors.Is(err, payment.ErrInvalidAmount):
		return http.StatusBadRequest, "validation"
	case errors.As(err, &transport):
		return http.StatusBadGateway, "gateway_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
