package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/example/commerce-payments/internal/inventory"
	"github.com/example/commerce-payments/internal/metrics"
	"github.com/example/commerce-payments/internal/payment"
)

type Handlers struct {
	ledger       *inventory.Ledger
	orchestrator *payment.Orchestrator
	reconciler   *payment.Reconciler
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewHandlers(ledger *inventory.Ledger, orchestrator *payment.Orchestrator, reconciler *payment.Reconciler, m *metrics.Metrics, logger *zap.Logger) *Handlers {
	return &Handlers{
		ledger:       ledger,
		orchestrator: orchestrator,
		reconciler:   reconciler,
		metrics:      m,
		logger:       logger,
	}
}

// Inventory handlers

func (h *Handlers) AdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string                 `json:"product_id"`
		Quantity  int                    `json:"quantity"`
		Type      inventory.MovementType `json:"type"`
		Reason    string                 `json:"reason"`
		Reference string                 `json:"reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: err.Error()}})
		return
	}

	movement, err := h.ledger.Adjust(r.Context(), req.ProductID, req.Quantity, req.Type, req.Reason, req.Reference)
	if err != nil {
		respondErr(w, err)
		return
	}
	h.countMovement(string(req.Type))
	respondJSON(w, http.StatusOK, movement)
}

func (h *Handlers) BulkAdjustInventory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Adjustments []inventory.Adjustment `json:"adjustments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: err.Error()}})
		return
	}

	result, err := h.ledger.BulkAdjust(r.Context(), req.Adjustments)
	if err != nil {
		respondErr(w, err)
		return
	}
	for _, m := range result.Applied {
		h.countMovement(string(m.Type))
	}
	respondJSON(w, http.StatusOK, result)
}

type reservationRequest struct {
	Items   []inventory.Item `json:"items"`
	OrderID string           `json:"order_id"`
}

func (h *Handlers) ReserveInventory(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: err.Error()}})
		return
	}
	if err := h.ledger.Reserve(r.Context(), req.Items, req.OrderID); err != nil {
		respondErr(w, err)
		return
	}
	h.countMovement(string(inventory.MovementSale))
	respondJSON(w, http.StatusOK, map[string]string{"status": "reserved"})
}

func (h *Handlers) ReleaseInventory(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: err.Error()}})
		return
	}
	if err := h.ledger.Release(r.Context(), req.Items, req.OrderID); err != nil {
		respondErr(w, err)
		return
	}
	h.countMovement(string(inventory.MovementReturn))
	respondJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (h *Handlers) LowStock(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.ledger.LowStock(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stocks)
}

func (h *Handlers) OutOfStock(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.ledger.OutOfStock(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stocks)
}

func (h *Handlers) InventoryReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.Report(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (h *Handlers) InventoryHistory(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimPrefix(r.URL.Path, "/inventory/history/")
	if productID == "" {
		respondJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{Kind: "validation", Message: "product id is required"}})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	history, err := h.ledger.History(r.Context(), productID, limit, offset)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (h *Handlers) countMovement(movementType string) {
	if h.metrics != nil {
		h.metrics.MovementsTotal.WithLabelValues(movementType).Inc()
	}
}

func (h *Handlers) countPayment(gatewayName string, status payment.Status) {
	if h.metrics != nil {
		h.metrics.PaymentsTotal.WithLabelValues(gatewayName, string(status)).Inc()
	}
}
