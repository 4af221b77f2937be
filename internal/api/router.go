package api

import (
	"net/http"
	"strings"

	"github.com/example/commerce-payments/internal/api/middleware"
	"github.com/example/commerce-payments/internal/auth"
	"github.com/example/commerce-payments/internal/metrics"
)

type RouterConfig struct {
	Handlers   *Handlers
	JWTService *auth.JWTService // nil disables admin auth (tests, dev mode)
	Metrics    *metrics.Metrics
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	h := cfg.Handlers

	admin := func(handler http.HandlerFunc) http.Handler {
		if cfg.JWTService == nil {
			return handler
		}
		chain := middleware.AuthMiddleware(cfg.JWTService)(middleware.RequireRole("admin")(handler))
		return chain
	}

	// Inventory
	mux.Handle("/inventory/adjust", methodOnly(http.MethodPost, admin(h.AdjustInventory)))
	mux.Handle("/inventory/bulk-adjust", methodOnly(http.MethodPost, admin(h.BulkAdjustInventory)))
	mux.Handle("/inventory/reserve", methodOnly(http.MethodPost, http.HandlerFunc(h.ReserveInventory)))
	mux.Handle("/inventory/release", methodOnly(http.MethodPost, http.HandlerFunc(h.ReleaseInventory)))
	mux.Handle("/inventory/low-stock", methodOnly(http.MethodGet, http.HandlerFunc(h.LowStock)))
	mux.Handle("/inventory/out-of-stock", methodOnly(http.MethodGet, http.HandlerFunc(h.OutOfStock)))
	mux.Handle("/inventory/report", methodOnly(http.MethodGet, http.HandlerFunc(h.InventoryReport)))
	mux.Handle("/inventory/history/", methodOnly(http.MethodGet, http.HandlerFunc(h.InventoryHistory)))

	// Payments
	mux.Handle("/payments/initiate", methodOnly(http.MethodPost, http.HandlerFunc(h.InitiatePayment)))
	mux.HandleFunc("/payments/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/confirm") && r.Method == http.MethodPost:
			h.ConfirmPayment(w, r)
		case strings.HasSuffix(path, "/cancel") && r.Method == http.MethodPost:
			h.CancelPayment(w, r)
		case strings.HasSuffix(path, "/refund") && r.Method == http.MethodPost:
			h.RefundPayment(w, r)
		case strings.HasSuffix(path, "/receipt") && r.Method == http.MethodGet:
			h.PaymentReceipt(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Webhooks (authenticated by signature, not by session)
	mux.Handle("/webhooks/", methodOnly(http.MethodPost, http.HandlerFunc(h.Webhook)))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		mux.Handle("/metrics", cfg.Metrics.Handler())
	}

	var handler http.Handler = mux
	if cfg.Metrics != nil {
		handler = cfg.Metrics.Middleware(handler)
	}
	return handler
}

func methodOnly(method string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}
