// Package api exposes the transfer lifecycle over REST. Every mutating
// endpoint maps onto one orchestrator operation; state lives entirely in
// the orchestrator, handlers stay thin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apphttp "github.com/swapall/bridge-orchestrator/pkg/app/http"
	"github.com/swapall/bridge-orchestrator/pkg/auth"
	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/registry"
)

const defaultRequestTimeout = 60 * time.Second

// Orchestrator is the transfer lifecycle surface the API exposes.
type Orchestrator interface {
	BeginTransfer(ctx context.Context, id string, intent bridge.TransferIntent, bridgeKind string) error
	ConfirmQuote(ctx context.Context, id string) error
	ExecuteApprovalIfNeeded(ctx context.Context, id string) error
	Submit(ctx context.Context, id string) error
	Claim(ctx context.Context, id string) error
	Cancel(ctx context.Context, id string) error
	Get(id string) (*registry.TransferRecord, error)
	ListActive() []*registry.TransferRecord
}

// Handler serves the orchestrator REST API.
type Handler struct {
	orch   Orchestrator
	logger *zap.Logger
}

// NewHandler builds the API handler.
func NewHandler(orch Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, logger: logger.Named("api")}
}

// Router assembles the chi router with the standard middleware stack.
func (h *Handler) Router(validator *auth.JWTValidator) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if validator != nil {
			r.Use(auth.Middleware(validator))
		}
		r.Post("/transfers", apphttp.HandleError(h.beginTransfer))
		r.Get("/transfers", apphttp.HandleError(h.listTransfers))
		r.Get("/transfers/{id}", apphttp.HandleError(h.getTransfer))
		r.Post("/transfers/{id}/confirm", apphttp.HandleError(h.confirmQuote))
		r.Post("/transfers/{id}/approve", apphttp.HandleError(h.approve))
		r.Post("/transfers/{id}/submit", apphttp.HandleError(h.submit))
		r.Post("/transfers/{id}/claim", apphttp.HandleError(h.claim))
		r.Post("/transfers/{id}/cancel", apphttp.HandleError(h.cancel))
	})

	return r
}
