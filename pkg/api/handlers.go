package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swapall/bridge-orchestrator/pkg/bridge"
	"github.com/swapall/bridge-orchestrator/pkg/registry"
)

// beginTransferRequest creates a transfer. The id is optional; one is
// minted when omitted so simple callers need no id bookkeeping. Callers
// that retry must supply their own id to get duplicate detection.
type beginTransferRequest struct {
	ID     string                `json:"id,omitempty"`
	Bridge string                `json:"bridge"`
	Intent bridge.TransferIntent `json:"intent"`
}

type beginTransferResponse struct {
	ID    string         `json:"id"`
	State registry.State `json:"state"`
}

func (h *Handler) beginTransfer(w http.ResponseWriter, r *http.Request) error {
	var req beginTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return bridge.Errorf(bridge.CodeInvalidIntent, bridge.PhaseQuote, "malformed request body")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	if err := h.orch.BeginTransfer(r.Context(), req.ID, req.Intent, req.Bridge); err != nil {
		return err
	}

	h.logger.Info("Transfer accepted",
		zap.String("transfer_id", req.ID),
		zap.String("bridge", req.Bridge))

	return writeJSON(w, http.StatusAccepted, &beginTransferResponse{
		ID:    req.ID,
		State: registry.StateQuoting,
	})
}

func (h *Handler) getTransfer(w http.ResponseWriter, r *http.Request) error {
	rec, err := h.orch.Get(chi.URLParam(r, "id"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) listTransfers(w http.ResponseWriter, r *http.Request) error {
	records := h.orch.ListActive()
	return writeJSON(w, http.StatusOK, map[string]any{
		"transfers": records,
		"count":     len(records),
	})
}

func (h *Handler) confirmQuote(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if err := h.orch.ConfirmQuote(r.Context(), id); err != nil {
		return err
	}
	return h.respondWithRecord(w, id)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if err := h.orch.ExecuteApprovalIfNeeded(r.Context(), id); err != nil {
		return err
	}
	return h.respondWithRecord(w, id)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if err := h.orch.Submit(r.Context(), id); err != nil {
		return err
	}
	return h.respondWithRecord(w, id)
}

func (h *Handler) claim(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if err := h.orch.Claim(r.Context(), id); err != nil {
		return err
	}
	return h.respondWithRecord(w, id)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "id")
	if err := h.orch.Cancel(r.Context(), id); err != nil {
		return err
	}
	return h.respondWithRecord(w, id)
}

func (h *Handler) respondWithRecord(w http.ResponseWriter, id string) error {
	rec, err := h.orch.Get(id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(payload)
}
