// Package handlers exposes the arbitration surface: privileged wrappers
// around escrow and delivery operations, gated on the admin role. The
// acting admin is recorded on every resolution and audit entry.
package handlers

import (
	"encoding/json"
	"net/http"

	"swiftdrop/internal/common/httpx"
	"swiftdrop/internal/domain"
	deliveryservice "swiftdrop/internal/microservices/delivery/service"
	escrowservice "swiftdrop/internal/microservices/escrow/service"
)

type AdminHandler struct {
	escrow   escrowservice.EscrowServiceInterface
	delivery deliveryservice.DeliveryServiceInterface
}

func New(escrow escrowservice.EscrowServiceInterface, delivery deliveryservice.DeliveryServiceInterface) *AdminHandler {
	return &AdminHandler{escrow: escrow, delivery: delivery}
}

// ResolveDispute closes a DISPUTED escrow with refund, release or partial.
func (h *AdminHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	admin, err := httpx.RequireAdmin(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req domain.ResolveDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	esc, err := h.escrow.Resolve(r.Context(), r.PathValue("id"), req, admin)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, esc)
}

// Release performs an early release of HELD funds to seller or driver.
func (h *AdminHandler) Release(w http.ResponseWriter, r *http.Request) {
	admin, err := httpx.RequireAdmin(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req domain.ReleaseEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	esc, err := h.escrow.Release(r.Context(), r.PathValue("id"), req, admin)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, esc)
}

func (h *AdminHandler) Escalate(w http.ResponseWriter, r *http.Request) {
	admin, err := httpx.RequireAdmin(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req domain.EscalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	esc, err := h.escrow.Escalate(r.Context(), r.PathValue("id"), req, admin)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, esc)
}

func (h *AdminHandler) CancelDelivery(w http.ResponseWriter, r *http.Request) {
	admin, err := httpx.RequireAdmin(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	d, err := h.delivery.Cancel(r.Context(), r.PathValue("id"), admin, req.Reason)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}
