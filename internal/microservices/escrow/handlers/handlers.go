package handlers

import (
	"encoding/json"
	"net/http"

	"swiftdrop/internal/common/httpx"
	"swiftdrop/internal/domain"
	"swiftdrop/internal/microservices/escrow/service"
)

type EscrowHandler struct {
	service service.EscrowServiceInterface
}

func New(s service.EscrowServiceInterface) *EscrowHandler {
	return &EscrowHandler{service: s}
}

// VerifyPayment confirms a gateway charge and holds the funds in escrow.
func (h *EscrowHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req domain.VerifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	esc, err := h.service.VerifyAndHold(r.Context(), req, actor)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, esc)
}

func (h *EscrowHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req domain.DisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	esc, err := h.service.Dispute(r.Context(), r.PathValue("id"), req, actor)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, esc)
}

func (h *EscrowHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, err := httpx.Actor(r); err != nil {
		httpx.WriteError(w, err)
		return
	}
	list, err := h.service.List(r.Context(),
		r.URL.Query().Get("status"),
		httpx.QueryInt(r, "limit", 50),
		httpx.QueryInt(r, "offset", 0),
	)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"escrows": list})
}

// Get returns the escrow detail plus its audit timeline (dispute evidence
// and every transition).
func (h *EscrowHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, err := httpx.Actor(r); err != nil {
		httpx.WriteError(w, err)
		return
	}
	esc, timeline, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"escrow": esc, "timeline": timeline})
}
