package handlers

import (
	"encoding/json"
	"net/http"

	"swiftdrop/internal/common/httpx"
	"swiftdrop/internal/domain"
	"swiftdrop/internal/microservices/delivery/service"
)

type DeliveryHandler struct {
	service service.DeliveryServiceInterface
}

func New(s service.DeliveryServiceInterface) *DeliveryHandler {
	return &DeliveryHandler{service: s}
}

func (h *DeliveryHandler) Create(w http.ResponseWriter, r *http.Request) {
	merchantID, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req domain.CreateDeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	d, err := h.service.Request(r.Context(), req, merchantID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, d)
}

func (h *DeliveryHandler) Accept(w http.ResponseWriter, r *http.Request) {
	driverID, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	d, err := h.service.Accept(r.Context(), r.PathValue("id"), driverID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (h *DeliveryHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	driverID, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req domain.UpdateDeliveryStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	d, err := h.service.UpdateStatus(r.Context(), r.PathValue("id"), driverID, req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, d)
}

func (h *DeliveryHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	senderID, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req domain.DeliveryMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	msg, err := h.service.Communicate(r.Context(), r.PathValue("id"), senderID, req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, msg)
}

func (h *DeliveryHandler) ReportEmergency(w http.ResponseWriter, r *http.Request) {
	reporterID, err := httpx.Actor(r)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req domain.EmergencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteProblem(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if err := h.service.ReportEmergency(r.Context(), r.PathValue("id"), reporterID, req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{"reported": true})
}

// List returns deliveries for the driver or merchant named in the query.
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	if _, err := httpx.Actor(r); err != nil {
		httpx.WriteError(w, err)
		return
	}
	limit := httpx.QueryInt(r, "limit", 50)
	offset := httpx.QueryInt(r, "offset", 0)

	var (
		list []domain.DeliveryRequest
		err  error
	)
	switch {
	case r.URL.Query().Get("driver_id") != "":
		list, err = h.service.ListByDriver(r.Context(), r.URL.Query().Get("driver_id"), limit, offset)
	case r.URL.Query().Get("merchant_id") != "":
		list, err = h.service.ListByMerchant(r.Context(), r.URL.Query().Get("merchant_id"), limit, offset)
	default:
		httpx.WriteProblem(w, http.StatusBadRequest, "validation_failed", "driver_id or merchant_id is required")
		return
	}
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"deliveries": list})
}

func (h *DeliveryHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	if _, err := httpx.Actor(r); err != nil {
		httpx.WriteError(w, err)
		return
	}
	id := r.PathValue("id")
	events, err := h.service.Timeline(r.Context(), id,
		httpx.QueryInt(r, "limit", 50), httpx.QueryInt(r, "offset", 0))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"delivery_id": id, "events": events})
}
