package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"swiftdrop/internal/domain"
)

func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem emits a simplified RFC7807 problem response.
func WriteProblem(w http.ResponseWriter, code int, typ, detail string) {
	WriteJSON(w, code, map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}

// WriteError maps a domain error to its problem response. Unrecognized
// errors become an opaque 500.
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		WriteProblem(w, http.StatusUnauthorized, "unauthorized", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		WriteProblem(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		WriteProblem(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		WriteProblem(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		WriteProblem(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrAlreadyAssigned):
		WriteProblem(w, http.StatusConflict, "already_assigned", err.Error())
	case errors.Is(err, domain.ErrDriverUnavailable):
		WriteProblem(w, http.StatusConflict, "driver_unavailable", err.Error())
	case errors.Is(err, domain.ErrInvalidAmount):
		WriteProblem(w, http.StatusUnprocessableEntity, "invalid_amount", err.Error())
	case errors.Is(err, domain.ErrInvalidSplit):
		WriteProblem(w, http.StatusUnprocessableEntity, "invalid_split", err.Error())
	case errors.Is(err, domain.ErrValidation):
		WriteProblem(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrGatewayFailure):
		WriteProblem(w, http.StatusBadGateway, "gateway_failure", err.Error())
	default:
		WriteProblem(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// Actor returns the authenticated user id set by the fronting proxy.
func Actor(r *http.Request) (string, error) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		return "", domain.ErrUnauthorized
	}
	return id, nil
}

// RequireAdmin returns the acting admin id, or ErrForbidden when the
// caller lacks the admin role.
func RequireAdmin(r *http.Request) (string, error) {
	id, err := Actor(r)
	if err != nil {
		return "", err
	}
	if r.Header.Get("X-User-Role") != "admin" {
		return "", domain.ErrForbidden
	}
	return id, nil
}

// QueryInt parses an integer query parameter with a default.
func QueryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
