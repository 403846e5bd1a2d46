/**
 * @description
 * This file contains the HTTP handlers for the drop-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/keydrop/drop-service/internal/app"
	"github.com/keydrop/drop-service/internal/domain"
	"github.com/keydrop/drop-service/internal/store"
)

// DropHandlers holds the application service that handlers will use.
type DropHandlers struct {
	service *app.Service
}

// NewDropHandlers creates a new instance of DropHandlers.
func NewDropHandlers(service *app.Service) *DropHandlers {
	return &DropHandlers{service: service}
}

// dropAdmissionResponse is sent back after a drop has been admitted. FT drops
// report their funding status as pending until cost discovery settles.
type dropAdmissionResponse struct {
	DropID  domain.DropID `json:"drop_id"`
	Message string        `json:"message"`
}

type balanceResponse struct {
	FunderID string `json:"funder_id"`
	Balance  uint64 `json:"balance,string"`
}

// CreateDropHandler handles requests to admit a new drop.
func (h *DropHandlers) CreateDropHandler(w http.ResponseWriter, r *http.Request) {
	funderID, ok := GetFunderID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get funder ID from context")
		return
	}

	var req domain.CreateDropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	dropID, err := h.service.CreateDrop(r.Context(), funderID, req)
	if err != nil {
		h.writeServiceError(w, funderID, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, dropAdmissionResponse{
		DropID:  dropID,
		Message: "Drop admitted",
	})
}

// AddKeysHandler handles requests to extend an existing drop with more keys.
func (h *DropHandlers) AddKeysHandler(w http.ResponseWriter, r *http.Request) {
	funderID, ok := GetFunderID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get funder ID from context")
		return
	}

	dropID, ok := h.parseDropID(w, r)
	if !ok {
		return
	}

	var req domain.AddKeysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := h.service.AddKeys(r.Context(), funderID, dropID, req.PublicKeys); err != nil {
		h.writeServiceError(w, funderID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, dropAdmissionResponse{
		DropID:  dropID,
		Message: "Keys added",
	})
}

// GetDropHandler returns the owner-facing view of a single drop.
func (h *DropHandlers) GetDropHandler(w http.ResponseWriter, r *http.Request) {
	funderID, ok := GetFunderID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get funder ID from context")
		return
	}

	dropID, ok := h.parseDropID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetDrop(r.Context(), funderID, dropID)
	if err != nil {
		h.writeServiceError(w, funderID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, view)
}

// GetBalanceHandler returns the funder's current prepaid balance.
func (h *DropHandlers) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	funderID, ok := GetFunderID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not get funder ID from context")
		return
	}

	balance, err := h.service.GetBalance(r.Context(), funderID)
	if err != nil {
		h.writeServiceError(w, funderID, err)
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{FunderID: funderID, Balance: balance})
}

func (h *DropHandlers) parseDropID(w http.ResponseWriter, r *http.Request) (domain.DropID, bool) {
	raw := chi.URLParam(r, "dropID")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid drop ID")
		return 0, false
	}
	return domain.DropID(id), true
}

// writeServiceError maps service-layer errors onto HTTP statuses.
func (h *DropHandlers) writeServiceError(w http.ResponseWriter, funderID string, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidConfig):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, "Too many admission requests. Please slow down.")
	case errors.Is(err, app.ErrNotDropOwner):
		h.writeError(w, http.StatusForbidden, "You do not own this drop")
	case errors.Is(err, app.ErrDropNotFunded):
		h.writeError(w, http.StatusConflict, "Drop funding has not settled yet")
	case errors.Is(err, store.ErrDropNotFound):
		h.writeError(w, http.StatusNotFound, "Drop not found")
	case errors.Is(err, store.ErrDuplicateKey):
		h.writeError(w, http.StatusConflict, "One or more public keys are already in use")
	case errors.Is(err, store.ErrInsufficientBalance):
		h.writeError(w, http.StatusPaymentRequired, "Insufficient prepaid balance")
	case errors.Is(err, store.ErrFunderNotFound):
		h.writeError(w, http.StatusNotFound, "Funder balance not found")
	default:
		log.Printf("level=error component=api msg=\"unhandled service error\" funder=%s err=%v", funderID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *DropHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *DropHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
