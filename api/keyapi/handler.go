// Package keyapi exposes the one-time secret service over HTTP and
// provides the matching client.
package keyapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tabsplit/billsync/api"
	"github.com/tabsplit/billsync/interfaces"
	"github.com/tabsplit/billsync/metrics"
	"github.com/tabsplit/billsync/onetime"
)

// timeNow is swappable in tests.
var timeNow = time.Now

// Handler processes HTTP requests for the one-time secret service.
type Handler struct {
	service *onetime.Service
	log     *slog.Logger
}

// NewHandler creates a new HTTP request handler for one-time secrets.
func NewHandler(service *onetime.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{service: service, log: log}
}

// Mount registers the one-time key routes on the given router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/v1/onetime-key", h.HandleCreate)
	r.Get("/api/v1/onetime-key/{id}", h.HandleConsume)
	r.Get("/api/v1/onetime-key/{id}/status", h.HandleStatus)
}

// HandleCreate stores an opaque encrypted payload and returns its
// identifier.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateSecretRequest
	body := http.MaxBytesReader(w, r.Body, api.MaxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, &api.RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("invalid request body")})
		return
	}

	id, err := h.service.Create(r.Context(), req.EncryptedPayload)
	if err != nil {
		h.writeError(w, mapServiceError(err))
		return
	}

	metrics.SecretsCreated.Inc()
	writeJSON(w, http.StatusCreated, api.CreateSecretResponse{
		KeyID:     id.String(),
		ExpiresAt: timeNow().Add(onetime.TTL),
	})
}

// HandleConsume is the destructive read: the secret is deleted before the
// response is written, so a second request always gets 404.
func (h *Handler) HandleConsume(w http.ResponseWriter, r *http.Request) {
	id, err := interfaces.ParseSecretID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, &api.RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}

	payload, err := h.service.Consume(r.Context(), id)
	if err != nil {
		h.writeError(w, mapServiceError(err))
		return
	}

	metrics.SecretsConsumed.Inc()
	writeJSON(w, http.StatusOK, api.SecretPayloadResponse{EncryptedPayload: payload})
}

// HandleStatus reports availability without consuming.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := interfaces.ParseSecretID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, &api.RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}

	if err := h.service.Peek(r.Context(), id); err != nil {
		h.writeError(w, mapServiceError(err))
		return
	}

	writeJSON(w, http.StatusOK, api.SecretStatusResponse{Status: api.SecretStatusAvailable})
}

func (h *Handler) writeError(w http.ResponseWriter, reqErr *api.RequestError) {
	if reqErr.StatusCode >= http.StatusInternalServerError {
		h.log.Error("Request failed", "err", reqErr.Err, slog.Int("status", reqErr.StatusCode))
	} else {
		h.log.Debug("Request rejected", "err", reqErr.Err, slog.Int("status", reqErr.StatusCode))
	}
	writeJSON(w, reqErr.StatusCode, api.ErrorResponse{Error: reqErr.Err.Error()})
}

func mapServiceError(err error) *api.RequestError {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		return &api.RequestError{StatusCode: http.StatusNotFound, Err: errors.New("secret not found, expired or already consumed")}
	case errors.Is(err, interfaces.ErrValidation):
		return &api.RequestError{StatusCode: http.StatusBadRequest, Err: err}
	default:
		return &api.RequestError{StatusCode: http.StatusInternalServerError, Err: errors.New("internal error")}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
