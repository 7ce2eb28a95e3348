// Package shareapi exposes the share session service over HTTP and
// provides the matching client.
package shareapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tabsplit/billsync/api"
	"github.com/tabsplit/billsync/interfaces"
	"github.com/tabsplit/billsync/metrics"
	"github.com/tabsplit/billsync/sharesession"
)

// Handler processes HTTP requests for the share session service.
type Handler struct {
	service *sharesession.Service
	log     *slog.Logger
}

// NewHandler creates a new HTTP request handler for share sessions.
func NewHandler(service *sharesession.Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{service: service, log: log}
}

// Mount registers the share session routes on the given router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/v1/share", h.HandleCreate)
	r.Post("/api/v1/share/{id}", h.HandleUpdate)
	r.Get("/api/v1/share/{id}", h.HandleFetch)
}

// HandleCreate stores a fresh session and returns its identifier and
// version.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	id, version, err := h.service.Create(r.Context(), req.Ciphertext)
	if err != nil {
		h.writeError(w, mapServiceError(err))
		return
	}

	metrics.SessionsCreated.Inc()
	writeJSON(w, http.StatusCreated, api.CreateShareResponse{ShareID: id.String(), Version: version})
}

// HandleUpdate replaces the ciphertext of an existing session. A 404 tells
// the owner to recreate the session and redistribute a fresh identifier.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := interfaces.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, &api.RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}

	req, ok := h.decodeBody(w, r)
	if !ok {
		return
	}

	version, err := h.service.Update(r.Context(), id, req.Ciphertext)
	if err != nil {
		h.writeError(w, mapServiceError(err))
		return
	}

	metrics.SessionsUpdated.Inc()
	writeJSON(w, http.StatusOK, api.UpdateShareResponse{Version: version})
}

// HandleFetch returns the session's ciphertext and version, or 304 when the
// ifNewerThan query parameter already names the latest version.
func (h *Handler) HandleFetch(w http.ResponseWriter, r *http.Request) {
	id, err := interfaces.ParseSessionID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, &api.RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}

	var ifNewerThan int64
	if raw := r.URL.Query().Get(api.IfNewerThanParam); raw != "" {
		ifNewerThan, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, &api.RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("invalid ifNewerThan parameter")})
			return
		}
	}

	snap, err := h.service.Fetch(r.Context(), id, ifNewerThan)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotModified) {
			metrics.SessionFetches.WithLabelValues("not_modified").Inc()
			w.WriteHeader(http.StatusNotModified)
			return
		}
		metrics.SessionFetches.WithLabelValues("error").Inc()
		h.writeError(w, mapServiceError(err))
		return
	}

	metrics.SessionFetches.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, api.FetchShareResponse{Ciphertext: snap.Ciphertext, Version: snap.Version})
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request) (*api.CreateShareRequest, bool) {
	var req api.CreateShareRequest
	body := http.MaxBytesReader(w, r.Body, api.MaxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, &api.RequestError{StatusCode: http.StatusBadRequest, Err: errors.New("invalid request body")})
		return nil, false
	}
	return &req, true
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
		return &api.RequestError{StatusCode: http.StatusNotFound, Err: errors.New("session not found or expired")}
	case errors.Is(err, interfaces.ErrValidation):
		return &api.RequestError{StatusCode: http.StatusBadRequest, Err: err}
	case errors.Is(err, interfaces.ErrConflict):
		return &api.RequestError{StatusCode: http.StatusConflict, Err: errors.New("update conflict")}
	default:
		return &api.RequestError{StatusCode: http.StatusInternalServerError, Err: errors.New("internal error")}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
