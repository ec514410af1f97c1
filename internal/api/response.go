package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/erazemk/sobe/internal/stock"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("error encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, errorResponse{Error: message})
}

type errorResponse struct {
	Error string     `json:"error"`
	Code  stock.Code `json:"code,omitempty"`
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

// pathID parses the {id} path value.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// queryID parses an optional numeric query parameter. Absent means 0.
func queryID(r *http.Request, name string) (int64, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(v, 10, 64)
	return id, err == nil && id > 0
}

// queryTime parses an optional RFC 3339 query parameter.
func queryTime(r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, err == nil
}

// movementError writes the response for a failed stock movement.
func movementError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error(), Code: stock.CodeOf(err)}

	switch {
	case errors.Is(err, stock.ErrValidation):
		jsonResponse(w, http.StatusBadRequest, resp)
	case errors.Is(err, stock.ErrNotFound):
		jsonResponse(w, http.StatusNotFound, resp)
	case errors.Is(err, stock.ErrStateConflict):
		jsonResponse(w, http.StatusConflict, resp)
	case errors.Is(err, stock.ErrBusy):
		w.Header().Set("Retry-After", "1")
		jsonResponse(w, http.StatusServiceUnavailable, resp)
	case errors.Is(err, stock.ErrConflict):
		w.Header().Set("Retry-After", "1")
		jsonResponse(w, http.StatusConflict, resp)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Warn("stock movement abandoned", "path", r.URL.Path, "error", err)
		jsonError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		slog.Error("stock movement failed", "path", r.URL.Path, "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
	}
}
