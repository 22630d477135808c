package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pod-fulfillment/internal/logger"
	"github.com/ariefcatur/go-pod-fulfillment/internal/orders"
	"github.com/ariefcatur/go-pod-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-pod-fulfillment/internal/wallet"
)

const (
	HeaderTenantID       = "X-Tenant-ID"
	HeaderUserID         = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func ok(w http.ResponseWriter, code int, msg string, data any) {
	writeJSON(w, code, Response{Success: true, Message: msg, Data: data})
}

func fail(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, Response{Success: false, Message: msg})
}

// writeError maps domain errors to status codes. Only validation messages
// reach the client verbatim; everything else is logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *orders.ValidationError
	switch {
	case errors.As(err, &ve):
		fail(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, wallet.ErrInvalidAmount):
		fail(w, http.StatusBadRequest, "invalid amount")
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, wallet.ErrNotFound):
		fail(w, http.StatusNotFound, "not found")
	case errors.Is(err, orders.ErrInsufficientFunds):
		fail(w, http.StatusConflict, "insufficient wallet balance")
	case errors.Is(err, orders.ErrInvalidState):
		fail(w, http.StatusConflict, "order is not in a state that allows this action")
	case errors.Is(err, postgres.ErrConflict):
		fail(w, http.StatusServiceUnavailable, "busy, retry later")
	default:
		logger.FromContext(r.Context()).Error("request failed",
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		fail(w, http.StatusInternalServerError, "internal error")
	}
}

// decode treats an empty body as an empty object.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		fail(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

// identity reads the caller headers set by the gateway. The tenant header is
// required; the user header defaults to 0.
func identity(w http.ResponseWriter, r *http.Request) (tenantID, userID int64, good bool) {
	tenantID, err := strconv.ParseInt(r.Header.Get(HeaderTenantID), 10, 64)
	if err != nil || tenantID <= 0 {
		fail(w, http.StatusUnauthorized, "missing or invalid "+HeaderTenantID)
		return 0, 0, false
	}
	if v := r.Header.Get(HeaderUserID); v != "" {
		if userID, err = strconv.ParseInt(v, 10, 64); err != nil {
			fail(w, http.StatusBadRequest, "invalid "+HeaderUserID)
			return 0, 0, false
		}
	}
	return tenantID, userID, true
}

// requireActor reads the operator id every admin route acts under.
func requireActor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
	if err != nil || id <= 0 {
		fail(w, http.StatusUnauthorized, "missing or invalid "+HeaderUserID)
		return 0, false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		fail(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
