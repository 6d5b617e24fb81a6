package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

const maxBodyBytes = 1 << 20

// errorEnvelope - единый формат ошибки API.
type errorEnvelope struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{
		Error:     code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// writeServiceError переводит доменные ошибки в HTTP-коды. Инфраструктурные сбои логируются.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *log.Entry, err error) {
	switch {
	case domain.IsNotFound(err):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrAccessDenied):
		writeError(w, r, http.StatusForbidden, "forbidden", "access denied")
	case domain.IsConflict(err):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrOrderIDRequired):
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, domain.ErrPaymentDeclined),
		errors.Is(err, domain.ErrPaymentTemporary),
		errors.Is(err, domain.ErrPaymentReferenceRequired):
		writeError(w, r, http.StatusBadGateway, "payment_failed", err.Error())
	default:
		logger.WithError(err).WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"request_id": middleware.GetReqID(r.Context()),
		}).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// decodeJSON читает тело запроса; пустое тело допустимо и оставляет dst без изменений.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: malformed json body: %s", domain.ErrInvalidArgument, strings.TrimSpace(err.Error()))
	}
	return nil
}
