package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

// listRefunds по умолчанию показывает неуспешные возвраты: это очередь ручного разбора.
func (h *handler) listRefunds(w http.ResponseWriter, r *http.Request) {
	status := domain.RefundStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.RefundStatusFailed
	}
	refunds, err := h.svc.Refunds.List(r.Context(), status, limitParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"refunds": mapSlice(refunds, buildRefundPayload),
	})
}

func (h *handler) retryRefund(w http.ResponseWriter, r *http.Request) {
	refund, err := h.svc.Refunds.Retry(r.Context(), chi.URLParam(r, "refundID"), actorFrom(r).ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, buildRefundPayload(refund))
}
