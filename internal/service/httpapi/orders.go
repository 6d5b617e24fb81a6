package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/cancellation"
)

type cancelRequest struct {
	ReasonCode domain.CancellationReason `json:"reason_code"`
	ReasonText string                    `json:"reason_text"`
}

func (h *handler) cancellationPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.svc.Cancellations.GetPreview(r.Context(), chi.URLParam(r, "orderID"), actorFrom(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var body cancelRequest
	if err := decodeJSON(r, &body); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	result, err := h.svc.Cancellations.Execute(r.Context(), cancellation.ExecuteInput{
		OrderID:    chi.URLParam(r, "orderID"),
		Initiator:  actorFrom(r),
		ReasonCode: body.ReasonCode,
		ReasonText: body.ReasonText,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if !result.Success {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	repos := h.svc.Store.Repositories()

	order, err := repos.Orders.Get(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if !actorFrom(r).CanAccessOrder(order) {
		writeServiceError(w, r, h.logger, domain.ErrAccessDenied)
		return
	}

	events, err := repos.Timeline.List(r.Context(), orderID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order_id": order.ID,
		"status":   order.Status,
		"events": mapSlice(events, func(e domain.TimelineEvent) timelinePayload {
			return timelinePayload{
				FromStatus:    e.FromStatus,
				ToStatus:      e.ToStatus,
				ChangedBy:     e.ChangedBy,
				ChangedByRole: e.ChangedByRole,
				Reason:        e.Reason,
				Occurred:      e.Occurred,
			}
		}),
	})
}

func (h *handler) listCancellations(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Cancellations.History(r.Context(), actorFrom(r), limitParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cancellations": mapSlice(records, buildCancellationPayload),
	})
}
