package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
	"github.com/vladislavdragonenkov/order-lifecycle/internal/service/returns"
)

type createReturnRequest struct {
	Reason               domain.ReturnReason `json:"reason"`
	PhotoURLs            []string            `json:"photo_urls"`
	ConditionDescription string              `json:"condition_description"`
}

type operatorNoteRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

type returnStepFunc func(ctx context.Context, returnID, operatorID, notes string) (domain.ReturnRequest, error)

func (h *handler) returnPreview(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.Role != domain.ActorCustomer {
		writeError(w, r, http.StatusForbidden, "forbidden", "customer role required")
		return
	}
	preview, err := h.svc.Returns.GetPreview(r.Context(), chi.URLParam(r, "orderID"), actor.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *handler) createReturn(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.Role != domain.ActorCustomer {
		writeError(w, r, http.StatusForbidden, "forbidden", "customer role required")
		return
	}
	var body createReturnRequest
	if err := decodeJSON(r, &body); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	result, err := h.svc.Returns.CreateReturnRequest(r.Context(), returns.CreateInput{
		OrderID:              chi.URLParam(r, "orderID"),
		CustomerID:           actor.ID,
		Reason:               body.Reason,
		PhotoURLs:            body.PhotoURLs,
		ConditionDescription: body.ConditionDescription,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if !result.Success {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *handler) listOpenReturns(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Returns.ListOpenReturns(r.Context(), limitParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": mapSlice(items, buildReturnPayload)})
}

func (h *handler) approveReturn(w http.ResponseWriter, r *http.Request) {
	var body operatorNoteRequest
	if err := decodeJSON(r, &body); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	result, err := h.svc.Returns.ApproveReturn(r.Context(), chi.URLParam(r, "returnID"), actorFrom(r).ID, body.Notes)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) rejectReturn(w http.ResponseWriter, r *http.Request) {
	var body operatorNoteRequest
	if err := decodeJSON(r, &body); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	result, err := h.svc.Returns.RejectReturn(r.Context(), chi.URLParam(r, "returnID"), actorFrom(r).ID, body.Reason)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// returnStep оборачивает шаги логистики возврата (забор, получение, осмотр).
func (h *handler) returnStep(step returnStepFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body operatorNoteRequest
		if err := decodeJSON(r, &body); err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		req, err := step(r.Context(), chi.URLParam(r, "returnID"), actorFrom(r).ID, body.Notes)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, buildReturnPayload(req))
	}
}
