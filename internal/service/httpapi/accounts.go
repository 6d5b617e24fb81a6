package httpapi

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

type setFlagRequest struct {
	FlagLevel string `json:"flag_level"`
	Reason    string `json:"reason"`
}

func (h *handler) abuseStatus(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")
	if !selfOrOperations(actorFrom(r), domain.ActorCustomer, customerID) {
		writeServiceError(w, r, h.logger, domain.ErrAccessDenied)
		return
	}
	status, err := h.svc.Fraud.GetAbuseStatus(r.Context(), customerID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) setFlag(w http.ResponseWriter, r *http.Request) {
	var body setFlagRequest
	if err := decodeJSON(r, &body); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	level, err := domain.ParseFlagLevel(body.FlagLevel)
	if err != nil {
		writeServiceError(w, r, h.logger, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err))
		return
	}

	status, err := h.svc.Fraud.SetFlagLevel(r.Context(), chi.URLParam(r, "customerID"), level, body.Reason, actorFrom(r).ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) flaggedCustomers(w http.ResponseWriter, r *http.Request) {
	flag := domain.FlagNone
	if raw := r.URL.Query().Get("flag"); raw != "" {
		level, err := domain.ParseFlagLevel(raw)
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		flag = level
	}

	customers, err := h.svc.Fraud.ListFlagged(r.Context(), flag, limitParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"customers": customers})
}

func (h *handler) fraudStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Fraud.Stats(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) garageAccountability(w http.ResponseWriter, r *http.Request) {
	garageID := chi.URLParam(r, "garageID")
	if !selfOrOperations(actorFrom(r), domain.ActorGarage, garageID) {
		writeServiceError(w, r, h.logger, domain.ErrAccessDenied)
		return
	}
	report, err := h.svc.Fraud.GetAccountability(r.Context(), garageID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) garagePenalties(w http.ResponseWriter, r *http.Request) {
	garageID := chi.URLParam(r, "garageID")
	if !selfOrOperations(actorFrom(r), domain.ActorGarage, garageID) {
		writeServiceError(w, r, h.logger, domain.ErrAccessDenied)
		return
	}
	penalties, err := h.svc.Store.Repositories().Penalties.ListByGarage(r.Context(), garageID, limitParam(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"garage_id": garageID,
		"penalties": mapSlice(penalties, func(p domain.GaragePenalty) penaltyPayload {
			return penaltyPayload{
				ID:        p.ID,
				OrderID:   p.OrderID,
				Type:      p.Type,
				Action:    p.Action,
				Amount:    p.Amount,
				Status:    p.Status,
				Notes:     p.Notes,
				CreatedAt: p.CreatedAt,
			}
		}),
	})
}
