package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/mailkite/mailkite-backend/internal/errors"
	"github.com/mailkite/mailkite-backend/internal/model"
	"github.com/mailkite/mailkite-backend/internal/service"
)

// CampaignHandler exposes the campaign lifecycle and tracking ingest over
// HTTP. Transports beyond this JSON surface (pixel, click redirect, webhook
// signatures) are collaborators, not part of the core.
type CampaignHandler struct {
	Service  *service.CampaignService
	Tracking *service.TrackingService
}

// Routes mounts the campaign endpoints on a chi router.
func (h *CampaignHandler) Routes(r chi.Router) {
	r.Post("/campaigns", h.CreateCampaign)
	r.Get("/campaigns", h.ListCampaigns)
	r.Get("/campaigns/{id}", h.GetCampaign)
	r.Get("/campaigns/{id}/stats", h.GetStats)
	r.Post("/campaigns/{id}/send", h.SendCampaign)
	r.Post("/campaigns/{id}/test", h.SendTest)
	r.Post("/campaigns/{id}/pause", h.Pause)
	r.Post("/campaigns/{id}/resume", h.Resume)
	r.Post("/campaigns/{id}/cancel", h.Cancel)
	r.Post("/campaigns/{id}/events", h.RecordEvent)
}

func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in service.CampaignInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	campaign, err := h.Service.CreateCampaign(r.Context(), tenantFrom(r.Context()), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(), tenantFrom(r.Context()), page, pageSize, status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	details, err := h.Service.GetCampaignDetailsWithStats(r.Context(), tenantFrom(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *CampaignHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	stats, err := h.Service.GetCampaignStats(r.Context(), tenantFrom(r.Context()), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// SendCampaign triggers dispatch. The operator sees either a recipient count
// confirmation or a specific rejection reason; individual recipient failures
// surface only in stats.
func (h *CampaignHandler) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	count, err := h.Service.StartSend(ctx, tenantFrom(ctx), actorFrom(ctx), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"campaign_id":     id,
		"recipient_count": count,
		"status":          model.CampaignSending,
	})
}

func (h *CampaignHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body struct {
		TestAddress string `json:"test_address"`
		Provider    string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.TestAddress == "" {
		http.Error(w, "test_address is required", http.StatusBadRequest)
		return
	}

	if err := h.Service.SendTest(r.Context(), tenantFrom(r.Context()), id, body.TestAddress, body.Provider); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "sent"})
}

func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Pause)
}

func (h *CampaignHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Resume)
}

func (h *CampaignHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Service.Cancel)
}

func (h *CampaignHandler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	var body struct {
		ContactID int                     `json:"contact_id"`
		Event     model.TrackingEventType `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ContactID == 0 {
		http.Error(w, "contact_id and event are required", http.StatusBadRequest)
		return
	}
	if !model.ValidTrackingEvent(body.Event) {
		http.Error(w, "unknown event type", http.StatusBadRequest)
		return
	}

	if err := h.Tracking.RecordTrackingEvent(r.Context(), tenantFrom(r.Context()), id, body.ContactID, body.Event); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (h *CampaignHandler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, tenantID, actorID, campaignID int) error) {
	id, err := campaignID(r)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := op(ctx, tenantFrom(ctx), actorFrom(ctx), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func campaignID(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var (
		campaignMissing *appErrors.ErrCampaignNotFound
		contactMissing  *appErrors.ErrContactNotFound
		unknownProvider *appErrors.ErrUnknownProvider
	)
	switch {
	case appErrors.IsInvalidState(err):
		http.Error(w, err.Error(), http.StatusConflict)
	case appErrors.IsNoRecipients(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case appErrors.IsProviderUnconfigured(err):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &campaignMissing), errors.As(err, &contactMissing):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &unknownProvider):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
