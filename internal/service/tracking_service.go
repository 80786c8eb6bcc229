package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailkite/mailkite-backend/internal/metrics"
	"github.com/mailkite/mailkite-backend/internal/model"
	"github.com/mailkite/mailkite-backend/internal/repository"
)

// TrackingService ingests open/click/bounce/complaint/unsubscribe events and
// folds them into the delivery ledger. The webhook, pixel and click-redirect
// handlers that produce these events live outside the core.
type TrackingService struct {
	LedgerRepo repository.LedgerRepositoryInterface
	Log        *slog.Logger
}

// RecordTrackingEvent applies one engagement event to the ledger entry for
// (campaign, contact) and the campaign aggregates. Repeated opens and clicks
// keep incrementing the per-entry counters, while aggregates only count the
// first occurrence per recipient.
func (s *TrackingService) RecordTrackingEvent(ctx context.Context, tenantID, campaignID, contactID int, event model.TrackingEventType) error {
	if !model.ValidTrackingEvent(event) {
		return fmt.Errorf("unknown tracking event type %q", event)
	}

	if err := s.LedgerRepo.ApplyTrackingEvent(ctx, tenantID, campaignID, contactID, event); err != nil {
		return err
	}

	metrics.TrackingEventsTotal.WithLabelValues(string(event)).Inc()
	s.Log.Debug("tracking event applied",
		"campaign_id", campaignID, "contact_id", contactID, "event", event)
	return nil
}
