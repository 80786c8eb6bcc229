package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/mailkite/mailkite-backend/internal/errors"
	"github.com/mailkite/mailkite-backend/internal/model"
	"github.com/mailkite/mailkite-backend/internal/provider"
	"github.com/mailkite/mailkite-backend/internal/queue"
	"github.com/mailkite/mailkite-backend/internal/repository"
)

// CampaignService owns the campaign lifecycle: draft to sending to sent, with
// pause/resume while sending and cancel from draft. Every operation takes tenant and actor
// ids explicitly; tenancy resolution lives outside the core.
type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	LedgerRepo   repository.LedgerRepositoryInterface
	Providers    *provider.Registry
	Queue        queue.Queue
	Log          *slog.Logger
}

// CampaignInput carries the editable fields of a campaign.
type CampaignInput struct {
	Name        string     `json:"name"`
	Subject     string     `json:"subject"`
	FromEmail   string     `json:"from_email"`
	FromName    string     `json:"from_name"`
	ReplyTo     string     `json:"reply_to"`
	Body        string     `json:"body"`
	ListIDs     []int      `json:"list_ids"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// CampaignDetails is a campaign plus its live ledger stats.
type CampaignDetails struct {
	*model.Campaign
	Stats map[string]int `json:"stats"`
}

func (s *CampaignService) CreateCampaign(ctx context.Context, tenantID int, in CampaignInput) (*model.Campaign, error) {
	c := &model.Campaign{
		TenantID:    tenantID,
		Name:        in.Name,
		Subject:     in.Subject,
		FromEmail:   in.FromEmail,
		FromName:    in.FromName,
		ReplyTo:     in.ReplyTo,
		Body:        in.Body,
		ListIDs:     in.ListIDs,
		ScheduledAt: in.ScheduledAt,
		Status:      model.CampaignDraft,
	}
	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination.
func (s *CampaignService) ListCampaigns(ctx context.Context, tenantID, page, pageSize int, status string) ([]*model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	campaigns, total, err := s.CampaignRepo.ListCampaigns(ctx, tenantID, offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, tenantID, campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return nil, err
	}
	stats, err := s.LedgerRepo.StatsByStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{Campaign: campaign, Stats: stats}, nil
}

// StartSend triggers dispatch for a draft campaign: the recipient snapshot is
// resolved, the ledger seeded and the campaign moved to sending in one
// transaction, then an activation is queued for the worker. Returns the
// snapshotted recipient count. Fails without side effects on a non-draft
// campaign or an empty recipient set.
func (s *CampaignService) StartSend(ctx context.Context, tenantID, actorID, campaignID int) (int, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return 0, err
	}
	if !campaign.CanStartSend() {
		return 0, appErrors.NewInvalidState(campaignID, string(campaign.Status), "start sending")
	}

	count, err := s.CampaignRepo.StartSending(ctx, tenantID, campaignID, campaign.ListIDs)
	if err != nil {
		return 0, err
	}

	s.Log.Info("campaign dispatch started",
		"campaign_id", campaignID, "tenant_id", tenantID, "actor_id", actorID,
		"recipients", count)

	if err := s.Queue.Publish(ctx, queue.Activation{TenantID: tenantID, CampaignID: campaignID}); err != nil {
		// The ledger is seeded and the campaign is sending; pending rows
		// survive until the next activation, so a publish failure is not
		// fatal to the trigger.
		s.Log.Error("failed to queue dispatch activation",
			"campaign_id", campaignID, "error", err)
	}
	return count, nil
}

// Pause stops the dispatch worker from claiming further pending rows. The
// worker observes it cooperatively at the next batch or token-wait boundary.
func (s *CampaignService) Pause(ctx context.Context, tenantID, actorID, campaignID int) error {
	if err := s.CampaignRepo.SetStatus(ctx, tenantID, campaignID, model.CampaignSending, model.CampaignPaused); err != nil {
		return err
	}
	s.Log.Info("campaign paused",
		"campaign_id", campaignID, "tenant_id", tenantID, "actor_id", actorID)
	return nil
}

// Resume moves a paused campaign back to sending and queues a fresh
// activation to drain the remaining pending rows.
func (s *CampaignService) Resume(ctx context.Context, tenantID, actorID, campaignID int) error {
	if err := s.CampaignRepo.SetStatus(ctx, tenantID, campaignID, model.CampaignPaused, model.CampaignSending); err != nil {
		return err
	}
	s.Log.Info("campaign resumed",
		"campaign_id", campaignID, "tenant_id", tenantID, "actor_id", actorID)

	if err := s.Queue.Publish(ctx, queue.Activation{TenantID: tenantID, CampaignID: campaignID}); err != nil {
		s.Log.Error("failed to queue dispatch activation",
			"campaign_id", campaignID, "error", err)
	}
	return nil
}

// Cancel is only legal from draft. Once sending has started the campaign must
// be paused, drained or allowed to finish; destroying it mid-send would leave
// provider-side sends with no local record.
func (s *CampaignService) Cancel(ctx context.Context, tenantID, actorID, campaignID int) error {
	if err := s.CampaignRepo.SetStatus(ctx, tenantID, campaignID, model.CampaignDraft, model.CampaignCancelled); err != nil {
		return err
	}
	s.Log.Info("campaign cancelled",
		"campaign_id", campaignID, "tenant_id", tenantID, "actor_id", actorID)
	return nil
}

// CompleteIfDrained moves a sending campaign to sent once no pending ledger
// rows remain. Idempotent; calling it on an already-sent campaign is a no-op.
func (s *CampaignService) CompleteIfDrained(ctx context.Context, campaignID int) (bool, error) {
	return s.CampaignRepo.MarkSentIfDrained(ctx, campaignID)
}

// SendTest sends the campaign synchronously to a single address for operator
// preview, bypassing the ledger and the rate limiter. Placeholders render
// with the test address standing in for the recipient.
func (s *CampaignService) SendTest(ctx context.Context, tenantID, campaignID int, testAddress, providerName string) error {
	campaign, err := s.CampaignRepo.GetByID(ctx, tenantID, campaignID)
	if err != nil {
		return err
	}
	prov, err := s.Providers.Get(providerName)
	if err != nil {
		return err
	}

	vars := map[string]string{"email": testAddress}
	msg := &provider.Message{
		ID:        uuid.NewString(),
		To:        testAddress,
		FromEmail: campaign.FromEmail,
		FromName:  campaign.FromName,
		ReplyTo:   campaign.ReplyTo,
		Subject:   RenderTemplate(campaign.Subject, vars),
		Body:      RenderTemplate(campaign.Body, vars),
	}
	return prov.Send(ctx, msg)
}

// GetCampaignStats returns the cached aggregates together with a live
// group-by of the ledger, for audits where the aggregates are not trusted.
func (s *CampaignService) GetCampaignStats(ctx context.Context, tenantID, campaignID int) (*CampaignDetails, error) {
	return s.GetCampaignDetailsWithStats(ctx, tenantID, campaignID)
}
