package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/mailkite/mailkite-backend/internal/errors"
	"github.com/mailkite/mailkite-backend/internal/metrics"
	"github.com/mailkite/mailkite-backend/internal/model"
	"github.com/mailkite/mailkite-backend/internal/provider"
	"github.com/mailkite/mailkite-backend/internal/queue"
	"github.com/mailkite/mailkite-backend/internal/ratelimit"
	"github.com/mailkite/mailkite-backend/internal/repository"
)

// DispatchWorker drains pending ledger entries for one campaign per
// activation: claim batch, rate-gate each entry, render, hand to the
// provider, record the outcome. Claims never mutate status, so a crash
// mid-batch leaves the affected entries pending for the next activation
// (at-least-once handoff).
type DispatchWorker struct {
	CampaignRepo repository.CampaignRepositoryInterface
	ContactRepo  repository.ContactRepositoryInterface
	LedgerRepo   repository.LedgerRepositoryInterface
	Providers    *provider.Registry
	Limiter      *ratelimit.SendLimiter
	BatchSize    int
	SendTimeout  time.Duration
	Log          *slog.Logger
}

// pausePollInterval is how often an in-flight batch re-checks the campaign
// status so a pause abandons the token wait instead of blocking through it.
const pausePollInterval = time.Second

// RunActivation executes one dispatch loop for the campaign named by the
// activation. The per-campaign advisory lock guarantees a single owner; a
// concurrent activation for the same campaign no-ops.
func (w *DispatchWorker) RunActivation(ctx context.Context, act queue.Activation) error {
	release, ok, err := w.LedgerRepo.AcquireDispatchLock(ctx, act.CampaignID)
	if err != nil {
		return err
	}
	if !ok {
		w.Log.Info("dispatch already active, skipping",
			"campaign_id", act.CampaignID)
		metrics.DispatchActivationsTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	defer release()

	for {
		campaign, err := w.CampaignRepo.GetByID(ctx, act.TenantID, act.CampaignID)
		if err != nil {
			metrics.DispatchActivationsTotal.WithLabelValues("error").Inc()
			return err
		}
		if campaign.Status != model.CampaignSending {
			// Paused or already terminal; pending rows stay for the next
			// activation.
			metrics.DispatchActivationsTotal.WithLabelValues("paused").Inc()
			return nil
		}

		batch, err := w.LedgerRepo.ClaimPendingBatch(ctx, campaign.ID, w.BatchSize)
		if err != nil {
			metrics.DispatchActivationsTotal.WithLabelValues("error").Inc()
			return err
		}
		if len(batch) == 0 {
			done, err := w.CampaignRepo.MarkSentIfDrained(ctx, campaign.ID)
			if err != nil {
				metrics.DispatchActivationsTotal.WithLabelValues("error").Inc()
				return err
			}
			if done {
				w.Log.Info("campaign drained", "campaign_id", campaign.ID)
			}
			metrics.DispatchActivationsTotal.WithLabelValues("drained").Inc()
			return nil
		}

		prov, err := w.Providers.Default()
		if err != nil {
			metrics.DispatchActivationsTotal.WithLabelValues("error").Inc()
			return err
		}

		paused, err := w.runBatch(ctx, campaign, prov, batch)
		if err != nil {
			metrics.DispatchActivationsTotal.WithLabelValues("error").Inc()
			return err
		}
		if paused {
			metrics.DispatchActivationsTotal.WithLabelValues("paused").Inc()
			return nil
		}
	}
}

// runBatch sends every entry in the batch. It returns paused=true when the
// campaign was paused mid-batch; remaining entries stay pending. The only
// error it propagates is a persistence failure, which aborts this activation
// and leaves already-committed entries untouched.
func (w *DispatchWorker) runBatch(ctx context.Context, campaign *model.Campaign, prov provider.Provider, batch []*model.DeliveryEntry) (bool, error) {
	batchCtx, cancel := w.watchPause(ctx, campaign.TenantID, campaign.ID)
	defer cancel()

	for _, entry := range batch {
		if err := w.Limiter.Acquire(batchCtx, campaign.TenantID); err != nil {
			if batchCtx.Err() != nil {
				// Pause or shutdown observed during the token wait; the
				// entry stays pending.
				metrics.RateLimitWaits.WithLabelValues("paused").Inc()
				return true, nil
			}
			var rl *appErrors.ErrRateLimitTimeout
			if errors.As(err, &rl) {
				metrics.RateLimitWaits.WithLabelValues("timeout").Inc()
				return false, err
			}
			return false, err
		}

		if err := w.sendEntry(ctx, campaign, prov, entry); err != nil {
			return false, err
		}
	}
	return false, nil
}

// sendEntry performs one provider handoff and records the outcome. Provider
// failures are contained to the entry; only a ledger write failure returns an
// error.
func (w *DispatchWorker) sendEntry(ctx context.Context, campaign *model.Campaign, prov provider.Provider, entry *model.DeliveryEntry) error {
	contact, err := w.ContactRepo.GetByID(ctx, campaign.TenantID, entry.ContactID)
	if err != nil {
		var nf *appErrors.ErrContactNotFound
		if errors.As(err, &nf) {
			return w.LedgerRepo.MarkResult(ctx, campaign.ID, entry.ID,
				repository.SendOutcome{Sent: false, Reason: err.Error()})
		}
		return err
	}

	vars := ContactVars(contact)
	msg := &provider.Message{
		ID:        uuid.NewString(),
		To:        contact.Email,
		ToName:    vars["full_name"],
		FromEmail: campaign.FromEmail,
		FromName:  campaign.FromName,
		ReplyTo:   campaign.ReplyTo,
		Subject:   RenderTemplate(campaign.Subject, vars),
		Body:      RenderTemplate(campaign.Body, vars),
	}

	// Keep the provider call and the status write as close together as
	// possible; the gap between them is the accepted at-least-once window.
	sendCtx, cancel := context.WithTimeout(ctx, w.SendTimeout)
	start := time.Now()
	sendErr := prov.Send(sendCtx, msg)
	cancel()

	if sendErr != nil {
		metrics.ObserveSend(prov.Name(), "failed", time.Since(start))
		w.Log.Warn("send failed",
			"campaign_id", campaign.ID, "contact_id", contact.ID, "error", sendErr)
		return w.LedgerRepo.MarkResult(ctx, campaign.ID, entry.ID,
			repository.SendOutcome{Sent: false, Reason: sendErr.Error()})
	}

	metrics.ObserveSend(prov.Name(), "sent", time.Since(start))
	return w.LedgerRepo.MarkResult(ctx, campaign.ID, entry.ID,
		repository.SendOutcome{Sent: true})
}

// watchPause derives a context that is cancelled when the campaign leaves
// sending, so token waits are abandoned cooperatively instead of blocking
// until a token arrives for a paused campaign.
func (w *DispatchWorker) watchPause(ctx context.Context, tenantID, campaignID int) (context.Context, context.CancelFunc) {
	batchCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(pausePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-batchCtx.Done():
				return
			case <-ticker.C:
				c, err := w.CampaignRepo.GetByID(batchCtx, tenantID, campaignID)
				if err == nil && c.Status != model.CampaignSending {
					cancel()
					return
				}
			}
		}
	}()
	return batchCtx, cancel
}
