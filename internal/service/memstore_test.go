package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	appErrors "github.com/mailkite/mailkite-backend/internal/errors"
	"github.com/mailkite/mailkite-backend/internal/model"
	"github.com/mailkite/mailkite-backend/internal/queue"
	"github.com/mailkite/mailkite-backend/internal/repository"
)

// memStore is an in-memory stand-in for the three repositories, keeping the
// same transition and counting rules as the SQL layer so service and worker
// tests exercise the real contract.
type memStore struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
	contacts  map[int]*model.Contact
	subs      []model.Subscription
	entries   map[int]*model.DeliveryEntry
	nextEntry int
	locks     map[int]bool
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: map[int]*model.Campaign{},
		contacts:  map[int]*model.Contact{},
		entries:   map[int]*model.DeliveryEntry{},
		nextEntry: 1,
		locks:     map[int]bool{},
	}
}

func (m *memStore) addCampaign(c *model.Campaign) {
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	m.campaigns[c.ID] = c
}

func (m *memStore) addContact(c *model.Contact, listIDs ...int) {
	if c.Status == "" {
		c.Status = model.ContactActive
	}
	m.contacts[c.ID] = c
	for _, listID := range listIDs {
		m.subs = append(m.subs, model.Subscription{
			ContactID: c.ID, ListID: listID, Status: model.SubscriptionActive,
		})
	}
}

func (m *memStore) subscribe(contactID, listID int, status model.SubscriptionStatus) {
	m.subs = append(m.subs, model.Subscription{ContactID: contactID, ListID: listID, Status: status})
}

// ---- CampaignRepositoryInterface ----

func (m *memStore) Create(ctx context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = len(m.campaigns) + 1
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now()
	m.campaigns[c.ID] = c
	return nil
}

func (m *memStore) GetByID(ctx context.Context, tenantID, id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok || c.TenantID != tenantID {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ListCampaigns(ctx context.Context, tenantID, offset, limit int, status string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range m.campaigns {
		if c.TenantID == tenantID && (status == "" || string(c.Status) == status) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memStore) Update(ctx context.Context, c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.campaigns[c.ID]; ok && cur.TenantID == c.TenantID {
		cur.Name, cur.Subject, cur.Body = c.Name, c.Subject, c.Body
	}
	return nil
}

func (m *memStore) StartSending(ctx context.Context, tenantID, campaignID int, listIDs []int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok || c.TenantID != tenantID {
		return 0, appErrors.NewCampaignNotFound(campaignID)
	}
	if c.Status != model.CampaignDraft {
		return 0, appErrors.NewInvalidState(campaignID, string(c.Status), "start sending")
	}

	ids := m.resolveLocked(tenantID, listIDs)
	if len(ids) == 0 {
		return 0, appErrors.NewNoRecipients(campaignID)
	}

	for _, contactID := range ids {
		for _, e := range m.entries {
			if e.CampaignID == campaignID && e.ContactID == contactID {
				return 0, fmt.Errorf("duplicate ledger entry for campaign %d contact %d", campaignID, contactID)
			}
		}
		e := &model.DeliveryEntry{
			ID:         m.nextEntry,
			CampaignID: campaignID,
			ContactID:  contactID,
			Status:     model.DeliveryPending,
			CreatedAt:  time.Now(),
		}
		m.nextEntry++
		m.entries[e.ID] = e
	}

	now := time.Now()
	c.Status = model.CampaignSending
	c.RecipientCount = len(ids)
	c.SentAt = &now
	return len(ids), nil
}

func (m *memStore) SetStatus(ctx context.Context, tenantID, campaignID int, from, to model.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok || c.TenantID != tenantID {
		return appErrors.NewCampaignNotFound(campaignID)
	}
	if c.Status != from {
		return appErrors.NewInvalidState(campaignID, string(c.Status), fmt.Sprintf("transition to %s", to))
	}
	c.Status = to
	return nil
}

func (m *memStore) MarkSentIfDrained(ctx context.Context, campaignID int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[campaignID]
	if !ok {
		return false, appErrors.NewCampaignNotFound(campaignID)
	}
	if c.Status == model.CampaignSent {
		return true, nil
	}
	if c.Status != model.CampaignSending {
		return false, nil
	}
	for _, e := range m.entries {
		if e.CampaignID == campaignID && e.Status == model.DeliveryPending {
			return false, nil
		}
	}
	c.Status = model.CampaignSent
	return true, nil
}

// ---- ContactRepositoryInterface ----

func (m *memStore) GetContactByID(ctx context.Context, tenantID, id int) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok || c.TenantID != tenantID {
		return nil, appErrors.NewContactNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) ResolveRecipients(ctx context.Context, tenantID int, listIDs []int) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(tenantID, listIDs), nil
}

func (m *memStore) resolveLocked(tenantID int, listIDs []int) []int {
	targeted := map[int]bool{}
	for _, id := range listIDs {
		targeted[id] = true
	}
	seen := map[int]bool{}
	for _, s := range m.subs {
		if !targeted[s.ListID] || s.Status != model.SubscriptionActive {
			continue
		}
		c, ok := m.contacts[s.ContactID]
		if !ok || c.TenantID != tenantID || c.Status != model.ContactActive {
			continue
		}
		seen[s.ContactID] = true
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ---- LedgerRepositoryInterface ----

func (m *memStore) ClaimPendingBatch(ctx context.Context, campaignID, limit int) ([]*model.DeliveryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.DeliveryEntry{}
	for _, e := range m.entries {
		if e.CampaignID == campaignID && e.Status == model.DeliveryPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CountPending(ctx context.Context, campaignID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.CampaignID == campaignID && e.Status == model.DeliveryPending {
			n++
		}
	}
	return n, nil
}

func (m *memStore) MarkResult(ctx context.Context, campaignID, entryID int, outcome repository.SendOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[entryID]
	if !ok || e.Status != model.DeliveryPending {
		return nil
	}
	now := time.Now()
	if outcome.Sent {
		e.Status = model.DeliverySent
		e.SentAt = &now
		e.LastError = ""
		if c, ok := m.campaigns[campaignID]; ok {
			c.DeliveredCount++
		}
	} else {
		e.Status = model.DeliveryFailed
		e.FailedAt = &now
		e.LastError = outcome.Reason
	}
	return nil
}

func (m *memStore) ApplyTrackingEvent(ctx context.Context, tenantID, campaignID, contactID int, event model.TrackingEventType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entry *model.DeliveryEntry
	for _, e := range m.entries {
		if e.CampaignID == campaignID && e.ContactID == contactID {
			entry = e
			break
		}
	}
	c, ok := m.campaigns[campaignID]
	if entry == nil || !ok || c.TenantID != tenantID {
		return appErrors.NewContactNotFound(contactID)
	}

	now := time.Now()
	flippable := entry.Status == model.DeliverySent || entry.Status == model.DeliveryDelivered

	switch event {
	case model.EventDelivered:
		if entry.Status == model.DeliverySent {
			entry.Status = model.DeliveryDelivered
			entry.DeliveredAt = &now
		}
	case model.EventOpened:
		first := entry.OpenedAt == nil
		entry.OpenCount++
		if first {
			entry.OpenedAt = &now
			c.OpenedCount++
			if flippable {
				entry.Status = model.DeliveryOpened
			}
		}
	case model.EventClicked:
		first := entry.ClickedAt == nil
		entry.ClickCount++
		if first {
			entry.ClickedAt = &now
			c.ClickedCount++
			if flippable {
				entry.Status = model.DeliveryClicked
			}
		}
	case model.EventBounced:
		if entry.BouncedAt == nil {
			entry.BouncedAt = &now
			c.BouncedCount++
			if flippable {
				entry.Status = model.DeliveryBounced
			}
		}
		if ct, ok := m.contacts[contactID]; ok && ct.Status == model.ContactActive {
			ct.Status = model.ContactBounced
		}
	case model.EventComplained:
		if entry.ComplainedAt == nil {
			entry.ComplainedAt = &now
			c.ComplainedCount++
			if flippable {
				entry.Status = model.DeliveryComplained
			}
		}
		if ct, ok := m.contacts[contactID]; ok && ct.Status == model.ContactActive {
			ct.Status = model.ContactComplained
		}
	case model.EventUnsubscribed:
		if entry.UnsubscribedAt == nil {
			entry.UnsubscribedAt = &now
			c.UnsubscribedCount++
		}
		for i := range m.subs {
			if m.subs[i].ContactID == contactID {
				m.subs[i].Status = model.SubscriptionUnsubscribed
			}
		}
	}
	return nil
}

func (m *memStore) GetEntry(ctx context.Context, campaignID, contactID int) (*model.DeliveryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.CampaignID == campaignID && e.ContactID == contactID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) StatsByStatus(ctx context.Context, campaignID int) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := map[string]int{}
	for _, e := range m.entries {
		if e.CampaignID == campaignID {
			stats[string(e.Status)]++
		}
	}
	return stats, nil
}

func (m *memStore) AcquireDispatchLock(ctx context.Context, campaignID int) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[campaignID] {
		return nil, false, nil
	}
	m.locks[campaignID] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.locks[campaignID] = false
	}, true, nil
}

// contactRepo adapts memStore to ContactRepositoryInterface (GetByID clashes
// with the campaign method name).
type contactRepo struct{ *memStore }

func (r contactRepo) GetByID(ctx context.Context, tenantID, id int) (*model.Contact, error) {
	return r.GetContactByID(ctx, tenantID, id)
}

// collectQueue records published activations.
type collectQueue struct {
	mu   sync.Mutex
	acts []queue.Activation
}

func (q *collectQueue) Publish(ctx context.Context, act queue.Activation) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acts = append(q.acts, act)
	return nil
}

func (q *collectQueue) published() []queue.Activation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Activation{}, q.acts...)
}
