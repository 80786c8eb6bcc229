package model

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCancelled CampaignStatus = "cancelled"
)

type Campaign struct {
	ID        int            `db:"id" json:"id"`
	TenantID  int            `db:"tenant_id" json:"tenant_id"`
	Name      string         `db:"name" json:"name"`
	Subject   string         `db:"subject" json:"subject"`
	FromEmail string         `db:"from_email" json:"from_email"`
	FromName  string         `db:"from_name" json:"from_name"`
	ReplyTo   string         `db:"reply_to" json:"reply_to,omitempty"`
	Body      string         `db:"body" json:"body"`
	Status    CampaignStatus `db:"status" json:"status"`

	// RecipientCount is snapshotted when the campaign enters sending and is
	// never re-evaluated afterwards.
	RecipientCount int `db:"recipient_count" json:"recipient_count"`

	// Aggregate counters track distinct recipients, not raw event volume.
	DeliveredCount    int `db:"delivered_count" json:"delivered_count"`
	OpenedCount       int `db:"opened_count" json:"opened_count"`
	ClickedCount      int `db:"clicked_count" json:"clicked_count"`
	BouncedCount      int `db:"bounced_count" json:"bounced_count"`
	ComplainedCount   int `db:"complained_count" json:"complained_count"`
	UnsubscribedCount int `db:"unsubscribed_count" json:"unsubscribed_count"`

	ListIDs     []int      `db:"-" json:"list_ids"`
	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// CanStartSend reports whether the dispatch trigger may move the campaign
// into sending. Only draft campaigns qualify; sending is a one-way door.
func (c *Campaign) CanStartSend() bool {
	return c.Status == CampaignDraft
}

// IsTerminal reports whether the campaign can never change state again.
func (c *Campaign) IsTerminal() bool {
	return c.Status == CampaignSent || c.Status == CampaignCancelled
}
