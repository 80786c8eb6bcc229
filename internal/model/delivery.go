package model

import "time"

// DeliveryStatus is the best-known outcome for one (campaign, contact) pair.
// Frequency lives in the counters; status only ever reflects the most
// informative event seen so far.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryOpened     DeliveryStatus = "opened"
	DeliveryClicked    DeliveryStatus = "clicked"
	DeliveryBounced    DeliveryStatus = "bounced"
	DeliveryComplained DeliveryStatus = "complained"
	DeliveryFailed     DeliveryStatus = "failed"
)

// DeliveryEntry is one row of the delivery ledger: the record of a single
// campaign's intent to deliver to a single contact. The unique
// (campaign_id, contact_id) constraint on this table is the system's
// idempotency anchor.
type DeliveryEntry struct {
	ID         int            `db:"id" json:"id"`
	CampaignID int            `db:"campaign_id" json:"campaign_id"`
	ContactID  int            `db:"contact_id" json:"contact_id"`
	Status     DeliveryStatus `db:"status" json:"status"`
	OpenCount  int            `db:"open_count" json:"open_count"`
	ClickCount int            `db:"click_count" json:"click_count"`
	LastError  string         `db:"last_error" json:"last_error,omitempty"`

	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt    *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	OpenedAt       *time.Time `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt      *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
	BouncedAt      *time.Time `db:"bounced_at" json:"bounced_at,omitempty"`
	ComplainedAt   *time.Time `db:"complained_at" json:"complained_at,omitempty"`
	UnsubscribedAt *time.Time `db:"unsubscribed_at" json:"unsubscribed_at,omitempty"`
	FailedAt       *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// TrackingEventType enumerates recipient engagement events applied to the
// ledger out-of-band after a send.
type TrackingEventType string

const (
	EventDelivered    TrackingEventType = "delivered"
	EventOpened       TrackingEventType = "opened"
	EventClicked      TrackingEventType = "clicked"
	EventBounced      TrackingEventType = "bounced"
	EventComplained   TrackingEventType = "complained"
	EventUnsubscribed TrackingEventType = "unsubscribed"
)

// ValidTrackingEvent reports whether t is one of the accepted event types.
func ValidTrackingEvent(t TrackingEventType) bool {
	switch t {
	case EventDelivered, EventOpened, EventClicked, EventBounced, EventComplained, EventUnsubscribed:
		return true
	}
	return false
}
