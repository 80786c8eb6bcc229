package model

import "time"

// ContactStatus is the global deliverability state of a contact. A hard
// bounce or spam complaint on any campaign moves the contact out of active,
// which removes it from every future campaign's recipient set.
type ContactStatus string

const (
	ContactActive     ContactStatus = "active"
	ContactBounced    ContactStatus = "bounced"
	ContactComplained ContactStatus = "complained"
)

type Contact struct {
	ID        int           `db:"id" json:"id"`
	TenantID  int           `db:"tenant_id" json:"tenant_id"`
	Email     string        `db:"email" json:"email"`
	FirstName string        `db:"first_name" json:"first_name"`
	LastName  string        `db:"last_name" json:"last_name"`
	Status    ContactStatus `db:"status" json:"status"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
}

type List struct {
	ID        int       `db:"id" json:"id"`
	TenantID  int       `db:"tenant_id" json:"tenant_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SubscriptionStatus is the per-list opt-in state of a contact.
type SubscriptionStatus string

const (
	SubscriptionActive       SubscriptionStatus = "active"
	SubscriptionPending      SubscriptionStatus = "pending"
	SubscriptionUnsubscribed SubscriptionStatus = "unsubscribed"
)

type Subscription struct {
	ContactID int                `db:"contact_id" json:"contact_id"`
	ListID    int                `db:"list_id" json:"list_id"`
	Status    SubscriptionStatus `db:"status" json:"status"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
}
