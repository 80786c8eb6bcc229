package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/mailkite/mailkite-backend/internal/errors"
	"github.com/mailkite/mailkite-backend/internal/model"
)

// SendOutcome is the definitive result of one send attempt.
type SendOutcome struct {
	Sent   bool
	Reason string
}

type LedgerRepositoryInterface interface {
	ClaimPendingBatch(ctx context.Context, campaignID, limit int) ([]*model.DeliveryEntry, error)
	CountPending(ctx context.Context, campaignID int) (int, error)
	MarkResult(ctx context.Context, campaignID, entryID int, outcome SendOutcome) error
	ApplyTrackingEvent(ctx context.Context, tenantID, campaignID, contactID int, event model.TrackingEventType) error
	GetEntry(ctx context.Context, campaignID, contactID int) (*model.DeliveryEntry, error)
	StatsByStatus(ctx context.Context, campaignID int) (map[string]int, error)
	AcquireDispatchLock(ctx context.Context, campaignID int) (release func(), ok bool, err error)
}

type LedgerRepository struct {
	DB *sqlx.DB
}

const entryColumns = `id, campaign_id, contact_id, status, open_count, click_count, last_error,
	sent_at, delivered_at, opened_at, clicked_at, bounced_at, complained_at,
	unsubscribed_at, failed_at, created_at, updated_at`

// ClaimPendingBatch returns up to limit pending entries without mutating
// them. Status only changes after a definitive send attempt, so a crashed
// worker leaves its claim visible to the next activation.
func (r *LedgerRepository) ClaimPendingBatch(ctx context.Context, campaignID, limit int) ([]*model.DeliveryEntry, error) {
	entries := []*model.DeliveryEntry{}
	query := `
        SELECT ` + entryColumns + `
        FROM delivery_entries
        WHERE campaign_id=$1 AND status='pending'
        ORDER BY id
        LIMIT $2
    `
	if err := r.DB.SelectContext(ctx, &entries, query, campaignID, limit); err != nil {
		return nil, appErrors.NewPersistence("claim pending batch", err)
	}
	return entries, nil
}

func (r *LedgerRepository) CountPending(ctx context.Context, campaignID int) (int, error) {
	var n int
	err := r.DB.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM delivery_entries WHERE campaign_id=$1 AND status='pending'`, campaignID)
	if err != nil {
		return 0, appErrors.NewPersistence("count pending", err)
	}
	return n, nil
}

// MarkResult records a send attempt's outcome. The row update and the
// campaign aggregate increment commit together; detail and aggregate can
// never diverge. The WHERE status='pending' guard makes a duplicate call for
// the same entry a no-op rather than a double count.
func (r *LedgerRepository) MarkResult(ctx context.Context, campaignID, entryID int, outcome SendOutcome) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.NewPersistence("mark result", err)
	}
	defer tx.Rollback()

	if outcome.Sent {
		res, err := tx.ExecContext(ctx, `
            UPDATE delivery_entries
            SET status='sent', sent_at=NOW(), last_error='', updated_at=NOW()
            WHERE id=$1 AND status='pending'
        `, entryID)
		if err != nil {
			return appErrors.NewPersistence("mark result", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			if _, err := tx.ExecContext(ctx,
				`UPDATE campaigns SET delivered_count=delivered_count+1, updated_at=NOW() WHERE id=$1`,
				campaignID); err != nil {
				return appErrors.NewPersistence("mark result", err)
			}
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
            UPDATE delivery_entries
            SET status='failed', failed_at=NOW(), last_error=$1, updated_at=NOW()
            WHERE id=$2 AND status='pending'
        `, outcome.Reason, entryID); err != nil {
			return appErrors.NewPersistence("mark result", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return appErrors.NewPersistence("mark result", err)
	}
	return nil
}

// ApplyTrackingEvent folds one engagement event into the ledger entry, the
// campaign aggregates and, for bounce/complaint, the contact's global status.
// Counters are monotonically additive; aggregates count recipients who did a
// thing at least once, so only the first occurrence rolls up. Status flips on
// first occurrence only while the entry still reads sent/delivered.
func (r *LedgerRepository) ApplyTrackingEvent(ctx context.Context, tenantID, campaignID, contactID int, event model.TrackingEventType) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.NewPersistence("apply tracking event", err)
	}
	defer tx.Rollback()

	var e model.DeliveryEntry
	err = tx.GetContext(ctx, &e, `
        SELECT de.id, de.campaign_id, de.contact_id, de.status, de.open_count, de.click_count,
               de.opened_at, de.clicked_at, de.bounced_at, de.complained_at, de.unsubscribed_at
        FROM delivery_entries de
        JOIN campaigns c ON c.id = de.campaign_id
        WHERE de.campaign_id=$1 AND de.contact_id=$2 AND c.tenant_id=$3
        FOR UPDATE OF de
    `, campaignID, contactID, tenantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return appErrors.NewContactNotFound(contactID)
		}
		return appErrors.NewPersistence("apply tracking event", err)
	}

	flippable := e.Status == model.DeliverySent || e.Status == model.DeliveryDelivered

	switch event {
	case model.EventDelivered:
		if e.Status == model.DeliverySent {
			_, err = tx.ExecContext(ctx, `
                UPDATE delivery_entries
                SET status='delivered', delivered_at=COALESCE(delivered_at, NOW()), updated_at=NOW()
                WHERE id=$1
            `, e.ID)
		}

	case model.EventOpened:
		first := e.OpenedAt == nil
		_, err = tx.ExecContext(ctx, `
            UPDATE delivery_entries
            SET open_count=open_count+1, opened_at=COALESCE(opened_at, NOW()),
                status = CASE WHEN $2 AND status IN ('sent','delivered') THEN 'opened' ELSE status END,
                updated_at=NOW()
            WHERE id=$1
        `, e.ID, first && flippable)
		if err == nil && first {
			err = bumpAggregate(ctx, tx, campaignID, "opened_count")
		}

	case model.EventClicked:
		first := e.ClickedAt == nil
		_, err = tx.ExecContext(ctx, `
            UPDATE delivery_entries
            SET click_count=click_count+1, clicked_at=COALESCE(clicked_at, NOW()),
                status = CASE WHEN $2 AND status IN ('sent','delivered') THEN 'clicked' ELSE status END,
                updated_at=NOW()
            WHERE id=$1
        `, e.ID, first && flippable)
		if err == nil && first {
			err = bumpAggregate(ctx, tx, campaignID, "clicked_count")
		}

	case model.EventBounced:
		first := e.BouncedAt == nil
		_, err = tx.ExecContext(ctx, `
            UPDATE delivery_entries
            SET bounced_at=COALESCE(bounced_at, NOW()),
                status = CASE WHEN $2 AND status IN ('sent','delivered') THEN 'bounced' ELSE status END,
                updated_at=NOW()
            WHERE id=$1
        `, e.ID, first && flippable)
		if err == nil && first {
			err = bumpAggregate(ctx, tx, campaignID, "bounced_count")
		}
		if err == nil {
			// Hard bounce suppresses the contact for all future campaigns.
			_, err = tx.ExecContext(ctx,
				`UPDATE contacts SET status='bounced' WHERE id=$1 AND tenant_id=$2 AND status='active'`,
				contactID, tenantID)
		}

	case model.EventComplained:
		first := e.ComplainedAt == nil
		_, err = tx.ExecContext(ctx, `
            UPDATE delivery_entries
            SET complained_at=COALESCE(complained_at, NOW()),
                status = CASE WHEN $2 AND status IN ('sent','delivered') THEN 'complained' ELSE status END,
                updated_at=NOW()
            WHERE id=$1
        `, e.ID, first && flippable)
		if err == nil && first {
			err = bumpAggregate(ctx, tx, campaignID, "complained_count")
		}
		if err == nil {
			_, err = tx.ExecContext(ctx,
				`UPDATE contacts SET status='complained' WHERE id=$1 AND tenant_id=$2 AND status='active'`,
				contactID, tenantID)
		}

	case model.EventUnsubscribed:
		first := e.UnsubscribedAt == nil
		_, err = tx.ExecContext(ctx, `
            UPDATE delivery_entries
            SET unsubscribed_at=COALESCE(unsubscribed_at, NOW()), updated_at=NOW()
            WHERE id=$1
        `, e.ID)
		if err == nil && first {
			err = bumpAggregate(ctx, tx, campaignID, "unsubscribed_count")
		}
		if err == nil {
			_, err = tx.ExecContext(ctx, `
                UPDATE subscriptions SET status='unsubscribed'
                WHERE contact_id=$1
                  AND list_id IN (SELECT list_id FROM campaign_lists WHERE campaign_id=$2)
            `, contactID, campaignID)
		}

	default:
		return appErrors.NewPersistence("apply tracking event",
			errors.New("unknown event type "+string(event)))
	}
	if err != nil {
		return appErrors.NewPersistence("apply tracking event", err)
	}

	if err := tx.Commit(); err != nil {
		return appErrors.NewPersistence("apply tracking event", err)
	}
	return nil
}

func bumpAggregate(ctx context.Context, tx *sqlx.Tx, campaignID int, column string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE campaigns SET `+column+`=`+column+`+1, updated_at=NOW() WHERE id=$1`, campaignID)
	return err
}

func (r *LedgerRepository) GetEntry(ctx context.Context, campaignID, contactID int) (*model.DeliveryEntry, error) {
	var e model.DeliveryEntry
	query := `
        SELECT ` + entryColumns + `
        FROM delivery_entries
        WHERE campaign_id=$1 AND contact_id=$2
    `
	if err := r.DB.GetContext(ctx, &e, query, campaignID, contactID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.NewPersistence("ledger entry get", err)
	}
	return &e, nil
}

// StatsByStatus groups the ledger live, for audits where the cached campaign
// aggregates are not trusted.
func (r *LedgerRepository) StatsByStatus(ctx context.Context, campaignID int) (map[string]int, error) {
	rows, err := r.DB.QueryxContext(ctx,
		`SELECT status, COUNT(*) FROM delivery_entries WHERE campaign_id=$1 GROUP BY status`, campaignID)
	if err != nil {
		return nil, appErrors.NewPersistence("ledger stats", err)
	}
	defer rows.Close()

	stats := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, appErrors.NewPersistence("ledger stats", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// AcquireDispatchLock takes the per-campaign advisory lock that keeps two
// dispatch loops from draining the same campaign concurrently. The lock rides
// a pinned connection; release returns it to the pool.
func (r *LedgerRepository) AcquireDispatchLock(ctx context.Context, campaignID int) (func(), bool, error) {
	conn, err := r.DB.Connx(ctx)
	if err != nil {
		return nil, false, appErrors.NewPersistence("dispatch lock", err)
	}

	var got bool
	if err := conn.GetContext(ctx, &got,
		`SELECT pg_try_advisory_lock($1)`, int64(campaignID)); err != nil {
		conn.Close()
		return nil, false, appErrors.NewPersistence("dispatch lock", err)
	}
	if !got {
		conn.Close()
		return nil, false, nil
	}

	release := func() {
		_, _ = conn.ExecContext(context.Background(),
			`SELECT pg_advisory_unlock($1)`, int64(campaignID))
		conn.Close()
	}
	return release, true, nil
}

// IsUniqueViolation reports whether err is a postgres unique-constraint
// violation, which is how a duplicate ledger seed surfaces.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

var _ LedgerRepositoryInterface = (*LedgerRepository)(nil)
