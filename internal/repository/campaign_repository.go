package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/mailkite/mailkite-backend/internal/errors"
	"github.com/mailkite/mailkite-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, tenantID, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, tenantID, offset, limit int, status string) ([]*model.Campaign, int, error)
	Update(ctx context.Context, c *model.Campaign) error

	// Lifecycle transitions
	StartSending(ctx context.Context, tenantID, campaignID int, listIDs []int) (int, error)
	SetStatus(ctx context.Context, tenantID, campaignID int, from, to model.CampaignStatus) error
	MarkSentIfDrained(ctx context.Context, campaignID int) (bool, error)
}

type CampaignRepository struct {
	DB *sqlx.DB
}

const campaignColumns = `id, tenant_id, name, subject, from_email, from_name, reply_to, body, status,
	recipient_count, delivered_count, opened_count, clicked_count, bounced_count,
	complained_count, unsubscribed_count, scheduled_at, sent_at, created_at, updated_at`

// Create inserts a draft campaign together with its target list references.
func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}

	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.NewPersistence("campaign create", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO campaigns (tenant_id, name, subject, from_email, from_name, reply_to, body, status, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	if err := tx.QueryRowxContext(ctx, query,
		c.TenantID, c.Name, c.Subject, c.FromEmail, c.FromName, c.ReplyTo, c.Body, c.Status, c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID); err != nil {
		return appErrors.NewPersistence("campaign create", err)
	}

	for _, listID := range c.ListIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO campaign_lists (campaign_id, list_id) VALUES ($1, $2)`, c.ID, listID); err != nil {
			return appErrors.NewPersistence("campaign list link", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return appErrors.NewPersistence("campaign create", err)
	}
	return nil
}

func (r *CampaignRepository) GetByID(ctx context.Context, tenantID, id int) (*model.Campaign, error) {
	var c model.Campaign
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE id=$1 AND tenant_id=$2`, campaignColumns)
	if err := r.DB.GetContext(ctx, &c, query, id, tenantID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, appErrors.NewPersistence("campaign get", err)
	}

	if err := r.DB.SelectContext(ctx, &c.ListIDs,
		`SELECT list_id FROM campaign_lists WHERE campaign_id=$1 ORDER BY list_id`, id); err != nil {
		return nil, appErrors.NewPersistence("campaign list ids", err)
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, tenantID, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE tenant_id=$1`, campaignColumns)
	args := []interface{}{tenantID}

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", len(args)+1)
		args = append(args, status)
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	if err := r.DB.SelectContext(ctx, &campaigns, query, args...); err != nil {
		return nil, 0, appErrors.NewPersistence("campaign list", err)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE tenant_id=$1`
	countArgs := []interface{}{tenantID}
	if status != "" {
		countQuery += " AND status=$2"
		countArgs = append(countArgs, status)
	}

	var total int
	if err := r.DB.GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, appErrors.NewPersistence("campaign count", err)
	}
	return campaigns, total, nil
}

func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	query := `
        UPDATE campaigns
        SET name=$1, subject=$2, from_email=$3, from_name=$4, reply_to=$5, body=$6, scheduled_at=$7, updated_at=NOW()
        WHERE id=$8 AND tenant_id=$9
    `
	_, err := r.DB.ExecContext(ctx, query,
		c.Name, c.Subject, c.FromEmail, c.FromName, c.ReplyTo, c.Body, c.ScheduledAt, c.ID, c.TenantID)
	if err != nil {
		return appErrors.NewPersistence("campaign update", err)
	}
	return nil
}

// StartSending performs the atomic draft-to-sending transition: it locks the
// campaign row, resolves the recipient snapshot, seeds pending ledger rows,
// fixes recipient_count and stamps sent_at, all in one transaction. Any
// failure rolls the whole thing back, leaving the campaign in draft with no
// partially-seeded ledger. Returns the snapshotted recipient count.
func (r *CampaignRepository) StartSending(ctx context.Context, tenantID, campaignID int, listIDs []int) (int, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, appErrors.NewPersistence("start sending", err)
	}
	defer tx.Rollback()

	var status model.CampaignStatus
	err = tx.GetContext(ctx, &status,
		`SELECT status FROM campaigns WHERE id=$1 AND tenant_id=$2 FOR UPDATE`, campaignID, tenantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, appErrors.NewCampaignNotFound(campaignID)
		}
		return 0, appErrors.NewPersistence("start sending", err)
	}
	if status != model.CampaignDraft {
		return 0, appErrors.NewInvalidState(campaignID, string(status), "start sending")
	}

	recipientIDs, err := resolveRecipientIDs(ctx, tx, tenantID, listIDs)
	if err != nil {
		return 0, err
	}
	if len(recipientIDs) == 0 {
		return 0, appErrors.NewNoRecipients(campaignID)
	}

	if err := insertPendingEntries(ctx, tx, campaignID, recipientIDs); err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
        UPDATE campaigns
        SET status=$1, recipient_count=$2, sent_at=NOW(), updated_at=NOW()
        WHERE id=$3
    `, model.CampaignSending, len(recipientIDs), campaignID)
	if err != nil {
		return 0, appErrors.NewPersistence("start sending", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, appErrors.NewPersistence("start sending", err)
	}
	return len(recipientIDs), nil
}

// SetStatus applies the from/to transition as a conditional update, so a concurrent transition
// loses cleanly instead of clobbering.
func (r *CampaignRepository) SetStatus(ctx context.Context, tenantID, campaignID int, from, to model.CampaignStatus) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2 AND tenant_id=$3 AND status=$4`,
		to, campaignID, tenantID, from)
	if err != nil {
		return appErrors.NewPersistence("campaign status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return appErrors.NewPersistence("campaign status", err)
	}
	if n == 0 {
		c, getErr := r.GetByID(ctx, tenantID, campaignID)
		if getErr != nil {
			return getErr
		}
		return appErrors.NewInvalidState(campaignID, string(c.Status), fmt.Sprintf("transition to %s", to))
	}
	return nil
}

// MarkSentIfDrained moves a sending campaign to sent once no pending ledger
// rows remain. Idempotent: already-sent campaigns report drained without
// touching anything.
func (r *CampaignRepository) MarkSentIfDrained(ctx context.Context, campaignID int) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE campaigns SET status=$1, updated_at=NOW()
        WHERE id=$2 AND status=$3
          AND NOT EXISTS (
              SELECT 1 FROM delivery_entries WHERE campaign_id=$2 AND status='pending'
          )
    `, model.CampaignSent, campaignID, model.CampaignSending)
	if err != nil {
		return false, appErrors.NewPersistence("complete if drained", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	var status model.CampaignStatus
	if err := r.DB.GetContext(ctx, &status,
		`SELECT status FROM campaigns WHERE id=$1`, campaignID); err != nil {
		return false, appErrors.NewPersistence("complete if drained", err)
	}
	return status == model.CampaignSent, nil
}

// seedChunkSize keeps each INSERT's bind-parameter count well under the
// postgres statement limit of 65535, so audience size never caps the seed.
const seedChunkSize = 5000

// insertPendingEntries bulk-inserts pending ledger rows, chunked but inside
// the caller's transaction so the seed stays all-or-nothing. A repeated
// insert for the same (campaign, contact) pair violates the ledger's unique
// constraint and fails loudly; callers guarantee single invocation via the
// one-way draft-to-sending transition.
func insertPendingEntries(ctx context.Context, tx *sqlx.Tx, campaignID int, contactIDs []int) error {
	for _, chunk := range chunkIDs(contactIDs, seedChunkSize) {
		values := make([]string, 0, len(chunk))
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, campaignID)
		for i, contactID := range chunk {
			values = append(values, fmt.Sprintf("($1, $%d, 'pending', NOW(), NOW())", i+2))
			args = append(args, contactID)
		}

		query := fmt.Sprintf(`
        INSERT INTO delivery_entries (campaign_id, contact_id, status, created_at, updated_at)
        VALUES %s
    `, strings.Join(values, ", "))

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return appErrors.NewPersistence("ledger seed", err)
		}
	}
	return nil
}

// chunkIDs splits ids into consecutive slices of at most size elements.
func chunkIDs(ids []int, size int) [][]int {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]int, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
