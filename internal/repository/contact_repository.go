package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/mailkite/mailkite-backend/internal/errors"
	"github.com/mailkite/mailkite-backend/internal/model"
)

type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, tenantID, id int) (*model.Contact, error)
	ResolveRecipients(ctx context.Context, tenantID int, listIDs []int) ([]int, error)
}

type ContactRepository struct {
	DB *sqlx.DB
}

func (r *ContactRepository) GetByID(ctx context.Context, tenantID, id int) (*model.Contact, error) {
	var c model.Contact
	query := `
        SELECT id, tenant_id, email, first_name, last_name, status, created_at
        FROM contacts
        WHERE id=$1 AND tenant_id=$2
    `
	if err := r.DB.GetContext(ctx, &c, query, id, tenantID); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewContactNotFound(id)
		}
		return nil, appErrors.NewPersistence("contact get", err)
	}
	return &c, nil
}

// ResolveRecipients computes the deduplicated eligible recipient set for the
// given target lists: active contacts holding an active subscription to at
// least one of the lists, scoped to the tenant. A contact on several of the
// lists appears exactly once.
func (r *ContactRepository) ResolveRecipients(ctx context.Context, tenantID int, listIDs []int) ([]int, error) {
	return resolveRecipientIDs(ctx, r.DB, tenantID, listIDs)
}

// resolveRecipientIDs is shared with the campaign repository so the same
// resolver runs inside the start-sending transaction.
func resolveRecipientIDs(ctx context.Context, q sqlx.QueryerContext, tenantID int, listIDs []int) ([]int, error) {
	if len(listIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`
        SELECT DISTINCT c.id
        FROM contacts c
        JOIN subscriptions s ON s.contact_id = c.id
        WHERE c.tenant_id = ?
          AND c.status = 'active'
          AND s.status = 'active'
          AND s.list_id IN (?)
        ORDER BY c.id
    `, tenantID, listIDs)
	if err != nil {
		return nil, appErrors.NewPersistence("recipient resolve", err)
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var ids []int
	if err := sqlx.SelectContext(ctx, q, &ids, query, args...); err != nil {
		return nil, appErrors.NewPersistence("recipient resolve", err)
	}
	return ids, nil
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
