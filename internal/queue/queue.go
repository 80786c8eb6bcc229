package queue

import "context"

// Activation asks a worker to run one dispatch loop for a campaign. The
// payload carries no claim state; the ledger's pending rows are the source of
// truth, so a lost or duplicated activation is safe.
type Activation struct {
	TenantID   int `json:"tenant_id"`
	CampaignID int `json:"campaign_id"`
}

// Queue decouples the dispatch trigger from the worker that drains the
// ledger.
type Queue interface {
	Publish(ctx context.Context, act Activation) error
}

// Handler processes one activation. Returning an error requeues it, bounded
// by the transport's retry policy.
type Handler func(ctx context.Context, act Activation) error
