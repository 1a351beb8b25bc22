package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/outbound/campaign-dispatcher/internal/domain"
)

// LeadRepository implements repository.LeadRepository using PostgreSQL
// (spec.md §4.2, §6 — columns read from customers).
type LeadRepository struct {
	db *sqlx.DB
}

// NewLeadRepository constructs the repository.
func NewLeadRepository(db *sqlx.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// GetPendingLeadsForCampaign returns up to 50 leads for a campaign, ordered by
// creation time ascending — the page size and ordering are part of the
// scheduling contract (spec.md §3, §9: all fetches are bounded).
func (r *LeadRepository) GetPendingLeadsForCampaign(ctx context.Context, campaignID string) ([]*domain.Lead, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT id, phone_number, name, tenant_id, campaign_id, created_at
		FROM customers
		WHERE campaign_id = $1
		ORDER BY created_at ASC
		LIMIT 50`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("lead repo: query: %w", err)
	}
	defer rows.Close()

	var results []*domain.Lead
	for rows.Next() {
		var rec leadRecord
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("lead repo: scan: %w", err)
		}
		results = append(results, rec.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lead repo: rows err: %w", err)
	}
	return results, nil
}

type leadRecord struct {
	ID          string         `db:"id"`
	PhoneNumber string         `db:"phone_number"`
	Name        sql.NullString `db:"name"`
	TenantID    sql.NullString `db:"tenant_id"`
	CampaignID  sql.NullString `db:"campaign_id"`
	CreatedAt   sql.NullTime   `db:"created_at"`
}

func (r leadRecord) toDomain() *domain.Lead {
	lead := &domain.Lead{
		ID:          r.ID,
		PhoneNumber: r.PhoneNumber,
		Name:        r.Name.String,
		TenantID:    r.TenantID.String,
		CampaignID:  r.CampaignID.String,
	}
	if r.CreatedAt.Valid {
		lead.CreatedAt = r.CreatedAt.Time
	}
	return lead
}
