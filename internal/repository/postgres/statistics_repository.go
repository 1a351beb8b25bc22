package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/outbound/campaign-dispatcher/internal/domain"
	"github.com/outbound/campaign-dispatcher/internal/repository"
)

// CampaignStatisticsRepository implements repository.CampaignStatisticsRepository.
// Purely observational: never consulted by the Scheduler, Campaign Worker, or
// Campaign Policy (SPEC_FULL.md §3 expansion).
type CampaignStatisticsRepository struct {
	db *sqlx.DB
}

// NewCampaignStatisticsRepository builds the repository.
func NewCampaignStatisticsRepository(db *sqlx.DB) *CampaignStatisticsRepository {
	return &CampaignStatisticsRepository{db: db}
}

// Ensure ensures a counters row exists for the campaign.
func (r *CampaignStatisticsRepository) Ensure(ctx context.Context, campaignID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO campaign_statistics (campaign_id)
		VALUES ($1) ON CONFLICT (campaign_id) DO NOTHING`, campaignID)
	if err != nil {
		return fmt.Errorf("campaign stats: ensure: %w", err)
	}
	return nil
}

// Get retrieves statistics.
func (r *CampaignStatisticsRepository) Get(ctx context.Context, campaignID string) (*domain.CampaignStats, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT dispatched_total, retries_scheduled_total, success_total, exhausted_total
		FROM campaign_statistics WHERE campaign_id = $1`, campaignID)

	var stats domain.CampaignStats
	if err := row.Scan(&stats.DispatchedTotal, &stats.RetriesScheduledTotal, &stats.SuccessTotal, &stats.ExhaustedTotal); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign stats: get: %w", err)
	}
	return &stats, nil
}

// ApplyDelta applies counter deltas atomically.
func (r *CampaignStatisticsRepository) ApplyDelta(ctx context.Context, campaignID string, delta repository.StatsDelta) error {
	_, err := r.db.ExecContext(ctx, `UPDATE campaign_statistics SET
		dispatched_total = dispatched_total + $2,
		retries_scheduled_total = retries_scheduled_total + $3,
		success_total = success_total + $4,
		exhausted_total = exhausted_total + $5,
		updated_at = NOW()
	WHERE campaign_id = $1`,
		campaignID,
		delta.DispatchedDelta,
		delta.RetriesScheduledDelta,
		delta.SuccessDelta,
		delta.ExhaustedDelta,
	)
	if err != nil {
		return fmt.Errorf("campaign stats: apply delta: %w", err)
	}
	return nil
}
