package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/outbound/campaign-dispatcher/internal/domain"
	"github.com/outbound/campaign-dispatcher/internal/repository"
)

const campaignColumns = `
	id, tenant_id, name, status, start_time, end_time, script_id, call_interval,
	description, voice_id, email, max_call_time, time_of_day, max_callback, callback_conditions`

// CampaignRepository implements repository.CampaignRepository using PostgreSQL
// (spec.md §4.2 / §6 — columns read from campaigns, verbatim).
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// GetRunningCampaigns returns all campaigns whose status is 'running'.
func (r *CampaignRepository) GetRunningCampaigns(ctx context.Context) ([]*domain.Campaign, error) {
	return r.queryCampaigns(ctx, `SELECT`+campaignColumns+` FROM campaigns WHERE status = 'running'`)
}

// GetStoppedCampaigns returns all campaigns whose status is 'paused' or 'ended'.
func (r *CampaignRepository) GetStoppedCampaigns(ctx context.Context) ([]*domain.Campaign, error) {
	return r.queryCampaigns(ctx, `SELECT`+campaignColumns+` FROM campaigns WHERE status IN ('paused', 'ended')`)
}

// GetCampaignByID fetches a single campaign, or repository.ErrNotFound.
func (r *CampaignRepository) GetCampaignByID(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT`+campaignColumns+` FROM campaigns WHERE id = $1`, campaignID)

	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if err == sql.ErrNoRows {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}
	campaign := record.toDomain()
	return &campaign, nil
}

func (r *CampaignRepository) queryCampaigns(ctx context.Context, query string) ([]*domain.Campaign, error) {
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: query: %w", err)
	}
	defer rows.Close()

	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := record.toDomain()
		results = append(results, &campaign)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}
	return results, nil
}

// campaignRecord uses string-typed id/tenant_id regardless of the on-disk type
// (uuid or otherwise) per spec.md §4.2, so coordination-store keys can
// concatenate them without a type mismatch.
type campaignRecord struct {
	ID                 string          `db:"id"`
	TenantID           sql.NullString  `db:"tenant_id"`
	Name               string          `db:"name"`
	Status             string          `db:"status"`
	StartTime          sql.NullTime    `db:"start_time"`
	EndTime            sql.NullTime    `db:"end_time"`
	ScriptID           sql.NullString  `db:"script_id"`
	CallInterval       sql.NullInt32   `db:"call_interval"`
	Description        sql.NullString  `db:"description"`
	VoiceID            sql.NullString  `db:"voice_id"`
	Email              sql.NullString  `db:"email"`
	MaxCallTime        sql.NullInt32   `db:"max_call_time"`
	TimeOfDay          json.RawMessage `db:"time_of_day"`
	MaxCallback        sql.NullInt32   `db:"max_callback"`
	CallbackConditions json.RawMessage `db:"callback_conditions"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	campaign := domain.Campaign{
		ID:              r.ID,
		TenantID:        r.TenantID.String,
		Name:            r.Name,
		Status:          domain.CampaignStatus(r.Status),
		ScriptID:        r.ScriptID.String,
		CallIntervalSec: int(r.CallInterval.Int32),
		Description:     r.Description.String,
		Voice:           r.VoiceID.String,
		Email:           r.Email.String,
		MaxCallTimeSec:  int(r.MaxCallTime.Int32),
		MaxCallback:     int(r.MaxCallback.Int32),
		TimeOfDayRaw:    r.TimeOfDay,
	}
	if r.StartTime.Valid {
		t := r.StartTime.Time
		campaign.StartTime = &t
	}
	if r.EndTime.Valid {
		t := r.EndTime.Time
		campaign.EndTime = &t
	}
	if len(r.CallbackConditions) > 0 {
		var conditions map[string]any
		if err := json.Unmarshal(r.CallbackConditions, &conditions); err == nil {
			campaign.CallbackConditions = conditions
		}
	}
	return campaign
}
