package repository

import (
	"context"

	"github.com/outbound/campaign-dispatcher/internal/domain"
	apperrors "github.com/outbound/campaign-dispatcher/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return apperrors.Is(err, ErrNotFound)
}

// CampaignRepository is the read-only view over campaigns (spec.md §4.2).
type CampaignRepository interface {
	GetRunningCampaigns(ctx context.Context) ([]*domain.Campaign, error)
	GetStoppedCampaigns(ctx context.Context) ([]*domain.Campaign, error)
	GetCampaignByID(ctx context.Context, campaignID string) (*domain.Campaign, error)
}

// LeadRepository is the read-only view over pending leads (spec.md §4.2).
type LeadRepository interface {
	GetPendingLeadsForCampaign(ctx context.Context, campaignID string) ([]*domain.Lead, error)
}

// CampaignStatisticsRepository keeps purely observational aggregate counters
// (SPEC_FULL.md §3 expansion; never consulted by scheduling decisions).
type CampaignStatisticsRepository interface {
	Ensure(ctx context.Context, campaignID string) error
	Get(ctx context.Context, campaignID string) (*domain.CampaignStats, error)
	ApplyDelta(ctx context.Context, campaignID string, delta StatsDelta) error
}

// StatsDelta captures atomic counter increments.
type StatsDelta struct {
	DispatchedDelta       int64
	RetriesScheduledDelta int64
	SuccessDelta          int64
	ExhaustedDelta        int64
}
