// Package scylla implements the optional call-history sink. Nothing in the
// scheduling core reads from it; it exists for operators who want a durable
// audit trail of call outcomes beyond what the coordination store retains.
package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/outbound/campaign-dispatcher/internal/domain"
)

// CallHistory appends finalized call outcomes to Scylla, bucketed by day so a
// single campaign's history never lands in one oversized partition.
type CallHistory struct {
	session *gocql.Session
}

// NewCallHistory constructs a call-history sink over an existing session.
func NewCallHistory(session *gocql.Session) *CallHistory {
	return &CallHistory{session: session}
}

// Record appends one callback outcome to the history table.
func (h *CallHistory) Record(ctx context.Context, cb domain.Callback) error {
	bucket := cb.Timestamp.UTC().Format("2006-01-02")

	q := `INSERT INTO call_history (
		campaign_id, day_bucket, call_id, lead_id, phone_number, status, attempt, duration_ms, recorded_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if err := h.session.Query(q,
		cb.CampaignID, bucket, cb.CallID, cb.LeadID, cb.PhoneNumber, string(cb.Status),
		cb.Attempt, cb.DurationMs, cb.Timestamp.UTC(),
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("call history: insert: %w", err)
	}
	return nil
}

// ListByCampaign returns a day's worth of call history for a campaign, newest first.
func (h *CallHistory) ListByCampaign(ctx context.Context, campaignID string, day time.Time, limit int) ([]domain.Callback, error) {
	if limit <= 0 {
		limit = 100
	}
	bucket := day.UTC().Format("2006-01-02")

	q := `SELECT call_id, lead_id, phone_number, status, attempt, duration_ms, recorded_at
		FROM call_history WHERE campaign_id = ? AND day_bucket = ? LIMIT ?`

	iter := h.session.Query(q, campaignID, bucket, limit).WithContext(ctx).Iter()

	var results []domain.Callback
	var callID, leadID, phone, status string
	var attempt int
	var durationMs int64
	var recordedAt time.Time

	for iter.Scan(&callID, &leadID, &phone, &status, &attempt, &durationMs, &recordedAt) {
		results = append(results, domain.Callback{
			CallID:      callID,
			CampaignID:  campaignID,
			LeadID:      leadID,
			PhoneNumber: phone,
			Status:      domain.CallOutcome(status),
			Attempt:     attempt,
			DurationMs:  durationMs,
			Timestamp:   recordedAt,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("call history: list: %w", err)
	}
	return results, nil
}
