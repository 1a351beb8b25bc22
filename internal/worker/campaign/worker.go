// Package campaign implements the Campaign Worker (spec.md §4.4): a
// single-threaded control loop owning exactly one campaign's dispatch
// pacing, dedup, and retry draining.
package campaign

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/outbound/campaign-dispatcher/internal/campaignpolicy"
	"github.com/outbound/campaign-dispatcher/internal/coordstore"
	"github.com/outbound/campaign-dispatcher/internal/domain"
	"github.com/outbound/campaign-dispatcher/internal/repository"
)

const (
	leadRateLimit    = 60 * time.Second
	idleSleep        = 5 * time.Second
	errorSleep       = 10 * time.Second
	minPacingSleep   = 500 * time.Millisecond
	retryClaimLimit  = 10
)

// Worker owns dispatch for a single campaign. All state below is strictly
// local — there is no shared memory between Workers (spec.md §5).
type Worker struct {
	campaignID string

	campaigns repository.CampaignRepository
	leads     repository.LeadRepository
	store     *coordstore.Store
	stats     repository.CampaignStatisticsRepository
	log       *zap.Logger
	now       func() time.Time

	lastCampaignCallAt time.Time
	lastLeadCallTime   map[string]time.Time
	inProgressLocal    map[string]struct{}
	processedCount     int64
}

// New constructs a Campaign Worker for one campaign ID. The Scheduler owns
// one Worker (and its Store) per live campaign.
func New(
	campaignID string,
	campaigns repository.CampaignRepository,
	leads repository.LeadRepository,
	store *coordstore.Store,
	log *zap.Logger,
) *Worker {
	return &Worker{
		campaignID:       campaignID,
		campaigns:        campaigns,
		leads:            leads,
		store:            store,
		log:              log.With(zap.String("campaign_id", campaignID)),
		now:              time.Now,
		lastLeadCallTime: make(map[string]time.Time),
		inProgressLocal:  make(map[string]struct{}),
	}
}

// WithStatistics attaches an optional statistics repository; dispatched
// counters accumulate there when set (SPEC_FULL.md §3 expansion).
func (w *Worker) WithStatistics(stats repository.CampaignStatisticsRepository) *Worker {
	w.stats = stats
	return w
}

// WithClock overrides the worker's time source, letting tests drive pacing,
// window, and retry-due checks with a fake clock instead of wall time.
func (w *Worker) WithClock(now func() time.Time) *Worker {
	w.now = now
	return w
}

func (w *Worker) bumpDispatched(ctx context.Context, campaignID string) {
	if w.stats == nil {
		return
	}
	if err := w.stats.ApplyDelta(ctx, campaignID, repository.StatsDelta{DispatchedDelta: 1}); err != nil {
		w.log.Warn("failed to apply dispatched statistics delta", zap.Error(err))
	}
}

// Run drives the main loop until the campaign disappears, drops out of its
// time-of-day window, or ctx is cancelled. A clean exit (nil error) tells
// the Scheduler this was expected and it may respawn the worker later.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		campaign, err := w.campaigns.GetCampaignByID(ctx, w.campaignID)
		if err != nil {
			if repository.IsNotFound(err) {
				w.log.Info("campaign no longer exists, exiting worker")
				return nil
			}
			w.log.Error("failed to re-read campaign", zap.Error(err))
			if w.sleep(ctx, errorSleep) {
				return nil
			}
			continue
		}

		now := w.now()
		if !campaignpolicy.IsActiveNow(*campaign, now) {
			w.log.Info("campaign outside active window, exiting worker")
			return nil
		}

		if campaign.CallIntervalSec > 0 && !w.lastCampaignCallAt.IsZero() {
			elapsed := now.Sub(w.lastCampaignCallAt)
			gap := time.Duration(campaign.CallIntervalSec) * time.Second
			if elapsed < gap {
				remaining := gap - elapsed
				if remaining < minPacingSleep {
					remaining = minPacingSleep
				}
				if w.sleep(ctx, remaining) {
					return nil
				}
				continue
			}
		}

		emitted, err := w.dispatchOnce(ctx, campaign)
		if err != nil {
			w.log.Error("dispatch attempt failed", zap.Error(err))
			if w.sleep(ctx, errorSleep) {
				return nil
			}
			continue
		}

		if emitted {
			w.lastCampaignCallAt = w.now()
			continue
		}

		if w.sleep(ctx, idleSleep) {
			return nil
		}
	}
}

// Tick runs exactly one dispatch attempt: re-reads the campaign, checks its
// active window, then tries a due retry followed by a fresh lead. It reports
// whether a call request was emitted. Exported for scenario tests that need
// to drive the worker one step at a time against a fake clock, rather than
// running Run's full sleep/loop.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	campaign, err := w.campaigns.GetCampaignByID(ctx, w.campaignID)
	if err != nil {
		return false, err
	}
	now := w.now()
	if !campaignpolicy.IsActiveNow(*campaign, now) {
		return false, nil
	}
	if campaign.CallIntervalSec > 0 && !w.lastCampaignCallAt.IsZero() {
		gap := time.Duration(campaign.CallIntervalSec) * time.Second
		if now.Sub(w.lastCampaignCallAt) < gap {
			return false, nil
		}
	}
	emitted, err := w.dispatchOnce(ctx, campaign)
	if err != nil {
		return false, err
	}
	if emitted {
		w.lastCampaignCallAt = w.now()
	}
	return emitted, nil
}

// sleep blocks for d or until ctx is cancelled, reporting whether it was
// cancelled (callers use that to end the loop instead of looping forever).
func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-t.C:
		return false
	}
}

// dispatchOnce tries due retries first, then new leads, emitting at most one
// call request (spec.md §4.4).
func (w *Worker) dispatchOnce(ctx context.Context, campaign *domain.Campaign) (bool, error) {
	emitted, err := w.dispatchDueRetries(ctx, campaign)
	if err != nil {
		return false, err
	}
	if emitted {
		return true, nil
	}
	return w.dispatchNewLead(ctx, campaign)
}

func (w *Worker) dispatchDueRetries(ctx context.Context, campaign *domain.Campaign) (bool, error) {
	dueIDs, err := w.store.ClaimDueRetries(ctx, campaign.ID, retryClaimLimit)
	if err != nil {
		return false, err
	}

	for _, callID := range dueIDs {
		payload, err := w.store.GetCallPayload(ctx, callID)
		if err != nil {
			w.log.Warn("claimed retry has no payload, dropping", zap.String("call_id", callID), zap.Error(err))
			continue
		}
		original, err := domain.CallRequestFromPayload(payload)
		if err != nil {
			w.log.Warn("claimed retry payload malformed, dropping", zap.String("call_id", callID), zap.Error(err))
			continue
		}

		leadDone, err := w.store.IsLeadSuccess(ctx, campaign.ID, original.LeadID)
		if err != nil {
			return false, err
		}
		phoneDone, err := w.store.IsPhoneSuccess(ctx, campaign.ID, original.PhoneNumber)
		if err != nil {
			return false, err
		}
		if leadDone || phoneDone {
			if err := w.store.SaveSuccessAndFinalize(ctx, callID); err != nil {
				return false, err
			}
			if err := w.store.RemoveRetry(ctx, campaign.ID, callID); err != nil {
				return false, err
			}
			continue
		}

		req := campaignpolicy.BuildCallRequest(campaignpolicy.BuildCallRequestParams{
			Campaign:       *campaign,
			Lead:           domain.Lead{ID: original.LeadID, PhoneNumber: original.PhoneNumber, Name: original.LeadName},
			CallID:         uuid.NewString(),
			IsRetry:        true,
			OriginalCallID: callID,
			Attempt:        original.Attempt,
			Now:            w.now(),
		})

		if err := w.store.SendCallRequest(ctx, req); err != nil {
			return false, err
		}
		if err := w.markInProgress(ctx, campaign.ID, req.LeadID, req.PhoneNumber); err != nil {
			return false, err
		}
		// The claimed retry is re-dispatched under a fresh call ID (req.CallID);
		// the old call:{callID} payload is now unreferenced, so delete it rather
		// than leaving it to accumulate across every retry round.
		if err := w.store.SaveSuccessAndFinalize(ctx, callID); err != nil {
			w.log.Warn("failed to clean up claimed retry payload", zap.String("call_id", callID), zap.Error(err))
		}
		w.bumpDispatched(ctx, campaign.ID)
		return true, nil
	}

	return false, nil
}

func (w *Worker) dispatchNewLead(ctx context.Context, campaign *domain.Campaign) (bool, error) {
	leads, err := w.leads.GetPendingLeadsForCampaign(ctx, campaign.ID)
	if err != nil {
		return false, err
	}

	now := w.now()
	for _, lead := range leads {
		ok, err := w.shouldMakeCall(ctx, campaign, lead, now)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}

		req := campaignpolicy.BuildCallRequest(campaignpolicy.BuildCallRequestParams{
			Campaign: *campaign,
			Lead:     *lead,
			CallID:   uuid.NewString(),
			IsRetry:  false,
			Now:      now,
		})

		if err := w.store.SendCallRequest(ctx, req); err != nil {
			return false, err
		}
		if err := w.markInProgress(ctx, campaign.ID, lead.ID, lead.PhoneNumber); err != nil {
			return false, err
		}
		w.lastLeadCallTime[lead.ID] = now
		w.processedCount++
		w.bumpDispatched(ctx, campaign.ID)
		return true, nil
	}

	return false, nil
}

func (w *Worker) shouldMakeCall(ctx context.Context, campaign *domain.Campaign, lead *domain.Lead, now time.Time) (bool, error) {
	leadDone, err := w.store.IsLeadSuccess(ctx, campaign.ID, lead.ID)
	if err != nil {
		return false, err
	}
	if leadDone {
		return false, nil
	}
	phoneDone, err := w.store.IsPhoneSuccess(ctx, campaign.ID, lead.PhoneNumber)
	if err != nil {
		return false, err
	}
	if phoneDone {
		return false, nil
	}

	if w.isLocallyInProgress(lead.ID, lead.PhoneNumber) {
		return false, nil
	}
	leadInProgress, err := w.store.IsInProgress(ctx, campaign.ID, lead.ID)
	if err != nil {
		return false, err
	}
	if leadInProgress {
		return false, nil
	}
	phoneInProgress, err := w.store.IsPhoneInProgress(ctx, campaign.ID, lead.PhoneNumber)
	if err != nil {
		return false, err
	}
	if phoneInProgress {
		return false, nil
	}

	if !campaignpolicy.IsActiveNow(*campaign, now) {
		return false, nil
	}

	if last, ok := w.lastLeadCallTime[lead.ID]; ok && now.Sub(last) < leadRateLimit {
		return false, nil
	}

	return true, nil
}

func (w *Worker) markInProgress(ctx context.Context, campaignID, leadID, phone string) error {
	if err := w.store.MarkInProgress(ctx, campaignID, leadID); err != nil {
		return err
	}
	if err := w.store.MarkPhoneInProgress(ctx, campaignID, phone); err != nil {
		return err
	}
	w.inProgressLocal[leadID] = struct{}{}
	w.inProgressLocal[phone] = struct{}{}
	return nil
}

func (w *Worker) isLocallyInProgress(leadID, phone string) bool {
	if _, ok := w.inProgressLocal[leadID]; ok {
		return true
	}
	_, ok := w.inProgressLocal[phone]
	return ok
}

// ProcessedCount returns the number of new-lead dials this worker has
// emitted since it started, for status reporting.
func (w *Worker) ProcessedCount() int64 {
	return w.processedCount
}
