// Package callback implements the Callback Consumer (spec.md §4.6): an
// independent loop draining call outcomes and applying them to the
// Coordination Store, so a late result still lands correctly even after the
// Campaign Worker that emitted the original request has exited.
package callback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/outbound/campaign-dispatcher/internal/coordstore"
	"github.com/outbound/campaign-dispatcher/internal/domain"
	"github.com/outbound/campaign-dispatcher/internal/repository"
)

const (
	popTimeout        = 1 * time.Second
	drainErrorBackoff = 1 * time.Second

	// defaultRetryInterval/defaultMaxAttempts are the package-level fallbacks
	// used only if a Consumer is built without an explicit RetryConfig (e.g.
	// in tests); callers should prefer WithRetryConfig.
	defaultRetryInterval = 300 * time.Second
	defaultMaxAttempts   = 3
)

// RetryConfig supplies the authoritative retry-interval/max-attempts
// fallbacks (spec.md §9): a callback with a non-positive retry_interval or
// max_attempts uses these instead, rather than scheduling an immediately-due
// retry storm or disabling retries outright.
type RetryConfig struct {
	DefaultRetryInterval time.Duration
	MaxRetryAttempts     int
}

// HistorySink records finalized call outcomes somewhere durable beyond the
// coordination store's own TTL-less but ultimately transient keys. Nothing
// in the state machine below reads it back.
type HistorySink interface {
	Record(ctx context.Context, cb domain.Callback) error
}

// Consumer drains call_callbacks and applies the outcome state machine.
// It holds its own Coordination Store connection, independent of any
// Campaign Worker's (spec.md §5).
type Consumer struct {
	store   *coordstore.Store
	stats   repository.CampaignStatisticsRepository
	history HistorySink
	retry   RetryConfig
	log     *zap.Logger
}

// New constructs a Callback Consumer. stats may be nil if statistics
// tracking is not configured; updates are then skipped silently. The retry
// fallbacks default to 300s/3 attempts until WithRetryConfig overrides them.
func New(store *coordstore.Store, stats repository.CampaignStatisticsRepository, log *zap.Logger) *Consumer {
	return &Consumer{
		store: store,
		stats: stats,
		log:   log,
		retry: RetryConfig{DefaultRetryInterval: defaultRetryInterval, MaxRetryAttempts: defaultMaxAttempts},
	}
}

// WithHistory attaches an optional call-history sink. Recording failures are
// logged but never fail the callback application itself.
func (c *Consumer) WithHistory(history HistorySink) *Consumer {
	c.history = history
	return c
}

// WithRetryConfig overrides the retry_interval/max_attempts fallbacks
// (config.RetryConfig, spec.md §6/§9).
func (c *Consumer) WithRetryConfig(retry RetryConfig) *Consumer {
	c.retry = retry
	return c
}

// Run drains callbacks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		callbacks, err := c.store.GetCallCallbacks(ctx, popTimeout)
		if err != nil {
			c.log.Error("failed to drain call callbacks", zap.Error(err))
			if !c.sleep(ctx, drainErrorBackoff) {
				return nil
			}
			continue
		}

		for _, cb := range callbacks {
			if err := c.apply(ctx, cb); err != nil {
				c.log.Error("failed to apply callback", zap.String("call_id", cb.CallID), zap.Error(err))
			}
		}
	}
}

// sleep blocks for d or until ctx is cancelled, reporting whether it should
// keep running (false means ctx was cancelled mid-sleep).
func (c *Consumer) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// apply implements the state machine spec.md §4.6 describes. mark_*_success
// always happens before finalize-and-remove, so a concurrent retry claimant
// that observes the success set can skip a now-defunct retry even if it
// wins the claim race.
func (c *Consumer) apply(ctx context.Context, cb domain.Callback) error {
	defer c.clearInProgress(ctx, cb)
	defer c.recordHistory(ctx, cb)

	if cb.Status == domain.OutcomeSuccess {
		if err := c.store.MarkLeadSuccess(ctx, cb.CampaignID, cb.LeadID); err != nil {
			return err
		}
		if err := c.store.MarkPhoneSuccess(ctx, cb.CampaignID, cb.PhoneNumber); err != nil {
			return err
		}
		if err := c.store.SaveSuccessAndFinalize(ctx, cb.CallID); err != nil {
			return err
		}
		if err := c.store.RemoveRetry(ctx, cb.CampaignID, cb.CallID); err != nil {
			return err
		}
		c.bumpStats(ctx, cb.CampaignID, repository.StatsDelta{SuccessDelta: 1})
		return nil
	}

	maxAttempts := cb.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.retry.MaxRetryAttempts
	}
	retryIntervalSec := cb.RetryInterval
	if retryIntervalSec <= 0 {
		retryIntervalSec = int(c.retry.DefaultRetryInterval / time.Second)
	}

	if cb.Attempt+1 < maxAttempts {
		retryReq := domain.CallRequest{
			CallID:        cb.CallID,
			CampaignID:    cb.CampaignID,
			LeadID:        cb.LeadID,
			PhoneNumber:   cb.PhoneNumber,
			IsRetry:       true,
			Attempt:       cb.Attempt + 1,
			MaxAttempts:   maxAttempts,
			RetryInterval: retryIntervalSec,
			Timestamp:     cb.Timestamp,
		}
		payload, err := retryReq.ToPayload()
		if err != nil {
			return err
		}
		if err := c.store.SaveFailureAndScheduleRetry(ctx, cb.CampaignID, cb.CallID, payload, retryIntervalSec); err != nil {
			return err
		}
		c.bumpStats(ctx, cb.CampaignID, repository.StatsDelta{RetriesScheduledDelta: 1})
		return nil
	}

	// Attempts exhausted: give up silently, no further action beyond
	// clearing in-progress flags (deferred above).
	c.bumpStats(ctx, cb.CampaignID, repository.StatsDelta{ExhaustedDelta: 1})
	return nil
}

func (c *Consumer) clearInProgress(ctx context.Context, cb domain.Callback) {
	if err := c.store.ClearInProgress(ctx, cb.CampaignID, cb.LeadID); err != nil {
		c.log.Warn("failed to clear lead in-progress", zap.String("call_id", cb.CallID), zap.Error(err))
	}
	if err := c.store.ClearPhoneInProgress(ctx, cb.CampaignID, cb.PhoneNumber); err != nil {
		c.log.Warn("failed to clear phone in-progress", zap.String("call_id", cb.CallID), zap.Error(err))
	}
}

func (c *Consumer) recordHistory(ctx context.Context, cb domain.Callback) {
	if c.history == nil {
		return
	}
	if err := c.history.Record(ctx, cb); err != nil {
		c.log.Warn("failed to record call history", zap.String("call_id", cb.CallID), zap.Error(err))
	}
}

func (c *Consumer) bumpStats(ctx context.Context, campaignID string, delta repository.StatsDelta) {
	if c.stats == nil {
		return
	}
	if err := c.stats.ApplyDelta(ctx, campaignID, delta); err != nil {
		c.log.Warn("failed to apply campaign statistics delta", zap.String("campaign_id", campaignID), zap.Error(err))
	}
}
