// Package scheduler implements the Scheduler (C5, spec.md §4.5): a
// reconciliation loop that keeps the set of live Campaign Workers aligned
// with the database, supervising their lifecycle under a concurrency cap.
package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/outbound/campaign-dispatcher/internal/campaignpolicy"
	"github.com/outbound/campaign-dispatcher/internal/coordstore"
	"github.com/outbound/campaign-dispatcher/internal/domain"
	workercampaign "github.com/outbound/campaign-dispatcher/internal/worker/campaign"

	"github.com/outbound/campaign-dispatcher/internal/repository"
)

const (
	stopGracePeriod   = 5 * time.Second
	cycleErrorBackoff = 5 * time.Second
)

// WorkerDeps bundles the per-worker resources a Campaign Worker needs. The
// Scheduler requests a fresh set for every spawn, matching spec.md §5's
// requirement that each worker own its own coordination-store connection
// and its own database handle.
type WorkerDeps struct {
	Campaigns repository.CampaignRepository
	Leads     repository.LeadRepository
	Store     *coordstore.Store
	Stats     repository.CampaignStatisticsRepository
	Close     func() error
}

// WorkerDepsFactory builds a WorkerDeps for one spawned worker.
type WorkerDepsFactory func(ctx context.Context, campaignID string) (WorkerDeps, error)

type liveWorker struct {
	cancel context.CancelFunc
	done   chan struct{}
	close  func() error
}

// Scheduler owns the reconciliation loop. It holds its own (shared) read
// connection for listing campaigns; it never dials into a campaign's data
// directly — that is a Campaign Worker's job.
type Scheduler struct {
	campaigns repository.CampaignRepository
	leads     repository.LeadRepository
	newDeps   WorkerDepsFactory

	checkInterval       time.Duration
	maxConcurrent       int
	campaignFetchLimit  int

	log *zap.Logger
	now func() time.Time

	workers map[string]*liveWorker
}

// New constructs a Scheduler.
func New(
	campaigns repository.CampaignRepository,
	leads repository.LeadRepository,
	newDeps WorkerDepsFactory,
	checkInterval time.Duration,
	maxConcurrent int,
	campaignFetchLimit int,
	log *zap.Logger,
) *Scheduler {
	if checkInterval <= 0 {
		checkInterval = 60 * time.Second
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Scheduler{
		campaigns:          campaigns,
		leads:              leads,
		newDeps:            newDeps,
		checkInterval:      checkInterval,
		maxConcurrent:       maxConcurrent,
		campaignFetchLimit: campaignFetchLimit,
		log:                log,
		now:                time.Now,
		workers:            make(map[string]*liveWorker),
	}
}

// Run drives the reconciliation loop until ctx is cancelled, then
// cooperatively stops every live worker before returning. A failed cycle is
// retried after cycleErrorBackoff instead of waiting a full check interval.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		err := s.cycle(ctx)
		if err != nil && ctx.Err() == nil {
			s.log.Error("scheduler cycle failed", zap.Error(err))
		}

		next := ticker.C
		if err != nil {
			next = time.After(cycleErrorBackoff)
		}

		select {
		case <-ctx.Done():
			s.stopAll()
			return nil
		case <-next:
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) error {
	tracer := otel.Tracer("outbound.scheduler")
	ctx, span := tracer.Start(ctx, "scheduler.cycle")
	defer span.End()

	s.reapFinished()

	running, err := s.campaigns.GetRunningCampaigns(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	if s.campaignFetchLimit > 0 && len(running) > s.campaignFetchLimit {
		running = running[:s.campaignFetchLimit]
	}

	now := s.now()
	span.SetAttributes(attribute.Int("campaigns.running", len(running)))

	for _, c := range running {
		if len(s.workers) >= s.maxConcurrent {
			s.log.Info("scheduler: concurrency cap reached, deferring remaining campaigns",
				zap.Int("cap", s.maxConcurrent))
			break
		}
		if _, alive := s.workers[c.ID]; alive {
			continue
		}
		if !campaignpolicy.IsActiveNow(*c, now) {
			continue
		}
		pending, err := s.leads.GetPendingLeadsForCampaign(ctx, c.ID)
		if err != nil {
			s.log.Warn("scheduler: failed to check pending leads", zap.String("campaign_id", c.ID), zap.Error(err))
			continue
		}
		if len(pending) == 0 {
			continue
		}
		s.spawn(ctx, c)
	}

	stopped, err := s.campaigns.GetStoppedCampaigns(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}
	for _, c := range stopped {
		if w, alive := s.workers[c.ID]; alive {
			s.stopOne(c.ID, w)
		}
	}

	return nil
}

func (s *Scheduler) spawn(ctx context.Context, c *domain.Campaign) {
	tracer := otel.Tracer("outbound.scheduler")
	_, span := tracer.Start(ctx, "scheduler.spawn", trace.WithAttributes(attribute.String("campaign.id", c.ID)))
	defer span.End()

	deps, err := s.newDeps(ctx, c.ID)
	if err != nil {
		span.RecordError(err)
		s.log.Error("scheduler: failed to build worker dependencies", zap.String("campaign_id", c.ID), zap.Error(err))
		return
	}

	w := workercampaign.New(c.ID, deps.Campaigns, deps.Leads, deps.Store, s.log).WithStatistics(deps.Stats)

	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.workers[c.ID] = &liveWorker{cancel: cancel, done: done, close: deps.Close}

	go func() {
		defer close(done)
		defer func() {
			if deps.Close != nil {
				if err := deps.Close(); err != nil {
					s.log.Warn("scheduler: failed to close worker deps", zap.String("campaign_id", c.ID), zap.Error(err))
				}
			}
		}()
		if err := w.Run(workerCtx); err != nil {
			s.log.Error("campaign worker exited with error", zap.String("campaign_id", c.ID), zap.Error(err))
		}
	}()

	s.log.Info("scheduler: spawned campaign worker", zap.String("campaign_id", c.ID), zap.Int("live_workers", len(s.workers)))
}

// stopOne requests cooperative stop and waits up to stopGracePeriod.
func (s *Scheduler) stopOne(campaignID string, w *liveWorker) {
	w.cancel()
	select {
	case <-w.done:
	case <-time.After(stopGracePeriod):
		s.log.Warn("scheduler: worker did not stop within grace period", zap.String("campaign_id", campaignID))
	}
	delete(s.workers, campaignID)
}

// reapFinished prunes workers whose goroutine has exited on its own (the
// campaign disappeared or left its active window) without waiting.
func (s *Scheduler) reapFinished() {
	for id, w := range s.workers {
		select {
		case <-w.done:
			delete(s.workers, id)
		default:
		}
	}
}

func (s *Scheduler) stopAll() {
	for id, w := range s.workers {
		s.stopOne(id, w)
	}
}

// LiveWorkerCount reports how many Campaign Workers are currently running,
// for status reporting.
func (s *Scheduler) LiveWorkerCount() int {
	return len(s.workers)
}
