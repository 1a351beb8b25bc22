package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/outbound/campaign-dispatcher/internal/coordstore"
	"github.com/outbound/campaign-dispatcher/internal/domain"
	apperrors "github.com/outbound/campaign-dispatcher/pkg/errors"
)

type fakeCampaignRepo struct {
	mu       sync.Mutex
	running  []*domain.Campaign
	stopped  []*domain.Campaign
	byID     map[string]*domain.Campaign
}

func newFakeCampaignRepo(running, stopped []*domain.Campaign) *fakeCampaignRepo {
	byID := make(map[string]*domain.Campaign)
	for _, c := range running {
		byID[c.ID] = c
	}
	for _, c := range stopped {
		byID[c.ID] = c
	}
	return &fakeCampaignRepo{running: running, stopped: stopped, byID: byID}
}

func (f *fakeCampaignRepo) GetRunningCampaigns(ctx context.Context) ([]*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Campaign{}, f.running...), nil
}

func (f *fakeCampaignRepo) GetStoppedCampaigns(ctx context.Context) ([]*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Campaign{}, f.stopped...), nil
}

func (f *fakeCampaignRepo) GetCampaignByID(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[campaignID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

func (f *fakeCampaignRepo) moveToStopped(campaignID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []*domain.Campaign
	for _, c := range f.running {
		if c.ID == campaignID {
			f.stopped = append(f.stopped, c)
			continue
		}
		kept = append(kept, c)
	}
	f.running = kept
}

type fakeLeadRepo struct {
	leadsByCampaign map[string][]*domain.Lead
}

func (f *fakeLeadRepo) GetPendingLeadsForCampaign(ctx context.Context, campaignID string) ([]*domain.Lead, error) {
	return f.leadsByCampaign[campaignID], nil
}

func newTestStore(t *testing.T) (*coordstore.Store, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return coordstore.New(client), func() {
		_ = client.Close()
		mr.Close()
	}
}

func TestSchedulerSpawnsWorkerForEligibleCampaignWithPendingLeads(t *testing.T) {
	campaign := &domain.Campaign{ID: "c1", Name: "Promo"}
	campaigns := newFakeCampaignRepo([]*domain.Campaign{campaign}, nil)
	leads := &fakeLeadRepo{leadsByCampaign: map[string][]*domain.Lead{"c1": {{ID: "l1", PhoneNumber: "+8490000001"}}}}

	var mu sync.Mutex
	var stores []func()

	newDeps := func(ctx context.Context, campaignID string) (WorkerDeps, error) {
		store, cleanup := newTestStore(t)
		mu.Lock()
		stores = append(stores, cleanup)
		mu.Unlock()
		return WorkerDeps{
			Campaigns: campaigns,
			Leads:     leads,
			Store:     store,
			Close:     func() error { return nil },
		}, nil
	}

	s := New(campaigns, leads, newDeps, time.Hour, 10, 100, zap.NewNop())
	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if s.LiveWorkerCount() != 1 {
		t.Fatalf("expected 1 live worker, got %d", s.LiveWorkerCount())
	}

	s.stopAll()
	for _, cleanup := range stores {
		cleanup()
	}
}

func TestSchedulerSkipsCampaignWithNoPendingLeads(t *testing.T) {
	campaign := &domain.Campaign{ID: "c1", Name: "Promo"}
	campaigns := newFakeCampaignRepo([]*domain.Campaign{campaign}, nil)
	leads := &fakeLeadRepo{leadsByCampaign: map[string][]*domain.Lead{}}

	newDeps := func(ctx context.Context, campaignID string) (WorkerDeps, error) {
		t.Fatalf("should not spawn a worker for a campaign with no pending leads")
		return WorkerDeps{}, nil
	}

	s := New(campaigns, leads, newDeps, time.Hour, 10, 100, zap.NewNop())
	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if s.LiveWorkerCount() != 0 {
		t.Fatalf("expected 0 live workers, got %d", s.LiveWorkerCount())
	}
}

func TestSchedulerRespectsConcurrencyCap(t *testing.T) {
	c1 := &domain.Campaign{ID: "c1", Name: "A"}
	c2 := &domain.Campaign{ID: "c2", Name: "B"}
	campaigns := newFakeCampaignRepo([]*domain.Campaign{c1, c2}, nil)
	leads := &fakeLeadRepo{leadsByCampaign: map[string][]*domain.Lead{
		"c1": {{ID: "l1", PhoneNumber: "+8490000001"}},
		"c2": {{ID: "l2", PhoneNumber: "+8490000002"}},
	}}

	var stores []func()
	newDeps := func(ctx context.Context, campaignID string) (WorkerDeps, error) {
		store, cleanup := newTestStore(t)
		stores = append(stores, cleanup)
		return WorkerDeps{Campaigns: campaigns, Leads: leads, Store: store, Close: func() error { return nil }}, nil
	}

	s := New(campaigns, leads, newDeps, time.Hour, 1, 100, zap.NewNop())
	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if s.LiveWorkerCount() != 1 {
		t.Fatalf("expected concurrency cap to limit live workers to 1, got %d", s.LiveWorkerCount())
	}

	s.stopAll()
	for _, cleanup := range stores {
		cleanup()
	}
}

func TestSchedulerStopsWorkerForStoppedCampaign(t *testing.T) {
	campaign := &domain.Campaign{ID: "c1", Name: "Promo"}
	campaigns := newFakeCampaignRepo([]*domain.Campaign{campaign}, nil)
	leads := &fakeLeadRepo{leadsByCampaign: map[string][]*domain.Lead{"c1": {{ID: "l1", PhoneNumber: "+8490000001"}}}}

	var stores []func()
	newDeps := func(ctx context.Context, campaignID string) (WorkerDeps, error) {
		store, cleanup := newTestStore(t)
		stores = append(stores, cleanup)
		return WorkerDeps{Campaigns: campaigns, Leads: leads, Store: store, Close: func() error { return nil }}, nil
	}

	s := New(campaigns, leads, newDeps, time.Hour, 10, 100, zap.NewNop())
	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if s.LiveWorkerCount() != 1 {
		t.Fatalf("expected 1 live worker before stop, got %d", s.LiveWorkerCount())
	}

	campaigns.moveToStopped("c1")
	if err := s.cycle(context.Background()); err != nil {
		t.Fatalf("cycle after stop: %v", err)
	}
	if s.LiveWorkerCount() != 0 {
		t.Fatalf("expected worker stopped for a now-stopped campaign, got %d live", s.LiveWorkerCount())
	}

	for _, cleanup := range stores {
		cleanup()
	}
}
