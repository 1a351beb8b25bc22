package campaign

import (
	"context"
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
	campaign *domain.Campaign
}

func (f *fakeCampaignRepo) GetRunningCampaigns(ctx context.Context) ([]*domain.Campaign, error) {
	return []*domain.Campaign{f.campaign}, nil
}

func (f *fakeCampaignRepo) GetStoppedCampaigns(ctx context.Context) ([]*domain.Campaign, error) {
	return nil, nil
}

func (f *fakeCampaignRepo) GetCampaignByID(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	if f.campaign == nil || f.campaign.ID != campaignID {
		return nil, apperrors.ErrNotFound
	}
	return f.campaign, nil
}

type fakeLeadRepo struct {
	leads []*domain.Lead
}

func (f *fakeLeadRepo) GetPendingLeadsForCampaign(ctx context.Context, campaignID string) ([]*domain.Lead, error) {
	return f.leads, nil
}

func newTestStore(t *testing.T) (*coordstore.Store, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := coordstore.New(client)
	return store, func() {
		_ = client.Close()
		mr.Close()
	}
}

func TestWorkerExitsWhenCampaignDisappears(t *testing.T) {
	repo := &fakeCampaignRepo{campaign: nil}
	leads := &fakeLeadRepo{}
	store, cleanup := newTestStore(t)
	defer cleanup()

	w := New("missing-campaign", repo, leads, store, zap.NewNop())
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
}

func TestWorkerDispatchesOnePendingLead(t *testing.T) {
	campaign := &domain.Campaign{ID: "c1", Name: "Promo", CallIntervalSec: 0, MaxCallback: 3, MaxCallTimeSec: 60}
	repo := &fakeCampaignRepo{campaign: campaign}
	leads := &fakeLeadRepo{leads: []*domain.Lead{{ID: "l1", PhoneNumber: "+8490000001"}}}
	store, cleanup := newTestStore(t)
	defer cleanup()

	w := New("c1", repo, leads, store, zap.NewNop())

	emitted, err := w.dispatchOnce(context.Background(), campaign)
	if err != nil {
		t.Fatalf("dispatch once: %v", err)
	}
	if !emitted {
		t.Fatalf("expected a call request to be emitted")
	}

	inProgress, err := store.IsInProgress(context.Background(), "c1", "l1")
	if err != nil || !inProgress {
		t.Fatalf("expected lead marked in progress, got ok=%v err=%v", inProgress, err)
	}

	reqs, err := store.GetCallRequests(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("get call requests: %v", err)
	}
	if len(reqs) != 1 || reqs[0].LeadID != "l1" || reqs[0].IsRetry {
		t.Fatalf("expected one fresh call request for l1, got %+v", reqs)
	}
}

func TestWorkerSkipsLeadAlreadyDone(t *testing.T) {
	campaign := &domain.Campaign{ID: "c1", Name: "Promo"}
	repo := &fakeCampaignRepo{campaign: campaign}
	leads := &fakeLeadRepo{leads: []*domain.Lead{{ID: "l1", PhoneNumber: "+8490000001"}}}
	store, cleanup := newTestStore(t)
	defer cleanup()

	ctx := context.Background()
	if err := store.MarkLeadSuccess(ctx, "c1", "l1"); err != nil {
		t.Fatalf("mark lead success: %v", err)
	}

	w := New("c1", repo, leads, store, zap.NewNop())
	emitted, err := w.dispatchOnce(ctx, campaign)
	if err != nil {
		t.Fatalf("dispatch once: %v", err)
	}
	if emitted {
		t.Fatalf("expected no dispatch for an already-succeeded lead")
	}
}

func TestWorkerPrefersDueRetryOverNewLead(t *testing.T) {
	campaign := &domain.Campaign{ID: "c1", Name: "Promo", MaxCallback: 3, MaxCallTimeSec: 60}
	repo := &fakeCampaignRepo{campaign: campaign}
	leads := &fakeLeadRepo{leads: []*domain.Lead{{ID: "l-new", PhoneNumber: "+8490000002"}}}
	store, cleanup := newTestStore(t)
	defer cleanup()

	ctx := context.Background()
	payload := map[string]any{"lead_id": "l-retry", "phone_number": "+8490000001", "attempt": "1"}
	if err := store.SaveFailureAndScheduleRetry(ctx, "c1", "call-retry", payload, -5); err != nil {
		t.Fatalf("save failure and schedule retry: %v", err)
	}

	w := New("c1", repo, leads, store, zap.NewNop())
	emitted, err := w.dispatchOnce(ctx, campaign)
	if err != nil {
		t.Fatalf("dispatch once: %v", err)
	}
	if !emitted {
		t.Fatalf("expected a retry to be dispatched")
	}

	reqs, err := store.GetCallRequests(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("get call requests: %v", err)
	}
	if len(reqs) != 1 || reqs[0].LeadID != "l-retry" || !reqs[0].IsRetry {
		t.Fatalf("expected the retry to be dispatched ahead of the new lead, got %+v", reqs)
	}
}
