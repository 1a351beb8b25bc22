package coordstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/outbound/campaign-dispatcher/internal/domain"
)

func newTestStore(t *testing.T, now func() time.Time) (*Store, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	store := NewWithClock(client, now)
	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return store, cleanup
}

func TestMarkAndIsLeadSuccess(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newTestStore(t, time.Now)
	defer cleanup()

	ok, err := store.IsLeadSuccess(ctx, "c1", "l1")
	if err != nil || ok {
		t.Fatalf("expected lead not yet marked, got ok=%v err=%v", ok, err)
	}

	if err := store.MarkLeadSuccess(ctx, "c1", "l1"); err != nil {
		t.Fatalf("mark lead success: %v", err)
	}

	ok, err = store.IsLeadSuccess(ctx, "c1", "l1")
	if err != nil || !ok {
		t.Fatalf("expected lead marked, got ok=%v err=%v", ok, err)
	}
}

func TestInProgressMarkAndClear(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newTestStore(t, time.Now)
	defer cleanup()

	if err := store.MarkInProgress(ctx, "c1", "l1"); err != nil {
		t.Fatalf("mark in progress: %v", err)
	}
	ok, _ := store.IsInProgress(ctx, "c1", "l1")
	if !ok {
		t.Fatalf("expected lead to be in progress")
	}

	if err := store.ClearInProgress(ctx, "c1", "l1"); err != nil {
		t.Fatalf("clear in progress: %v", err)
	}
	ok, _ = store.IsInProgress(ctx, "c1", "l1")
	if ok {
		t.Fatalf("expected lead to no longer be in progress")
	}
}

func TestSaveFailureAndScheduleRetryThenClaim(t *testing.T) {
	ctx := context.Background()
	fixedNow := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	store, cleanup := newTestStore(t, func() time.Time { return fixedNow })
	defer cleanup()

	payload := map[string]any{"lead_id": "l1", "phone_number": "+8490000001", "attempt": "1"}
	if err := store.SaveFailureAndScheduleRetry(ctx, "c1", "call-1", payload, 300); err != nil {
		t.Fatalf("save failure and schedule retry: %v", err)
	}

	// Not yet due at the scheduled time.
	ids, err := store.ClaimDueRetries(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("claim due retries: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no due retries yet, got %v", ids)
	}

	got, err := store.GetCallPayload(ctx, "call-1")
	if err != nil {
		t.Fatalf("get call payload: %v", err)
	}
	if got["lead_id"] != "l1" {
		t.Fatalf("expected lead_id l1 in payload, got %+v", got)
	}
}

func TestClaimDueRetriesReturnsDueIDsOnce(t *testing.T) {
	ctx := context.Background()
	fixedNow := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	store, cleanup := newTestStore(t, func() time.Time { return fixedNow })
	defer cleanup()

	if err := store.SaveFailureAndScheduleRetry(ctx, "c1", "call-1", map[string]any{"lead_id": "l1"}, -5); err != nil {
		t.Fatalf("save failure: %v", err)
	}

	ids, err := store.ClaimDueRetries(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("claim due retries: %v", err)
	}
	if len(ids) != 1 || ids[0] != "call-1" {
		t.Fatalf("expected exactly [call-1], got %v", ids)
	}

	// A claimed retry is removed from the index; claiming again returns nothing.
	ids, err = store.ClaimDueRetries(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("claim due retries again: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no retries left after claim, got %v", ids)
	}
}

func TestClaimDueRetriesConcurrentCallersPartitionTheDueSet(t *testing.T) {
	ctx := context.Background()
	fixedNow := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	store, cleanup := newTestStore(t, func() time.Time { return fixedNow })
	defer cleanup()

	const total = 20
	for i := 0; i < total; i++ {
		callID := "call-" + string(rune('a'+i))
		if err := store.SaveFailureAndScheduleRetry(ctx, "c1", callID, map[string]any{"lead_id": callID}, -5); err != nil {
			t.Fatalf("save failure %d: %v", i, err)
		}
	}

	const callers = 5
	results := make(chan []string, callers)
	for i := 0; i < callers; i++ {
		go func() {
			ids, err := store.ClaimDueRetries(ctx, "c1", 4)
			if err != nil {
				results <- nil
				return
			}
			results <- ids
		}()
	}

	seen := make(map[string]int)
	for i := 0; i < callers; i++ {
		ids := <-results
		for _, id := range ids {
			seen[id]++
		}
	}

	if len(seen) != total {
		t.Fatalf("expected all %d retries claimed exactly once across callers, got %d distinct: %v", total, len(seen), seen)
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("retry %s claimed %d times, want exactly 1 (no double-claim)", id, count)
		}
	}

	// The due set is now empty: nothing left for a further caller to claim.
	ids, err := store.ClaimDueRetries(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("final claim due retries: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected due set fully partitioned, got leftover %v", ids)
	}
}

func TestCallRequestFIFO(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newTestStore(t, time.Now)
	defer cleanup()

	req := domain.CallRequest{CallID: "call-1", CampaignID: "c1", LeadID: "l1", PhoneNumber: "+8490000001"}
	if err := store.SendCallRequest(ctx, req); err != nil {
		t.Fatalf("send call request: %v", err)
	}

	got, err := store.GetCallRequests(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("get call requests: %v", err)
	}
	if len(got) != 1 || got[0].CallID != "call-1" {
		t.Fatalf("expected to receive the sent request, got %+v", got)
	}
}

func TestCallCallbackFIFO(t *testing.T) {
	ctx := context.Background()
	store, cleanup := newTestStore(t, time.Now)
	defer cleanup()

	cb := domain.Callback{CallID: "call-1", CampaignID: "c1", LeadID: "l1", Status: domain.OutcomeSuccess}
	if err := store.SendCallCallback(ctx, cb); err != nil {
		t.Fatalf("send call callback: %v", err)
	}

	got, err := store.GetCallCallbacks(ctx, 100*time.Millisecond)
	if err != nil {
		t.Fatalf("get call callbacks: %v", err)
	}
	if len(got) != 1 || got[0].CallID != "call-1" || got[0].Status != domain.OutcomeSuccess {
		t.Fatalf("expected to receive the sent callback, got %+v", got)
	}
}
