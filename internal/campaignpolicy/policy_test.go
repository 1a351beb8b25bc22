package campaignpolicy

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/outbound/campaign-dispatcher/internal/domain"
)

func atOperatingZone(hour, minute int) time.Time {
	return time.Date(2026, 7, 30, hour, minute, 0, 0, OperatingZone)
}

func TestIsWithinAbsoluteWindowOpenBounds(t *testing.T) {
	campaign := domain.Campaign{}
	if !isWithinAbsoluteWindow(campaign, atOperatingZone(12, 0)) {
		t.Fatalf("expected campaign with no bounds to be open")
	}
}

func TestIsWithinAbsoluteWindowStartAndEnd(t *testing.T) {
	start := atOperatingZone(9, 0)
	end := atOperatingZone(17, 0)
	campaign := domain.Campaign{StartTime: &start, EndTime: &end}

	if !isWithinAbsoluteWindow(campaign, atOperatingZone(9, 0)) {
		t.Fatalf("expected start boundary (inclusive) to be within window")
	}
	if isWithinAbsoluteWindow(campaign, atOperatingZone(17, 0)) {
		t.Fatalf("expected end boundary (exclusive) to be outside window")
	}
	if isWithinAbsoluteWindow(campaign, atOperatingZone(8, 59)) {
		t.Fatalf("expected time before start to be outside window")
	}
}

func TestParseTimeOfDayWindowsDecodedList(t *testing.T) {
	raw := json.RawMessage(`[{"fromHour":9,"fromMinute":0,"toHour":10,"toMinute":0}]`)
	windows := ParseTimeOfDayWindows(raw)
	if len(windows) != 1 {
		t.Fatalf("expected 1 window, got %d", len(windows))
	}
	if windows[0].FromHour != 9 || windows[0].ToHour != 10 {
		t.Fatalf("unexpected window: %+v", windows[0])
	}
}

func TestParseTimeOfDayWindowsJSONStringEncoded(t *testing.T) {
	raw := json.RawMessage(`"[{\"fromHour\":0,\"fromMinute\":0,\"toHour\":23,\"toMinute\":59}]"`)
	windows := ParseTimeOfDayWindows(raw)
	if len(windows) != 1 {
		t.Fatalf("expected 1 window from string-encoded JSON, got %d", len(windows))
	}
}

func TestParseTimeOfDayWindowsClampsOutOfRange(t *testing.T) {
	raw := json.RawMessage(`[{"fromHour":30,"fromMinute":90,"toHour":-5,"toMinute":5}]`)
	windows := ParseTimeOfDayWindows(raw)
	if len(windows) != 1 {
		t.Fatalf("expected 1 clamped window, got %d", len(windows))
	}
	w := windows[0]
	if w.FromHour != 23 || w.FromMinute != 59 || w.ToHour != 0 {
		t.Fatalf("expected clamping to [0,23]/[0,59], got %+v", w)
	}
}

func TestParseTimeOfDayWindowsMalformedDropsEntry(t *testing.T) {
	raw := json.RawMessage(`[{"fromHour":9}, {"fromHour":10,"fromMinute":0,"toHour":11,"toMinute":0}]`)
	windows := ParseTimeOfDayWindows(raw)
	if len(windows) != 1 {
		t.Fatalf("expected malformed entry dropped, kept 1, got %d", len(windows))
	}
}

func TestParseTimeOfDayWindowsUnparseableYieldsNoRestriction(t *testing.T) {
	raw := json.RawMessage(`"not json at all {{{"`)
	windows := ParseTimeOfDayWindows(raw)
	if windows != nil {
		t.Fatalf("expected nil windows for unparseable input, got %+v", windows)
	}
	if !isWithinTimeOfDay(windows, atOperatingZone(3, 0)) {
		t.Fatalf("expected no-restriction pass for unparseable time_of_day")
	}
}

func TestIsWithinTimeOfDayNoWindowsIsUnrestricted(t *testing.T) {
	if !isWithinTimeOfDay(nil, atOperatingZone(3, 0)) {
		t.Fatalf("expected empty windows to mean no restriction")
	}
}

func TestIsWithinTimeOfDayMatchesInclusiveStartExclusiveEnd(t *testing.T) {
	windows := []domain.TimeOfDayWindow{{FromHour: 9, FromMinute: 0, ToHour: 10, ToMinute: 0}}

	if !isWithinTimeOfDay(windows, atOperatingZone(9, 0)) {
		t.Fatalf("expected 09:00 to be within [09:00,10:00)")
	}
	if isWithinTimeOfDay(windows, atOperatingZone(10, 0)) {
		t.Fatalf("expected 10:00 to be outside [09:00,10:00)")
	}
	if isWithinTimeOfDay(windows, atOperatingZone(8, 59)) {
		t.Fatalf("expected 08:59 to be outside [09:00,10:00)")
	}
}

func TestIsWithinTimeOfDayRejectsZeroLengthWindow(t *testing.T) {
	windows := []domain.TimeOfDayWindow{{FromHour: 9, FromMinute: 0, ToHour: 9, ToMinute: 0}}
	if isWithinTimeOfDay(windows, atOperatingZone(9, 0)) {
		t.Fatalf("expected zero-length window to never match")
	}
}

func TestIsWithinTimeOfDayRejectsWrapAcrossMidnight(t *testing.T) {
	windows := []domain.TimeOfDayWindow{{FromHour: 22, FromMinute: 0, ToHour: 2, ToMinute: 0}}
	if isWithinTimeOfDay(windows, atOperatingZone(23, 0)) {
		t.Fatalf("expected wrap-across-midnight window to be rejected, not matched")
	}
	if isWithinTimeOfDay(windows, atOperatingZone(1, 0)) {
		t.Fatalf("expected wrap-across-midnight window to be rejected, not matched")
	}
}

func TestIsActiveNowCombinesAbsoluteAndTimeOfDay(t *testing.T) {
	start := atOperatingZone(0, 0)
	campaign := domain.Campaign{
		StartTime:    &start,
		TimeOfDayRaw: json.RawMessage(`[{"fromHour":9,"fromMinute":0,"toHour":10,"toMinute":0}]`),
	}

	if !IsActiveNow(campaign, atOperatingZone(9, 30)) {
		t.Fatalf("expected campaign active at 09:30 within window")
	}
	if IsActiveNow(campaign, atOperatingZone(11, 0)) {
		t.Fatalf("expected campaign inactive at 11:00 outside window")
	}
}

func TestBuildCallRequestFieldMapping(t *testing.T) {
	campaign := domain.Campaign{ID: "c1", Name: "Spring Promo", TenantID: "t1", ScriptID: "s1", MaxCallback: 3, MaxCallTimeSec: 120}
	lead := domain.Lead{ID: "l1", PhoneNumber: "+8490000001", Name: "Lead One"}
	now := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	req := BuildCallRequest(BuildCallRequestParams{
		Campaign: campaign,
		Lead:     lead,
		CallID:   "call-1",
		IsRetry:  true,
		Attempt:  2,
		Now:      now,
	})

	if req.CallID != "call-1" || req.CampaignID != "c1" || req.LeadID != "l1" {
		t.Fatalf("unexpected identifiers in built request: %+v", req)
	}
	if !req.IsRetry || req.Attempt != 2 || req.MaxAttempts != 3 || req.RetryInterval != 120 {
		t.Fatalf("unexpected retry fields in built request: %+v", req)
	}
	if !req.Timestamp.Equal(now) {
		t.Fatalf("expected timestamp %v, got %v", now, req.Timestamp)
	}
}
