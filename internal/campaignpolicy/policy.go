// Package campaignpolicy implements the pure scheduling decisions of
// Campaign Policy (spec.md §4.3): the absolute-window check, the tolerant
// time-of-day check, and call-request construction. Every function here is
// pure — no I/O, no clock reads beyond the `now` each caller supplies — so
// the Campaign Worker and Scheduler can unit test their dispatch logic
// without a live Redis or Postgres.
package campaignpolicy

import (
	"encoding/json"
	"time"

	"github.com/outbound/campaign-dispatcher/internal/domain"
)

// OperatingZone is the fixed zone every scheduling comparison is made in.
// Naive (zone-less) timestamps in the data model are interpreted as already
// being in this zone, not UTC.
var OperatingZone = time.FixedZone("operating-zone", 7*60*60)

// IsActiveNow reports whether a campaign is eligible to dial right now: its
// absolute start/end window is open AND (if time_of_day windows are
// present and parse) the current minute-of-day falls inside one of them.
func IsActiveNow(campaign domain.Campaign, now time.Time) bool {
	if !isWithinAbsoluteWindow(campaign, now) {
		return false
	}
	windows := ParseTimeOfDayWindows(campaign.TimeOfDayRaw)
	return isWithinTimeOfDay(windows, now)
}

// isWithinAbsoluteWindow checks now against start_time/end_time, both
// optional. A missing bound is open on that side.
func isWithinAbsoluteWindow(campaign domain.Campaign, now time.Time) bool {
	nowZ := now.In(OperatingZone)

	startOK := true
	if campaign.StartTime != nil {
		startOK = !campaign.StartTime.In(OperatingZone).After(nowZ)
	}
	endOK := true
	if campaign.EndTime != nil {
		endOK = nowZ.Before(campaign.EndTime.In(OperatingZone))
	}
	return startOK && endOK
}

// ParseTimeOfDayWindows tolerantly decodes the stored time_of_day
// representation: either an already-decoded JSON array, or a JSON string
// containing one. Hour is clamped to [0,23], minute to [0,59]. Malformed
// entries are dropped rather than failing the whole parse; an unparseable
// or empty value yields no windows, meaning "no restriction" (spec.md §4.3,
// §9 malformed-configuration handling).
func ParseTimeOfDayWindows(raw json.RawMessage) []domain.TimeOfDayWindow {
	if len(raw) == 0 {
		return nil
	}

	var entries []map[string]any
	if err := json.Unmarshal(raw, &entries); err != nil {
		// Might be a JSON string carrying the array as text.
		var asString string
		if err := json.Unmarshal(raw, &asString); err != nil {
			return nil
		}
		if err := json.Unmarshal([]byte(asString), &entries); err != nil {
			return nil
		}
	}

	windows := make([]domain.TimeOfDayWindow, 0, len(entries))
	for _, entry := range entries {
		w, ok := parseWindowEntry(entry)
		if !ok {
			continue
		}
		windows = append(windows, w)
	}
	return windows
}

func parseWindowEntry(entry map[string]any) (domain.TimeOfDayWindow, bool) {
	fromHour, ok1 := intField(entry, "fromHour")
	fromMinute, ok2 := intField(entry, "fromMinute")
	toHour, ok3 := intField(entry, "toHour")
	toMinute, ok4 := intField(entry, "toMinute")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return domain.TimeOfDayWindow{}, false
	}

	return domain.TimeOfDayWindow{
		FromHour:   clamp(fromHour, 0, 23),
		FromMinute: clamp(fromMinute, 0, 59),
		ToHour:     clamp(toHour, 0, 23),
		ToMinute:   clamp(toMinute, 0, 59),
	}, true
}

func intField(entry map[string]any, key string) (int, bool) {
	v, present := entry[key]
	if !present {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int(f), true
	default:
		return 0, false
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// isWithinTimeOfDay returns true when no windows are given (no restriction),
// or when the current minute-of-day in the operating zone falls inside one
// of them. Zero-length and wrap-across-midnight windows never match — only
// non-crossing [start,end) intervals do (spec.md §4.3's no-wrap decision).
func isWithinTimeOfDay(windows []domain.TimeOfDayWindow, now time.Time) bool {
	if len(windows) == 0 {
		return true
	}

	nowZ := now.In(OperatingZone)
	nowMinutes := nowZ.Hour()*60 + nowZ.Minute()

	for _, w := range windows {
		start := w.FromHour*60 + w.FromMinute
		end := w.ToHour*60 + w.ToMinute
		if start >= end {
			continue
		}
		if start <= nowMinutes && nowMinutes < end {
			return true
		}
	}
	return false
}

// BuildCallRequestParams carries the inputs needed to construct a
// CallRequest, decoupling it from any particular caller's local variable
// names (fresh first attempt vs. a retry of a prior attempt).
type BuildCallRequestParams struct {
	Campaign       domain.Campaign
	Lead           domain.Lead
	CallID         string
	IsRetry        bool
	OriginalCallID string
	Attempt        int
	Now            time.Time
}

// BuildCallRequest constructs the message sent to the external Call Agent,
// mirroring the field set spec.md §3 names verbatim.
func BuildCallRequest(p BuildCallRequestParams) domain.CallRequest {
	return domain.CallRequest{
		CallID:         p.CallID,
		CampaignID:     p.Campaign.ID,
		CampaignName:   p.Campaign.Name,
		TenantID:       p.Campaign.TenantID,
		ScriptID:       p.Campaign.ScriptID,
		LeadID:         p.Lead.ID,
		PhoneNumber:    p.Lead.PhoneNumber,
		LeadName:       p.Lead.Name,
		IsRetry:        p.IsRetry,
		OriginalCallID: p.OriginalCallID,
		Attempt:        p.Attempt,
		MaxAttempts:    p.Campaign.MaxCallback,
		RetryInterval:  p.Campaign.MaxCallTimeSec,
		Timestamp:      p.Now.UTC(),
	}
}
