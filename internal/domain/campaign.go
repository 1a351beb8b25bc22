package domain

import (
	"encoding/json"
	"time"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusRunning CampaignStatus = "running"
	CampaignStatusPaused  CampaignStatus = "paused"
	CampaignStatusEnded   CampaignStatus = "ended"
)

// TimeOfDayWindow is a same-day calling window in the operating zone.
type TimeOfDayWindow struct {
	FromHour   int `json:"fromHour"`
	FromMinute int `json:"fromMinute"`
	ToHour     int `json:"toHour"`
	ToMinute   int `json:"toMinute"`
}

// Campaign models an outbound calling program.
//
// TimeOfDayRaw carries the column's stored representation untouched — a JSON
// string or an already-decoded value — because Campaign Policy, not the
// repository, is responsible for the tolerant parsing spec.md §4.3 describes.
type Campaign struct {
	ID                 string
	TenantID           string
	Name               string
	Status             CampaignStatus
	StartTime          *time.Time
	EndTime            *time.Time
	ScriptID           string
	CallIntervalSec    int
	MaxCallback        int
	MaxCallTimeSec     int
	TimeOfDayRaw       json.RawMessage
	Voice              string
	Email              string
	Description        string
	CallbackConditions map[string]any
}

// Lead is a prospective callee within a campaign.
type Lead struct {
	ID          string
	PhoneNumber string
	Name        string
	TenantID    string
	CampaignID  string
	CreatedAt   time.Time
}

// CallRequest is the message emitted to the external Call Agent.
type CallRequest struct {
	CallID         string    `json:"call_id"`
	CampaignID     string    `json:"campaign_id"`
	CampaignName   string    `json:"campaign_name"`
	TenantID       string    `json:"tenant_id"`
	ScriptID       string    `json:"script_id"`
	LeadID         string    `json:"lead_id"`
	PhoneNumber    string    `json:"phone_number"`
	LeadName       string    `json:"lead_name,omitempty"`
	IsRetry        bool      `json:"is_retry"`
	OriginalCallID string    `json:"original_call_id,omitempty"`
	Attempt        int       `json:"attempt"`
	MaxAttempts    int       `json:"max_attempts"`
	RetryInterval  int       `json:"retry_interval"`
	Timestamp      time.Time `json:"timestamp"`
}

// ToPayload flattens a CallRequest into the map form the coordination store
// persists under call:{call_id}, so the Callback Consumer can store a retry's
// full context and a Campaign Worker can later reload it through the same
// JSON field names.
func (r CallRequest) ToPayload() (map[string]any, error) {
	encoded, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var payload map[string]any
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// CallRequestFromPayload rebuilds a CallRequest from a call:{call_id} payload
// previously produced by ToPayload.
func CallRequestFromPayload(payload map[string]any) (CallRequest, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return CallRequest{}, err
	}
	var req CallRequest
	if err := json.Unmarshal(encoded, &req); err != nil {
		return CallRequest{}, err
	}
	return req, nil
}

// CallOutcome enumerates the terminal states the Call Agent reports.
type CallOutcome string

const (
	OutcomeSuccess  CallOutcome = "SUCCESS"
	OutcomeNoAnswer CallOutcome = "NO_ANSWER"
	OutcomeBusy     CallOutcome = "BUSY"
	OutcomeFailed   CallOutcome = "FAILED"
)

// Callback is the outcome reported by the external Call Agent.
type Callback struct {
	CallID        string      `json:"call_id"`
	CampaignID    string      `json:"campaign_id"`
	LeadID        string      `json:"lead_id"`
	PhoneNumber   string      `json:"phone_number"`
	Status        CallOutcome `json:"status"`
	Attempt       int         `json:"attempt"`
	MaxAttempts   int         `json:"max_attempts"`
	RetryInterval int         `json:"retry_interval"`
	Timestamp     time.Time   `json:"timestamp"`
	DurationMs    int64       `json:"duration_ms,omitempty"`
}

// CampaignStats aggregates purely observational campaign counters.
type CampaignStats struct {
	DispatchedTotal       int64
	RetriesScheduledTotal int64
	SuccessTotal          int64
	ExhaustedTotal        int64
}
