// Package telephony abstracts placing a call on behalf of the external Call
// Agent that spec.md treats as outside the system boundary. The scheduling
// core never imports this package directly — only cmd/simagent, which
// stands in for a real Call Agent in development. The end-to-end scenario
// tests do not use it; they enqueue callbacks themselves.
package telephony

import (
	"context"
	"time"

	"github.com/outbound/campaign-dispatcher/internal/domain"
)

// Result captures the outcome of a placed call, destined to become a
// domain.Callback once the caller attaches campaign/lead identifiers.
type Result struct {
	Status     domain.CallOutcome
	Duration   time.Duration
	Retryable  bool
	Error      string
}

// Provider abstracts the telephony integration a Call Agent implementation
// uses to actually place a call for a dispatched CallRequest.
type Provider interface {
	PlaceCall(ctx context.Context, req domain.CallRequest) (Result, error)
}
