package telephony

import (
	"context"
	"math/rand"
	"time"

	"github.com/outbound/campaign-dispatcher/internal/domain"
)

// outcomeWeight pairs an outcome with its relative probability. Mirrors the
// 70/10/10/10 SUCCESS/NO_ANSWER/BUSY/FAILED split the reference Call Agent
// example uses, so cmd/simagent produces a realistic retry/success mix.
type outcomeWeight struct {
	outcome domain.CallOutcome
	weight  float64
}

var defaultOutcomeWeights = []outcomeWeight{
	{domain.OutcomeSuccess, 0.7},
	{domain.OutcomeNoAnswer, 0.1},
	{domain.OutcomeBusy, 0.1},
	{domain.OutcomeFailed, 0.1},
}

// SimulatedProvider stands in for a real telephony integration, returning a
// weighted-random outcome after a configurable simulated call duration.
// Used by cmd/simagent in place of a real Call Agent.
type SimulatedProvider struct {
	CallDuration time.Duration
	rng          *rand.Rand
}

// NewSimulatedProvider builds a simulator with a deterministic-by-seed RNG
// so tests can reproduce a specific outcome sequence.
func NewSimulatedProvider(seed int64, callDuration time.Duration) *SimulatedProvider {
	return &SimulatedProvider{
		CallDuration: callDuration,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

// PlaceCall never actually dials; it sleeps for CallDuration (bounded by ctx)
// and returns a weighted-random outcome.
func (p *SimulatedProvider) PlaceCall(ctx context.Context, req domain.CallRequest) (Result, error) {
	select {
	case <-time.After(p.CallDuration):
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	outcome := p.pickOutcome()
	return Result{
		Status:   outcome,
		Duration: p.CallDuration,
	}, nil
}

func (p *SimulatedProvider) pickOutcome() domain.CallOutcome {
	roll := p.rng.Float64()
	var cumulative float64
	for _, ow := range defaultOutcomeWeights {
		cumulative += ow.weight
		if roll < cumulative {
			return ow.outcome
		}
	}
	return defaultOutcomeWeights[len(defaultOutcomeWeights)-1].outcome
}
