// Package coordstore implements the Coordination Store client (spec.md §4.1):
// the broker/KV operations every other component uses for queues, the
// due-time retry index, dedup sets, and the one non-obvious atomic
// primitive, claim-due-retries.
package coordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/outbound/campaign-dispatcher/internal/domain"
)

// claimDueScript is the direct generalization of the teacher's
// concurrency.Limiter Lua scripts: loop range-by-score-with-limit-1, remove,
// append, stop at empty or at the requested limit. Guarantees a call_id is
// claimed by at most one caller even under concurrent invocations.
var claimDueScript = redis.NewScript(`
local zkey = KEYS[1]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local claimed = {}
for i = 1, limit do
	local ids = redis.call('ZRANGEBYSCORE', zkey, '-inf', now, 'LIMIT', 0, 1)
	if (ids == nil) or (#ids == 0) then
		break
	end
	redis.call('ZREM', zkey, ids[1])
	table.insert(claimed, ids[1])
end
return claimed
`)

// Store wraps a *redis.Client with the typed operations spec.md §4.1 names.
// Each Campaign Worker and the Callback Consumer own an independent Store
// (and thus an independent *redis.Client) per spec.md §5; the Scheduler
// holds none.
type Store struct {
	client *redis.Client
	now    func() time.Time
}

// New constructs a Store using the wall clock.
func New(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

// NewWithClock constructs a Store with an injectable clock, used by tests
// against alicebob/miniredis/v2 to control due-time behavior deterministically.
func NewWithClock(client *redis.Client, now func() time.Time) *Store {
	return &Store{client: client, now: now}
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func retryTransient(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxElapsedTime = 200 * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// MarkLeadSuccess adds lead_id to camp:{cid}:done.
func (s *Store) MarkLeadSuccess(ctx context.Context, cid, leadID string) error {
	return retryTransient(ctx, func() error {
		return s.client.SAdd(ctx, doneKey(cid), leadID).Err()
	})
}

// IsLeadSuccess tests membership in camp:{cid}:done.
func (s *Store) IsLeadSuccess(ctx context.Context, cid, leadID string) (bool, error) {
	var ok bool
	err := retryTransient(ctx, func() error {
		var e error
		ok, e = s.client.SIsMember(ctx, doneKey(cid), leadID).Result()
		return e
	})
	return ok, err
}

// MarkPhoneSuccess adds phone to camp:{cid}:done_phone.
func (s *Store) MarkPhoneSuccess(ctx context.Context, cid, phone string) error {
	return retryTransient(ctx, func() error {
		return s.client.SAdd(ctx, donePhoneKey(cid), phone).Err()
	})
}

// IsPhoneSuccess tests membership in camp:{cid}:done_phone.
func (s *Store) IsPhoneSuccess(ctx context.Context, cid, phone string) (bool, error) {
	var ok bool
	err := retryTransient(ctx, func() error {
		var e error
		ok, e = s.client.SIsMember(ctx, donePhoneKey(cid), phone).Result()
		return e
	})
	return ok, err
}

// MarkInProgress adds lead_id to camp:{cid}:inprogress.
func (s *Store) MarkInProgress(ctx context.Context, cid, leadID string) error {
	return retryTransient(ctx, func() error {
		return s.client.SAdd(ctx, inProgressKey(cid), leadID).Err()
	})
}

// ClearInProgress removes lead_id from camp:{cid}:inprogress.
func (s *Store) ClearInProgress(ctx context.Context, cid, leadID string) error {
	return retryTransient(ctx, func() error {
		return s.client.SRem(ctx, inProgressKey(cid), leadID).Err()
	})
}

// IsInProgress tests membership in camp:{cid}:inprogress.
func (s *Store) IsInProgress(ctx context.Context, cid, leadID string) (bool, error) {
	var ok bool
	err := retryTransient(ctx, func() error {
		var e error
		ok, e = s.client.SIsMember(ctx, inProgressKey(cid), leadID).Result()
		return e
	})
	return ok, err
}

// MarkPhoneInProgress adds phone to camp:{cid}:inprog_phone.
func (s *Store) MarkPhoneInProgress(ctx context.Context, cid, phone string) error {
	return retryTransient(ctx, func() error {
		return s.client.SAdd(ctx, inProgPhoneKey(cid), phone).Err()
	})
}

// ClearPhoneInProgress removes phone from camp:{cid}:inprog_phone.
func (s *Store) ClearPhoneInProgress(ctx context.Context, cid, phone string) error {
	return retryTransient(ctx, func() error {
		return s.client.SRem(ctx, inProgPhoneKey(cid), phone).Err()
	})
}

// IsPhoneInProgress tests membership in camp:{cid}:inprog_phone.
func (s *Store) IsPhoneInProgress(ctx context.Context, cid, phone string) (bool, error) {
	var ok bool
	err := retryTransient(ctx, func() error {
		var e error
		ok, e = s.client.SIsMember(ctx, inProgPhoneKey(cid), phone).Result()
		return e
	})
	return ok, err
}

// SaveFailureAndScheduleRetry atomically writes call:{call_id} (payload fields
// serialized as strings; nested objects JSON-encoded) and adds call_id to
// camp:{cid}:retry with score now+delaySeconds. A single pipelined
// transaction, per spec.md §4.1 and §5's multi-key-write requirement.
func (s *Store) SaveFailureAndScheduleRetry(ctx context.Context, cid, callID string, payload map[string]any, delaySeconds int) error {
	mapping := make(map[string]any, len(payload))
	for k, v := range payload {
		switch val := v.(type) {
		case string, nil:
			mapping[k] = val
		case map[string]any, []any:
			encoded, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("coordstore: save failure: marshal %s: %w", k, err)
			}
			mapping[k] = string(encoded)
		default:
			mapping[k] = fmt.Sprintf("%v", val)
		}
	}

	dueAt := s.now().UTC().Add(time.Duration(delaySeconds) * time.Second).Unix()

	return retryTransient(ctx, func() error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, callPayloadKey(callID), mapping)
			pipe.ZAdd(ctx, retryKey(cid), redis.Z{Score: float64(dueAt), Member: callID})
			return nil
		})
		return err
	})
}

// SaveSuccessAndFinalize deletes call:{call_id}.
func (s *Store) SaveSuccessAndFinalize(ctx context.Context, callID string) error {
	return retryTransient(ctx, func() error {
		return s.client.Del(ctx, callPayloadKey(callID)).Err()
	})
}

// RemoveRetry removes call_id from camp:{cid}:retry.
func (s *Store) RemoveRetry(ctx context.Context, cid, callID string) error {
	return retryTransient(ctx, func() error {
		return s.client.ZRem(ctx, retryKey(cid), callID).Err()
	})
}

// ClaimDueRetries returns up to limit call_ids whose score <= now, removed
// from the index in the same server-side operation. Linearizable: two
// concurrent claims never return the same call_id (spec.md §4.1, §5).
func (s *Store) ClaimDueRetries(ctx context.Context, cid string, limit int) ([]string, error) {
	var ids []string
	err := retryTransient(ctx, func() error {
		res, e := claimDueScript.Run(ctx, s.client, []string{retryKey(cid)}, s.now().UTC().Unix(), limit).StringSlice()
		if e != nil {
			return e
		}
		ids = res
		return nil
	})
	return ids, err
}

// GetCallPayload reads the call:{call_id} mapping, auto-decoding fields that
// parse as JSON back into their nested form.
func (s *Store) GetCallPayload(ctx context.Context, callID string) (map[string]any, error) {
	var raw map[string]string
	err := retryTransient(ctx, func() error {
		var e error
		raw, e = s.client.HGetAll(ctx, callPayloadKey(callID)).Result()
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("coordstore: get call payload: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("coordstore: call payload not found")
	}

	payload := make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if json.Unmarshal([]byte(v), &decoded) == nil {
			if _, isNumberOrBool := decoded.(string); !isNumberOrBool {
				payload[k] = decoded
				continue
			}
		}
		payload[k] = v
	}
	return payload, nil
}

// SendCallRequest pushes a call request onto the call_requests FIFO (head),
// the queue the external Call Agent pops from (tail).
func (s *Store) SendCallRequest(ctx context.Context, req domain.CallRequest) error {
	return s.push(ctx, callRequestsKey, req)
}

// GetCallRequests blocking-pops up to 10 call requests from call_requests.
func (s *Store) GetCallRequests(ctx context.Context, timeout time.Duration) ([]domain.CallRequest, error) {
	var out []domain.CallRequest
	for i := 0; i < 10; i++ {
		raw, err := s.popOnce(ctx, callRequestsKey, timeout)
		if err != nil {
			return out, err
		}
		if raw == "" {
			break
		}
		var req domain.CallRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

// SendCallCallback pushes an outcome onto the call_callbacks FIFO.
func (s *Store) SendCallCallback(ctx context.Context, cb domain.Callback) error {
	return s.push(ctx, callCallbacksKey, cb)
}

// GetCallCallbacks blocking-pops up to 10 callbacks from call_callbacks.
func (s *Store) GetCallCallbacks(ctx context.Context, timeout time.Duration) ([]domain.Callback, error) {
	var out []domain.Callback
	for i := 0; i < 10; i++ {
		raw, err := s.popOnce(ctx, callCallbacksKey, timeout)
		if err != nil {
			return out, err
		}
		if raw == "" {
			break
		}
		var cb domain.Callback
		if err := json.Unmarshal([]byte(raw), &cb); err != nil {
			continue
		}
		out = append(out, cb)
	}
	return out, nil
}

func (s *Store) push(ctx context.Context, key string, v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("coordstore: marshal: %w", err)
	}
	return retryTransient(ctx, func() error {
		return s.client.LPush(ctx, key, encoded).Err()
	})
}

// popOnce blocking-pops one element from the tail, returning "" on timeout
// without treating the timeout as an error (redis.Nil is not transient).
func (s *Store) popOnce(ctx context.Context, key string, timeout time.Duration) (string, error) {
	res, err := s.client.BRPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}
