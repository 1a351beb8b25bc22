package coordstore

import "fmt"

// Key shapes are the single source of truth for spec.md §3's coordination
// store entity table; the internal packages reach the store only through
// Store. cmd/storectl matches camp:{cid}:* keys by pattern on its own.

func doneKey(cid string) string          { return fmt.Sprintf("camp:%s:done", cid) }
func donePhoneKey(cid string) string     { return fmt.Sprintf("camp:%s:done_phone", cid) }
func inProgressKey(cid string) string    { return fmt.Sprintf("camp:%s:inprogress", cid) }
func inProgPhoneKey(cid string) string   { return fmt.Sprintf("camp:%s:inprog_phone", cid) }
func retryKey(cid string) string         { return fmt.Sprintf("camp:%s:retry", cid) }
func callPayloadKey(callID string) string { return fmt.Sprintf("call:%s", callID) }

const (
	callRequestsKey  = "call_requests"
	callCallbacksKey = "call_callbacks"
)
