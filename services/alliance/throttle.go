package alliance

import "rallyPoint/model"

// Invitation rate limiting. The first FreeInvites invitations cost nothing;
// every invitation past that adds a fixed cooldown on top of the cooldown
// already accrued, so the wait grows linearly with the overtime count. The
// cooldown deadline is absolute unix millis and is persisted with the user
// record, so it survives reloads.
const (
	FreeInvites    = 3
	CooldownStepMs = 60_000
)

// ThrottleDecision is the outcome of checking the invite quota.
type ThrottleDecision struct {
	Allowed      bool
	RetryAfterMs int64
}

// CheckInvite reports whether a new invitation may be sent at nowMs.
func CheckInvite(st model.InviteThrottleState, nowMs int64) ThrottleDecision {
	if st.CooldownUntilMs > nowMs {
		return ThrottleDecision{RetryAfterMs: st.CooldownUntilMs - nowMs}
	}
	return ThrottleDecision{Allowed: true}
}

// ConsumeInvite returns the throttle state after sending one invitation at
// nowMs. The new state must be written atomically with the invitation
// record itself; a crash between the two writes would either hand out free
// invitations or throttle ones never sent.
func ConsumeInvite(st model.InviteThrottleState, nowMs int64) model.InviteThrottleState {
	st.SentCount++
	overtime := st.SentCount - FreeInvites
	if overtime > 0 {
		st.CooldownUntilMs = nowMs + int64(overtime)*CooldownStepMs
	} else {
		st.CooldownUntilMs = 0
	}
	return st
}
