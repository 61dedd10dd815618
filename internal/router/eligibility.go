package router

import (
	"github.com/franzego/coachengine/internal/models"
)

// PushVerdict records why a candidate was or was not allowed the push
// channel, for telemetry.
type PushVerdict struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason"`
}

// CheckPushEligibility applies the push budget policy. P0 bypasses the
// daily cap entirely; P1 may push only when the producer asked for it, the
// action is about to go stale, and there is something to tap through to.
// P2/P3 are inbox-only.
func CheckPushEligibility(c models.CandidateMessage, pushCountToday, dailyCap int) PushVerdict {
	if c.Priority == models.PriorityP0 {
		return PushVerdict{Eligible: true, Reason: "critical priority bypasses push budget"}
	}
	if pushCountToday >= dailyCap {
		return PushVerdict{Reason: "daily push budget consumed"}
	}
	if c.Priority.NonUrgent() {
		return PushVerdict{Reason: "priority below push threshold"}
	}
	// P1 from here on.
	if !c.WantsPush() {
		return PushVerdict{Reason: "producer did not prefer push"}
	}
	if c.UrgencyWindow == nil || *c.UrgencyWindow > 2 {
		return PushVerdict{Reason: "no tight urgency window"}
	}
	if !c.Actionable() {
		return PushVerdict{Reason: "no call-to-action"}
	}
	return PushVerdict{Eligible: true, Reason: "urgent actionable p1"}
}
