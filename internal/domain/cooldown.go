package domain

import "time"

// CooldownState records the last successfully applied mutation for a
// (resourceID, action) pair. It is advanced only after the external
// executor reports success. A DENY or a failed execution must not reset
// the cooldown clock.
type CooldownState struct {
	ResourceID    string
	Action        string
	LastAppliedAt time.Time
	LastMagnitude float64
}

// TimeSinceLast returns the elapsed time since the last applied action,
// or false when no prior application is recorded.
func (c *CooldownState) TimeSinceLast(now time.Time) (time.Duration, bool) {
	if c == nil || c.LastAppliedAt.IsZero() {
		return 0, false
	}
	return now.Sub(c.LastAppliedAt), true
}
