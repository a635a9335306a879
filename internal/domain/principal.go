package domain

import "time"

// Principal is an identity known to the control point: a human operator
// or a service account, bound to exactly one role. Role grants themselves
// live in the active policy snapshot.
type Principal struct {
	ID        int64
	Name      string
	Role      string
	CreatedAt time.Time
}
