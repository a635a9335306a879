package domain

import (
	"encoding/json"
	"time"
)

// Actions a command may request against infrastructure.
const (
	ActionScale     = "scale"
	ActionDeploy    = "deploy"
	ActionDestroy   = "destroy"
	ActionConfigure = "configure"
	ActionRestart   = "restart"
)

// Target environments.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// validActions enumerates the accepted command actions.
var validActions = map[string]bool{
	ActionScale:     true,
	ActionDeploy:    true,
	ActionDestroy:   true,
	ActionConfigure: true,
	ActionRestart:   true,
}

// validEnvironments enumerates the accepted target environments.
var validEnvironments = map[string]bool{
	EnvDevelopment: true,
	EnvStaging:     true,
	EnvProduction:  true,
}

// ValidAction reports whether s is a known command action.
func ValidAction(s string) bool { return validActions[s] }

// ValidEnvironment reports whether s is a known environment.
func ValidEnvironment(s string) bool { return validEnvironments[s] }

// Command is a proposed infrastructure action. Immutable once submitted:
// state transitions are tracked separately and every outcome is recorded
// as a new ledger entry, never as a mutation of the command itself.
type Command struct {
	ID           string
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Environment  string
	Parameters   map[string]interface{}
	RequestedAt  time.Time
	State        string
	CreatedAt    time.Time
}

// Command lifecycle states.
const (
	StateSubmitted       = "SUBMITTED"
	StateDenied          = "DENIED"
	StatePendingApproval = "PENDING_APPROVAL"
	StateExecuting       = "EXECUTING"
	StateSucceeded       = "SUCCEEDED"
	StateFailed          = "FAILED"
	StateCancelled       = "CANCELLED"
	StateExpired         = "EXPIRED"
)

// TerminalState reports whether a command state admits no further transitions.
func TerminalState(s string) bool {
	switch s {
	case StateDenied, StateSucceeded, StateFailed, StateCancelled, StateExpired:
		return true
	}
	return false
}

// Validate checks that the command carries everything the evaluator needs.
func (c *Command) Validate() error {
	if c.Actor == "" {
		return ErrValidation("actor is required")
	}
	if !ValidAction(c.Action) {
		return ErrValidation("unknown action %q", c.Action)
	}
	if c.ResourceType == "" {
		return ErrValidation("resource_type is required")
	}
	if c.ResourceID == "" {
		return ErrValidation("resource_id is required")
	}
	if !ValidEnvironment(c.Environment) {
		return ErrValidation("unknown environment %q", c.Environment)
	}
	return nil
}

// CooldownKey identifies the (resource, action) pair a cooldown applies to.
func (c *Command) CooldownKey() string {
	return c.ResourceID + "|" + c.Action
}

// NumParam extracts a numeric parameter, coercing the JSON/YAML number
// representations that survive a round trip through map[string]interface{}.
func (c *Command) NumParam(name string) (float64, bool) {
	v, ok := c.Parameters[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
