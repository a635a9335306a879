// Package policy holds the declarative guardrail policy model: the YAML
// document format, validation, and the versioned in-memory snapshot the
// evaluator reads. Policy content is config data, not code; nothing in a
// policy set is dynamically evaluated.
package policy

import "time"

// Policy kinds.
const (
	KindRBAC          = "rbac"
	KindChangeWindow  = "change-window"
	KindScalingLimit  = "scaling-limit"
	KindCooldown      = "cooldown"
	KindApprovalQuorum = "approval-quorum"
)

// Grant names with special meaning in a role's permission list.
const (
	GrantWildcard = "*"
	GrantOverride = "override"
)

// Document is the YAML envelope for a full policy set. A new document
// always replaces the active set wholesale; there are no partial updates.
type Document struct {
	APIVersion string      `yaml:"apiVersion"`
	Kind       string      `yaml:"kind"`
	Roles      []RoleSpec  `yaml:"roles"`
	Policies   []PolicySpec `yaml:"policies"`
}

// RoleSpec binds a role name to its permission list. Permissions are
// action names, "*" (wildcard), or "override".
type RoleSpec struct {
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// ScopeSpec filters which commands a policy applies to. Empty fields
// match everything.
type ScopeSpec struct {
	Environment  string `yaml:"environment,omitempty"`
	ResourceType string `yaml:"resource_type,omitempty"`
}

// ParamsSpec is the union of kind-specific parameters. Validation checks
// that the fields required by the declared kind are present.
type ParamsSpec struct {
	// rbac
	Actions      []string `yaml:"actions,omitempty"`
	AllowedRoles []string `yaml:"allowed_roles,omitempty"`

	// change-window
	AllowedHours []int  `yaml:"allowed_hours,omitempty"`
	Timezone     string `yaml:"timezone,omitempty"`

	// scaling-limit
	MaxInstances int     `yaml:"max_instances,omitempty"`
	MaxMemoryGB  float64 `yaml:"max_memory_gb,omitempty"`
	MaxCPUCores  float64 `yaml:"max_cpu_cores,omitempty"`

	// cooldown
	Duration string `yaml:"duration,omitempty"` // Go duration string, e.g. "10m"

	// approval-quorum
	RequiredApprovals int    `yaml:"required_approvals,omitempty"`
	ExpiresAfter      string `yaml:"expires_after,omitempty"` // Go duration string
	AllowSelfApproval bool   `yaml:"allow_self_approval,omitempty"`
}

// PolicySpec is one named guardrail rule as declared in YAML.
type PolicySpec struct {
	ID     string     `yaml:"id"`
	Kind   string     `yaml:"kind"`
	Scope  ScopeSpec  `yaml:"scope,omitempty"`
	Params ParamsSpec `yaml:"params"`
}

// === Compiled form ===

// Rule is a validated, compiled policy with typed parameters.
type Rule struct {
	ID    string
	Kind  string
	Scope ScopeSpec

	// rbac
	Actions      []string
	AllowedRoles []string

	// change-window
	AllowedHours map[int]bool
	Location     *time.Location

	// scaling-limit
	MaxInstances int
	MaxMemoryGB  float64
	MaxCPUCores  float64

	// cooldown
	Cooldown time.Duration
	// cooldown + rbac share Actions: empty means all actions

	// approval-quorum
	RequiredApprovals int
	ExpiresAfter      time.Duration
	AllowSelfApproval bool
}

// AppliesTo reports whether the rule's scope matches the given command
// environment, resource type, and action.
func (r *Rule) AppliesTo(environment, resourceType, action string) bool {
	if r.Scope.Environment != "" && r.Scope.Environment != environment {
		return false
	}
	if r.Scope.ResourceType != "" && r.Scope.ResourceType != resourceType {
		return false
	}
	if len(r.Actions) > 0 {
		found := false
		for _, a := range r.Actions {
			if a == action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Snapshot is an immutable compiled policy set. The store swaps whole
// snapshots atomically; an in-flight evaluation always sees exactly one
// consistent set.
type Snapshot struct {
	Version  int
	Hash     string
	Roles    map[string][]string // role name -> permission list
	Rules    []Rule
	LoadedAt time.Time
}

// RolePermissions returns the permission list for a role. The second
// return is false for unknown roles.
func (s *Snapshot) RolePermissions(role string) ([]string, bool) {
	perms, ok := s.Roles[role]
	return perms, ok
}

// RoleHasGrant reports whether the role's permission list contains the
// named grant. The wildcard grant does not imply "override"; override
// must be granted explicitly.
func (s *Snapshot) RoleHasGrant(role, grant string) bool {
	perms, ok := s.Roles[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == grant {
			return true
		}
		if p == GrantWildcard && grant != GrantOverride {
			return true
		}
	}
	return false
}

// RulesFor returns the rules of the given kind whose scope matches the
// command, preserving document order.
func (s *Snapshot) RulesFor(kind, environment, resourceType, action string) []Rule {
	var out []Rule
	for _, r := range s.Rules {
		if r.Kind != kind {
			continue
		}
		if r.AppliesTo(environment, resourceType, action) {
			out = append(out, r)
		}
	}
	return out
}
