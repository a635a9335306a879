package policy

import (
	"fmt"
	"strings"
	"time"
)

// ExpectedKind is the only document kind accepted by the loader.
const ExpectedKind = "GuardrailPolicySet"

// ExpectedAPIVersion is the only apiVersion accepted by the loader.
const ExpectedAPIVersion = "opsgate/v1"

// ValidationError describes a single problem found while validating a
// policy document. A malformed set is rejected before swap and never
// becomes the active snapshot.
type ValidationError struct {
	Path    string // e.g. "policies[prod-window]" or "roles[admin]"
	Message string
}

func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// InvalidSetError aggregates all validation problems in a document.
type InvalidSetError struct {
	Problems []ValidationError
}

func (e *InvalidSetError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return "invalid policy set: " + strings.Join(msgs, "; ")
}

var validKinds = map[string]bool{
	KindRBAC:           true,
	KindChangeWindow:   true,
	KindScalingLimit:   true,
	KindCooldown:       true,
	KindApprovalQuorum: true,
}

// Compile validates a document and compiles it into typed rules.
// Returns an *InvalidSetError listing every problem found.
func Compile(doc *Document) ([]Rule, map[string][]string, error) {
	var problems []ValidationError
	addProblem := func(path, format string, args ...interface{}) {
		problems = append(problems, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if doc.Kind != ExpectedKind {
		addProblem("", "kind must be %q, got %q", ExpectedKind, doc.Kind)
	}
	if doc.APIVersion != ExpectedAPIVersion {
		addProblem("", "apiVersion must be %q, got %q", ExpectedAPIVersion, doc.APIVersion)
	}

	roles := make(map[string][]string, len(doc.Roles))
	for _, r := range doc.Roles {
		path := fmt.Sprintf("roles[%s]", r.Name)
		if r.Name == "" {
			addProblem("roles", "role name is required")
			continue
		}
		if _, dup := roles[r.Name]; dup {
			addProblem(path, "duplicate role")
			continue
		}
		perms := r.Permissions
		if perms == nil {
			perms = []string{}
		}
		roles[r.Name] = perms
	}

	seen := make(map[string]bool, len(doc.Policies))
	rules := make([]Rule, 0, len(doc.Policies))
	for i, p := range doc.Policies {
		path := fmt.Sprintf("policies[%s]", p.ID)
		if p.ID == "" {
			addProblem(fmt.Sprintf("policies[%d]", i), "policy id is required")
			continue
		}
		if seen[p.ID] {
			addProblem(path, "duplicate policy id")
			continue
		}
		seen[p.ID] = true

		if !validKinds[p.Kind] {
			addProblem(path, "unknown kind %q", p.Kind)
			continue
		}

		rule := Rule{
			ID:      p.ID,
			Kind:    p.Kind,
			Scope:   p.Scope,
			Actions: p.Params.Actions,
		}

		switch p.Kind {
		case KindRBAC:
			if p.Params.AllowedRoles == nil {
				addProblem(path, "allowed_roles is required (use [] to deny all roles)")
				continue
			}
			rule.AllowedRoles = p.Params.AllowedRoles

		case KindChangeWindow:
			if len(p.Params.AllowedHours) == 0 {
				addProblem(path, "allowed_hours is required")
				continue
			}
			rule.AllowedHours = make(map[int]bool, len(p.Params.AllowedHours))
			bad := false
			for _, h := range p.Params.AllowedHours {
				if h < 0 || h > 23 {
					addProblem(path, "allowed hour %d out of range [0,23]", h)
					bad = true
					break
				}
				rule.AllowedHours[h] = true
			}
			if bad {
				continue
			}
			tz := p.Params.Timezone
			if tz == "" {
				tz = "UTC"
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				addProblem(path, "unknown timezone %q", tz)
				continue
			}
			rule.Location = loc

		case KindScalingLimit:
			if p.Params.MaxInstances <= 0 && p.Params.MaxMemoryGB <= 0 && p.Params.MaxCPUCores <= 0 {
				addProblem(path, "at least one of max_instances, max_memory_gb, max_cpu_cores is required")
				continue
			}
			if p.Params.MaxInstances < 0 || p.Params.MaxMemoryGB < 0 || p.Params.MaxCPUCores < 0 {
				addProblem(path, "scaling limits must be non-negative")
				continue
			}
			rule.MaxInstances = p.Params.MaxInstances
			rule.MaxMemoryGB = p.Params.MaxMemoryGB
			rule.MaxCPUCores = p.Params.MaxCPUCores

		case KindCooldown:
			if p.Params.Duration == "" {
				addProblem(path, "duration is required")
				continue
			}
			d, err := time.ParseDuration(p.Params.Duration)
			if err != nil || d <= 0 {
				addProblem(path, "invalid duration %q", p.Params.Duration)
				continue
			}
			rule.Cooldown = d

		case KindApprovalQuorum:
			if p.Params.RequiredApprovals <= 0 {
				addProblem(path, "required_approvals must be positive")
				continue
			}
			rule.RequiredApprovals = p.Params.RequiredApprovals
			rule.AllowSelfApproval = p.Params.AllowSelfApproval
			rule.ExpiresAfter = time.Hour // default approval window
			if p.Params.ExpiresAfter != "" {
				d, err := time.ParseDuration(p.Params.ExpiresAfter)
				if err != nil || d <= 0 {
					addProblem(path, "invalid expires_after %q", p.Params.ExpiresAfter)
					continue
				}
				rule.ExpiresAfter = d
			}
		}

		rules = append(rules, rule)
	}

	if len(problems) > 0 {
		return nil, nil, &InvalidSetError{Problems: problems}
	}
	return rules, roles, nil
}
