package service

import (
	"context"
	"fmt"

	"opsgate/internal/domain"
	"opsgate/internal/policy"
)

// Design is a proposed infrastructure layout submitted for a dry-run
// check before any command is issued.
type Design struct {
	Environment       string            `json:"environment"`
	ResourceType      string            `json:"resource_type"`
	Components        []DesignComponent `json:"components"`
	BackupEnabled     bool              `json:"backup_enabled"`
	MonitoringEnabled bool              `json:"monitoring_enabled"`
}

// DesignComponent is one scalable unit within a design.
type DesignComponent struct {
	Name     string  `json:"name"`
	Count    int     `json:"count"`
	MemoryGB float64 `json:"memory_gb"`
	CPUCores float64 `json:"cpu_cores"`
}

// DesignReport is the outcome of a design validation.
type DesignReport struct {
	Allowed     bool     `json:"allowed"`
	Reason      string   `json:"reason,omitempty"`
	PolicyIDs   []string `json:"policy_ids,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// DesignService checks whole designs against aggregate scaling limits.
// It writes nothing: a design check is advisory and leaves no ledger
// trace.
type DesignService struct {
	policies *policy.Store
}

func NewDesignService(policies *policy.Store) *DesignService {
	return &DesignService{policies: policies}
}

// Validate sums the design's requested capacity and compares it with
// every scaling-limit rule in scope. Production designs additionally get
// operational hygiene warnings.
func (s *DesignService) Validate(_ context.Context, d *Design) (*DesignReport, error) {
	if !domain.ValidEnvironment(d.Environment) {
		return nil, domain.ErrValidation("unknown environment %q", d.Environment)
	}
	if len(d.Components) == 0 {
		return nil, domain.ErrValidation("design has no components")
	}
	for _, c := range d.Components {
		if c.Count <= 0 {
			return nil, domain.ErrValidation("component %q has non-positive count", c.Name)
		}
	}

	var totalInstances int
	var totalMemory, totalCPU float64
	for _, c := range d.Components {
		totalInstances += c.Count
		totalMemory += c.MemoryGB * float64(c.Count)
		totalCPU += c.CPUCores * float64(c.Count)
	}

	snap := s.policies.Active()
	rules := snap.RulesFor(policy.KindScalingLimit, d.Environment, d.ResourceType, domain.ActionScale)
	for _, r := range rules {
		switch {
		case r.MaxInstances > 0 && totalInstances > r.MaxInstances:
			return &DesignReport{
				Allowed:   false,
				Reason:    fmt.Sprintf("total instances (%d) exceed limit (%d)", totalInstances, r.MaxInstances),
				PolicyIDs: []string{r.ID},
			}, nil
		case r.MaxMemoryGB > 0 && totalMemory > r.MaxMemoryGB:
			return &DesignReport{
				Allowed:   false,
				Reason:    fmt.Sprintf("total memory (%.0fGB) exceeds limit (%.0fGB)", totalMemory, r.MaxMemoryGB),
				PolicyIDs: []string{r.ID},
			}, nil
		case r.MaxCPUCores > 0 && totalCPU > r.MaxCPUCores:
			return &DesignReport{
				Allowed:   false,
				Reason:    fmt.Sprintf("total cpu cores (%.0f) exceed limit (%.0f)", totalCPU, r.MaxCPUCores),
				PolicyIDs: []string{r.ID},
			}, nil
		}
	}

	report := &DesignReport{Allowed: true}
	if d.Environment == domain.EnvProduction {
		if !d.BackupEnabled {
			report.Warnings = append(report.Warnings, "backup is not enabled for production environment")
			report.Suggestions = append(report.Suggestions, "enable backup for production infrastructure")
		}
		if !d.MonitoringEnabled {
			report.Warnings = append(report.Warnings, "monitoring is not enabled for production environment")
			report.Suggestions = append(report.Suggestions, "enable monitoring for production infrastructure")
		}
	}
	return report, nil
}
