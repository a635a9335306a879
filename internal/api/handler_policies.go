package api

import (
	"io"
	"net/http"
	"time"

	"opsgate/internal/domain"
	"opsgate/internal/policy"
)

type policySetResponse struct {
	Version  int                 `json:"version"`
	Hash     string              `json:"hash"`
	LoadedAt time.Time           `json:"loaded_at"`
	Roles    map[string][]string `json:"roles"`
	Rules    []policyRuleSummary `json:"rules"`
}

type policyRuleSummary struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

func snapshotToResponse(snap *policy.Snapshot) policySetResponse {
	resp := policySetResponse{
		Version:  snap.Version,
		Hash:     snap.Hash,
		LoadedAt: snap.LoadedAt,
		Roles:    snap.Roles,
		Rules:    make([]policyRuleSummary, len(snap.Rules)),
	}
	for i, r := range snap.Rules {
		resp.Rules[i] = policyRuleSummary{ID: r.ID, Kind: r.Kind}
	}
	return resp
}

// replacePolicies handles PUT /v1/policies. The body is the raw YAML
// policy document; the whole set is swapped atomically.
func (h *Handler) replacePolicies(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, domain.ErrAccessDenied("no authenticated principal"))
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, domain.ErrValidation("read request body: %v", err))
		return
	}

	snap, err := h.policies.Replace(r.Context(), principal.Name, raw)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotToResponse(snap))
}

func (h *Handler) getPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, snapshotToResponse(h.policies.Active()))
}
