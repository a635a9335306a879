package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"opsgate/internal/dispatch"
	"opsgate/internal/domain"
)

type submitCommandRequest struct {
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Environment  string                 `json:"environment"`
	Parameters   map[string]interface{} `json:"parameters"`
}

type commandResponse struct {
	CommandID string   `json:"command_id"`
	State     string   `json:"state"`
	Verdict   string   `json:"verdict"`
	Reason    string   `json:"reason,omitempty"`
	Detail    string   `json:"detail,omitempty"`
	PolicyIDs []string `json:"policy_ids,omitempty"`

	LedgerEntryID     int64      `json:"ledger_entry_id,omitempty"`
	ApprovalsRecorded int        `json:"approvals_recorded,omitempty"`
	RequiredApprovals int        `json:"required_approvals,omitempty"`
	ApprovalExpiresAt *time.Time `json:"approval_expires_at,omitempty"`
}

func resultToResponse(res *dispatch.Result) commandResponse {
	resp := commandResponse{
		CommandID:         res.Command.ID,
		State:             res.Command.State,
		Verdict:           res.Verdict,
		Reason:            res.Reason,
		Detail:            res.Detail,
		PolicyIDs:         res.PolicyIDs,
		LedgerEntryID:     res.LedgerEntryID,
		ApprovalsRecorded: res.ApprovalsRecorded,
		RequiredApprovals: res.RequiredApprovals,
	}
	if !res.ApprovalExpiresAt.IsZero() {
		t := res.ApprovalExpiresAt
		resp.ApprovalExpiresAt = &t
	}
	return resp
}

func (h *Handler) submitCommand(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, domain.ErrAccessDenied("no authenticated principal"))
		return
	}

	var req submitCommandRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cmd := &domain.Command{
		Actor:        principal.Name,
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Environment:  req.Environment,
		Parameters:   req.Parameters,
	}

	res, err := h.dispatcher.Submit(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.Verdict == domain.VerdictDeny {
		status = http.StatusForbidden
	}
	writeJSON(w, status, resultToResponse(res))
}

type commandDetailResponse struct {
	CommandID    string                 `json:"command_id"`
	Actor        string                 `json:"actor"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Environment  string                 `json:"environment"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	State        string                 `json:"state"`
	RequestedAt  time.Time              `json:"requested_at"`
	History      []ledgerEntryResponse  `json:"history"`
}

func (h *Handler) getCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cmd, err := h.dispatcher.GetCommand(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := h.ledger.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := commandDetailResponse{
		CommandID:    cmd.ID,
		Actor:        cmd.Actor,
		Action:       cmd.Action,
		ResourceType: cmd.ResourceType,
		ResourceID:   cmd.ResourceID,
		Environment:  cmd.Environment,
		Parameters:   cmd.Parameters,
		State:        cmd.State,
		RequestedAt:  cmd.RequestedAt,
		History:      make([]ledgerEntryResponse, len(history)),
	}
	for i, e := range history {
		resp.History[i] = ledgerEntryToResponse(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) approveCommand(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, domain.ErrAccessDenied("no authenticated principal"))
		return
	}
	id := chi.URLParam(r, "id")

	res, err := h.dispatcher.Approve(r.Context(), id, principal.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultToResponse(res))
}

type overrideRequest struct {
	Justification string `json:"justification"`
}

func (h *Handler) overrideCommand(w http.ResponseWriter, r *http.Request) {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, domain.ErrAccessDenied("no authenticated principal"))
		return
	}
	id := chi.URLParam(r, "id")

	var req overrideRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.dispatcher.Override(r.Context(), id, principal.Name, req.Justification)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultToResponse(res))
}
