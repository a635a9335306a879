package api

import (
	"net/http"
	"strconv"
	"time"

	"opsgate/internal/domain"
)

type ledgerEntryResponse struct {
	ID            int64                  `json:"id"`
	CommandID     string                 `json:"command_id"`
	Actor         string                 `json:"actor"`
	Action        string                 `json:"action"`
	ResourceType  string                 `json:"resource_type"`
	ResourceID    string                 `json:"resource_id"`
	Environment   string                 `json:"environment"`
	Parameters    map[string]interface{} `json:"parameters,omitempty"`
	Verdict       string                 `json:"verdict"`
	Reason        string                 `json:"reason,omitempty"`
	PolicyIDs     []string               `json:"policy_ids,omitempty"`
	Justification string                 `json:"justification,omitempty"`
	DurationMs    *int64                 `json:"duration_ms,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

func ledgerEntryToResponse(e domain.LedgerEntry) ledgerEntryResponse {
	return ledgerEntryResponse{
		ID:            e.ID,
		CommandID:     e.CommandID,
		Actor:         e.Actor,
		Action:        e.Action,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		Environment:   e.Environment,
		Parameters:    e.Parameters,
		Verdict:       e.Verdict,
		Reason:        e.Reason,
		PolicyIDs:     e.PolicyIDs,
		Justification: e.Justification,
		DurationMs:    e.DurationMs,
		CreatedAt:     e.CreatedAt,
	}
}

type ledgerListResponse struct {
	Entries       []ledgerEntryResponse `json:"entries"`
	Total         int64                 `json:"total"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

// listLedger handles GET /v1/ledger with optional filters: actor,
// resource_id, resource_type, verdict, command_id, from, to (RFC 3339),
// max_results, page_token.
func (h *Handler) listLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.LedgerFilter{}

	strFilter := func(name string) *string {
		if v := q.Get(name); v != "" {
			return &v
		}
		return nil
	}
	filter.Actor = strFilter("actor")
	filter.ResourceID = strFilter("resource_id")
	filter.ResourceType = strFilter("resource_type")
	filter.Verdict = strFilter("verdict")
	filter.CommandID = strFilter("command_id")

	for name, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if v := q.Get(name); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, domain.ErrValidation("invalid %s timestamp %q", name, v))
				return
			}
			*dst = &ts
		}
	}

	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, domain.ErrValidation("invalid max_results %q", v))
			return
		}
		filter.Page.MaxResults = n
	}
	filter.Page.PageToken = q.Get("page_token")

	entries, total, next, err := h.ledger.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := ledgerListResponse{
		Entries:       make([]ledgerEntryResponse, len(entries)),
		Total:         total,
		NextPageToken: next,
	}
	for i, e := range entries {
		resp.Entries[i] = ledgerEntryToResponse(e)
	}
	writeJSON(w, http.StatusOK, resp)
}
