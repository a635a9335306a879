package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"opsgate/internal/domain"
	"opsgate/internal/policy"
)

type principalRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type principalResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

func principalToResponse(p domain.Principal) principalResponse {
	return principalResponse{ID: p.ID, Name: p.Name, Role: p.Role, CreatedAt: p.CreatedAt}
}

// requireWildcard gates principal administration on the wildcard grant.
func (h *Handler) requireWildcard(w http.ResponseWriter, r *http.Request) bool {
	principal, ok := domain.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, domain.ErrAccessDenied("no authenticated principal"))
		return false
	}
	allowed, err := h.identity.HasGrant(r.Context(), principal.Name, policy.GrantWildcard)
	if err != nil {
		writeError(w, err)
		return false
	}
	if !allowed {
		writeError(w, domain.ErrAccessDenied("principal administration requires the wildcard grant"))
		return false
	}
	return true
}

func (h *Handler) createPrincipal(w http.ResponseWriter, r *http.Request) {
	if !h.requireWildcard(w, r) {
		return
	}

	var req principalRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := h.identity.CreatePrincipal(r.Context(),
		&domain.Principal{Name: req.Name, Role: req.Role})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, principalToResponse(*created))
}

func (h *Handler) listPrincipals(w http.ResponseWriter, r *http.Request) {
	principals, err := h.identity.ListPrincipals(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]principalResponse, len(principals))
	for i, p := range principals {
		resp[i] = principalToResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deletePrincipal(w http.ResponseWriter, r *http.Request) {
	if !h.requireWildcard(w, r) {
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, domain.ErrValidation("invalid principal id"))
		return
	}
	if err := h.identity.DeletePrincipal(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
