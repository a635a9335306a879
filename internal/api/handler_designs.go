package api

import (
	"net/http"

	"opsgate/internal/service"
)

// validateDesign handles POST /v1/designs/validate: an advisory dry run
// that never touches the ledger.
func (h *Handler) validateDesign(w http.ResponseWriter, r *http.Request) {
	var design service.Design
	if !decodeBody(w, r, &design) {
		return
	}

	report, err := h.designs.Validate(r.Context(), &design)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
