package api

import (
	"errors"
	"net/http"

	"opsgate/internal/domain"
	"opsgate/internal/policy"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
// A ledger write failure is surfaced as 503: the verdict exists but was
// not durably recorded, so the command did not proceed.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var accessDenied *domain.AccessDeniedError
	var validation *domain.ValidationError
	var conflict *domain.ConflictError
	var invalidSet *policy.InvalidSetError
	var ledger *domain.LedgerWriteError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &accessDenied):
		return http.StatusForbidden
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &invalidSet):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &ledger):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
