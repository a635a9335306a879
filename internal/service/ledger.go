package service

import (
	"context"

	"opsgate/internal/domain"
)

// LedgerService answers audit queries. Reads go through the read pool;
// the service never writes, appends belong to the dispatcher.
type LedgerService struct {
	repo domain.LedgerRepository
}

func NewLedgerService(repo domain.LedgerRepository) *LedgerService {
	return &LedgerService{repo: repo}
}

// List returns matching entries, the total match count, and the next
// page token (empty on the last page).
func (s *LedgerService) List(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, int64, string, error) {
	if filter.Verdict != nil && !domain.ValidVerdict(*filter.Verdict) {
		return nil, 0, "", domain.ErrValidation("unknown verdict %q", *filter.Verdict)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, 0, "", domain.ErrValidation("'to' must not precede 'from'")
	}

	entries, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, "", err
	}
	next := domain.NextPageToken(filter.Page.Offset(), filter.Page.Limit(), total)
	return entries, total, next, nil
}

// History returns every ledger entry for one command, oldest first.
func (s *LedgerService) History(ctx context.Context, commandID string) ([]domain.LedgerEntry, error) {
	entries, _, err := s.repo.List(ctx, domain.LedgerFilter{CommandID: &commandID})
	return entries, err
}
