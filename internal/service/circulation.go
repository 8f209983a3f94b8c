package service

import (
	"context"
	"log/slog"

	"shelfsync/internal/domain"
)

// CirculationService carries the UI-facing circulation actions. These calls
// sit outside the reconciliation loop: classified errors propagate straight
// to the caller for display and can never take the loop down. Each write
// optimistically updates the local alias store and nudges the engine so the
// user sees their own action reflected before the next scheduled poll.
type CirculationService struct {
	repo    domain.CirculationRepository
	catalog domain.CatalogRepository
	aliases domain.AliasStore
	engine  *SyncEngine
	logger  *slog.Logger
}

// NewCirculationService creates a new circulation service
func NewCirculationService(
	repo domain.CirculationRepository,
	catalog domain.CatalogRepository,
	aliases domain.AliasStore,
	engine *SyncEngine,
	logger *slog.Logger,
) *CirculationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CirculationService{
		repo:    repo,
		catalog: catalog,
		aliases: aliases,
		engine:  engine,
		logger:  logger,
	}
}

// Reserve places a hold on a title. selected may be nil when the user
// reserved the title as a whole rather than a specific copy.
//
// The alias record is written on success AND on an already-reserved
// conflict: a conflict means the backend has the reservation even though
// this submit failed, and the local marker is what keeps the UI honest
// until the polls catch up.
func (s *CirculationService) Reserve(ctx context.Context, bookID string, selected *domain.BookCopy) (*domain.Reservation, error) {
	copyID := ""
	if selected != nil {
		copyID = domain.FirstNonEmpty(selected.ID, selected.CopyID)
	}

	res, err := s.repo.CreateReservation(ctx, bookID, copyID)
	if err != nil && !domain.IsReservationConflict(err) {
		return nil, err
	}

	s.recordReservationAliases(ctx, bookID, selected, res)
	s.nudgeSync(ctx)
	return res, err
}

// recordReservationAliases writes the optimistic local marker for a
// reservation the backend now holds
func (s *CirculationService) recordReservationAliases(ctx context.Context, bookID string, selected *domain.BookCopy, res *domain.Reservation) {
	if selected != nil {
		if err := s.aliases.AddCopyAliases(bookID, *selected); err != nil {
			s.logger.Warn("failed to record reservation aliases", "bookID", bookID, "error", err)
		}
		return
	}
	if res != nil && res.CopyID != "" {
		if err := s.aliases.SeedAlias(bookID, res.CopyID); err != nil {
			s.logger.Warn("failed to record reservation alias", "bookID", bookID, "error", err)
		}
		return
	}
	s.seedFallbackAlias(ctx, bookID)
}

// seedFallbackAlias handles the backend confirming a reservation without
// telling us which copy it is for. With no selected copy to go on, the first
// borrowed copy of the title is tagged instead. This is an explicit
// best-effort guess, not a guaranteed mapping: with several borrowed copies
// of the same title it can mark the wrong one, which only ever shows a
// too-conservative pending badge.
func (s *CirculationService) seedFallbackAlias(ctx context.Context, bookID string) {
	book, err := s.catalog.GetBook(ctx, bookID)
	if err != nil {
		s.logger.Warn("alias fallback: cannot fetch book", "bookID", bookID, "error", err)
		return
	}

	for _, copy := range book.Copies {
		if domain.NormalizeStatus(copy.Status) != domain.StatusBorrowed.String() {
			continue
		}
		alias := domain.FirstNonEmpty(copy.ID, copy.CopyID)
		if alias == "" {
			continue
		}
		s.logger.Warn("alias fallback: guessing reserved copy",
			"bookID", bookID, "alias", alias)
		if err := s.aliases.SeedAlias(bookID, alias); err != nil {
			s.logger.Warn("alias fallback: seed failed", "bookID", bookID, "error", err)
		}
		return
	}

	s.logger.Warn("alias fallback: no borrowed copy to tag", "bookID", bookID)
}

// CancelReservation cancels a hold and forgets its local alias. The store
// operates per-alias: only the identifier the caller names is removed,
// sibling aliases (e.g. the synthetic shelf-number one) stay until removed
// explicitly.
func (s *CirculationService) CancelReservation(ctx context.Context, reservationID, bookID, alias string) error {
	if err := s.repo.CancelReservation(ctx, reservationID); err != nil {
		return err
	}
	if alias != "" {
		if err := s.aliases.RemoveAlias(bookID, alias); err != nil {
			s.logger.Warn("failed to forget cancelled alias", "bookID", bookID, "alias", alias, "error", err)
		}
	}
	s.nudgeSync(ctx)
	return nil
}

// RequestBorrow submits a borrow request for a copy
func (s *CirculationService) RequestBorrow(ctx context.Context, bookID, copyID string) (*domain.BorrowRequest, error) {
	req, err := s.repo.CreateBorrowRequest(ctx, bookID, copyID)
	if err != nil {
		return nil, err
	}
	s.nudgeSync(ctx)
	return req, nil
}

// nudgeSync triggers an out-of-band reconciliation pass so the user's own
// action is reflected before the next scheduled poll. Detached from the
// caller's context: the UI call returning must not cancel the pass.
func (s *CirculationService) nudgeSync(ctx context.Context) {
	go s.engine.ForceSync(context.WithoutCancel(ctx))
}

// ReportCopyProblem flags a borrowed copy as lost or damaged
func (s *CirculationService) ReportCopyProblem(ctx context.Context, loanID, kind, note string) error {
	return s.repo.ReportCopyProblem(ctx, loanID, kind, note)
}

// OutstandingFines returns the user's unpaid fines
func (s *CirculationService) OutstandingFines(ctx context.Context) ([]domain.Fine, error) {
	fines, err := s.repo.ListFines(ctx)
	if err != nil {
		return nil, err
	}
	unpaid := make([]domain.Fine, 0, len(fines))
	for _, f := range fines {
		if !f.Paid {
			unpaid = append(unpaid, f)
		}
	}
	return unpaid, nil
}
