package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"shelfsync/internal/domain"
)

const (
	defaultSyncInterval = 10 * time.Second
	statusFilterAll     = "all"
)

// SyncEngine periodically reconciles three per-user circulation sources
// (borrowed books, borrow requests, reservations) plus the local alias store
// into one consistent status snapshot, and fans the result out to
// subscribers.
//
// The engine is an explicit long-lived object with a create/start/stop
// lifecycle; hosts construct one and pass it by reference. Multiple
// independent engines can coexist, which is what makes the thing testable.
type SyncEngine struct {
	repo    domain.CirculationRepository
	session domain.Session
	aliases domain.AliasStore
	cache   domain.SnapshotCache
	logger  *slog.Logger

	interval time.Duration

	mu        sync.Mutex
	running   bool
	inFlight  bool // single-flight guard: one pass at a time, extra triggers dropped
	stopCh    chan struct{}
	observers map[domain.StatusObserver]struct{}
	last      *domain.Snapshot
}

// SyncOption customizes engine construction
type SyncOption func(*SyncEngine)

// WithInterval overrides the polling cadence
func WithInterval(d time.Duration) SyncOption {
	return func(e *SyncEngine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// NewSyncEngine creates a stopped engine
func NewSyncEngine(
	repo domain.CirculationRepository,
	session domain.Session,
	aliases domain.AliasStore,
	cache domain.SnapshotCache,
	logger *slog.Logger,
	opts ...SyncOption,
) *SyncEngine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &SyncEngine{
		repo:      repo,
		session:   session,
		aliases:   aliases,
		cache:     cache,
		logger:    logger,
		interval:  defaultSyncInterval,
		observers: make(map[domain.StatusObserver]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Running reports whether the polling loop is active
func (e *SyncEngine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start transitions the engine to RUNNING and begins polling. Starting a
// running engine is a no-op.
func (e *SyncEngine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	e.logger.Info("sync engine started", "interval", e.interval)

	go e.loop(ctx, stopCh)
}

// Stop cancels the timer and transitions to STOPPED. An in-flight pass is
// allowed to finish but its result is discarded.
func (e *SyncEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.stopCh = nil
	e.mu.Unlock()

	e.logger.Info("sync engine stopped")
}

// Close stops the engine and drops all subscribers
func (e *SyncEngine) Close() {
	e.Stop()
	e.mu.Lock()
	e.observers = make(map[domain.StatusObserver]struct{})
	e.mu.Unlock()
}

func (e *SyncEngine) loop(ctx context.Context, stopCh chan struct{}) {
	// Immediate first pass so a fresh start does not wait a full interval
	e.runPass(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.runPass(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			e.Stop()
			return
		}
	}
}

// ForceSync performs one reconciliation pass regardless of timer state. It
// does not change the running/stopped state of the engine. If a pass is
// already in flight the trigger is dropped; the in-flight pass will deliver
// a fresh snapshot momentarily anyway.
func (e *SyncEngine) ForceSync(ctx context.Context) {
	e.runPass(ctx)
}

// runPass executes one pass under the single-flight guard
func (e *SyncEngine) runPass(ctx context.Context) {
	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		e.logger.Debug("sync pass already in flight, dropping trigger")
		return
	}
	e.inFlight = true
	wasRunning := e.running
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	e.performSync(ctx, wasRunning)
}

// performSync is one reconciliation pass. Preconditions: a resolvable auth
// token (missing: the loop stops, an expired session must not be hammered)
// and a resolvable current user id (missing: the pass is skipped, loop keeps
// running). Any fetch failure abandons the pass without emitting so
// consumers never see a partially merged state; auth-classified failures
// stop the loop.
func (e *SyncEngine) performSync(ctx context.Context, wasRunning bool) {
	if !e.session.HasToken() {
		e.logger.Warn("no auth token, stopping sync")
		e.Stop()
		return
	}
	if _, err := e.session.CurrentUserID(ctx); err != nil {
		if errors.Is(err, domain.ErrAuthFailed) {
			e.logger.Warn("session rejected, stopping sync", "error", err)
			e.Stop()
			return
		}
		e.logger.Warn("cannot resolve current user, skipping pass", "error", err)
		return
	}

	loans, err := e.repo.ListBorrowedBooks(ctx)
	if err != nil {
		e.failPass("borrowed books", err)
		return
	}
	requests, err := e.repo.ListBorrowRequests(ctx, statusFilterAll)
	if err != nil {
		e.failPass("borrow requests", err)
		return
	}
	reservations, err := e.repo.ListReservations(ctx, statusFilterAll)
	if err != nil {
		e.failPass("reservations", err)
		return
	}

	snap, prunes := e.merge(loans, requests, reservations)

	// A pass that belonged to the timer loop is discarded if the engine was
	// stopped while it was in flight: subscribers were promised callbacks
	// only while running. A ForceSync on a stopped engine still delivers.
	// Alias prunes collected during the merge are discarded with it.
	if wasRunning && !e.Running() {
		e.logger.Debug("engine stopped mid-pass, discarding result")
		return
	}

	e.applyPrunes(prunes)

	if err := e.cache.SaveSnapshot(snap); err != nil {
		e.logger.Warn("failed to persist snapshot", "error", err)
	}

	e.mu.Lock()
	e.last = snap
	e.mu.Unlock()

	e.emitSnapshot(snap)

	e.logger.Debug("sync pass complete",
		"borrowedCopies", snap.Copies.Borrowed.Len(),
		"reservedCopies", snap.Copies.Reserved.Len(),
		"pendingCopies", snap.Copies.Pending.Len())
}

func (e *SyncEngine) failPass(source string, err error) {
	if errors.Is(err, domain.ErrAuthFailed) {
		e.logger.Warn("authentication failed during sync, stopping", "source", source)
		e.Stop()
		return
	}
	// Transport, malformed-response, and unclassified server failures leave
	// the loop running; this tick simply produces no snapshot.
	e.logger.Error("sync pass abandoned", "source", source, "error", err)
}

// aliasPrune is one store removal decided during a merge but applied only
// once the pass commits
type aliasPrune struct {
	bookID string
	alias  string
}

// merge recomputes the status sets from scratch. No state is carried between
// passes, which is what makes racing UI writes tolerable: the next pass
// always rebuilds from source data. Alias records observed as resolved or
// cancelled are returned as prunes rather than removed here, so a discarded
// pass leaves the store untouched.
func (e *SyncEngine) merge(
	loans []domain.Loan,
	requests []domain.BorrowRequest,
	reservations []domain.Reservation,
) (*domain.Snapshot, []aliasPrune) {
	snap := domain.NewSnapshot()
	var prunes []aliasPrune

	// 1. Borrowed rows win over everything.
	for _, loan := range loans {
		if loan.CopyID != "" {
			snap.Copies.Borrowed.Add(loan.CopyID)
		}
		if loan.BookID != "" {
			snap.Books.Borrowed.Add(loan.BookID)
		}
	}

	// 2. Pending requests, unless the copy is already borrowed. CANCELLED
	// rows actively remove: a previous pass may have marked them pending.
	for _, req := range requests {
		switch req.Status {
		case domain.RequestPending:
			if req.CopyID != "" && !snap.Copies.Borrowed.Has(req.CopyID) {
				snap.Copies.Pending.Add(req.CopyID)
			}
			if req.BookID != "" && !snap.Books.Borrowed.Has(req.BookID) {
				snap.Books.Pending.Add(req.BookID)
			}
		case domain.RequestCancelled:
			if req.CopyID != "" {
				snap.Copies.Pending.Remove(req.CopyID)
			}
			if req.BookID != "" {
				snap.Books.Pending.Remove(req.BookID)
			}
			if req.BookID != "" && req.CopyID != "" {
				prunes = append(prunes, aliasPrune{req.BookID, req.CopyID})
			}
		}
	}

	// 3. Live reservations, unless the copy is already borrowed.
	for _, res := range reservations {
		if !domain.IsActiveReservation(res.Status) {
			if res.Status == domain.ReservationCancelled && res.BookID != "" && res.CopyID != "" {
				prunes = append(prunes, aliasPrune{res.BookID, res.CopyID})
			}
			continue
		}
		if res.CopyID != "" && !snap.Copies.Borrowed.Has(res.CopyID) {
			snap.Copies.Reserved.Add(res.CopyID)
		}
		if res.BookID != "" && !snap.Books.Borrowed.Has(res.BookID) {
			snap.Books.Reserved.Add(res.BookID)
		}
	}

	// 4. Locally remembered aliases union into the pending sets. This covers
	// backend rows missing a copy identifier and reservations the server has
	// accepted but not yet begun returning. Conservative markers only: a
	// stale record can delay "available", never hide "borrowed".
	for _, bookID := range e.aliases.AliasBookIDs() {
		prunes = append(prunes, e.mergeLocalAliases(snap, bookID)...)
	}

	return snap, prunes
}

// mergeLocalAliases unions a book's locally remembered aliases into the
// pending sets, respecting borrowed precedence. Aliases observed as borrowed
// have resolved and are returned for pruning.
func (e *SyncEngine) mergeLocalAliases(snap *domain.Snapshot, bookID string) []aliasPrune {
	remembered := e.aliases.Aliases(bookID)
	var prunes []aliasPrune
	live := 0
	for alias := range remembered {
		if snap.Copies.Borrowed.Has(alias) {
			prunes = append(prunes, aliasPrune{bookID, alias})
			continue
		}
		snap.Copies.Pending.Add(alias)
		live++
	}
	if live > 0 && !snap.Books.Borrowed.Has(bookID) {
		snap.Books.Pending.Add(bookID)
	}
	return prunes
}

// applyPrunes removes resolved and cancelled aliases from the store
func (e *SyncEngine) applyPrunes(prunes []aliasPrune) {
	for _, p := range prunes {
		if err := e.aliases.RemoveAlias(p.bookID, p.alias); err != nil {
			e.logger.Warn("failed to prune alias",
				"bookID", p.bookID, "alias", p.alias, "error", err)
		}
	}
}

// LastSnapshot returns a copy of the most recent reconciled snapshot, falling
// back to the persisted cache for cold starts. The second return is false
// when neither exists yet.
func (e *SyncEngine) LastSnapshot() (*domain.Snapshot, bool) {
	e.mu.Lock()
	last := e.last
	e.mu.Unlock()

	if last != nil {
		return last.Clone(), true
	}
	if cached, ok := e.cache.LastSnapshot(); ok {
		return cached, true
	}
	return nil, false
}
