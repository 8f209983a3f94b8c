package domain

import "time"

// AliasStore persists the per-book set of copy aliases the client locally
// believes carry a pending reservation. Records are written optimistically
// after a successful submit (or an already-reserved conflict) and combined
// with server truth on every reconciliation pass. Staleness is tolerated:
// a stale record only ever adds conservative pending markers, it never
// removes true availability.
type AliasStore interface {
	// AddCopyAliases unions the computed alias set for copy (including the
	// synthetic num:<copyNumber> alias) into the record for bookID.
	// Idempotent.
	AddCopyAliases(bookID string, copy BookCopy) error

	// SeedAlias records a single best-effort alias, used when the backend
	// confirms a reservation but omits the copy identifier
	SeedAlias(bookID, alias string) error

	// RemoveAlias deletes one alias from a book's record
	RemoveAlias(bookID, alias string) error

	// Aliases returns the recorded set for bookID. Missing or corrupt
	// storage degrades to the empty set, never an error: this store must
	// never be the reason a screen fails to render.
	Aliases(bookID string) IDSet

	// AliasBookIDs lists every book id with a non-empty record, so the
	// engine can fold local memory into a pass even for books the server
	// is not returning rows for yet
	AliasBookIDs() []string
}

// SnapshotCache persists the last reconciled snapshot so a cold UI start can
// render state before the first network round trip resolves
type SnapshotCache interface {
	SaveSnapshot(snap *Snapshot) error
	LastSnapshot() (*Snapshot, bool)
}

// StateStore keeps small app-level markers outside the sync core
type StateStore interface {
	NotificationsLastSeen() (time.Time, bool)
	SetNotificationsLastSeen(t time.Time) error
}

// StatusObserver receives every reconciled snapshot and the out-of-band
// pending-clear delta events. Implementations must tolerate being called
// from the engine's goroutine; a panicking observer is isolated and logged,
// never aborting delivery to the rest.
type StatusObserver interface {
	OnSnapshot(snap Snapshot)
	OnPendingCleared(ev PendingCleared)
}

// NoOpObserver discards events (for testing/batch operations)
type NoOpObserver struct{}

func (NoOpObserver) OnSnapshot(Snapshot)             {}
func (NoOpObserver) OnPendingCleared(PendingCleared) {}
