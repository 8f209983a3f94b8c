package domain

import "time"

// StatusSets holds the three source-derived id sets for one entity kind
// (copies or books). Borrowed is mutually exclusive with the other two;
// Reserved and Pending may overlap and must be read in precedence order.
type StatusSets struct {
	Borrowed IDSet `json:"borrowed"`
	Reserved IDSet `json:"reserved"`
	Pending  IDSet `json:"pending"`
}

// NewStatusSets returns empty sets
func NewStatusSets() StatusSets {
	return StatusSets{
		Borrowed: NewIDSet(),
		Reserved: NewIDSet(),
		Pending:  NewIDSet(),
	}
}

// StatusOf resolves the canonical status for an id, applying the fixed
// precedence Borrowed > Reserved > Pending > Available.
func (s StatusSets) StatusOf(id string) CopyStatus {
	switch {
	case s.Borrowed.Has(id):
		return StatusBorrowed
	case s.Reserved.Has(id):
		return StatusReserved
	case s.Pending.Has(id):
		return StatusPending
	default:
		return StatusAvailable
	}
}

// Clone returns an independent deep copy
func (s StatusSets) Clone() StatusSets {
	return StatusSets{
		Borrowed: s.Borrowed.Clone(),
		Reserved: s.Reserved.Clone(),
		Pending:  s.Pending.Clone(),
	}
}

// Snapshot is the reconciled output of one engine pass. Instances handed to
// observers are deep copies; mutating one never corrupts engine state.
type Snapshot struct {
	Copies    StatusSets `json:"copyStatuses"`
	Books     StatusSets `json:"bookStatuses"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewSnapshot returns an empty snapshot stamped with now
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Copies:    NewStatusSets(),
		Books:     NewStatusSets(),
		Timestamp: time.Now(),
	}
}

// Clone returns an independent deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	return &Snapshot{
		Copies:    s.Copies.Clone(),
		Books:     s.Books.Clone(),
		Timestamp: s.Timestamp,
	}
}

// PendingScope identifies which pending set a PendingCleared event targets
type PendingScope int

const (
	PendingCopies PendingScope = iota
	PendingBooks
)

func (p PendingScope) String() string {
	if p == PendingBooks {
		return "books"
	}
	return "copies"
}

// PendingCleared is the out-of-band delta event telling consumers to drop
// specific ids from their rendered pending set without waiting for the next
// poll. It never mutates the engine's own snapshot; subsequent polls are the
// source of truth.
type PendingCleared struct {
	Scope PendingScope
	IDs   []string
}
