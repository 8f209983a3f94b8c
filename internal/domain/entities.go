package domain

import (
	"strings"
	"time"
)

// CopyStatus is the canonical status of a copy (or a whole title) after a
// reconciliation pass. Precedence: Borrowed > Reserved > Pending > Available.
type CopyStatus int

const (
	StatusUnknown CopyStatus = iota
	StatusAvailable
	StatusPending // borrow request awaiting librarian approval
	StatusReserved
	StatusBorrowed
)

// String returns the display name for the status
func (s CopyStatus) String() string {
	switch s {
	case StatusAvailable:
		return "AVAILABLE"
	case StatusPending:
		return "PENDING"
	case StatusReserved:
		return "RESERVED"
	case StatusBorrowed:
		return "BORROWED"
	default:
		return "UNKNOWN"
	}
}

// Book represents one catalog title with its copies
type Book struct {
	ID              string
	Title           string
	Author          string
	ISBN            string
	Copies          []BookCopy
	AvailableCopies int
	TotalCopies     int
}

// BookCopy is one physical exemplar of a title. The backend's endpoints do
// not agree on which identifier they return for a copy, so no single field
// here is authoritative; use CopyAliases for membership tests.
type BookCopy struct {
	ID         string // primary identifier
	CopyID     string // alternate identifier used by some endpoints
	QRCode     string
	CopyNumber string // shelf number, unique within a title
	Status     string // raw backend status string
}

// Loan is one borrowed-book row from the backend
type Loan struct {
	ID       string
	BookID   string
	CopyID   string
	DueAt    time.Time
	Overdue  bool
	Renewals int
}

// BorrowRequest is a borrow request awaiting (or past) librarian approval
type BorrowRequest struct {
	ID     string
	BookID string
	CopyID string
	Status string // normalized to upper case by the gateway
}

// Reservation is a hold placed on a currently-borrowed title
type Reservation struct {
	ID     string
	BookID string
	CopyID string
	Status string // normalized to upper case by the gateway
}

// Fine is an outstanding charge (overdue, lost, damaged)
type Fine struct {
	ID     string
	LoanID string
	Amount float64
	Reason string
	Paid   bool
}

// Normalized request/reservation statuses the reconciliation engine matches on
const (
	RequestPending       = "PENDING"
	RequestCancelled     = "CANCELLED"
	ReservationActive    = "ACTIVE"
	ReservationReady     = "READY"
	ReservationPending   = "PENDING"
	ReservationCancelled = "CANCELLED"
)

// NormalizeStatus upper-cases and trims a backend status string. The backend
// returns mixed-case statuses depending on the endpoint.
func NormalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsActiveReservation reports whether a normalized reservation status still
// marks the copy as held
func IsActiveReservation(status string) bool {
	switch NormalizeStatus(status) {
	case ReservationActive, ReservationReady, ReservationPending:
		return true
	}
	return false
}
