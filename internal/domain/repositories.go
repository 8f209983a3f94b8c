package domain

import "context"

// CatalogRepository provides read access to the book catalog
type CatalogRepository interface {
	// GetBook returns one title with its copies
	GetBook(ctx context.Context, bookID string) (*Book, error)

	// ListBooks returns the catalog. When bypassCache is true the remote is
	// always consulted even if a fresh cached response exists.
	ListBooks(ctx context.Context, bypassCache bool) ([]Book, error)
}

// CirculationRepository provides the per-user circulation endpoints the
// reconciliation engine and UI actions consume
type CirculationRepository interface {
	// ListBorrowedBooks returns the user's current loans
	ListBorrowedBooks(ctx context.Context) ([]Loan, error)

	// ListBorrowRequests returns borrow requests matching the status filter
	// ("all" for every status). Statuses are normalized to upper case.
	ListBorrowRequests(ctx context.Context, status string) ([]BorrowRequest, error)

	// ListReservations returns reservations matching the status filter
	// ("all" for every status). Statuses are normalized to upper case.
	ListReservations(ctx context.Context, status string) ([]Reservation, error)

	// CreateReservation places a hold on a title, optionally for a copy
	CreateReservation(ctx context.Context, bookID, copyID string) (*Reservation, error)

	// CancelReservation cancels an existing hold
	CancelReservation(ctx context.Context, reservationID string) error

	// CreateBorrowRequest asks to borrow a copy; approval is librarian-side
	CreateBorrowRequest(ctx context.Context, bookID, copyID string) (*BorrowRequest, error)

	// ReportCopyProblem flags a borrowed copy as lost or damaged
	ReportCopyProblem(ctx context.Context, loanID, kind, note string) error

	// ListFines returns the user's fines
	ListFines(ctx context.Context) ([]Fine, error)
}

// Session reports authentication state for the reconciliation preconditions
type Session interface {
	// HasToken reports whether an auth token can currently be resolved
	HasToken() bool

	// CurrentUserID resolves the logged-in user's id, cached after the
	// first successful call
	CurrentUserID(ctx context.Context) (string, error)
}
