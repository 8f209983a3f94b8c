package domain

import "errors"

// Sentinel errors for gateway and engine operations
var (
	// ErrNetwork indicates a transport-level failure before any response
	ErrNetwork = errors.New("library server is unreachable")

	// ErrHTMLResponse indicates the backend answered with an HTML error page
	// instead of JSON, which points at a gateway or proxy misconfiguration
	// rather than a business condition
	ErrHTMLResponse = errors.New("server returned an HTML error page")

	// ErrMalformedResponse indicates a response body that could not be
	// decoded as the expected JSON envelope
	ErrMalformedResponse = errors.New("server response is not valid JSON")

	// ErrAuthFailed indicates a missing or expired session token
	ErrAuthFailed = errors.New("authentication token is invalid")

	// ErrServerFault stands in for any backend failure that is not safe to
	// show to an end user verbatim
	ErrServerFault = errors.New("the library service hit an internal error")

	// ErrBookNotFound indicates the requested title does not exist
	ErrBookNotFound = errors.New("book not found")
)

// BusinessRuleCode tags a backend-declared user-facing condition
type BusinessRuleCode string

const (
	RuleDuplicateReservation BusinessRuleCode = "DUPLICATE_RESERVATION"
	RuleAlreadyReserved      BusinessRuleCode = "ALREADY_RESERVED"
	RuleBookAvailable        BusinessRuleCode = "BOOK_AVAILABLE"
	RuleOverdueBooks         BusinessRuleCode = "OVERDUE_BOOKS"
	RuleBorrowLimit          BusinessRuleCode = "BORROW_LIMIT"
	RuleUnspecified          BusinessRuleCode = ""
)

// BusinessRuleError carries a backend-declared, user-facing condition. Its
// message is safe to surface verbatim; everything else is collapsed to
// ErrServerFault by the gateway so internal errors never leak to screens.
type BusinessRuleError struct {
	Code    BusinessRuleCode
	Message string
}

func (e *BusinessRuleError) Error() string {
	return e.Message
}

// AsBusinessRule unwraps err to a BusinessRuleError if it is one
func AsBusinessRule(err error) (*BusinessRuleError, bool) {
	var bre *BusinessRuleError
	if errors.As(err, &bre) {
		return bre, true
	}
	return nil, false
}

// IsReservationConflict reports whether err says a reservation already
// exists for this user and book. Callers still record the optimistic local
// alias in this case: the backend has the reservation even though the
// submit failed.
func IsReservationConflict(err error) bool {
	bre, ok := AsBusinessRule(err)
	if !ok {
		return false
	}
	return bre.Code == RuleDuplicateReservation || bre.Code == RuleAlreadyReserved
}
