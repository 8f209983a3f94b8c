package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"shelfsync/internal/domain"
)

// envelope is the backend's uniform response shape
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
}

// apiError is the structured error object present on some failures
type apiError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *apiError) LogValue() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s/%s: %s", e.Type, e.Code, e.Message)
}

// flexID tolerates identifiers delivered as either JSON strings or numbers;
// the backend is not consistent about which it sends
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// idRef is a nested object some endpoints use instead of a flat id field
type idRef struct {
	ID flexID `json:"id"`
}

// bookDTO is the fetch-book-by-id payload
type bookDTO struct {
	ID              flexID    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	ISBN            string    `json:"isbn"`
	Copies          []copyDTO `json:"copies"`
	AvailableCopies int       `json:"availableCopies"`
	TotalCopies     int       `json:"totalCopies"`
}

// copyDTO carries every known spelling of a copy's identifiers. Which fields
// are populated depends on the endpoint that produced the row.
type copyDTO struct {
	ID           flexID `json:"id"`
	CopyID       flexID `json:"copyId"`
	CopyIDSnake  flexID `json:"copy_id"`
	QRCode       string `json:"qrCode"`
	QRCodeSnake  string `json:"qr_code"`
	CopyNumber   flexID `json:"copyNumber"`
	CopyNumSnake flexID `json:"copy_number"`
	Status       string `json:"status"`
}

// loanDTO is one borrowed-book row
type loanDTO struct {
	ID          flexID `json:"id"`
	BookID      flexID `json:"bookId"`
	BookIDSnake flexID `json:"book_id"`
	Book        idRef  `json:"book"`
	CopyID      flexID `json:"copyId"`
	CopyIDSnake flexID `json:"copy_id"`
	BookCopyID  flexID `json:"bookCopyId"`
	Copy        idRef  `json:"copy"`
	DueDate     string `json:"dueDate"`
	DueSnake    string `json:"due_date"`
	Overdue     bool   `json:"overdue"`
	Renewals    int    `json:"renewals"`
}

// requestDTO is one borrow-request row
type requestDTO struct {
	ID          flexID `json:"id"`
	BookID      flexID `json:"bookId"`
	BookIDSnake flexID `json:"book_id"`
	Book        idRef  `json:"book"`
	CopyID      flexID `json:"copyId"`
	CopyIDSnake flexID `json:"copy_id"`
	BookCopyID  flexID `json:"bookCopyId"`
	Copy        idRef  `json:"copy"`
	Status      string `json:"status"`
}

// reservationDTO is one reservation row
type reservationDTO struct {
	ID          flexID `json:"id"`
	BookID      flexID `json:"bookId"`
	BookIDSnake flexID `json:"book_id"`
	Book        idRef  `json:"book"`
	CopyID      flexID `json:"copyId"`
	CopyIDSnake flexID `json:"copy_id"`
	BookCopyID  flexID `json:"bookCopyId"`
	Copy        idRef  `json:"copy"`
	Status      string `json:"status"`
}

// fineDTO is one fine row
type fineDTO struct {
	ID          flexID  `json:"id"`
	LoanID      flexID  `json:"loanId"`
	LoanIDSnake flexID  `json:"loan_id"`
	Amount      float64 `json:"amount"`
	Reason      string  `json:"reason"`
	Paid        bool    `json:"paid"`
}

// unwrapRows decodes a list payload that arrives either as a bare JSON array
// or wrapped in an object under one of the given keys
// (e.g. {"data":{"reservations":[...]}} vs {"data":[...]}).
func unwrapRows(data json.RawMessage, dest any, keys ...string) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, dest); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
		}
		return nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	for _, key := range keys {
		if rows, ok := wrapper[key]; ok {
			if err := json.Unmarshal(rows, dest); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
			}
			return nil
		}
	}
	// No known key present: treat as an empty list rather than failing the
	// whole pass.
	return nil
}
