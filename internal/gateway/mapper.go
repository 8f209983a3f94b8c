package gateway

import (
	"time"

	"shelfsync/internal/domain"
)

// The mappers below normalize the backend's duck-typed rows into domain
// entities. Each identifier is resolved through one ordered list of known
// source fields ("unknown backend field name" tolerance): camelCase first,
// then snake_case, then the nested object form. The order is fixed so a row
// carrying several variants resolves deterministically.

func mapBook(d bookDTO) domain.Book {
	copies := make([]domain.BookCopy, 0, len(d.Copies))
	for _, c := range d.Copies {
		copies = append(copies, mapCopy(c))
	}
	return domain.Book{
		ID:              string(d.ID),
		Title:           d.Title,
		Author:          d.Author,
		ISBN:            d.ISBN,
		Copies:          copies,
		AvailableCopies: d.AvailableCopies,
		TotalCopies:     d.TotalCopies,
	}
}

func mapCopy(d copyDTO) domain.BookCopy {
	return domain.BookCopy{
		ID:         string(d.ID),
		CopyID:     domain.FirstNonEmpty(string(d.CopyID), string(d.CopyIDSnake)),
		QRCode:     domain.FirstNonEmpty(d.QRCode, d.QRCodeSnake),
		CopyNumber: domain.FirstNonEmpty(string(d.CopyNumber), string(d.CopyNumSnake)),
		Status:     domain.NormalizeStatus(d.Status),
	}
}

func mapLoan(d loanDTO) domain.Loan {
	return domain.Loan{
		ID:       string(d.ID),
		BookID:   domain.FirstNonEmpty(string(d.BookID), string(d.BookIDSnake), string(d.Book.ID)),
		CopyID:   domain.FirstNonEmpty(string(d.CopyID), string(d.CopyIDSnake), string(d.BookCopyID), string(d.Copy.ID)),
		DueAt:    parseTime(domain.FirstNonEmpty(d.DueDate, d.DueSnake)),
		Overdue:  d.Overdue,
		Renewals: d.Renewals,
	}
}

func mapRequest(d requestDTO) domain.BorrowRequest {
	return domain.BorrowRequest{
		ID:     string(d.ID),
		BookID: domain.FirstNonEmpty(string(d.BookID), string(d.BookIDSnake), string(d.Book.ID)),
		CopyID: domain.FirstNonEmpty(string(d.CopyID), string(d.CopyIDSnake), string(d.BookCopyID), string(d.Copy.ID)),
		Status: domain.NormalizeStatus(d.Status),
	}
}

func mapReservation(d reservationDTO) domain.Reservation {
	return domain.Reservation{
		ID:     string(d.ID),
		BookID: domain.FirstNonEmpty(string(d.BookID), string(d.BookIDSnake), string(d.Book.ID)),
		CopyID: domain.FirstNonEmpty(string(d.CopyID), string(d.CopyIDSnake), string(d.BookCopyID), string(d.Copy.ID)),
		Status: domain.NormalizeStatus(d.Status),
	}
}

func mapFine(d fineDTO) domain.Fine {
	return domain.Fine{
		ID:     string(d.ID),
		LoanID: domain.FirstNonEmpty(string(d.LoanID), string(d.LoanIDSnake)),
		Amount: d.Amount,
		Reason: d.Reason,
		Paid:   d.Paid,
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
