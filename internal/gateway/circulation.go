package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"shelfsync/internal/domain"
)

// ListBorrowedBooks returns the user's current loans
func (c *Client) ListBorrowedBooks(ctx context.Context) ([]domain.Loan, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/borrows", nil, nil)
	if err != nil {
		return nil, err
	}

	var dtos []loanDTO
	if err := unwrapRows(env.Data, &dtos, "loans", "borrowedBooks", "borrows"); err != nil {
		return nil, err
	}

	loans := make([]domain.Loan, 0, len(dtos))
	for _, d := range dtos {
		loans = append(loans, mapLoan(d))
	}
	return loans, nil
}

// ListBorrowRequests returns borrow requests matching the status filter
// ("all" for every status)
func (c *Client) ListBorrowRequests(ctx context.Context, status string) ([]domain.BorrowRequest, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}

	env, err := c.do(ctx, http.MethodGet, "/api/borrow-requests", query, nil)
	if err != nil {
		return nil, err
	}

	var dtos []requestDTO
	if err := unwrapRows(env.Data, &dtos, "requests", "borrowRequests"); err != nil {
		return nil, err
	}

	requests := make([]domain.BorrowRequest, 0, len(dtos))
	for _, d := range dtos {
		requests = append(requests, mapRequest(d))
	}
	return requests, nil
}

// ListReservations returns reservations matching the status filter
// ("all" for every status)
func (c *Client) ListReservations(ctx context.Context, status string) ([]domain.Reservation, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}

	env, err := c.do(ctx, http.MethodGet, "/api/reservations", query, nil)
	if err != nil {
		return nil, err
	}

	var dtos []reservationDTO
	if err := unwrapRows(env.Data, &dtos, "reservations", "holds"); err != nil {
		return nil, err
	}

	reservations := make([]domain.Reservation, 0, len(dtos))
	for _, d := range dtos {
		reservations = append(reservations, mapReservation(d))
	}
	return reservations, nil
}

// CreateReservation places a hold on a title, optionally for a specific copy
func (c *Client) CreateReservation(ctx context.Context, bookID, copyID string) (*domain.Reservation, error) {
	payload := map[string]string{"bookId": bookID}
	if copyID != "" {
		payload["copyId"] = copyID
	}

	env, err := c.do(ctx, http.MethodPost, "/api/reservations", nil, payload)
	if err != nil {
		return nil, err
	}
	c.invalidateCatalog()

	var dto reservationDTO
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &dto); err != nil {
			// The reservation was created; a malformed echo is not worth
			// failing the caller over.
			c.logger.Warn("reservation echo parse failed", "error", err)
		}
	}
	res := mapReservation(dto)
	if res.BookID == "" {
		res.BookID = bookID
	}
	return &res, nil
}

// CancelReservation cancels a hold. Some backend deployments reject a DELETE
// carrying a body, and some reject DELETE on this resource entirely, so the
// call degrades: DELETE with body, DELETE without body, then a status-patch.
func (c *Client) CancelReservation(ctx context.Context, reservationID string) error {
	path := "/api/reservations/" + reservationID

	_, err := c.do(ctx, http.MethodDelete, path, nil, map[string]string{"reason": "user_cancelled"})
	if err == nil {
		c.invalidateCatalog()
		return nil
	}
	if !retryableCancelError(err) {
		return err
	}
	c.logger.Debug("cancel with body rejected, retrying without body", "reservationID", reservationID)

	_, err = c.do(ctx, http.MethodDelete, path, nil, nil)
	if err == nil {
		c.invalidateCatalog()
		return nil
	}
	if !retryableCancelError(err) {
		return err
	}
	c.logger.Debug("bodyless cancel rejected, falling back to status patch", "reservationID", reservationID)

	_, err = c.do(ctx, http.MethodPatch, path+"/status", nil, map[string]string{"status": "CANCELLED"})
	if err != nil {
		return err
	}
	c.invalidateCatalog()
	return nil
}

// retryableCancelError reports whether a cancel failure is worth retrying in
// a different shape. Auth, network, and business-rule failures are not: the
// same outcome would repeat.
func retryableCancelError(err error) bool {
	if errors.Is(err, domain.ErrAuthFailed) || errors.Is(err, domain.ErrNetwork) {
		return false
	}
	if _, ok := domain.AsBusinessRule(err); ok {
		return false
	}
	return true
}

// CreateBorrowRequest asks to borrow a copy; approval happens librarian-side
func (c *Client) CreateBorrowRequest(ctx context.Context, bookID, copyID string) (*domain.BorrowRequest, error) {
	payload := map[string]string{"bookId": bookID}
	if copyID != "" {
		payload["copyId"] = copyID
	}

	env, err := c.do(ctx, http.MethodPost, "/api/borrow-requests", nil, payload)
	if err != nil {
		return nil, err
	}
	c.invalidateCatalog()

	var dto requestDTO
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &dto); err != nil {
			c.logger.Warn("borrow request echo parse failed", "error", err)
		}
	}
	req := mapRequest(dto)
	if req.BookID == "" {
		req.BookID = bookID
	}
	return &req, nil
}

// ReportCopyProblem flags a borrowed copy as lost or damaged
func (c *Client) ReportCopyProblem(ctx context.Context, loanID, kind, note string) error {
	path := fmt.Sprintf("/api/borrows/%s/report", loanID)
	_, err := c.do(ctx, http.MethodPost, path, nil, map[string]string{
		"kind": kind,
		"note": note,
	})
	return err
}

// ListFines returns the user's fines
func (c *Client) ListFines(ctx context.Context) ([]domain.Fine, error) {
	env, err := c.do(ctx, http.MethodGet, "/api/fines", nil, nil)
	if err != nil {
		return nil, err
	}

	var dtos []fineDTO
	if err := unwrapRows(env.Data, &dtos, "fines"); err != nil {
		return nil, err
	}

	fines := make([]domain.Fine, 0, len(dtos))
	for _, d := range dtos {
		fines = append(fines, mapFine(d))
	}
	return fines, nil
}
