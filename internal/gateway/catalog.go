package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"shelfsync/internal/domain"
)

// bookPathShapes are the URL shapes the backend has used historically for
// fetching a title by id, tried in order until one resolves
var bookPathShapes = []string{
	"/api/books/%s",
	"/api/book/%s",
	"/api/v1/books/%s",
}

// isBookPath reports whether path is a fetch-book-by-id request. Only these
// paths map a 404 to ErrBookNotFound; elsewhere a 404 is a server fault.
func isBookPath(path string) bool {
	for _, shape := range bookPathShapes {
		if strings.HasPrefix(path, strings.TrimSuffix(shape, "%s")) {
			return true
		}
	}
	return false
}

// GetBook returns one title with its copies, falling back across the known
// historical URL shapes
func (c *Client) GetBook(ctx context.Context, bookID string) (*domain.Book, error) {
	var lastErr error
	for _, shape := range bookPathShapes {
		env, err := c.do(ctx, http.MethodGet, fmt.Sprintf(shape, bookID), nil, nil)
		if err != nil {
			if errors.Is(err, domain.ErrBookNotFound) {
				lastErr = err
				continue
			}
			return nil, err
		}

		var dto bookDTO
		if err := json.Unmarshal(env.Data, &dto); err != nil {
			return nil, fmt.Errorf("%w: book payload: %v", domain.ErrMalformedResponse, err)
		}
		book := mapBook(dto)
		if book.ID == "" {
			book.ID = bookID
		}
		return &book, nil
	}
	return nil, lastErr
}

// ListBooks returns the catalog. Responses are cached in memory for a fixed
// TTL; bypassCache forces a remote fetch. Any write that could affect
// availability invalidates the whole cache (no partial invalidation).
func (c *Client) ListBooks(ctx context.Context, bypassCache bool) ([]domain.Book, error) {
	if !bypassCache {
		c.catalogMu.Lock()
		if c.catalog != nil && time.Since(c.catalogFetched) < c.catalogTTL {
			books := cloneBooks(c.catalog)
			c.catalogMu.Unlock()
			c.logger.Debug("catalog cache hit", "count", len(books))
			return books, nil
		}
		c.catalogMu.Unlock()
	}

	env, err := c.do(ctx, http.MethodGet, "/api/books", nil, nil)
	if err != nil {
		return nil, err
	}

	var dtos []bookDTO
	if err := unwrapRows(env.Data, &dtos, "books", "items"); err != nil {
		return nil, err
	}

	books := make([]domain.Book, 0, len(dtos))
	for _, d := range dtos {
		books = append(books, mapBook(d))
	}

	c.catalogMu.Lock()
	c.catalog = books
	c.catalogFetched = time.Now()
	c.catalogMu.Unlock()

	c.logger.Info("loaded catalog", "count", len(books))
	return cloneBooks(books), nil
}

// cloneBooks returns an independent copy of the catalog so callers mutating
// a returned slice cannot corrupt the cache, matching the snapshot
// copy-on-read stance
func cloneBooks(books []domain.Book) []domain.Book {
	out := make([]domain.Book, len(books))
	copy(out, books)
	for i := range out {
		out[i].Copies = append([]domain.BookCopy(nil), out[i].Copies...)
	}
	return out
}

// invalidateCatalog drops the cached catalog wholesale. Called after every
// write that could change availability.
func (c *Client) invalidateCatalog() {
	c.catalogMu.Lock()
	c.catalog = nil
	c.catalogFetched = time.Time{}
	c.catalogMu.Unlock()
}
