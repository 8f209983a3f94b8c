package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shelfsync/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, StaticToken("test-token"), nil, opts...)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func TestRequestCarriesBearerToken(t *testing.T) {
	var gotAuth, gotAccept string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		assert.Empty(t, r.Cookies())
		writeJSON(w, http.StatusOK, `{"success":true,"data":[]}`)
	})

	_, err := client.ListBorrowedBooks(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
}

func TestNoTokenFailsBeforeNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken(""), nil)
	_, err := client.ListBorrowedBooks(context.Background())

	assert.ErrorIs(t, err, domain.ErrAuthFailed)
	assert.False(t, called)
	assert.False(t, client.HasToken())
}

func TestUnauthorizedMapsToAuthFailed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"success":false,"message":"token expired"}`)
	})

	_, err := client.ListReservations(context.Background(), "all")
	assert.ErrorIs(t, err, domain.ErrAuthFailed)
}

func TestHTMLResponseDetected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<!DOCTYPE html><html><body>502 Bad Gateway</body></html>")
	})

	_, err := client.ListBorrowedBooks(context.Background())
	assert.ErrorIs(t, err, domain.ErrHTMLResponse)
}

func TestMalformedResponseDetected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":true,"data":`)
	})

	_, err := client.ListBorrowedBooks(context.Background())
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestNetworkFailureClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // server gone before the call

	client := NewClient(srv.URL, StaticToken("test-token"), nil)
	_, err := client.ListBorrowedBooks(context.Background())
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

func TestBusinessErrorSurfacesVerbatim(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict,
			`{"success":false,"error":{"type":"BUSINESS_RULE","message":"ALREADY_RESERVED: you already hold this book"}}`)
	})

	_, err := client.CreateReservation(context.Background(), "book-1", "copy-1")
	require.Error(t, err)

	bre, ok := domain.AsBusinessRule(err)
	require.True(t, ok)
	assert.Equal(t, domain.RuleAlreadyReserved, bre.Code)
	assert.Equal(t, "ALREADY_RESERVED: you already hold this book", bre.Message)
	assert.True(t, domain.IsReservationConflict(err))
}

func TestBusinessTokenInPlainMessage(t *testing.T) {
	// No structured error object; the token rides in the envelope message
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest,
			`{"success":false,"message":"cannot reserve: OVERDUE_BOOKS on account"}`)
	})

	_, err := client.CreateReservation(context.Background(), "book-1", "")
	bre, ok := domain.AsBusinessRule(err)
	require.True(t, ok)
	assert.Equal(t, domain.RuleOverdueBooks, bre.Code)
}

func TestInternalErrorCollapsedToServerFault(t *testing.T) {
	// A raw stack trace or SQL error must never surface to the caller
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError,
			`{"success":false,"error":{"type":"INTERNAL","message":"pq: deadlock detected at tx 81231"}}`)
	})

	_, err := client.CreateReservation(context.Background(), "book-1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrServerFault)
	assert.NotContains(t, err.Error(), "deadlock")
}

func TestCurrentUserID(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/api/auth/me", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"success":true,"data":{"user":{"id":42}}}`)
	})

	id, err := client.CurrentUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	// Cached after the first successful call
	_, err = client.CurrentUserID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetBookPathFallback(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/book/b1" {
			writeJSON(w, http.StatusOK, `{"success":true,"data":{"title":"Dune","copies":[{"id":7,"status":"Borrowed"}]}}`)
			return
		}
		writeJSON(w, http.StatusNotFound, `{"success":false,"message":"not found"}`)
	})

	book, err := client.GetBook(context.Background(), "b1")
	require.NoError(t, err)

	assert.Equal(t, []string{"/api/books/b1", "/api/book/b1"}, paths)
	assert.Equal(t, "Dune", book.Title)
	// Payload had no book id; the requested one is filled in
	assert.Equal(t, "b1", book.ID)
	require.Len(t, book.Copies, 1)
	assert.Equal(t, "7", book.Copies[0].ID)
	assert.Equal(t, "BORROWED", book.Copies[0].Status)
}

func TestGetBookAllPathsMiss(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"success":false}`)
	})

	_, err := client.GetBook(context.Background(), "b1")
	assert.ErrorIs(t, err, domain.ErrBookNotFound)
}

func TestGetBookFallbackPastHTMLNotFound(t *testing.T) {
	// Routers that answer unknown paths with an HTML 404 page must read as a
	// plain miss on a book path, so the next shape is still tried.
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/api/book/b1" {
			writeJSON(w, http.StatusOK, `{"success":true,"data":{"id":"b1","title":"Dune"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, "<!DOCTYPE html><html><body>Not Found</body></html>")
	})

	book, err := client.GetBook(context.Background(), "b1")
	require.NoError(t, err)

	assert.Equal(t, []string{"/api/books/b1", "/api/book/b1"}, paths)
	assert.Equal(t, "Dune", book.Title)
}

func TestNonBookNotFoundIsServerFault(t *testing.T) {
	// A 404 only means "no such book" on the book path shapes; anywhere else
	// it is a misconfigured backend.
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"success":false,"message":"route not found"}`)
	})

	_, err := client.ListFines(context.Background())
	assert.ErrorIs(t, err, domain.ErrServerFault)
	assert.NotErrorIs(t, err, domain.ErrBookNotFound)
}

func TestListBooksCaching(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusOK, `{"success":true,"data":{"books":[{"id":1,"title":"Dune"}]}}`)
	}, WithCatalogTTL(time.Hour))

	ctx := context.Background()

	books, err := client.ListBooks(ctx, false)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "1", books[0].ID)

	// Within the TTL the cached listing is served
	_, err = client.ListBooks(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// bypassCache always hits the remote
	_, err = client.ListBooks(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestListBooksCacheHitIsIsolated(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK,
			`{"success":true,"data":{"books":[{"id":1,"title":"Dune","copies":[{"id":7,"status":"Available"}]}]}}`)
	}, WithCatalogTTL(time.Hour))

	ctx := context.Background()

	books, err := client.ListBooks(ctx, false)
	require.NoError(t, err)
	require.Len(t, books, 1)

	// Mutating a returned listing must not bleed into the cache
	books[0].Title = "mangled"
	books[0].Copies[0].Status = "LOST"

	cached, err := client.ListBooks(ctx, false)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "Dune", cached[0].Title)
	require.Len(t, cached[0].Copies, 1)
	assert.Equal(t, "AVAILABLE", cached[0].Copies[0].Status)
}

func TestWriteInvalidatesCatalog(t *testing.T) {
	listCalls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/books":
			listCalls++
			writeJSON(w, http.StatusOK, `{"success":true,"data":[]}`)
		case r.URL.Path == "/api/reservations" && r.Method == http.MethodPost:
			writeJSON(w, http.StatusOK, `{"success":true,"data":{"id":"res-1"}}`)
		default:
			writeJSON(w, http.StatusNotFound, `{"success":false}`)
		}
	}, WithCatalogTTL(time.Hour))

	ctx := context.Background()

	_, err := client.ListBooks(ctx, false)
	require.NoError(t, err)

	_, err = client.CreateReservation(ctx, "book-1", "")
	require.NoError(t, err)

	// The write dropped the cache wholesale
	_, err = client.ListBooks(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, listCalls)
}

func TestListBorrowedBooksFieldVariants(t *testing.T) {
	// Three rows, each spelling its identifiers differently
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":true,"data":{"loans":[
			{"id":1,"bookId":10,"copyId":100,"dueDate":"2026-09-15"},
			{"id":"2","book_id":"11","copy_id":"101"},
			{"id":3,"book":{"id":12},"bookCopyId":102}
		]}}`)
	})

	loans, err := client.ListBorrowedBooks(context.Background())
	require.NoError(t, err)
	require.Len(t, loans, 3)

	assert.Equal(t, "10", loans[0].BookID)
	assert.Equal(t, "100", loans[0].CopyID)
	assert.Equal(t, 2026, loans[0].DueAt.Year())
	assert.Equal(t, "11", loans[1].BookID)
	assert.Equal(t, "101", loans[1].CopyID)
	assert.Equal(t, "12", loans[2].BookID)
	assert.Equal(t, "102", loans[2].CopyID)
}

func TestListReservationsBareArrayAndStatusFilter(t *testing.T) {
	var gotStatus string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotStatus = r.URL.Query().Get("status")
		writeJSON(w, http.StatusOK, `{"success":true,"data":[{"id":"r1","bookId":"b1","status":"active"}]}`)
	})

	reservations, err := client.ListReservations(context.Background(), "all")
	require.NoError(t, err)

	assert.Equal(t, "all", gotStatus)
	require.Len(t, reservations, 1)
	assert.Equal(t, "ACTIVE", reservations[0].Status)
}

func TestListRowsUnknownWrapperKey(t *testing.T) {
	// An unrecognized wrapper key degrades to an empty list, not an error
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":true,"data":{"entries":[{"id":"r1"}]}}`)
	})

	reservations, err := client.ListReservations(context.Background(), "all")
	require.NoError(t, err)
	assert.Empty(t, reservations)
}

func TestCreateReservationFillsBookID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "book-1", payload["bookId"])
		_, hasCopy := payload["copyId"]
		assert.False(t, hasCopy)
		writeJSON(w, http.StatusOK, `{"success":true,"data":{"id":"res-1"}}`)
	})

	res, err := client.CreateReservation(context.Background(), "book-1", "")
	require.NoError(t, err)
	assert.Equal(t, "res-1", res.ID)
	assert.Equal(t, "book-1", res.BookID)
}

func TestCancelReservationDegradeChain(t *testing.T) {
	type seen struct {
		method  string
		path    string
		hasBody bool
	}
	var requests []seen
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, seen{r.Method, r.URL.Path, len(body) > 0})

		if r.Method == http.MethodPatch {
			var payload map[string]string
			assert.NoError(t, json.Unmarshal(body, &payload))
			assert.Equal(t, "CANCELLED", payload["status"])
			writeJSON(w, http.StatusOK, `{"success":true}`)
			return
		}
		writeJSON(w, http.StatusMethodNotAllowed, `{"success":false,"message":"method not allowed"}`)
	})

	err := client.CancelReservation(context.Background(), "res-1")
	require.NoError(t, err)

	require.Len(t, requests, 3)
	assert.Equal(t, seen{http.MethodDelete, "/api/reservations/res-1", true}, requests[0])
	assert.Equal(t, seen{http.MethodDelete, "/api/reservations/res-1", false}, requests[1])
	assert.Equal(t, seen{http.MethodPatch, "/api/reservations/res-1/status", true}, requests[2])
}

func TestCancelReservationBusinessErrorStopsChain(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeJSON(w, http.StatusConflict,
			`{"success":false,"error":{"type":"BUSINESS_RULE","message":"BOOK_AVAILABLE: nothing to cancel"}}`)
	})

	err := client.CancelReservation(context.Background(), "res-1")
	require.Error(t, err)

	_, ok := domain.AsBusinessRule(err)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
}

func TestReportCopyProblem(t *testing.T) {
	var (
		method  string
		path    string
		payload map[string]string
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		writeJSON(w, http.StatusOK, `{"success":true}`)
	})

	err := client.ReportCopyProblem(context.Background(), "loan-9", "damaged", "water damage on cover")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/api/borrows/loan-9/report", path)
	assert.Equal(t, map[string]string{
		"kind": "damaged",
		"note": "water damage on cover",
	}, payload)
}

func TestListFines(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK,
			`{"success":true,"data":{"fines":[{"id":1,"loan_id":9,"amount":2.5,"reason":"overdue","paid":false}]}}`)
	})

	fines, err := client.ListFines(context.Background())
	require.NoError(t, err)
	require.Len(t, fines, 1)
	assert.Equal(t, "9", fines[0].LoanID)
	assert.Equal(t, 2.5, fines[0].Amount)
}

func TestInvalidateToken(t *testing.T) {
	tokens := []string{"first", "second"}
	i := 0
	source := func() (string, error) {
		token := tokens[i]
		if i < len(tokens)-1 {
			i++
		}
		return token, nil
	}

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeJSON(w, http.StatusOK, `{"success":true,"data":[]}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, source, nil)

	_, err := client.ListBorrowedBooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer first", gotAuth)

	client.InvalidateToken()

	_, err = client.ListBorrowedBooks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer second", gotAuth)
}
