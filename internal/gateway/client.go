package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"shelfsync/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	userAgent      = "shelfsync/1.0"
)

// TokenSource resolves the current bearer token from wherever the host
// application keeps credentials. The token is loaded lazily on the first
// request and cached until InvalidateToken.
type TokenSource func() (string, error)

// StaticToken returns a TokenSource for a fixed token
func StaticToken(token string) TokenSource {
	return func() (string, error) { return token, nil }
}

// Client implements domain.CatalogRepository, domain.CirculationRepository,
// and domain.Session against the library backend's REST API.
//
// Error classification is centralized here so every call site behaves
// consistently: backend-declared user-facing conditions come back as
// *domain.BusinessRuleError with the backend message verbatim; everything
// else is logged in full and collapsed to a generic sentinel so internal
// errors never reach a screen.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger

	mu     sync.Mutex
	token  string // lazily resolved via tokens
	userID string // cached after the first session lookup

	catalogMu      sync.Mutex
	catalog        []domain.Book
	catalogFetched time.Time
	catalogTTL     time.Duration
}

// ClientOption customizes client construction
type ClientOption func(*Client)

// WithCatalogTTL overrides the catalog listing cache lifetime
func WithCatalogTTL(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.catalogTTL = d
		}
	}
}

// WithUserID pre-seeds the session user id, skipping the /api/auth/me lookup
func WithUserID(id string) ClientOption {
	return func(c *Client) {
		c.userID = id
	}
}

// NewClient creates a new library API client
func NewClient(baseURL string, tokens TokenSource, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
			// No cookie jar: auth travels only in the bearer header.
		},
		logger:     logger,
		catalogTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasToken reports whether a bearer token can currently be resolved
func (c *Client) HasToken() bool {
	token, err := c.resolveToken()
	return err == nil && token != ""
}

// InvalidateToken drops the cached token so the next request re-resolves it
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.userID = ""
	c.mu.Unlock()
}

// CurrentUserID resolves the logged-in user's id from the session endpoint,
// cached after the first successful call
func (c *Client) CurrentUserID(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.userID != "" {
		id := c.userID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	env, err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil)
	if err != nil {
		return "", err
	}

	var me struct {
		ID   flexID `json:"id"`
		User struct {
			ID flexID `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(env.Data, &me); err != nil {
		return "", fmt.Errorf("%w: session payload: %v", domain.ErrMalformedResponse, err)
	}

	id := domain.FirstNonEmpty(string(me.ID), string(me.User.ID))
	if id == "" {
		return "", fmt.Errorf("%w: session payload has no user id", domain.ErrMalformedResponse)
	}

	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
	return id, nil
}

func (c *Client) resolveToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}
	if c.tokens == nil {
		return "", nil
	}
	token, err := c.tokens()
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// do performs an authenticated request and returns the parsed envelope.
// A nil error implies env.Success.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	token, err := c.resolveToken()
	if err != nil || token == "" {
		return nil, fmt.Errorf("%w: no token available", domain.ErrAuthFailed)
	}

	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("api request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("api request failed", "method", method, "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, domain.ErrAuthFailed
	}

	if looksLikeHTML(raw) {
		// Routers that answer unknown paths with an HTML 404 must not mask
		// a plain miss on the historical book-path shapes.
		if resp.StatusCode == http.StatusNotFound && isBookPath(path) {
			return nil, domain.ErrBookNotFound
		}
		c.logger.Error("api returned html", "method", method, "path", path, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w (status %d)", domain.ErrHTMLResponse, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Error("api response parse error", "method", method, "path", path, "error", err, "bodyLen", len(raw))
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}

	if resp.StatusCode == http.StatusNotFound && isBookPath(path) {
		return nil, domain.ErrBookNotFound
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && env.Success {
		return &env, nil
	}

	return nil, c.classifyFailure(method, path, resp.StatusCode, &env)
}

// classifyFailure applies the two-tier error policy: user-facing conditions
// surface verbatim, everything else is logged and collapsed to a generic
// sentinel.
func (c *Client) classifyFailure(method, path string, status int, env *envelope) error {
	if env.Error != nil {
		if userFacingErrorTypes[strings.ToUpper(env.Error.Type)] {
			code, _ := matchBusinessToken(env.Error.Message)
			return &domain.BusinessRuleError{Code: code, Message: env.Error.Message}
		}
		if code, ok := matchBusinessToken(env.Error.Message); ok {
			return &domain.BusinessRuleError{Code: code, Message: env.Error.Message}
		}
	}
	// No structured error object is guaranteed: fall back to the envelope
	// message before giving up.
	if code, ok := matchBusinessToken(env.Message); ok {
		return &domain.BusinessRuleError{Code: code, Message: env.Message}
	}

	c.logger.Error("api call failed",
		"method", method, "path", path, "status", status,
		"message", env.Message, "error", env.Error)
	return fmt.Errorf("%w (status %d)", domain.ErrServerFault, status)
}

// userFacingErrorTypes are the backend error tags whose messages are safe to
// show to an end user
var userFacingErrorTypes = map[string]bool{
	"BUSINESS_RULE": true,
	"VALIDATION":    true,
	"USER_ERROR":    true,
}

// businessTokens maps message substrings to rule codes. The backend encodes
// these conditions as free text, so matching is case-insensitive substring.
var businessTokens = []struct {
	token string
	code  domain.BusinessRuleCode
}{
	{"DUPLICATE_RESERVATION", domain.RuleDuplicateReservation},
	{"ALREADY_RESERVED", domain.RuleAlreadyReserved},
	{"BOOK_AVAILABLE", domain.RuleBookAvailable},
	{"OVERDUE_BOOKS", domain.RuleOverdueBooks},
	{"BORROW_LIMIT", domain.RuleBorrowLimit},
}

func matchBusinessToken(msg string) (domain.BusinessRuleCode, bool) {
	upper := strings.ToUpper(msg)
	for _, t := range businessTokens {
		if strings.Contains(upper, t.token) {
			return t.code, true
		}
	}
	return domain.RuleUnspecified, false
}

// looksLikeHTML detects an HTML error page delivered where JSON was
// expected, which points at a gateway/proxy misconfiguration
func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 64)])))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}
