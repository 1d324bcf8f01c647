package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/serverdeck/serverdeck/internal/listing"
)

// Client talks to the upstream server-listing API.
//
// All methods are side-effect free with respect to local state and return
// structured *listing.RequestError values for expected failures.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userAgent  string
}

// Option is a function that configures the Client.
type Option func(*Client)

// NewClient creates a new listing API client.
func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:   baseURL,
		userAgent: "serverdeck",
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// PageRequest describes one listing page fetch.
type PageRequest struct {
	Size   int
	Sort   listing.SortKey
	Cursor *string // nil requests the first page
}

// FetchPage fetches one page of the server listing. Repeating the call
// with the same cursor is safe; the endpoint is read-only.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (listing.Page, error) {
	if req.Size <= 0 {
		return listing.Page{}, &listing.RequestError{
			Kind:    listing.KindPermanent,
			Message: fmt.Sprintf("invalid page size %d", req.Size),
		}
	}

	query := url.Values{}
	query.Set("size", strconv.Itoa(req.Size))
	if req.Sort != "" {
		query.Set("sort", string(req.Sort))
	}
	if req.Cursor != nil {
		query.Set("cursor", *req.Cursor)
	}

	var resp pageResponse
	if err := c.do(ctx, http.MethodGet, "/v1/servers?"+query.Encode(), nil, &resp); err != nil {
		return listing.Page{}, err
	}

	page := listing.Page{Servers: make([]listing.Server, 0, len(resp.Servers))}
	for _, dto := range resp.Servers {
		page.Servers = append(page.Servers, dto.toServer())
	}
	page.NextCursor = cursorFromLink(resp.Links.Next)

	return page, nil
}

// AddFavorite marks a server as favorite upstream.
func (c *Client) AddFavorite(ctx context.Context, serverID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/servers/%d/favorite", serverID), nil, nil)
}

// RemoveFavorite removes a server from upstream favorites.
func (c *Client) RemoveFavorite(ctx context.Context, serverID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/servers/%d/favorite", serverID), nil, nil)
}

// Subscribe subscribes to a server's notifications upstream.
func (c *Client) Subscribe(ctx context.Context, serverID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/servers/%d/subscription", serverID), nil, nil)
}

// Unsubscribe removes a server subscription upstream.
func (c *Client) Unsubscribe(ctx context.Context, serverID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/servers/%d/subscription", serverID), nil, nil)
}

// ConfirmPurchase acknowledges a purchase token upstream.
func (c *Client) ConfirmPurchase(ctx context.Context, token string) error {
	body := confirmPurchaseRequest{Token: token}
	return c.do(ctx, http.MethodPost, "/v1/purchases/confirm", body, nil)
}

// do executes one request and decodes the response into out, if non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Transport-level failures (no connectivity, timeout) are the
		// canonical transient case.
		return listing.Transient(err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return listing.Transient(err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return c.errorFromResponse(httpResp, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// errorFromResponse builds a structured RequestError from a non-2xx
// response, including any server-supplied retry-after instant.
func (c *Client) errorFromResponse(httpResp *http.Response, body []byte) error {
	reqErr := &listing.RequestError{
		Kind:       listing.ClassifyStatus(httpResp.StatusCode),
		StatusCode: httpResp.StatusCode,
	}

	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil {
		reqErr.Code = parsed.Code
		reqErr.Message = parsed.Error
		if t, err := time.Parse(time.RFC3339, parsed.RetryAfter); err == nil {
			reqErr.RetryAfter = &t
		}
	}

	if reqErr.RetryAfter == nil {
		if t, ok := parseRetryAfterHeader(httpResp.Header.Get("Retry-After")); ok {
			reqErr.RetryAfter = &t
		}
	}

	// Business rejections arrive with a 2xx-adjacent status on some
	// endpoints; the error code is authoritative for those.
	if isBusinessRejection(parsed.Code) {
		reqErr.Kind = listing.KindPermanent
	}

	return reqErr
}

// isBusinessRejection reports whether an upstream error code is a
// business-rule rejection that must never be retried.
func isBusinessRejection(code string) bool {
	switch code {
	case "subscription_limit_exceeded", "purchase_already_confirmed", "validation_failed":
		return true
	}
	return false
}

// parseRetryAfterHeader handles both delta-seconds and HTTP-date forms.
func parseRetryAfterHeader(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Now().Add(time.Duration(secs) * time.Second), true
	}
	if t, err := http.ParseTime(value); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// cursorFromLink extracts the continuation cursor from a next-page link.
func cursorFromLink(link string) *string {
	if link == "" {
		return nil
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return nil
	}
	cursor := parsed.Query().Get("cursor")
	if cursor == "" {
		return nil
	}
	return &cursor
}
