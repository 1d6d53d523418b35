// Package troveapi is the REST client for the upstream trove indexer API,
// which serves trove snapshots and their transaction timelines.
package troveapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
)

const rateLimitKey = "troveapi"

// Options configures optional client behaviour.
type Options struct {
	// APIKey is sent as a bearer token when set.
	APIKey  string
	Timeout time.Duration
	// Limiter, when set, is consulted before every request with
	// RequestsPerMinute as the budget.
	Limiter           domain.RateLimiter
	RequestsPerMinute int
}

// Client talks to the trove API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    domain.RateLimiter
	rpm        int
}

// NewClient creates a new trove API client.
//
// baseURL is the API root, e.g. "https://api.example.org/v1".
func NewClient(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: opts.Limiter,
		rpm:     opts.RequestsPerMinute,
	}
}

// ListOpenTroves returns one page of open troves for collateral, sorted
// ascending by interest rate.
func (c *Client) ListOpenTroves(ctx context.Context, collateral domain.CollateralType, page domain.PageRequest) (domain.TrovePage, error) {
	params := url.Values{}
	params.Set("status", string(domain.TroveStatusOpen))
	params.Set("collateralType", string(collateral))
	params.Set("sortBy", "interestRate")
	params.Set("sortOrder", "asc")
	params.Set("limit", strconv.Itoa(page.Limit))
	if page.Cursor != "" {
		params.Set("cursor", page.Cursor)
	} else if page.Offset > 0 {
		params.Set("offset", strconv.Itoa(page.Offset))
	}

	body, err := c.doGet(ctx, "/troves?"+params.Encode())
	if err != nil {
		return domain.TrovePage{}, fmt.Errorf("troveapi: list %s troves: %w", collateral, err)
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.TrovePage{}, fmt.Errorf("troveapi: decode troves: %w", err)
	}

	out := domain.TrovePage{Troves: make([]domain.Trove, 0, len(resp.Data))}
	for i := range resp.Data {
		t, err := resp.Data[i].ToDomainTrove()
		if err != nil {
			return domain.TrovePage{}, fmt.Errorf("troveapi: list %s troves: %w", collateral, err)
		}
		if t.CollateralType == "" {
			t.CollateralType = collateral
		}
		out.Troves = append(out.Troves, t)
	}
	if resp.Pagination != nil {
		out.NextCursor = resp.Pagination.NextCursor
		out.HasMore = resp.Pagination.HasMore
	}
	return out, nil
}

// GetTrove returns a single trove.
func (c *Client) GetTrove(ctx context.Context, ref domain.TroveRef) (domain.Trove, error) {
	body, err := c.doGet(ctx, trovePath(ref))
	if err != nil {
		return domain.Trove{}, fmt.Errorf("troveapi: get trove %s/%s: %w", ref.CollateralType, ref.ID, err)
	}

	var resp troveResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.Trove{}, fmt.Errorf("troveapi: decode trove: %w", err)
	}

	t, err := resp.Data.ToDomainTrove()
	if err != nil {
		return domain.Trove{}, fmt.Errorf("troveapi: get trove %s/%s: %w", ref.CollateralType, ref.ID, err)
	}
	if t.CollateralType == "" {
		t.CollateralType = ref.CollateralType
	}
	return t, nil
}

// GetTimeline returns the trove's transaction history in server order.
func (c *Client) GetTimeline(ctx context.Context, ref domain.TroveRef) ([]domain.TimelineEvent, error) {
	body, err := c.doGet(ctx, trovePath(ref)+"/timeline")
	if err != nil {
		return nil, fmt.Errorf("troveapi: get timeline %s/%s: %w", ref.CollateralType, ref.ID, err)
	}

	var resp timelineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("troveapi: decode timeline: %w", err)
	}

	events := make([]domain.TimelineEvent, 0, len(resp.Data))
	for i := range resp.Data {
		ev, err := resp.Data[i].ToDomainEvent()
		if err != nil {
			return nil, fmt.Errorf("troveapi: get timeline %s/%s: %w", ref.CollateralType, ref.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func trovePath(ref domain.TroveRef) string {
	return fmt.Sprintf("/troves/%s/%s", url.PathEscape(string(ref.CollateralType)), url.PathEscape(ref.ID))
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends a GET request and returns the body of a 2xx response.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if c.limiter != nil && c.rpm > 0 {
		allowed, err := c.limiter.Allow(ctx, rateLimitKey, c.rpm, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("%w: local budget of %d requests/min exhausted", domain.ErrRateLimited, c.rpm)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors. Every failure
// wraps domain.ErrFetchFailed and carries the status text.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	status := http.StatusText(statusCode)
	if status == "" {
		status = strconv.Itoa(statusCode)
	}
	detail := string(body)
	if len(detail) > 256 {
		detail = detail[:256]
	}

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w: %s", domain.ErrFetchFailed, domain.ErrNotFound, status)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", domain.ErrFetchFailed, domain.ErrUnauthorized, status)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrFetchFailed, domain.ErrRateLimited, status)
	default:
		return fmt.Errorf("%w: HTTP %d %s: %s", domain.ErrFetchFailed, statusCode, status, detail)
	}
}

// Compile-time interface checks.
var (
	_ domain.TroveSource = (*Client)(nil)
	_ domain.TroveReader = (*Client)(nil)
)
