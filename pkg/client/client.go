package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/terra-clan/bid-engine/internal/models"
)

// Client is a Go SDK for the bid-engine API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new bid-engine client authenticating with a bearer token
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is returned for any non-2xx response
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsConflict reports whether err means the resource already has a winner
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict
}

// IsInvalidTransition reports whether err is a refused status change
func IsInvalidTransition(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity
}

// IsRetryable reports whether the request may succeed if sent again
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable
}

// Listing is the response of the bid listing endpoints
type Listing struct {
	Parent *models.ParentResource   `json:"parent"`
	Role   models.Role              `json:"role"`
	Bids   []ListedBid              `json:"bids"`
	Counts map[models.BidStatus]int `json:"counts"`
	Total  int                      `json:"total"`
}

// ListedBid is a bid with the transitions the caller may request
type ListedBid struct {
	models.BidRecord
	Actions []models.BidStatus `json:"actions"`
}

// ListParentsOptions contains options for listing parent resources
type ListParentsOptions struct {
	Kind    models.ResourceKind
	OwnerID string
	Limit   int
	Offset  int
}

// CreateParent opens a resource for bidding owned by the token subject
func (c *Client) CreateParent(ctx context.Context, kind models.ResourceKind) (*models.ParentResource, error) {
	var p models.ParentResource
	err := c.call(ctx, http.MethodPost, "/api/v1/parents", models.CreateParentRequest{Kind: kind}, &p)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetParent retrieves a parent resource by ID
func (c *Client) GetParent(ctx context.Context, id string) (*models.ParentResource, error) {
	var p models.ParentResource
	if err := c.call(ctx, http.MethodGet, "/api/v1/parents/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListParents lists parent resources
func (c *Client) ListParents(ctx context.Context, opts ListParentsOptions) ([]*models.ParentResource, error) {
	q := url.Values{}
	if opts.Kind != "" {
		q.Set("kind", string(opts.Kind))
	}
	if opts.OwnerID != "" {
		q.Set("owner", opts.OwnerID)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/v1/parents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result struct {
		Parents []*models.ParentResource `json:"parents"`
		Total   int                      `json:"total"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Parents, nil
}

// PlaceBid submits a bid from the token subject
func (c *Client) PlaceBid(ctx context.Context, parentID string, amount decimal.Decimal, description string) (*models.BidRecord, error) {
	req := models.PlaceBidRequest{Amount: amount, Description: description}
	var b models.BidRecord
	if err := c.call(ctx, http.MethodPost, "/api/v1/parents/"+url.PathEscape(parentID)+"/bids", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateStatus requests a status change on a project profile bid
func (c *Client) UpdateStatus(ctx context.Context, bidID string, status models.BidStatus) (*models.BidRecord, error) {
	var b models.BidRecord
	err := c.call(ctx, http.MethodPost, "/api/v1/bids/"+url.PathEscape(bidID)+"/status",
		models.UpdateStatusRequest{Status: status}, &b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SelectWinner picks the winning bid of an interview request
func (c *Client) SelectWinner(ctx context.Context, parentID, bidID string) (*models.Selection, error) {
	var sel models.Selection
	path := fmt.Sprintf("/api/v1/interviews/%s/interview-bids/%s", url.PathEscape(parentID), url.PathEscape(bidID))
	if err := c.call(ctx, http.MethodPost, path, nil, &sel); err != nil {
		return nil, err
	}
	return &sel, nil
}

// ListProjectBids lists the bids of a project profile
func (c *Client) ListProjectBids(ctx context.Context, parentID string) (*Listing, error) {
	return c.listing(ctx, "/api/v1/bids/project/"+url.PathEscape(parentID)+"/bid")
}

// ListInterviewBids lists the bids of an interview request
func (c *Client) ListInterviewBids(ctx context.Context, parentID string) (*Listing, error) {
	return c.listing(ctx, "/api/v1/interviews/"+url.PathEscape(parentID)+"/interview-bids")
}

func (c *Client) listing(ctx context.Context, path string) (*Listing, error) {
	var l Listing
	if err := c.call(ctx, http.MethodGet, path, nil, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

// call sends body as JSON and decodes the envelope's data into out
func (c *Client) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	status, respBody, err := c.doRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		if status >= 400 {
			return &APIError{Status: status, Code: "unknown", Message: string(respBody)}
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if status >= 400 || !result.Success {
		apiErr := &APIError{Status: status}
		if result.Error != nil {
			apiErr.Code = result.Error.Code
			apiErr.Message = result.Error.Message
		}
		return apiErr
	}

	if out == nil || len(result.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
