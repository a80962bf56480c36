// Package client is a typed client for the oracle HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/phoenix-oracle/pkg/auth"
	"github.com/psantana5/phoenix-oracle/pkg/consumer"
	"github.com/psantana5/phoenix-oracle/pkg/models"
	"github.com/psantana5/phoenix-oracle/pkg/tracing"
)

// Client manages communication with an oracle server
type Client struct {
	baseURL    string
	identity   models.Identity
	key        string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client, for example to use TLS
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-call timeout of the default http.Client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a client that authenticates as identity with the bearer key
func New(baseURL string, identity models.Identity, key string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		identity: identity,
		key:      key,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity returns the identity the client authenticates as
func (c *Client) Identity() models.Identity {
	return c.identity
}

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("oracle returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("oracle returned status %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

// SubmitRequest logs a new request for target with the given selector
func (c *Client) SubmitRequest(ctx context.Context, target models.Identity, selector models.Selector) (*models.Request, error) {
	body := models.IntakeRequest{Target: target.String(), Selector: selector.String()}
	var req models.Request
	if err := c.do(ctx, http.MethodPost, "/requests", body, &req, http.StatusCreated); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListFilter narrows ListRequests. Zero values match everything.
type ListFilter struct {
	Status    models.RequestStatus
	Requester models.Identity
	Target    models.Identity
	Limit     int
}

// ListRequests returns requests matching filter, newest id first
func (c *Client) ListRequests(ctx context.Context, filter ListFilter) ([]*models.Request, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Requester != "" {
		q.Set("requester", filter.Requester.String())
	}
	if filter.Target != "" {
		q.Set("target", filter.Target.String())
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/requests"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var list models.RequestList
	if err := c.do(ctx, http.MethodGet, path, nil, &list, http.StatusOK); err != nil {
		return nil, err
	}
	return list.Requests, nil
}

// GetRequest fetches a request by nonce or uid
func (c *Client) GetRequest(ctx context.Context, ref string) (*models.Request, error) {
	var req models.Request
	if err := c.do(ctx, http.MethodGet, "/requests/"+url.PathEscape(ref), nil, &req, http.StatusOK); err != nil {
		return nil, err
	}
	return &req, nil
}

// Fulfill delivers payload for request id. The client must authenticate as the owner.
func (c *Client) Fulfill(ctx context.Context, id models.Nonce, payload []byte) (*models.Request, error) {
	body := models.FulfillmentRequest{Payload: "0x" + hex.EncodeToString(payload)}
	var req models.Request
	path := fmt.Sprintf("/requests/%d/fulfill", id)
	if err := c.do(ctx, http.MethodPost, path, body, &req, http.StatusOK); err != nil {
		return nil, err
	}
	return &req, nil
}

// Cancel withdraws a pending request the client logged
func (c *Client) Cancel(ctx context.Context, id models.Nonce) (*models.Request, error) {
	var req models.Request
	path := fmt.Sprintf("/requests/%d/cancel", id)
	if err := c.do(ctx, http.MethodPost, path, nil, &req, http.StatusOK); err != nil {
		return nil, err
	}
	return &req, nil
}

// Owner returns the current owner identity
func (c *Client) Owner(ctx context.Context) (models.Identity, error) {
	var info models.OwnerInfo
	if err := c.do(ctx, http.MethodGet, "/owner", nil, &info, http.StatusOK); err != nil {
		return "", err
	}
	return info.Owner, nil
}

// TransferOwnership hands the owner role to newOwner
func (c *Client) TransferOwnership(ctx context.Context, newOwner models.Identity) (models.Identity, error) {
	body := models.OwnershipTransferRequest{NewOwner: newOwner.String()}
	var info models.OwnerInfo
	if err := c.do(ctx, http.MethodPost, "/owner/transfer", body, &info, http.StatusOK); err != nil {
		return "", err
	}
	return info.Owner, nil
}

// Events returns up to limit events with a sequence number greater than after
func (c *Client) Events(ctx context.Context, after uint64, limit int) (*models.EventList, error) {
	return c.WaitEvents(ctx, after, limit, 0)
}

// WaitEvents is Events with long polling: when no event follows the cursor
// the server holds the call for up to wait before answering with an empty page.
func (c *Client) WaitEvents(ctx context.Context, after uint64, limit int, wait time.Duration) (*models.EventList, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if wait > 0 {
		q.Set("wait", wait.String())
	}

	var list models.EventList
	if err := c.do(ctx, http.MethodGet, "/events?"+q.Encode(), nil, &list, http.StatusOK); err != nil {
		return nil, err
	}
	return &list, nil
}

// Consumer returns the latest values held by an in-process consumer target
func (c *Client) Consumer(ctx context.Context, id models.Identity) (*consumer.Snapshot, error) {
	var snap consumer.Snapshot
	if err := c.do(ctx, http.MethodGet, "/consumers/"+id.String(), nil, &snap, http.StatusOK); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Selectors lists the handler variants the server dispatches to
func (c *Client) Selectors(ctx context.Context) ([]models.HandlerVariant, error) {
	var variants []models.HandlerVariant
	if err := c.do(ctx, http.MethodGet, "/selectors", nil, &variants, http.StatusOK); err != nil {
		return nil, err
	}
	return variants, nil
}

// Health reports server status. A degraded server answers 503 with a body,
// which is returned together with an APIError.
func (c *Client) Health(ctx context.Context) (*models.Health, error) {
	var h models.Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h, http.StatusOK)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		return &h, err
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, want int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.identity != "" {
		req.Header.Set(auth.IdentityHeader, c.identity.String())
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
	tracing.InjectHTTPHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != want {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var er models.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Kind = er.Error
			apiErr.Message = er.Message
		}
		// health carries its body on 503 too
		if out != nil && resp.StatusCode == http.StatusServiceUnavailable {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
