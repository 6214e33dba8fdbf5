// Package writeclient talks to the gridsave document API. Client implements
// the autosave Writer, BatchWriter and Fetcher interfaces, mapping HTTP
// failures onto the autosave error taxonomy.
package writeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/gridsave/internal/autosave"
)

// ErrNotFound is returned by Fetch for a missing document.
var ErrNotFound = errors.New("not found")

// Client is an HTTP client for the gridsave document API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *slog.Logger
}

// New creates a new client.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Logger:  slog.Default(),
	}
}

var (
	_ autosave.Writer      = (*Client)(nil)
	_ autosave.BatchWriter = (*Client)(nil)
	_ autosave.Fetcher     = (*Client)(nil)
)

// --- Wire types (mirror internal/api/documents.go, independently defined) ---

type putRequest struct {
	Payload         json.RawMessage `json:"payload"`
	ExpectedVersion *int64          `json:"expected_version"`
}

type putResponse struct {
	ResourceID string `json:"resource_id"`
	NewVersion int64  `json:"new_version"`
	UpdatedAt  string `json:"updated_at"`
	Error      string `json:"error,omitempty"`
}

type batchRequest struct {
	Items []batchItem `json:"items"`
}

type batchItem struct {
	ItemID          string          `json:"item_id"`
	Payload         json.RawMessage `json:"payload"`
	ExpectedVersion *int64          `json:"expected_version"`
}

type batchItemResult struct {
	ItemID          string `json:"item_id"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
	Message         string `json:"message,omitempty"`
	ServerUpdatedAt string `json:"server_updated_at,omitempty"`
	NewVersion      *int64 `json:"new_version,omitempty"`
	ServerVersion   *int64 `json:"server_version,omitempty"`
}

type documentResponse struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Version   int64           `json:"version"`
	UpdatedAt string          `json:"updated_at"`
}

// apiError is the standard error body from the server. Conflict responses
// also carry the server version.
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	ServerVersion   *int64 `json:"server_version,omitempty"`
	ServerUpdatedAt string `json:"server_updated_at,omitempty"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) error {
	var resp map[string]string
	if err := c.do(ctx, "GET", "/healthz", "", nil, &resp); err != nil {
		return err
	}
	if resp["status"] != "ok" {
		return fmt.Errorf("server unhealthy: %v", resp)
	}
	return nil
}

// Write issues a single versioned write.
func (c *Client) Write(ctx context.Context, req autosave.WriteRequest) (autosave.Ack, error) {
	payload, err := encodePayload(req.Payload)
	if err != nil {
		return autosave.Ack{}, validationError(req.ResourceID, err)
	}

	var resp putResponse
	path := "/v1/documents/" + url.PathEscape(req.ResourceID)
	if err := c.do(ctx, "PUT", path, req.ResourceID, putRequest{Payload: payload, ExpectedVersion: req.ExpectedVersion}, &resp); err != nil {
		return autosave.Ack{}, err
	}
	return autosave.Ack{
		ResourceID: req.ResourceID,
		NewVersion: resp.NewVersion,
		UpdatedAt:  parseTime(resp.UpdatedAt),
		Error:      resp.Error,
	}, nil
}

// WriteBatch issues all writes in one request. Items that cannot be encoded
// are failed locally and left out of the request.
func (c *Client) WriteBatch(ctx context.Context, reqs []autosave.WriteRequest) ([]autosave.ItemResult, error) {
	body := batchRequest{Items: make([]batchItem, 0, len(reqs))}
	var local []autosave.ItemResult
	for _, req := range reqs {
		payload, err := encodePayload(req.Payload)
		if err != nil {
			se := validationError(req.ResourceID, err)
			local = append(local, autosave.ItemResult{ItemID: req.ResourceID, Error: se.Message, Code: se.Code, Err: se})
			continue
		}
		body.Items = append(body.Items, batchItem{ItemID: req.ResourceID, Payload: payload, ExpectedVersion: req.ExpectedVersion})
	}
	if len(body.Items) == 0 {
		return local, nil
	}

	var resp []batchItemResult
	if err := c.do(ctx, "POST", "/v1/documents/batch", "", body, &resp); err != nil {
		return nil, err
	}

	out := make([]autosave.ItemResult, 0, len(resp)+len(local))
	for _, r := range resp {
		res := autosave.ItemResult{
			ItemID:          r.ItemID,
			Success:         r.Success,
			Error:           r.Message,
			Code:            r.Error,
			ServerUpdatedAt: parseTime(r.ServerUpdatedAt),
			NewVersion:      r.NewVersion,
			ServerVersion:   r.ServerVersion,
		}
		if !r.Success && res.Error == "" {
			res.Error = r.Error
		}
		out = append(out, res)
	}
	return append(out, local...), nil
}

// Fetch loads the server copy of a document. The payload is returned as
// json.RawMessage.
func (c *Client) Fetch(ctx context.Context, id string) (autosave.Document, error) {
	var resp documentResponse
	if err := c.do(ctx, "GET", "/v1/documents/"+url.PathEscape(id), id, nil, &resp); err != nil {
		return autosave.Document{}, err
	}
	return autosave.Document{
		ID:        resp.ID,
		Payload:   resp.Payload,
		Version:   resp.Version,
		UpdatedAt: parseTime(resp.UpdatedAt),
	}, nil
}

// List returns every stored document.
func (c *Client) List(ctx context.Context) ([]autosave.Document, error) {
	var resp []documentResponse
	if err := c.do(ctx, "GET", "/v1/documents", "", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]autosave.Document, 0, len(resp))
	for _, d := range resp {
		out = append(out, autosave.Document{ID: d.ID, Payload: d.Payload, Version: d.Version, UpdatedAt: parseTime(d.UpdatedAt)})
	}
	return out, nil
}

// --- HTTP helpers ---

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) do(ctx context.Context, method, path, resourceID string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	rid := uuid.NewString()
	req.Header.Set("X-Request-ID", rid)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.logger().Debug("http request failed", "method", method, "path", path, "rid", rid, "err", err)
		return &autosave.SaveError{
			Kind:       autosave.KindNetwork,
			ResourceID: resourceID,
			Code:       autosave.CodeNetworkFailure,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &autosave.SaveError{
			Kind:       autosave.KindNetwork,
			ResourceID: resourceID,
			Code:       autosave.CodeNetworkFailure,
			Message:    "read response",
			Err:        err,
		}
	}
	c.logger().Debug("http request", "method", method, "path", path, "rid", rid,
		"status", resp.StatusCode, "dur", time.Since(start).String())

	if resp.StatusCode >= 400 {
		return responseError(resp.StatusCode, resourceID, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// responseError maps an error status onto the autosave taxonomy.
func responseError(status int, resourceID string, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	code, msg := ae.Error.Code, ae.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusConflict || code == autosave.CodeVersionConflict:
		se := autosave.NewConflictError(resourceID, ae.ServerVersion, parseTime(ae.ServerUpdatedAt))
		if ae.Error.Message != "" {
			se.Message = ae.Error.Message
		}
		return se
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", resourceID, ErrNotFound)
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity, status == http.StatusRequestEntityTooLarge:
		if code == "" {
			code = autosave.CodeValidationFailed
		}
		return &autosave.SaveError{Kind: autosave.KindValidation, ResourceID: resourceID, Code: code, Message: msg}
	case status == http.StatusTooManyRequests, status >= 500:
		if code == "" {
			code = autosave.CodeNetworkFailure
		}
		return &autosave.SaveError{
			Kind:       autosave.KindNetwork,
			ResourceID: resourceID,
			Code:       code,
			Message:    fmt.Sprintf("HTTP %d: %s", status, msg),
		}
	default:
		return &autosave.SaveError{
			Kind:       autosave.KindForCode(code),
			ResourceID: resourceID,
			Code:       code,
			Message:    fmt.Sprintf("HTTP %d: %s", status, msg),
		}
	}
}

func validationError(id string, err error) *autosave.SaveError {
	return &autosave.SaveError{
		Kind:       autosave.KindValidation,
		ResourceID: id,
		Code:       autosave.CodeValidationFailed,
		Message:    "payload is not JSON encodable",
		Err:        err,
	}
}

// encodePayload passes raw JSON through and marshals everything else.
func encodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("invalid raw JSON")
		}
		return p, nil
	default:
		return json.Marshal(v)
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
