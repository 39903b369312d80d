package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API is the remote side of replay and pull.
type API interface {
	Create(ctx context.Context, entity Entity, data map[string]any) (map[string]any, error)
	Update(ctx context.Context, entity Entity, id string, data map[string]any) (map[string]any, error)
	Delete(ctx context.Context, entity Entity, id string) error
	Get(ctx context.Context, entity Entity, id string) (map[string]any, error)
	// List returns records of the entity, only those changed after since when it is set.
	List(ctx context.Context, entity Entity, since *time.Time) ([]map[string]any, error)
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// HasStatus reports whether err is a StatusError with the given code.
func HasStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

const maxErrorBody = 512

type HTTPClient struct {
	baseURL   string
	healthURL string
	token     string
	http      *http.Client
}

func NewHTTPClient(baseURL, healthURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		healthURL: healthURL,
		token:     token,
		http:      &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Create(ctx context.Context, entity Entity, data map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodPost, c.baseURL+entity.Endpoint(), data, &out)
	return out, err
}

func (c *HTTPClient) Update(ctx context.Context, entity Entity, id string, data map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodPut, c.recordURL(entity, id), data, &out)
	return out, err
}

func (c *HTTPClient) Delete(ctx context.Context, entity Entity, id string) error {
	return c.do(ctx, http.MethodDelete, c.recordURL(entity, id), nil, nil)
}

func (c *HTTPClient) Get(ctx context.Context, entity Entity, id string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, c.recordURL(entity, id), nil, &out)
	return out, err
}

func (c *HTTPClient) List(ctx context.Context, entity Entity, since *time.Time) ([]map[string]any, error) {
	target := c.baseURL + entity.Endpoint()
	if since != nil {
		target += "?" + url.Values{"since": {since.UTC().Format(time.RFC3339)}}.Encode()
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, target, nil, &raw); err != nil {
		return nil, err
	}
	return decodeRecords(raw)
}

// Ping checks the API health endpoint.
func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.healthURL, nil, nil)
}

func (c *HTTPClient) recordURL(entity Entity, id string) string {
	return c.baseURL + entity.Endpoint() + "/" + url.PathEscape(id)
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, target, err)
	}
	return nil
}

// decodeRecords accepts either a bare JSON array or an envelope {"data": [...]}.
func decodeRecords(raw json.RawMessage) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []map[string]any{}, nil
	}

	if trimmed[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
		return records, nil
	}

	var envelope struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	if envelope.Data == nil {
		envelope.Data = []map[string]any{}
	}
	return envelope.Data, nil
}
