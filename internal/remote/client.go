package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"tripline/internal/config"

	"github.com/rs/zerolog"
)

// Client talks to the server of record over its row-store REST API.
// Tables are addressed by name; filters become query parameters.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zerolog.Logger
}

func NewClient(cfg config.RemoteConfig, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
	}
}

func (c *Client) Select(ctx context.Context, table string, filter map[string]string, order string) ([]json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, url.PathEscape(table))

	query := url.Values{}
	for k, v := range filter {
		query.Set(k, v)
	}
	if order != "" {
		query.Set("order", order)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode select response: %w", err)
	}
	return rows, nil
}

func (c *Client) Insert(ctx context.Context, table string, row any) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, url.PathEscape(table))
	return c.writeRow(ctx, http.MethodPost, endpoint, row)
}

func (c *Client) Update(ctx context.Context, table, id string, patch any) (json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s/%s", c.baseURL, url.PathEscape(table), url.PathEscape(id))
	return c.writeRow(ctx, http.MethodPatch, endpoint, patch)
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	endpoint := fmt.Sprintf("%s/rest/v1/%s/%s", c.baseURL, url.PathEscape(table), url.PathEscape(id))
	_, err := c.do(ctx, http.MethodDelete, endpoint, nil)
	return err
}

// Ping probes the health endpoint; the connectivity monitor uses it as the
// environment's network signal.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.baseURL+"/health", nil)
	return err
}

func (c *Client) writeRow(ctx context.Context, method, endpoint string, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}

	body, err := c.do(ctx, method, endpoint, data)
	if err != nil {
		return nil, err
	}

	// Writes respond with the affected row, either bare or as a one-element array.
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []json.RawMessage
		if err := json.Unmarshal(trimmed, &rows); err != nil {
			return nil, fmt.Errorf("decode write response: %w", err)
		}
		if len(rows) == 0 {
			return nil, ErrRowNotFound
		}
		return rows[0], nil
	}
	return json.RawMessage(trimmed), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrNetworkUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrNetworkUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrRowNotFound
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("remote store rejected request: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}
