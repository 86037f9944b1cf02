package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"example.com/presence/internal/api"
)

// apiError is the problem body written by the presence API.
type apiError struct {
	Status int
	Type   string `json:"type"`
	Detail string `json:"detail"`
}

func (e *apiError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("api returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d): %s", e.Type, e.Status, e.Detail)
}

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAPIClient(baseURL, token string, httpClient *http.Client) *apiClient {
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

func (c *apiClient) recordTransition(ctx context.Context, req api.TransitionRequest) (api.RecordView, error) {
	var out api.RecordView
	err := c.do(ctx, http.MethodPost, "/v1/presence/transitions", req, &out)
	return out, err
}

func (c *apiClient) listPresence(ctx context.Context) (api.ListPresenceResponse, error) {
	var out api.ListPresenceResponse
	err := c.do(ctx, http.MethodGet, "/v1/presence", nil, &out)
	return out, err
}

func (c *apiClient) preview(ctx context.Context) (api.SummaryView, error) {
	var out api.SummaryView
	err := c.do(ctx, http.MethodGet, "/v1/dashboard/preview", nil, &out)
	return out, err
}

func (c *apiClient) reconcile(ctx context.Context) (api.ConfigView, error) {
	var out api.ConfigView
	err := c.do(ctx, http.MethodPost, "/v1/dashboard/reconcile", nil, &out)
	return out, err
}

func (c *apiClient) channel(ctx context.Context) (api.ConfigView, error) {
	var out api.ConfigView
	err := c.do(ctx, http.MethodGet, "/v1/dashboard/channel", nil, &out)
	return out, err
}

func (c *apiClient) setChannel(ctx context.Context, channelID string) (api.ConfigView, error) {
	var out api.ConfigView
	err := c.do(ctx, http.MethodPut, "/v1/dashboard/channel", api.SetChannelRequest{ChannelID: channelID}, &out)
	return out, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
