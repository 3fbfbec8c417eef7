// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package arr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/sweeparr/internal/buildinfo"
)

const (
	queuePageSize    = 1000
	maxErrorBodySize = 4 << 10
)

// APIError is a non-2xx response from an *arr service. The status code is
// preserved so callers can treat 404 on delete as already-removed.
type APIError struct {
	StatusCode int
	Operation  string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s returned status %d", e.Operation, e.StatusCode)
}

func (e *APIError) Is(target error) bool {
	_, ok := target.(*APIError)
	return ok
}

// IsNotFound reports whether the remote item no longer exists.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Client talks to one Sonarr/Radarr/Lidarr/Readarr instance over its v3 API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a client with a bounded per-request timeout. Every remote
// call the cleaner makes goes through this client, so the timeout is the
// run's protection against a hung *arr service.
func NewClient(baseURL, apiKey string, timeoutSeconds int) *Client {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	timeout := time.Duration(timeoutSeconds) * time.Second

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetQueue fetches the full queue snapshot in one page. Transient failures
// are retried a couple of times; a still-failing fetch is fatal to the run.
func (c *Client) GetQueue(ctx context.Context) ([]QueueItem, error) {
	params := url.Values{}
	params.Set("page", "1")
	params.Set("pageSize", strconv.Itoa(queuePageSize))
	params.Set("includeUnknownSeriesItems", "true")

	var response QueueResponse
	err := retry.Do(
		func() error {
			return c.getJSON(ctx, "/api/v3/queue", params, &response)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			// Auth and client errors will not heal on retry.
			if apiErr, ok := err.(*APIError); ok {
				return apiErr.StatusCode >= http.StatusInternalServerError
			}
			return true
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch queue: %w", err)
	}

	return response.Records, nil
}

// DeleteQueueItem removes one queue item. A 404 means the item was already
// removed remotely and is treated as success.
func (c *Client) DeleteQueueItem(ctx context.Context, id int64, opts DeleteOptions) error {
	params := url.Values{}
	params.Set("removeFromClient", strconv.FormatBool(opts.RemoveFromClient))
	params.Set("blocklist", strconv.FormatBool(opts.Blocklist))
	params.Set("skipRedownload", strconv.FormatBool(opts.SkipRedownload))
	params.Set("changeCategory", strconv.FormatBool(opts.ChangeCategory))

	endpoint := fmt.Sprintf("/api/v3/queue/%d", id)
	err := c.do(ctx, http.MethodDelete, endpoint, params, nil)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.IsNotFound() {
			log.Debug().Int64("id", id).Msg("queue item already removed remotely")
			return nil
		}
		return err
	}
	return nil
}

// ManualImport asks the service to import a completed download by its
// download client id.
func (c *Client) ManualImport(ctx context.Context, downloadID string) error {
	payload := map[string]any{
		"name":       "ManualImport",
		"downloadId": downloadID,
		"importMode": "auto",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode manual import command: %w", err)
	}

	return c.do(ctx, http.MethodPost, "/api/v3/command", nil, body)
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out any) error {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newAPIError(resp, "GET "+endpoint)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body []byte) error {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newAPIError(resp, method+" "+endpoint)
	}

	// Drain so the connection can be reused.
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)
}

func newAPIError(resp *http.Response, operation string) *APIError {
	message := ""
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize)); err == nil {
		message = strings.TrimSpace(string(raw))
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Operation:  operation,
		Message:    message,
	}
}
