package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hermes/server/internal/models"

	"github.com/cenkalti/backoff/v4"
)

// HistoryFetcher loads persisted conversations, the durable fallback for
// anything missed while disconnected.
type HistoryFetcher interface {
	DirectHistory(ctx context.Context, self, peer string) ([]models.DirectMessage, error)
	GroupHistory(ctx context.Context, groupID string) ([]models.GroupMessage, error)
}

// HTTPHistory fetches history from the REST API.
type HTTPHistory struct {
	baseURL string
	token   string
	http    *http.Client
	// MaxElapsed bounds retries of failed requests.
	MaxElapsed time.Duration
}

func NewHTTPHistory(baseURL, token string, c *http.Client) *HTTPHistory {
	if c == nil {
		c = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPHistory{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		http:       c,
		MaxElapsed: 15 * time.Second,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (h *HTTPHistory) DirectHistory(ctx context.Context, self, peer string) ([]models.DirectMessage, error) {
	var out []models.DirectMessage
	err := h.get(ctx, "/messages/"+url.PathEscape(self)+"/"+url.PathEscape(peer), &out)
	return out, err
}

func (h *HTTPHistory) GroupHistory(ctx context.Context, groupID string) ([]models.GroupMessage, error) {
	var out []models.GroupMessage
	err := h.get(ctx, "/group-messages/"+url.PathEscape(groupID), &out)
	return out, err
}

// get retries transport failures and 5xx answers; 4xx answers are final.
func (h *HTTPHistory) get(ctx context.Context, path string, v any) error {
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+h.token)

		resp, err := h.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			if resp.StatusCode >= 500 {
				return &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			}
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		if resp.StatusCode >= 500 {
			return &APIError{Status: resp.StatusCode, Message: env.Error}
		}
		if resp.StatusCode >= 300 || !env.Success {
			return backoff.Permanent(&APIError{Status: resp.StatusCode, Message: env.Error})
		}
		return backoff.Permanent(json.Unmarshal(env.Data, v))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = h.MaxElapsed
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
