// Package campaign is the HTTP client for the campaign service, the external
// collaborator owning person records, context snippets, and telemetry.
package campaign

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrichment-service/internal/model"
)

// ErrNotFound is returned when the campaign service has no matching record.
var ErrNotFound = eris.New("campaign: not found")

// Client defines the campaign-service operations used by the core.
type Client interface {
	// GetPerson fetches the enrichment subject. Returns ErrNotFound when the
	// person does not exist or is not visible to userID.
	GetPerson(ctx context.Context, personID, userID string) (*model.Person, error)

	// Status transitions. MarkInProgress and the final persistence gate
	// correctness and must be treated as critical path by callers; MarkFailed
	// is best-effort so it never masks the original failure.
	MarkInProgress(ctx context.Context, personID, jobID string) error
	MarkComplete(ctx context.Context, personID string) error
	MarkFailed(ctx context.Context, personID string) error

	// Telemetry sink, best-effort.
	LogSearchIteration(ctx context.Context, entry model.SearchLog) error
	LogCircuitBreakerEvent(ctx context.Context, event model.CircuitBreakerEvent) error

	// SaveContextSnippets persists the final result snippets in one batch;
	// the collaborator applies them transactionally.
	SaveContextSnippets(ctx context.Context, snippets []model.ContextSnippet) error
}

// APIError is returned when the campaign service responds with a non-2xx
// status other than 404.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("campaign: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a campaign-service client for the given base URL.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) GetPerson(ctx context.Context, personID, userID string) (*model.Person, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/people/%s", c.baseURL, personID), nil)
	if err != nil {
		return nil, eris.Wrap(err, "campaign: create request")
	}
	req.Header.Set("x-user-id", userID)

	var person model.Person
	if err := c.do(req, &person); err != nil {
		return nil, eris.Wrap(err, "campaign: get person")
	}
	return &person, nil
}

func (c *httpClient) MarkInProgress(ctx context.Context, personID, jobID string) error {
	body := map[string]string{"jobId": jobID}
	if err := c.post(ctx, fmt.Sprintf("/api/people/%s/start", personID), body, nil); err != nil {
		return eris.Wrap(err, "campaign: mark in progress")
	}
	return nil
}

func (c *httpClient) MarkComplete(ctx context.Context, personID string) error {
	if err := c.post(ctx, fmt.Sprintf("/api/people/%s/complete", personID), nil, nil); err != nil {
		return eris.Wrap(err, "campaign: mark complete")
	}
	return nil
}

func (c *httpClient) MarkFailed(ctx context.Context, personID string) error {
	if err := c.post(ctx, fmt.Sprintf("/api/people/%s/failed", personID), nil, nil); err != nil {
		return eris.Wrap(err, "campaign: mark failed")
	}
	return nil
}

func (c *httpClient) LogSearchIteration(ctx context.Context, entry model.SearchLog) error {
	if err := c.post(ctx, "/api/snippets/search-logs", entry, nil); err != nil {
		return eris.Wrap(err, "campaign: log search iteration")
	}
	return nil
}

func (c *httpClient) LogCircuitBreakerEvent(ctx context.Context, event model.CircuitBreakerEvent) error {
	if err := c.post(ctx, "/api/circuit-breaker/events", event, nil); err != nil {
		return eris.Wrap(err, "campaign: log circuit breaker event")
	}
	return nil
}

func (c *httpClient) SaveContextSnippets(ctx context.Context, snippets []model.ContextSnippet) error {
	body := map[string]any{"snippets": snippets}
	if err := c.post(ctx, "/api/snippets/batch", body, nil); err != nil {
		return eris.Wrap(err, "campaign: save context snippets")
	}
	return nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrap(err, "decode response")
		}
	}
	return nil
}
