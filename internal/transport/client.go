package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Bharath-Thiravium/athens-sub000/internal/models"
)

// TransportError means the batch as a whole was undeliverable: dial failure,
// timeout, or a non-2xx response with no per-item classification. The caller
// must leave the batch untouched and retry it on the next trigger.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transport failure: %v", e.Err)
	}
	return fmt.Sprintf("transport failure: unexpected status %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client submits event batches to the remote bulk endpoint. The endpoint is
// idempotent per client event id: resubmitting acknowledged ids yields
// duplicates, never errors.
type Client struct {
	submitURL string
	client    *http.Client
}

// NewClient creates a bulk submit client for submitURL
func NewClient(submitURL string, timeout time.Duration) *Client {
	return &Client{
		submitURL: submitURL,
		client:    &http.Client{Timeout: timeout},
	}
}

// SubmitBatch sends the raw events of one batch in a single call and returns
// the server's per-item classification. Any failure to obtain that
// classification is reported as a *TransportError.
func (c *Client) SubmitBatch(ctx context.Context, events []models.Event) (*models.BulkSubmitResponse, error) {
	payload, err := json.Marshal(models.BulkSubmitRequest{Events: events})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.submitURL, bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &TransportError{StatusCode: resp.StatusCode}
	}

	var result models.BulkSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return &result, nil
}
