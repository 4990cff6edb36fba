// Package alttext calls the AltText.ai API to generate descriptive alt
// text for uploaded images.
package alttext

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL = "https://alttext.ai/api/v1"
	pollInterval   = 2 * time.Second
)

var (
	ErrUnauthorized = errors.New("alttext: invalid API key")
	ErrJobFailed    = errors.New("alttext: generation job failed")
)

// Client is an AltText.ai API client. A zero API key disables it; use
// Enabled to check before calling Generate.
type Client struct {
	apiKey     string
	baseURL    string
	keywords   string
	webhookURL string
	pollEvery  time.Duration
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithKeywords sets default SEO keywords sent with every request.
func WithKeywords(kw string) Option {
	return func(c *Client) { c.keywords = kw }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollInterval changes how often asynchronous jobs are polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollEvery = d }
}

// WithWebhookURL asks the API to also push async job results to u.
// Jobs are still polled; the webhook is a second delivery channel.
func WithWebhookURL(u string) Option {
	return func(c *Client) { c.webhookURL = u }
}

func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		pollEvery:  pollInterval,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type imageRequest struct {
	Image      imageRef `json:"image"`
	Keywords   string   `json:"keywords,omitempty"`
	WebhookURL string   `json:"webhook_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

// Result is the API's response shape for both synchronous generation
// and asynchronous job status.
type Result struct {
	AltText string `json:"alt_text"`
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Error   string `json:"error"`
}

// Generate produces alt text for the image at imageURL. Keywords
// override the client default when non-empty. A 202 response means the
// job runs asynchronously; Generate polls until it completes or ctx is
// done.
func (c *Client) Generate(ctx context.Context, imageURL, keywords string) (string, error) {
	if !c.Enabled() {
		return "", errors.New("alttext: client not configured")
	}

	reqBody := imageRequest{Image: imageRef{URL: imageURL}, WebhookURL: c.webhookURL}
	if keywords != "" {
		reqBody.Keywords = keywords
	} else if c.keywords != "" {
		reqBody.Keywords = c.keywords
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("alttext: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("alttext: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("alttext: request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out Result
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("alttext: decode response: %w", err)
		}
		return out.AltText, nil
	case http.StatusAccepted:
		var out Result
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("alttext: decode response: %w", err)
		}
		return c.pollJob(ctx, out.JobID)
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", ErrUnauthorized
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("alttext: unexpected status %d: %s", resp.StatusCode, body)
	}
}

// pollJob checks job status every two seconds until the job completes,
// fails, or ctx expires.
func (c *Client) pollJob(ctx context.Context, jobID string) (string, error) {
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("alttext: poll job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}

		status, err := c.JobStatus(ctx, jobID)
		if err != nil {
			return "", err
		}
		switch status.Status {
		case "completed":
			return status.AltText, nil
		case "failed":
			return "", fmt.Errorf("%w: %s", ErrJobFailed, status.Error)
		}
	}
}

// JobStatus fetches the current state of an asynchronous job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return Result{}, fmt.Errorf("alttext: build job request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("alttext: job status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("alttext: job status %d for job %s", resp.StatusCode, jobID)
	}

	var out Result
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("alttext: decode job status: %w", err)
	}
	return out, nil
}

// TestConnection verifies the API key by fetching a job that does not
// exist. A 404 still proves the key is accepted; 401 and 403 mean it
// is not.
func (c *Client) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/connection-check", nil)
	if err != nil {
		return fmt.Errorf("alttext: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alttext: connection test: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted, http.StatusNotFound:
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("alttext: connection test status %d", resp.StatusCode)
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}
