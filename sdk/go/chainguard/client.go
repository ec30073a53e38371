// Package chainguard provides a small HTTP client for the ChainGuard REST API.
package chainguard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the ChainGuard REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// AnalysisRequest represents the payload required to submit a new analysis.
type AnalysisRequest struct {
	ID       string         `json:"id,omitempty"`
	Address  string         `json:"address"`
	Type     string         `json:"type,omitempty"`
	Chain    string         `json:"chain,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Report contains the condensed conclusion of a completed analysis.
type Report struct {
	RiskTier         string  `json:"risk_tier"`
	Confidence       float64 `json:"confidence"`
	QuickVerdict     string  `json:"quick_verdict"`
	Verdict          string  `json:"verdict"`
	SignalCount      int     `json:"signal_count"`
	CriticalCount    int     `json:"critical_count"`
	ManipulationRisk string  `json:"manipulation_risk"`
	ProcessingMS     int64   `json:"processing_ms"`
}

// Analysis is the server side view of a submitted analysis job.
type Analysis struct {
	ID         string         `json:"id"`
	Address    string         `json:"address"`
	Type       string         `json:"type"`
	Chain      string         `json:"chain,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Report     *Report        `json:"report,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Stats aggregates job counts grouped by status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`

	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// ListQuery narrows down the analyses returned by List.
type ListQuery struct {
	Limit     int
	Offset    int
	Statuses  []string
	RiskTiers []string
	Address   string
	HasReport *bool
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("chainguard api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chainguard api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the ChainGuard API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Submit queues a new analysis and returns the accepted job.
func (c *Client) Submit(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	var out Analysis
	if err := c.post(ctx, "/api/v1/analyses", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches a single analysis by identifier.
func (c *Client) Get(ctx context.Context, id string) (*Analysis, error) {
	var out Analysis
	if err := c.get(ctx, "/api/v1/analyses/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns analyses matching the query.
func (c *Client) List(ctx context.Context, query ListQuery) ([]*Analysis, error) {
	var out struct {
		Jobs  []*Analysis `json:"jobs"`
		Count int         `json:"count"`
	}
	if err := c.get(ctx, "/api/v1/analyses", query.values(), &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Stats returns job counts matching the query.
func (c *Client) Stats(ctx context.Context, query ListQuery) (Stats, error) {
	var out Stats
	if err := c.get(ctx, "/api/v1/stats", query.values(), &out); err != nil {
		return Stats{}, err
	}
	return out, nil
}

// WaitForCompletion polls until the analysis reaches a terminal status or the
// context is cancelled.
func (c *Client) WaitForCompletion(ctx context.Context, id string, interval time.Duration) (*Analysis, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		analysis, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if analysis.Status == "succeeded" || analysis.Status == "failed" {
			return analysis, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q ListQuery) values() url.Values {
	values := url.Values{}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(q.Statuses) > 0 {
		values.Set("status", join(q.Statuses))
	}
	if len(q.RiskTiers) > 0 {
		values.Set("tier", join(q.RiskTiers))
	}
	if q.Address != "" {
		values.Set("address", q.Address)
	}
	if q.HasReport != nil {
		values.Set("has_report", strconv.FormatBool(*q.HasReport))
	}
	return values
}

func join(parts []string) string {
	var buf bytes.Buffer
	for i, part := range parts {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(part)
	}
	return buf.String()
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return fmt.Errorf("read error response: %w", readErr)
		}
		if unmarshalErr := json.Unmarshal(data, apiErr); unmarshalErr != nil || apiErr.Message == "" {
			apiErr.Message = string(data)
		}
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
