package agentmarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the AgentMarket REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// ExecuteRequest is the payload for a paid execution.
type ExecuteRequest struct {
	TaskType  string            `json:"task_type"`
	Payload   map[string]string `json:"payload,omitempty"`
	Priority  int               `json:"priority,omitempty"`
	TargetURL string            `json:"target_url,omitempty"`
}

// AgentInfo identifies the worker assigned to an execution.
type AgentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Cost describes the price quoted for an execution.
type Cost struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
}

// ExecuteResult is the acceptance acknowledgement returned by Execute.
type ExecuteResult struct {
	ExecutionID string    `json:"execution_id"`
	Status      string    `json:"status"`
	Agent       AgentInfo `json:"agent"`
	Cost        Cost      `json:"cost"`
}

// Execution is the server side view of a single execution.
type Execution struct {
	ID             string          `json:"id"`
	TaskID         string          `json:"task_id,omitempty"`
	AgentID        string          `json:"agent_id"`
	APIKeyID       string          `json:"api_key_id,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	Priority       int             `json:"priority,omitempty"`
	Cost           decimal.Decimal `json:"cost"`
	Revenue        decimal.Decimal `json:"revenue"`
	Status         string          `json:"status"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      int64           `json:"created_at"`
	FinishedAt     int64           `json:"finished_at,omitempty"`
}

// Step is one entry in an execution trace.
type Step struct {
	Step       string `json:"step"`
	Status     string `json:"status"`
	Details    string `json:"details,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	CreatedAt  int64  `json:"created_at"`
}

// ExecutionStatus bundles an execution with its ordered step trace.
type ExecutionStatus struct {
	Execution Execution `json:"execution"`
	Steps     []Step    `json:"steps"`
}

// Balance reports key usage, remaining budget and recent executions.
type Balance struct {
	KeyID            string          `json:"key_id"`
	CallsLastMinute  int             `json:"calls_last_minute"`
	CallsLastHour    int             `json:"calls_last_hour"`
	PerMinuteLimit   int             `json:"per_minute_limit"`
	PerHourLimit     int             `json:"per_hour_limit"`
	DailyBudget      decimal.Decimal `json:"daily_budget"`
	RemainingBudget  decimal.Decimal `json:"remaining_budget"`
	RecentExecutions []string        `json:"recent_executions"`
}

// SignalSubmission is the payload for submitting a demand signal.
type SignalSubmission struct {
	Source   string  `json:"source"`
	Keyword  string  `json:"keyword"`
	Text     string  `json:"signal_text"`
	Volume   int     `json:"signal_volume"`
	Velocity float64 `json:"velocity_score,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Step       string `json:"step,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agentmarket api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agentmarket api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the AgentMarket API. When httpClient is
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

// SetAPIKey stores the key secret sent as a bearer credential on
// authenticated calls.
func (c *Client) SetAPIKey(secret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = secret
}

// APIKey returns the currently stored key secret.
func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

// Execute submits a paid execution and returns the pending acknowledgement.
// The actual call is carried out asynchronously; poll Status for the outcome.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	var result ExecuteResult
	if err := c.post(ctx, "/v1/execute", req, &result, true); err != nil {
		return ExecuteResult{}, err
	}
	return result, nil
}

// Status fetches an execution and its step trace by identifier.
func (c *Client) Status(ctx context.Context, executionID string) (ExecutionStatus, error) {
	var status ExecutionStatus
	endpoint := "/v1/status/" + url.PathEscape(executionID)
	if err := c.get(ctx, endpoint, &status, false); err != nil {
		return ExecutionStatus{}, err
	}
	return status, nil
}

// Balance reports usage and remaining budget for the stored key.
func (c *Client) Balance(ctx context.Context) (Balance, error) {
	var balance Balance
	if err := c.get(ctx, "/v1/balance", &balance, true); err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// SubmitSignal feeds a demand signal into the intake pipeline.
func (c *Client) SubmitSignal(ctx context.Context, submission SignalSubmission) error {
	payload := struct {
		Action string `json:"action"`
		SignalSubmission
	}{Action: "scan", SignalSubmission: submission}
	return c.post(ctx, "/v1/signals", payload, nil, false)
}

// TriggerPipeline runs the scoring pipeline over unprocessed signals and
// returns the number of signals processed.
func (c *Client) TriggerPipeline(ctx context.Context) (int, error) {
	var result struct {
		Processed int `json:"processed"`
	}
	payload := struct {
		Action string `json:"action"`
	}{Action: "process"}
	if err := c.post(ctx, "/v1/pipeline", payload, &result, false); err != nil {
		return 0, err
	}
	return result.Processed, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		key := c.APIKey()
		if key == "" {
			return nil, errors.New("agentmarket: api key is not set")
		}
		req.Header.Set("Authorization", "Bearer "+key)
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
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				// try direct decode into apiErr if server returned flat payload
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
