// Package executor runs ad-hoc canary analyses of an edited config on a
// Kayenta server and reads back the judge result.
package executor

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

	"github.com/refereehq/referee/core/canary"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultTimeout      = 30 * time.Second
)

// Execution statuses reported by Kayenta.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusTerminal  = "terminal"
)

// Scope selects the time series of one side of the comparison.
type Scope struct {
	Scope               string            `json:"scope" validate:"required"`
	Location            string            `json:"location,omitempty"`
	Start               time.Time         `json:"start" validate:"required"`
	End                 time.Time         `json:"end" validate:"required,gtfield=Start"`
	Step                int64             `json:"step,omitempty" validate:"gte=0"`
	ExtendedScopeParams map[string]string `json:"extendedScopeParams,omitempty"`
}

// ScopePair compares the control (baseline) against the experiment (canary).
type ScopePair struct {
	Control    Scope `json:"controlScope"`
	Experiment Scope `json:"experimentScope"`
}

// Thresholds turn the judge score into pass, marginal or fail.
type Thresholds struct {
	Pass     float64 `json:"pass" validate:"gte=0,lte=100"`
	Marginal float64 `json:"marginal" validate:"gte=0,lte=100,ltefield=Pass"`
}

// Request is the execution half of an ad-hoc run; the config travels next to
// it.
type Request struct {
	Scopes     map[string]ScopePair `json:"scopes" validate:"required,min=1,dive"`
	Thresholds Thresholds           `json:"thresholds"`
	SiteLocal  map[string]any       `json:"siteLocal,omitempty"`
}

// Execution is the progress and outcome of one run.
type Execution struct {
	ID                   string  `json:"id"`
	Status               string  `json:"status"`
	Complete             bool    `json:"complete"`
	Score                float64 `json:"score"`
	Classification       string  `json:"classification,omitempty"`
	ClassificationReason string  `json:"classification_reason,omitempty"`
	Error                string  `json:"error,omitempty"`
	StartTime            string  `json:"start_time,omitempty"`
	EndTime              string  `json:"end_time,omitempty"`
}

// APIError is a non-2xx Kayenta response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kayenta: status %d: %s", e.Status, strings.TrimSpace(e.Body))
}

// IsNotFound reports whether err is a Kayenta 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Client talks to the Kayenta canary endpoints.
type Client struct {
	BaseURL        string
	MetricsAccount string
	StorageAccount string
	HTTPClient     *http.Client
	PollInterval   time.Duration
}

// New returns a client for the Kayenta server at baseURL.
func New(baseURL, metricsAccount, storageAccount string) *Client {
	return &Client{
		BaseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		MetricsAccount: strings.TrimSpace(metricsAccount),
		StorageAccount: strings.TrimSpace(storageAccount),
		HTTPClient:     &http.Client{Timeout: defaultTimeout},
		PollInterval:   defaultPollInterval,
	}
}

type adhocRequest struct {
	CanaryConfig     canary.Config `json:"canaryConfig"`
	ExecutionRequest Request       `json:"executionRequest"`
}

// Start submits cfg with req and returns the execution id.
func (c *Client) Start(ctx context.Context, cfg canary.Config, req Request) (string, error) {
	cfg = cfg.Clone()
	cfg.Normalize()
	q := url.Values{}
	if c.MetricsAccount != "" {
		q.Set("metricsAccountName", c.MetricsAccount)
	}
	if c.StorageAccount != "" {
		q.Set("storageAccountName", c.StorageAccount)
	}
	path := "/canary"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		ID string `json:"canaryExecutionId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, path, adhocRequest{CanaryConfig: cfg, ExecutionRequest: req}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("kayenta: response carried no execution id")
	}
	return out.ID, nil
}

type statusResponse struct {
	Complete     bool   `json:"complete"`
	Status       string `json:"status"`
	StartTimeIso string `json:"startTimeIso"`
	EndTimeIso   string `json:"endTimeIso"`
	Result       *struct {
		JudgeResult struct {
			Score struct {
				Score                float64 `json:"score"`
				Classification       string  `json:"classification"`
				ClassificationReason string  `json:"classificationReason"`
			} `json:"score"`
		} `json:"judgeResult"`
	} `json:"result"`
	Exception map[string]any `json:"exception"`
}

// Get fetches the current state of an execution.
func (c *Client) Get(ctx context.Context, id string) (*Execution, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.New("execution id required")
	}
	var resp statusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/canary/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	exec := &Execution{
		ID:        id,
		Status:    strings.ToLower(resp.Status),
		Complete:  resp.Complete,
		StartTime: resp.StartTimeIso,
		EndTime:   resp.EndTimeIso,
	}
	if resp.Result != nil {
		score := resp.Result.JudgeResult.Score
		exec.Score = score.Score
		exec.Classification = score.Classification
		exec.ClassificationReason = score.ClassificationReason
	}
	if len(resp.Exception) > 0 {
		if msg, ok := resp.Exception["message"].(string); ok && msg != "" {
			exec.Error = msg
		} else {
			exec.Error = "execution failed"
		}
	}
	return exec, nil
}

// Wait polls an execution until it completes or ctx ends.
func (c *Client) Wait(ctx context.Context, id string) (*Execution, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		exec, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if exec.Complete {
			return exec, nil
		}
		select {
		case <-ctx.Done():
			return exec, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		payload = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("kayenta request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
