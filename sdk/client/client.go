// Package client is a small HTTP client for the referee gateway.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/refereehq/referee/core/canary"
	"github.com/refereehq/referee/core/editor"
	"github.com/refereehq/referee/core/executor"
	"github.com/refereehq/referee/core/library"
	"github.com/refereehq/referee/core/session"
)

// Client is a minimal HTTP client for the API gateway.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// New returns a client with a default HTTP timeout.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// APIError is a non-2xx gateway response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, msg)
}

// InvalidConfigError is returned by Save, Export and Execute when the
// document does not validate. State holds the latched state with every error
// visible.
type InvalidConfigError struct {
	State editor.State
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("canary config is invalid (%d errors)", len(e.State.Errors))
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// Session is a session id with its state.
type Session struct {
	ID    string       `json:"id"`
	State editor.State `json:"state"`
}

// ExportResult is returned by Export.
type ExportResult struct {
	ArtifactPtr string        `json:"artifact_ptr"`
	Config      canary.Config `json:"config"`
	State       editor.State  `json:"state"`
}

// ExecuteResult is returned by Execute.
type ExecuteResult struct {
	ExecutionID string       `json:"execution_id"`
	State       editor.State `json:"state"`
}

// SaveResult is returned by Save.
type SaveResult struct {
	ID       string       `json:"id"`
	Revision int64        `json:"revision"`
	Hash     string       `json:"hash"`
	State    editor.State `json:"state"`
}

// ArtifactMetadata mirrors artifact store metadata.
type ArtifactMetadata struct {
	ContentType string            `json:"content_type,omitempty"`
	SizeBytes   int64             `json:"size_bytes,omitempty"`
	Retention   string            `json:"retention,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Artifact captures stored artifact data.
type Artifact struct {
	Pointer  string           `json:"artifact_ptr"`
	Content  []byte           `json:"-"`
	Metadata ArtifactMetadata `json:"metadata"`
	// ExpiresIn is the remaining retention; zero when the store does not
	// report it.
	ExpiresIn time.Duration `json:"-"`
}

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	return base + path
}

func sessionPath(id string, parts ...string) string {
	path := "/api/v1/sessions/" + url.PathEscape(id)
	for _, p := range parts {
		path += "/" + p
	}
	return path
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
	return c.do(ctx, method, path, payload, out)
}

func (c *Client) do(ctx context.Context, method, path string, payload io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), payload)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
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

func (c *Client) mutate(ctx context.Context, method, path string, body any) (*editor.State, error) {
	var state editor.State
	if err := c.doJSON(ctx, method, path, body, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// invalid converts a 422 response into an InvalidConfigError.
func invalid(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnprocessableEntity {
		return err
	}
	var state editor.State
	if jsonErr := json.Unmarshal([]byte(apiErr.Body), &state); jsonErr != nil {
		return err
	}
	return &InvalidConfigError{State: state}
}

// GetStatus returns the gateway status snapshot.
func (c *Client) GetStatus(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateSession starts a session on cfg, or on a blank document when cfg is nil.
func (c *Client) CreateSession(ctx context.Context, cfg *canary.Config) (*Session, error) {
	var out Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/sessions", map[string]any{"config": cfg}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches a session.
func (c *Client) GetSession(ctx context.Context, id string) (*Session, error) {
	var out Session
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSessions lists live sessions.
func (c *Client) ListSessions(ctx context.Context) ([]session.Info, error) {
	var out struct {
		Items []session.Info `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// DeleteSession closes a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, sessionPath(id), nil, nil)
}

// SetConfig replaces the session document with raw canary config JSON.
func (c *Client) SetConfig(ctx context.Context, id string, raw []byte) (*editor.State, error) {
	var state editor.State
	if err := c.do(ctx, http.MethodPut, sessionPath(id, "config"), bytes.NewReader(raw), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// UpdateName sets the config name.
func (c *Client) UpdateName(ctx context.Context, id, name string) (*editor.State, error) {
	return c.mutate(ctx, http.MethodPost, sessionPath(id, "name"), map[string]string{"value": name})
}

// UpdateDescription sets the config description.
func (c *Client) UpdateDescription(ctx context.Context, id, description string) (*editor.State, error) {
	return c.mutate(ctx, http.MethodPost, sessionPath(id, "description"), map[string]string{"value": description})
}

// Touch marks a field as interacted with.
func (c *Client) Touch(ctx context.Context, id, field string) (*editor.State, error) {
	return c.mutate(ctx, http.MethodPost, sessionPath(id, "touch"), map[string]string{"id": field})
}

// Finalize latches error visibility without exporting or saving.
func (c *Client) Finalize(ctx context.Context, id string) (*editor.State, error) {
	return c.mutate(ctx, http.MethodPost, sessionPath(id, "finalize"), nil)
}

// CreateGroup adds a new empty group and selects it.
func (c *Client) CreateGroup(ctx context.Context, id string) (*editor.State, error) {
	return c.mutate(ctx, http.MethodPost, sessionPath(id, "groups"), nil)
}

// SelectGroup makes group the active group.
func (c *Client) SelectGroup(ctx context.Context, id, group string) (*editor.State, error) {
	return c.mutate(ctx, http.MethodPost, sessionPath(id, "groups", "select"), map[string]string{"name": group})
}

// ToggleEditGroup flips the edit flag of the selected group.
func (c *Client) ToggleEditGroup(ctx context.Context, id string) (*editor.State, error) {
	return c.mutate(ctx, http.MethodPost, sessionPath(id, "groups", "edit"), nil)
}

// RenameGroup renames a group.
func (c *Client) RenameGroup(ctx context.Context, id, group, name string) (*editor.State, error) {
	return c.mutate(ctx, http.MethodPut, sessionPath(id, "groups", url.PathEscape(group)), map[string]string{"name": name})
}

// RemoveGroup deletes a group.
func (c *Client) RemoveGroup(ctx context.Context, id, group string) (*editor.State, error) {
	return c.mutate(ctx, http.MethodDelete, sessionPath(id, "groups", url.PathEscape(group)), nil)
}

// SetGroupWeight sets an explicit weight. Numeric input is sent as a number,
// anything else as text for the gateway to parse.
func (c *Client) SetGroupWeight(ctx context.Context, id, group, weight string) (*editor.State, error) {
	var value any = weight
	if f, err := strconv.ParseFloat(strings.TrimSpace(weight), 64); err == nil {
		value = f
	}
	return c.mutate(ctx, http.MethodPut, sessionPath(id, "groups", url.PathEscape(group), "weight"), map[string]any{"weight": value})
}

// SaveMetric adds metric, or replaces the metric named existing.
func (c *Client) SaveMetric(ctx context.Context, id string, metric canary.Metric, existing string) (*editor.State, error) {
	body := map[string]any{"metric": metric}
	if existing != "" {
		body["existing"] = existing
	}
	return c.mutate(ctx, http.MethodPost, sessionPath(id, "metrics"), body)
}

// CopyMetric duplicates a metric.
func (c *Client) CopyMetric(ctx context.Context, id, metric string) (*editor.State, error) {
	return c.mutate(ctx, http.MethodPost, sessionPath(id, "metrics", url.PathEscape(metric), "copy"), nil)
}

// DeleteMetric removes a metric.
func (c *Client) DeleteMetric(ctx context.Context, id, metric string) (*editor.State, error) {
	return c.mutate(ctx, http.MethodDelete, sessionPath(id, "metrics", url.PathEscape(metric)), nil)
}

// Export stores the validated document as an artifact.
func (c *Client) Export(ctx context.Context, id, retention string) (*ExportResult, error) {
	var out ExportResult
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(id, "export"), map[string]string{"retention": retention}, &out); err != nil {
		return nil, invalid(err)
	}
	return &out, nil
}

// Save writes the validated document to the library under libraryID, or
// under a new id when libraryID is empty.
func (c *Client) Save(ctx context.Context, id, libraryID string) (*SaveResult, error) {
	var out SaveResult
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(id, "save"), map[string]string{"id": libraryID}, &out); err != nil {
		return nil, invalid(err)
	}
	return &out, nil
}

// Execute submits the validated document for canary analysis.
func (c *Client) Execute(ctx context.Context, id string, req executor.Request) (*ExecuteResult, error) {
	var out ExecuteResult
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(id, "execute"), req, &out); err != nil {
		return nil, invalid(err)
	}
	return &out, nil
}

// GetExecution reads the progress of a canary analysis.
func (c *Client) GetExecution(ctx context.Context, executionID string) (*executor.Execution, error) {
	var out executor.Execution
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/executions/"+url.PathEscape(executionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListConfigs lists saved configs, most recent first.
func (c *Client) ListConfigs(ctx context.Context, limit int) ([]library.Summary, error) {
	path := "/api/v1/configs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Items []library.Summary `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// GetConfig fetches a saved config.
func (c *Client) GetConfig(ctx context.Context, id string) (*library.Entry, error) {
	var out library.Entry
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/configs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteConfig removes a saved config.
func (c *Client) DeleteConfig(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/v1/configs/"+url.PathEscape(id), nil, nil)
}

// OpenConfig starts a session on a saved config.
func (c *Client) OpenConfig(ctx context.Context, id string) (*Session, error) {
	var out Session
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/configs/"+url.PathEscape(id)+"/open", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetArtifact fetches an artifact by pointer or id.
func (c *Client) GetArtifact(ctx context.Context, ptr string) (*Artifact, error) {
	ptr = strings.TrimSpace(ptr)
	if ptr == "" {
		return nil, fmt.Errorf("artifact pointer required")
	}
	id := strings.TrimPrefix(ptr, "redis://art:")
	var resp struct {
		Pointer   string           `json:"artifact_ptr"`
		Content   string           `json:"content_base64"`
		Metadata  ArtifactMetadata `json:"metadata"`
		ExpiresIn int64            `json:"expires_in_seconds"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/artifacts/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.Content)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Pointer:   resp.Pointer,
		Content:   data,
		Metadata:  resp.Metadata,
		ExpiresIn: time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}
