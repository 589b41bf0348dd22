package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/refereehq/referee/core/canary"
)

func sampleRequest() Request {
	start := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	return Request{
		Scopes: map[string]ScopePair{
			"default": {
				Control:    Scope{Scope: "app-baseline", Location: "us-east-1", Start: start, End: start.Add(time.Hour), Step: 60},
				Experiment: Scope{Scope: "app-canary", Location: "us-east-1", Start: start, End: start.Add(time.Hour), Step: 60},
			},
		},
		Thresholds: Thresholds{Pass: 95, Marginal: 75},
	}
}

func TestStartPostsConfigAndAccounts(t *testing.T) {
	var got adhocRequest
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/canary" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		query = map[string]string{
			"metrics": r.URL.Query().Get("metricsAccountName"),
			"storage": r.URL.Query().Get("storageAccountName"),
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"canaryExecutionId": "exec-1"})
	}))
	defer srv.Close()

	cfg := canary.NewConfig(canary.DefaultTemplate())
	cfg.Name = "checkout"
	cfg.Metrics = append(cfg.Metrics, canary.Metric{Name: "latency", Groups: []string{"perf"}})

	c := New(srv.URL+"/", "prom-account", "s3-account")
	id, err := c.Start(context.Background(), cfg, sampleRequest())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if id != "exec-1" {
		t.Fatalf("expected exec-1, got %q", id)
	}
	if query["metrics"] != "prom-account" || query["storage"] != "s3-account" {
		t.Fatalf("unexpected accounts %#v", query)
	}
	if got.CanaryConfig.Name != "checkout" || len(got.CanaryConfig.Metrics) != 1 {
		t.Fatalf("unexpected config %#v", got.CanaryConfig)
	}
	if got.ExecutionRequest.Thresholds.Pass != 95 {
		t.Fatalf("unexpected thresholds %#v", got.ExecutionRequest.Thresholds)
	}
	if got.ExecutionRequest.Scopes["default"].Experiment.Scope != "app-canary" {
		t.Fatalf("unexpected scopes %#v", got.ExecutionRequest.Scopes)
	}
}

func TestStartWithoutIDFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL, "", "").Start(context.Background(), canary.Config{}, sampleRequest()); err == nil {
		t.Fatalf("expected error for missing execution id")
	}
}

func TestGetReadsJudgeScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/canary/exec-1" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"complete":true,"status":"SUCCEEDED","startTimeIso":"2026-10-01T12:00:00Z",
			"result":{"judgeResult":{"score":{"score":87.5,"classification":"Marginal","classificationReason":"latency"}}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")
	exec, err := c.Get(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !exec.Complete || exec.Status != StatusSucceeded {
		t.Fatalf("unexpected state %#v", exec)
	}
	if exec.Score != 87.5 || exec.Classification != "Marginal" || exec.ClassificationReason != "latency" {
		t.Fatalf("unexpected score %#v", exec)
	}

	_, err = c.Get(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestGetReportsException(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"complete":true,"status":"TERMINAL","exception":{"message":"no data for scope"}}`))
	}))
	defer srv.Close()

	exec, err := New(srv.URL, "", "").Get(context.Background(), "exec-2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if exec.Status != StatusTerminal || exec.Error != "no data for scope" {
		t.Fatalf("unexpected execution %#v", exec)
	}
}

func TestWaitPollsUntilComplete(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			_, _ = w.Write([]byte(`{"complete":false,"status":"RUNNING"}`))
			return
		}
		_, _ = w.Write([]byte(`{"complete":true,"status":"SUCCEEDED","result":{"judgeResult":{"score":{"score":100,"classification":"Pass"}}}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")
	c.PollInterval = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	exec, err := c.Wait(ctx, "exec-3")
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if exec.Classification != "Pass" || exec.Score != 100 {
		t.Fatalf("unexpected execution %#v", exec)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 polls, got %d", calls)
	}
}

func TestWaitStopsOnContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"complete":false,"status":"RUNNING"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")
	c.PollInterval = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	exec, err := c.Wait(ctx, "exec-4")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if exec == nil || exec.Status != StatusRunning {
		t.Fatalf("expected last running state, got %#v", exec)
	}
}

func TestRequestValidation(t *testing.T) {
	v := validator.New()
	if err := v.Struct(sampleRequest()); err != nil {
		t.Fatalf("expected sample request to validate: %v", err)
	}

	noScopes := sampleRequest()
	noScopes.Scopes = nil
	if err := v.Struct(noScopes); err == nil {
		t.Fatalf("expected missing scopes to fail")
	}

	backwards := sampleRequest()
	pair := backwards.Scopes["default"]
	pair.Experiment.End = pair.Experiment.Start.Add(-time.Minute)
	backwards.Scopes["default"] = pair
	if err := v.Struct(backwards); err == nil {
		t.Fatalf("expected end before start to fail")
	}

	inverted := sampleRequest()
	inverted.Thresholds = Thresholds{Pass: 70, Marginal: 80}
	if err := v.Struct(inverted); err == nil {
		t.Fatalf("expected marginal above pass to fail")
	}
}
