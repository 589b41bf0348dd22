// Package gateway serves editing sessions, the config library and exported
// artifacts over HTTP and websockets.
package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/refereehq/referee/core/canary"
	"github.com/refereehq/referee/core/executor"
	"github.com/refereehq/referee/core/infra/artifacts"
	"github.com/refereehq/referee/core/infra/bus"
	"github.com/refereehq/referee/core/infra/config"
	"github.com/refereehq/referee/core/infra/logging"
	infraMetrics "github.com/refereehq/referee/core/infra/metrics"
	"github.com/refereehq/referee/core/library"
	"github.com/refereehq/referee/core/session"
	"golang.org/x/time/rate"
)

const (
	component = "gateway"

	maxBodyBytes     = 1 << 20 // 1 MiB limit for config payloads
	reapInterval     = time.Minute
	shutdownTimeout  = 10 * time.Second
	defaultListLimit = 50
	// #nosec G101 -- protocol label, not a credential.
	wsAPIKeyProtocol = "referee-api-key"
	headerAPIKey     = "X-API-Key"
)

// Library is the saved-config store used by the library endpoints.
type Library interface {
	Save(ctx context.Context, id string, cfg canary.Config) (*library.Entry, error)
	Get(ctx context.Context, id string) (*library.Entry, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]library.Summary, error)
}

// EventBus reports the health of the editor event connection.
type EventBus interface {
	IsConnected() bool
	Status() string
}

// Deps wires the gateway to its collaborators. Library, Artifacts and
// Executor may be nil; their endpoints then answer 503.
type Deps struct {
	Sessions       *session.Manager
	Library        Library
	Artifacts      artifacts.Store
	Events         EventBus
	Executor       Executor
	Metrics        infraMetrics.GatewayMetrics
	APIKey         string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type server struct {
	sessions  *session.Manager
	library   Library
	artifacts artifacts.Store
	events    EventBus
	executor  Executor
	metrics   infraMetrics.GatewayMetrics
	apiKey    string
	origins   map[string]struct{}
	allowAll  bool
	limiter   *rate.Limiter
	validate  *validator.Validate
	upgrader  websocket.Upgrader
	started   time.Time
}

func newServer(d Deps) *server {
	if d.Sessions == nil {
		d.Sessions = session.NewManager(session.Options{})
	}
	if d.Metrics == nil {
		d.Metrics = infraMetrics.Noop{}
	}
	s := &server{
		sessions:  d.Sessions,
		library:   d.Library,
		artifacts: d.Artifacts,
		events:    d.Events,
		executor:  d.Executor,
		metrics:   d.Metrics,
		apiKey:    normalizeAPIKey(d.APIKey),
		validate:  validator.New(),
		started:   time.Now(),
	}
	s.origins, s.allowAll = originSet(d.AllowedOrigins)
	if d.RateLimitRPS > 0 && d.RateLimitBurst > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(d.RateLimitRPS), d.RateLimitBurst)
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:  s.isAllowedOrigin,
		Subprotocols: []string{wsAPIKeyProtocol},
	}
	return s
}

// NewHandler returns the gateway HTTP handler with every middleware applied.
func NewHandler(d Deps) http.Handler {
	s := newServer(d)
	return s.corsMiddleware(s.rateLimitMiddleware(s.apiKeyMiddleware(s.routes())))
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 1. Health
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/v1/status", s.instrumented("/api/v1/status", s.handleStatus))

	// 2. Sessions
	mux.HandleFunc("POST /api/v1/sessions", s.instrumented("/api/v1/sessions", s.handleCreateSession))
	mux.HandleFunc("GET /api/v1/sessions", s.instrumented("/api/v1/sessions", s.handleListSessions))
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.instrumented("/api/v1/sessions/{id}", s.handleGetSession))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.instrumented("/api/v1/sessions/{id}", s.handleDeleteSession))

	// 3. Document
	mux.HandleFunc("PUT /api/v1/sessions/{id}/config", s.instrumented("/api/v1/sessions/{id}/config", s.handleSetConfig))
	mux.HandleFunc("POST /api/v1/sessions/{id}/name", s.instrumented("/api/v1/sessions/{id}/name", s.handleUpdateName))
	mux.HandleFunc("POST /api/v1/sessions/{id}/description", s.instrumented("/api/v1/sessions/{id}/description", s.handleUpdateDescription))
	mux.HandleFunc("POST /api/v1/sessions/{id}/touch", s.instrumented("/api/v1/sessions/{id}/touch", s.handleTouch))
	mux.HandleFunc("POST /api/v1/sessions/{id}/finalize", s.instrumented("/api/v1/sessions/{id}/finalize", s.handleFinalize))

	// 4. Groups
	mux.HandleFunc("POST /api/v1/sessions/{id}/groups", s.instrumented("/api/v1/sessions/{id}/groups", s.handleCreateGroup))
	mux.HandleFunc("POST /api/v1/sessions/{id}/groups/select", s.instrumented("/api/v1/sessions/{id}/groups/select", s.handleSelectGroup))
	mux.HandleFunc("POST /api/v1/sessions/{id}/groups/edit", s.instrumented("/api/v1/sessions/{id}/groups/edit", s.handleToggleEditGroup))
	mux.HandleFunc("PUT /api/v1/sessions/{id}/groups/{group}", s.instrumented("/api/v1/sessions/{id}/groups/{group}", s.handleRenameGroup))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/groups/{group}", s.instrumented("/api/v1/sessions/{id}/groups/{group}", s.handleRemoveGroup))
	mux.HandleFunc("PUT /api/v1/sessions/{id}/groups/{group}/weight", s.instrumented("/api/v1/sessions/{id}/groups/{group}/weight", s.handleGroupWeight))

	// 5. Metrics
	mux.HandleFunc("POST /api/v1/sessions/{id}/metrics", s.instrumented("/api/v1/sessions/{id}/metrics", s.handleCreateOrUpdateMetric))
	mux.HandleFunc("POST /api/v1/sessions/{id}/metrics/{metric}/copy", s.instrumented("/api/v1/sessions/{id}/metrics/{metric}/copy", s.handleCopyMetric))
	mux.HandleFunc("DELETE /api/v1/sessions/{id}/metrics/{metric}", s.instrumented("/api/v1/sessions/{id}/metrics/{metric}", s.handleDeleteMetric))

	// 6. Export and save
	mux.HandleFunc("POST /api/v1/sessions/{id}/export", s.instrumented("/api/v1/sessions/{id}/export", s.handleExport))
	mux.HandleFunc("POST /api/v1/sessions/{id}/save", s.instrumented("/api/v1/sessions/{id}/save", s.handleSave))

	// 7. Stream (WebSocket)
	mux.HandleFunc("GET /api/v1/sessions/{id}/stream", s.instrumented("/api/v1/sessions/{id}/stream", s.handleStream))

	// 8. Library
	mux.HandleFunc("GET /api/v1/configs", s.instrumented("/api/v1/configs", s.handleListConfigs))
	mux.HandleFunc("GET /api/v1/configs/{id}", s.instrumented("/api/v1/configs/{id}", s.handleGetConfig))
	mux.HandleFunc("DELETE /api/v1/configs/{id}", s.instrumented("/api/v1/configs/{id}", s.handleDeleteConfig))
	mux.HandleFunc("POST /api/v1/configs/{id}/open", s.instrumented("/api/v1/configs/{id}/open", s.handleOpenConfig))

	// 9. Artifacts
	mux.HandleFunc("GET /api/v1/artifacts/{ptr}", s.instrumented("/api/v1/artifacts/{ptr}", s.handleGetArtifact))

	// 10. Canary execution
	mux.HandleFunc("POST /api/v1/sessions/{id}/execute", s.instrumented("/api/v1/sessions/{id}/execute", s.handleExecute))
	mux.HandleFunc("GET /api/v1/executions/{id}", s.instrumented("/api/v1/executions/{id}", s.handleGetExecution))

	return mux
}

// Run starts the gateway with its Redis and NATS backends and blocks until
// ctx ends or a listener fails. Missing backends degrade features instead of
// failing startup.
func Run(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Load()
	}
	defaults, err := config.LoadEditorDefaults(cfg.EditorDefaultsPath)
	if err != nil {
		return fmt.Errorf("editor defaults: %w", err)
	}

	var (
		publisher bus.Publisher = bus.Noop{}
		events    EventBus
	)
	if natsBus, err := bus.NewNatsBus(cfg.NatsURL); err != nil {
		logging.Warn(component, "nats unavailable, editor events disabled", "url", cfg.NatsURL, "error", err)
	} else {
		defer natsBus.Close()
		logging.Info(component, "editor events enabled", "url", natsBus.ConnectedURL(), "subject", cfg.EventSubject)
		publisher = natsBus
		events = natsBus
	}

	deps := Deps{
		APIKey:         cfg.APIKey,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Events:         events,
		Metrics:        infraMetrics.NewGatewayProm("referee_gateway"),
	}
	if cfg.KayentaURL != "" {
		logging.Info(component, "canary execution enabled", "url", cfg.KayentaURL)
		deps.Executor = executor.New(cfg.KayentaURL, cfg.MetricsAccount, cfg.StorageAccount)
	}
	if lib, err := library.New(cfg.RedisURL); err != nil {
		logging.Warn(component, "redis unavailable, config library disabled", "url", cfg.RedisURL, "error", err)
	} else {
		defer lib.Close()
		deps.Library = lib
	}
	if store, err := artifacts.NewRedisStore(cfg.RedisURL); err != nil {
		logging.Warn(component, "redis unavailable, exports disabled", "url", cfg.RedisURL, "error", err)
	} else {
		defer store.Close()
		deps.Artifacts = store
	}

	deps.Sessions = session.NewManager(session.Options{
		TTL:            cfg.SessionTTL,
		Template:       defaults.Template,
		UngroupedGroup: defaults.UngroupedGroup,
		Publisher:      publisher,
		Subject:        cfg.EventSubject,
		Metrics:        infraMetrics.NewProm("referee_editor"),
	})
	go deps.Sessions.Reap(ctx, reapInterval)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", infraMetrics.Handler())
	metricsSrv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logging.Info(component, "metrics listening", "addr", cfg.MetricsAddr+"/metrics")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(component, "metrics server error", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewHandler(deps),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info(component, "http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = metricsSrv.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logging.Error(component, "http server error", "error", err)
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logging.Info(component, "stopped")
	return nil
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	events := map[string]any{"connected": false, "status": "DISABLED"}
	if s.events != nil {
		events["connected"] = s.events.IsConnected()
		events["status"] = s.events.Status()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":       s.sessions.Len(),
		"library":        s.library != nil,
		"artifacts":      s.artifacts != nil,
		"events":         events,
		"executor":       s.executor != nil,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// --- Middleware ---

func (s *server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			if !s.isAllowedOrigin(r) {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+headerAPIKey)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) isAllowedOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients often omit Origin; treat as allowed.
		return true
	}
	if s.allowAll {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if len(s.origins) == 0 {
		host := strings.ToLower(u.Hostname())
		switch host {
		case "localhost", "127.0.0.1", "::1":
			return true
		}
		reqHost := strings.ToLower(requestHostname(r.Host))
		return reqHost != "" && host == reqHost
	}
	_, ok := s.origins[origin]
	return ok
}

func originSet(origins []string) (map[string]struct{}, bool) {
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return nil, true
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return set, false
}

func requestHostname(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil && host != "" {
		return host
	}
	return hostport
}

func (s *server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || !strings.HasPrefix(r.URL.Path, "/api/") || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiter.Allow() {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware enforces the shared API key when one is configured.
func (s *server) apiKeyMiddleware(next http.Handler) http.Handler {
	if s.apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}
		key := normalizeAPIKey(r.Header.Get(headerAPIKey))
		if key == "" && websocket.IsWebSocketUpgrade(r) {
			key = apiKeyFromWebSocket(r)
		}
		if key != s.apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func normalizeAPIKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	// Common .env mistake: quoting values (e.g. "super-secret-key").
	key = strings.Trim(key, "\"'")
	return strings.TrimSpace(key)
}

// apiKeyFromWebSocket reads the key browsers pass as a second subprotocol,
// since they cannot set headers on websocket requests.
func apiKeyFromWebSocket(r *http.Request) string {
	protocols := websocket.Subprotocols(r)
	for i, p := range protocols {
		if p == wsAPIKeyProtocol && i+1 < len(protocols) {
			return normalizeAPIKey(protocols[i+1])
		}
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack forwards websocket hijacking support to the underlying writer when available.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("hijacker not supported")
	}
	return hj.Hijack()
}

// Flush preserves streaming support if the wrapped writer implements it.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// instrumented wraps handlers to record metrics.
func (s *server) instrumented(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.ObserveRequest(r.Method, route, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error(component, "encode response failed", "error", err)
	}
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}
