// Package session keeps editor stores alive between requests and fans their
// state out to watchers, the event bus and metrics.
package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/refereehq/referee/core/canary"
	"github.com/refereehq/referee/core/editor"
	"github.com/refereehq/referee/core/infra/bus"
	"github.com/refereehq/referee/core/infra/logging"
	"github.com/refereehq/referee/core/infra/metrics"
	"github.com/refereehq/referee/core/loader"
)

const (
	// DefaultTTL is how long an idle session survives a reap.
	DefaultTTL = 30 * time.Minute

	watchBuffer = 16
	component   = "session"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Options configures a Manager. Zero values fall back to defaults.
type Options struct {
	TTL            time.Duration
	Template       canary.Template
	UngroupedGroup string
	Publisher      bus.Publisher
	Subject        string
	Metrics        metrics.EditorMetrics
}

// Info summarizes a session for listings.
type Info struct {
	ID         string    `json:"id"`
	ConfigName string    `json:"config_name"`
	Revision   uint64    `json:"revision"`
	Valid      bool      `json:"valid"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Manager owns every live session.
type Manager struct {
	opts Options
	now  func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a Manager.
func NewManager(opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Publisher == nil {
		opts.Publisher = bus.Noop{}
	}
	if strings.TrimSpace(opts.Subject) == "" {
		opts.Subject = bus.DefaultEditorSubject
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Manager{
		opts:     opts,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts a session editing a copy of cfg, or a blank document from the
// configured template when cfg is nil.
func (m *Manager) Create(cfg *canary.Config) *Session {
	doc := canary.NewConfig(m.opts.Template)
	if cfg != nil {
		doc = cfg.Clone()
	}
	now := m.now()
	s := &Session{
		id:         uuid.NewString(),
		mgr:        m,
		createdAt:  now,
		lastActive: now,
		store:      editor.New(doc, editor.WithUngroupedGroup(m.opts.UngroupedGroup)),
		watchers:   make(map[int]chan editor.State),
	}
	s.store.Subscribe(s.broadcast)

	m.mu.Lock()
	m.sessions[s.id] = s
	active := len(m.sessions)
	m.mu.Unlock()

	m.opts.Metrics.SetActiveSessions(active)
	s.mu.Lock()
	s.publishLocked(bus.KindSessionCreated, "", "", "")
	s.mu.Unlock()
	logging.Info(component, "session created", "id", s.id, "config", doc.Name)
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete closes and forgets the session with id.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	active := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	m.opts.Metrics.SetActiveSessions(active)
	s.close("deleted")
	return nil
}

// List returns every session, most recently active first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActive.Equal(out[j].LastActive) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap expires idle sessions every interval until ctx ends.
func (m *Manager) Reap(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Expire(); n > 0 {
				logging.Info(component, "expired idle sessions", "count", n)
			}
		}
	}
}

// Expire closes every session idle for longer than the TTL and reports how
// many were removed.
func (m *Manager) Expire() int {
	cutoff := m.now().Add(-m.opts.TTL)
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	active := len(m.sessions)
	m.mu.Unlock()
	if len(expired) == 0 {
		return 0
	}
	m.opts.Metrics.SetActiveSessions(active)
	for _, s := range expired {
		s.close("expired")
	}
	return len(expired)
}

// Session serializes access to one editor store.
type Session struct {
	id        string
	mgr       *Manager
	createdAt time.Time

	mu         sync.Mutex
	store      *editor.Store
	lastActive time.Time
	closed     bool

	watchMu   sync.Mutex
	watchers  map[int]chan editor.State
	nextWatch int
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session started.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Info summarizes the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.store.CanaryConfig()
	return Info{
		ID:         s.id,
		ConfigName: doc.Name,
		Revision:   s.store.Revision(),
		Valid:      s.store.IsCanaryConfigValid(),
		CreatedAt:  s.createdAt,
		LastActive: s.lastActive,
	}
}

// State returns the current snapshot.
func (s *Session) State() editor.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.mgr.now()
	return s.store.GetState()
}

// Do runs fn against the store while holding the session lock and returns
// the resulting state. op names the operation for events and metrics.
func (s *Session) Do(op string, fn func(*editor.Store)) editor.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.mgr.now()

	before := s.store.Revision()
	beforeDoc := s.store.CanaryConfig()
	beforeErrs := s.store.ErrorCodes()
	if fn != nil {
		fn(s.store)
	}
	outcome := metrics.OutcomeNoop
	if s.store.Revision() != before {
		outcome = metrics.OutcomeApplied
		if rejected(beforeDoc, s.store.CanaryConfig(), beforeErrs, s.store.ErrorCodes()) {
			outcome = metrics.OutcomeRejected
		}
	}
	s.mgr.opts.Metrics.IncOperation(op, outcome)
	if outcome != metrics.OutcomeNoop {
		s.publishLocked(bus.KindMutation, op, outcome, "")
	}
	return s.store.GetState()
}

// Load replaces the document with whatever load produces. A failed load
// leaves the store unchanged and is returned.
func (s *Session) Load(source string, load func() (*canary.Config, error)) (editor.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = s.mgr.now()

	var loadErr error
	if loader.Apply(s.store, load, func(err error) { loadErr = err }) {
		s.mgr.opts.Metrics.IncLoad(source, metrics.OutcomeApplied)
		s.publishLocked(bus.KindMutation, "load:"+source, metrics.OutcomeApplied, "")
		return s.store.GetState(), nil
	}
	s.mgr.opts.Metrics.IncLoad(source, metrics.OutcomeError)
	s.publishLocked(bus.KindLoadFailed, "load:"+source, metrics.OutcomeError, errString(loadErr))
	return s.store.GetState(), loadErr
}

// Record publishes an event of kind about the current document, for actions
// that happen outside the store such as saves and exports.
func (s *Session) Record(kind, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publishLocked(kind, "", "", detail)
}

// Watch returns a channel receiving the state after every change, starting
// with the current one. Snapshots are dropped for watchers that fall behind.
// The channel is closed by cancel or when the session ends.
func (s *Session) Watch() (<-chan editor.State, func()) {
	ch := make(chan editor.State, watchBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	ch <- s.store.GetState()
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	s.watchMu.Lock()
	s.nextWatch++
	id := s.nextWatch
	s.watchers[id] = ch
	s.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.watchMu.Lock()
			if c, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(c)
			}
			s.watchMu.Unlock()
		})
	}
}

func (s *Session) broadcast(state editor.State) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for id, ch := range s.watchers {
		select {
		case ch <- state:
		default:
			logging.Warn(component, "dropping snapshot for slow watcher", "session", s.id, "watcher", id, "revision", state.Revision)
		}
	}
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.publishLocked(bus.KindSessionClosed, "", "", reason)
	s.mu.Unlock()

	s.watchMu.Lock()
	for id, ch := range s.watchers {
		delete(s.watchers, id)
		close(ch)
	}
	s.watchMu.Unlock()
	logging.Info(component, "session closed", "id", s.id, "reason", reason)
}

func (s *Session) publishLocked(kind, op, outcome, detail string) {
	doc := s.store.CanaryConfig()
	ev := &bus.EditorEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		SessionID:  s.id,
		Op:         op,
		Outcome:    outcome,
		Revision:   s.store.Revision(),
		ConfigName: doc.Name,
		Valid:      s.store.IsCanaryConfigValid(),
		ErrorCount: len(s.store.Errors()),
		Detail:     detail,
		Time:       s.mgr.now().UTC(),
	}
	if err := s.mgr.opts.Publisher.Publish(s.mgr.opts.Subject, ev); err != nil {
		logging.Warn(component, "publish editor event failed", "session", s.id, "kind", kind, "error", err)
	}
}

// rejected reports an operation that left the document alone but raised a
// new validation error.
func rejected(beforeDoc, afterDoc canary.Config, beforeErrs, afterErrs map[string]editor.Code) bool {
	grew := false
	for field, code := range afterErrs {
		if prev, ok := beforeErrs[field]; !ok || prev != code {
			grew = true
			break
		}
	}
	if !grew {
		return false
	}
	before, err := canary.Hash(beforeDoc)
	if err != nil {
		return false
	}
	after, err := canary.Hash(afterDoc)
	if err != nil {
		return false
	}
	return before == after
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
