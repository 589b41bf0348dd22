package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultEditorSubject carries editor change events.
const DefaultEditorSubject = "referee.editor.events"

// Editor event kinds.
const (
	KindSessionCreated = "session.created"
	KindSessionClosed  = "session.closed"
	KindMutation       = "editor.mutation"
	KindLoadFailed     = "editor.load_failed"
	KindSaved          = "library.saved"
	KindExported       = "artifact.exported"
	KindExecuted       = "canary.executed"
)

// EditorEvent describes one observable change in an editing session.
type EditorEvent struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id"`
	Op         string    `json:"op,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Revision   uint64    `json:"revision"`
	ConfigName string    `json:"config_name,omitempty"`
	Valid      bool      `json:"valid"`
	ErrorCount int       `json:"error_count"`
	Detail     string    `json:"detail,omitempty"`
	Time       time.Time `json:"time"`
}

// Encode marshals the event for the wire.
func (e *EditorEvent) Encode() ([]byte, error) {
	if e == nil {
		return nil, errNilEvent
	}
	return json.Marshal(e)
}

// DecodeEvent parses an event from the wire.
func DecodeEvent(data []byte) (*EditorEvent, error) {
	var ev EditorEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode editor event: %w", err)
	}
	return &ev, nil
}

// Publisher delivers editor events.
type Publisher interface {
	Publish(subject string, ev *EditorEvent) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(string, *EditorEvent) error { return nil }
