// Package editor holds the in-memory editing state of a single canary
// configuration document.
//
// A Store is the single source of truth for one edit session: it owns the
// document, the derived view state (selected group, edit flag, touched fields,
// finalize latch) and recomputes validation errors and effective group weights
// on every read. User input problems never surface as Go errors; they either
// leave the store untouched or show up in Errors.
//
// A Store is not safe for concurrent use. Callers that share one across
// goroutines must serialize access (see core/session).
package editor

import (
	"sort"
	"strings"

	"github.com/refereehq/referee/core/canary"
)

// DefaultUngroupedGroup receives metrics whose only group was removed.
const DefaultUngroupedGroup = "ungrouped"

// Touch keys used to gate error display.
const (
	TouchName         = "name"
	TouchDescription  = "description"
	TouchMetrics      = "metrics"
	TouchGroups       = "groups"
	TouchGroupWeights = "groupWeights"
)

// State is a read-only snapshot of the store. Every map and slice is a copy.
type State struct {
	CanaryConfig                      canary.Config      `json:"canaryConfigObject"`
	SyntheticGroups                   []string           `json:"syntheticGroups"`
	SelectedGroup                     string             `json:"selectedGroup"`
	IsEditCurGroup                    bool               `json:"isEditCurGroup"`
	ComputedGroupWeights              map[string]float64 `json:"computedGroupWeights"`
	Errors                            map[string]string  `json:"errors"`
	ErrorCodes                        map[string]Code    `json:"errorCodes"`
	VisibleErrors                     map[string]string  `json:"visibleErrors"`
	Touched                           map[string]bool    `json:"touched"`
	HasTheCopyOrSaveButtonBeenClicked bool               `json:"hasTheCopyOrSaveButtonBeenClicked"`
	IsCanaryConfigValid               bool               `json:"isCanaryConfigValid"`
	Revision                          uint64             `json:"revision"`
}

// Listener receives the state after each mutation. Listeners must not modify
// the snapshot or call back into the store.
type Listener func(State)

type listenerEntry struct {
	id int
	fn Listener
}

// Option customizes a Store.
type Option func(*Store)

// WithUngroupedGroup overrides the bucket that receives orphaned metrics.
func WithUngroupedGroup(name string) Option {
	return func(s *Store) {
		if name = strings.TrimSpace(name); name != "" {
			s.ungrouped = name
		}
	}
}

// Store owns one canary configuration document and its editing state.
type Store struct {
	doc            canary.Config
	createdGroups  []string
	selectedGroup  string
	isEditCurGroup bool
	touched        map[string]bool
	clicked        bool
	rejections     map[string]rejection
	revision       uint64
	ungrouped      string

	listeners    []listenerEntry
	nextListener int
}

// New returns a store editing a copy of cfg.
func New(cfg canary.Config, opts ...Option) *Store {
	s := &Store{ungrouped: DefaultUngroupedGroup}
	for _, opt := range opts {
		opt(s)
	}
	s.reset(cfg)
	return s
}

// Subscribe registers fn to run after every state-changing mutation and
// returns a function that removes it.
func (s *Store) Subscribe(fn Listener) func() {
	if fn == nil {
		return func() {}
	}
	s.nextListener++
	id := s.nextListener
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	return func() {
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// GetState returns a snapshot with every derived field recomputed.
func (s *Store) GetState() State {
	issues := s.issues()
	errs := make(map[string]string, len(issues))
	codes := make(map[string]Code, len(issues))
	for field, is := range issues {
		errs[field] = is.message
		codes[field] = is.code
	}
	touched := make(map[string]bool, len(s.touched))
	for k, v := range s.touched {
		touched[k] = v
	}
	return State{
		CanaryConfig:                      s.doc.Clone(),
		SyntheticGroups:                   s.SyntheticGroups(),
		SelectedGroup:                     s.selectedGroup,
		IsEditCurGroup:                    s.isEditCurGroup,
		ComputedGroupWeights:              s.ComputedGroupWeights(),
		Errors:                            errs,
		ErrorCodes:                        codes,
		VisibleErrors:                     s.visible(errs),
		Touched:                           touched,
		HasTheCopyOrSaveButtonBeenClicked: s.clicked,
		IsCanaryConfigValid:               len(errs) == 0,
		Revision:                          s.revision,
	}
}

// CanaryConfig returns a copy of the document being edited.
func (s *Store) CanaryConfig() canary.Config {
	return s.doc.Clone()
}

// SelectedGroup returns the active group, or "" when none is selected.
func (s *Store) SelectedGroup() string { return s.selectedGroup }

// IsEditCurGroup reports whether the selected group is in edit mode.
func (s *Store) IsEditCurGroup() bool { return s.isEditCurGroup }

// HasTheCopyOrSaveButtonBeenClicked reports whether the finalize latch is set.
func (s *Store) HasTheCopyOrSaveButtonBeenClicked() bool { return s.clicked }

// Revision counts state-changing mutations since the store was created.
func (s *Store) Revision() uint64 { return s.revision }

// Touched returns the sorted touched field ids.
func (s *Store) Touched() []string {
	out := make([]string, 0, len(s.touched))
	for k := range s.touched {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SetCanaryConfigObject replaces the whole document and resets all editing
// state: nothing from the previous document carries over.
func (s *Store) SetCanaryConfigObject(cfg canary.Config) {
	s.reset(cfg)
	s.commit()
}

// UpdateConfigName sets the document name and marks it touched.
func (s *Store) UpdateConfigName(value string) {
	if s.doc.Name == value && s.touched[TouchName] {
		return
	}
	s.doc.Name = value
	s.touched[TouchName] = true
	s.commit()
}

// UpdateConfigDescription sets the document description and marks it touched.
func (s *Store) UpdateConfigDescription(value string) {
	if s.doc.Description == value && s.touched[TouchDescription] {
		return
	}
	s.doc.Description = value
	s.touched[TouchDescription] = true
	s.commit()
}

// Touch records that the user interacted with id.
func (s *Store) Touch(id string) {
	id = strings.TrimSpace(id)
	if id == "" || s.touched[id] {
		return
	}
	s.touched[id] = true
	s.commit()
}

// MarkHasTheCopyOrSaveButtonBeenClickedFlagAsTrue latches error visibility on
// for every field. The latch never resets until the document is replaced.
func (s *Store) MarkHasTheCopyOrSaveButtonBeenClickedFlagAsTrue() {
	if s.clicked {
		return
	}
	s.clicked = true
	s.commit()
}

func (s *Store) reset(cfg canary.Config) {
	doc := cfg.Clone()
	doc.Normalize()
	for i := range doc.Metrics {
		doc.Metrics[i].Groups = cleanGroups(doc.Metrics[i].Groups)
	}
	s.doc = doc
	s.createdGroups = nil
	s.isEditCurGroup = false
	s.touched = map[string]bool{}
	s.clicked = false
	s.rejections = map[string]rejection{}
	s.selectedGroup = ""
	if groups := s.SyntheticGroups(); len(groups) > 0 {
		s.selectedGroup = groups[0]
	}
}

func (s *Store) commit() {
	s.pruneRejections()
	s.revision++
	if len(s.listeners) == 0 {
		return
	}
	state := s.GetState()
	listeners := append([]listenerEntry(nil), s.listeners...)
	for _, l := range listeners {
		l.fn(state)
	}
}
