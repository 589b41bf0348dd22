package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/refereehq/referee/core/canary"
	"github.com/refereehq/referee/core/editor"
	"github.com/refereehq/referee/core/infra/artifacts"
	"github.com/refereehq/referee/core/infra/bus"
	"github.com/refereehq/referee/core/loader"
	"github.com/refereehq/referee/core/session"
)

type sessionResponse struct {
	ID    string       `json:"id"`
	State editor.State `json:"state"`
}

type exportResponse struct {
	ArtifactPtr string        `json:"artifact_ptr"`
	Config      canary.Config `json:"config"`
	State       editor.State  `json:"state"`
}

type saveResponse struct {
	ID       string       `json:"id"`
	Revision int64        `json:"revision"`
	Hash     string       `json:"hash"`
	State    editor.State `json:"state"`
}

func (s *server) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return nil, false
	}
	return sess, true
}

// mutate runs fn against the session store and answers with the new state.
func (s *server) mutate(w http.ResponseWriter, r *http.Request, op string, fn func(*editor.Store)) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Do(op, fn))
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	sess := s.sessions.Create(req.Config)
	writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID(), State: sess.State()})
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": s.sessions.List()})
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{ID: sess.ID(), State: sess.State()})
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.PathValue("id")); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "config too large"})
		return
	}
	state, err := sess.Load("http", func() (*canary.Config, error) { return loader.ParseJSON(body) })
	if err != nil {
		resp := errorResponse{Error: err.Error()}
		var loadErr *loader.LoadError
		if errors.As(err, &loadErr) {
			resp.Violations = loadErr.Violations
		}
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *server) handleUpdateName(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	s.mutate(w, r, "updateConfigName", func(st *editor.Store) { st.UpdateConfigName(*req.Value) })
}

func (s *server) handleUpdateDescription(w http.ResponseWriter, r *http.Request) {
	var req valueRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	s.mutate(w, r, "updateConfigDescription", func(st *editor.Store) { st.UpdateConfigDescription(*req.Value) })
}

func (s *server) handleTouch(w http.ResponseWriter, r *http.Request) {
	var req touchRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	s.mutate(w, r, "touch", func(st *editor.Store) { st.Touch(req.ID) })
}

func (s *server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "finalize", (*editor.Store).MarkHasTheCopyOrSaveButtonBeenClickedFlagAsTrue)
}

func (s *server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "createNewGroup", (*editor.Store).CreateNewGroup)
}

func (s *server) handleSelectGroup(w http.ResponseWriter, r *http.Request) {
	var req selectGroupRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	s.mutate(w, r, "updateSelectedGroup", func(st *editor.Store) { st.UpdateSelectedGroup(req.Name) })
}

func (s *server) handleToggleEditGroup(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, r, "toggleEditCurrentGroup", (*editor.Store).ToggleEditCurrentGroup)
}

func (s *server) handleRenameGroup(w http.ResponseWriter, r *http.Request) {
	var req renameGroupRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	group := r.PathValue("group")
	s.mutate(w, r, "updateGroupName", func(st *editor.Store) { st.UpdateGroupName(group, *req.Name) })
}

func (s *server) handleRemoveGroup(w http.ResponseWriter, r *http.Request) {
	group := r.PathValue("group")
	s.mutate(w, r, "removeSyntheticGroup", func(st *editor.Store) { st.RemoveSyntheticGroup(group) })
}

func (s *server) handleGroupWeight(w http.ResponseWriter, r *http.Request) {
	var req weightRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	weight, text, isText, err := parseWeight(req.Weight)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	group := r.PathValue("group")
	s.mutate(w, r, "updateGroupWeight", func(st *editor.Store) {
		if isText {
			st.UpdateGroupWeightText(group, text)
			return
		}
		st.UpdateGroupWeight(group, weight)
	})
}

func (s *server) handleCreateOrUpdateMetric(w http.ResponseWriter, r *http.Request) {
	var req metricRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	var existing *canary.Metric
	if req.Existing != nil {
		existing = &canary.Metric{Name: *req.Existing}
	}
	s.mutate(w, r, "createOrUpdateMetric", func(st *editor.Store) { st.CreateOrUpdateMetric(req.Metric, existing) })
}

func (s *server) handleCopyMetric(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("metric")
	s.mutate(w, r, "copyMetric", func(st *editor.Store) { st.CopyMetric(name) })
}

func (s *server) handleDeleteMetric(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("metric")
	s.mutate(w, r, "deleteMetric", func(st *editor.Store) { st.DeleteMetric(name) })
}

// handleExport is the copy button: it latches error visibility, and a valid
// document is stored as an artifact.
func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req exportRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	state := sess.Do("finalize", (*editor.Store).MarkHasTheCopyOrSaveButtonBeenClickedFlagAsTrue)
	if !state.IsCanaryConfigValid {
		writeJSON(w, http.StatusUnprocessableEntity, state)
		return
	}
	if s.artifacts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: artifacts.ErrUnavailable.Error()})
		return
	}
	data, err := loader.Pretty(state.CanaryConfig)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	retention, _ := artifacts.ParseRetention(req.Retention)
	ptr, err := s.artifacts.Put(r.Context(), data, artifacts.Metadata{
		ContentType: "application/json",
		Retention:   retention,
		Labels: map[string]string{
			"session_id":  sess.ID(),
			"config_name": state.CanaryConfig.Name,
		},
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	sess.Record(bus.KindExported, ptr)
	writeJSON(w, http.StatusOK, exportResponse{ArtifactPtr: ptr, Config: state.CanaryConfig, State: state})
}

// handleSave is the save button: it latches error visibility, and a valid
// document is written to the library.
func (s *server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req saveRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	state := sess.Do("finalize", (*editor.Store).MarkHasTheCopyOrSaveButtonBeenClickedFlagAsTrue)
	if !state.IsCanaryConfigValid {
		writeJSON(w, http.StatusUnprocessableEntity, state)
		return
	}
	if s.library == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "config library unavailable"})
		return
	}
	entry, err := s.library.Save(r.Context(), req.ID, state.CanaryConfig)
	if err != nil {
		writeStoreError(w, err, "config not found")
		return
	}
	sess.Record(bus.KindSaved, entry.ID)
	writeJSON(w, http.StatusOK, saveResponse{ID: entry.ID, Revision: entry.Revision, Hash: entry.Hash, State: state})
}
