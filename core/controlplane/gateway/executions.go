package gateway

import (
	"context"
	"net/http"

	"github.com/refereehq/referee/core/canary"
	"github.com/refereehq/referee/core/editor"
	"github.com/refereehq/referee/core/executor"
	"github.com/refereehq/referee/core/infra/bus"
)

// Executor runs ad-hoc canary analyses of the edited document.
type Executor interface {
	Start(ctx context.Context, cfg canary.Config, req executor.Request) (string, error)
	Get(ctx context.Context, id string) (*executor.Execution, error)
}

type executeResponse struct {
	ExecutionID string       `json:"execution_id"`
	State       editor.State `json:"state"`
}

// handleExecute latches error visibility like save, then submits a valid
// document for analysis.
func (s *server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	var req executor.Request
	if !s.decode(w, r, &req, false) {
		return
	}
	state := sess.Do("finalize", (*editor.Store).MarkHasTheCopyOrSaveButtonBeenClickedFlagAsTrue)
	if !state.IsCanaryConfigValid {
		writeJSON(w, http.StatusUnprocessableEntity, state)
		return
	}
	if s.executor == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "canary execution unavailable"})
		return
	}
	id, err := s.executor.Start(r.Context(), state.CanaryConfig, req)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	sess.Record(bus.KindExecuted, id)
	writeJSON(w, http.StatusAccepted, executeResponse{ExecutionID: id, State: state})
}

func (s *server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	if s.executor == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "canary execution unavailable"})
		return
	}
	exec, err := s.executor.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if executor.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "execution not found"})
			return
		}
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, exec)
}
