package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/refereehq/referee/core/infra/artifacts"
	"github.com/refereehq/referee/core/library"
)

func (s *server) requireLibrary(w http.ResponseWriter) bool {
	if s.library == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "config library unavailable"})
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, redis.Nil) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: notFound})
		return
	}
	if errors.Is(err, library.ErrBusy) {
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func (s *server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	if !s.requireLibrary(w) {
		return
	}
	items, err := s.library.List(r.Context(), parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeStoreError(w, err, "config not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireLibrary(w) {
		return
	}
	entry, err := s.library.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "config not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireLibrary(w) {
		return
	}
	if err := s.library.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err, "config not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOpenConfig starts an editing session on a saved config.
func (s *server) handleOpenConfig(w http.ResponseWriter, r *http.Request) {
	if !s.requireLibrary(w) {
		return
	}
	entry, err := s.library.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "config not found")
		return
	}
	sess := s.sessions.Create(&entry.Config)
	writeJSON(w, http.StatusCreated, sessionResponse{ID: sess.ID(), State: sess.State()})
}

func (s *server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	if s.artifacts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: artifacts.ErrUnavailable.Error()})
		return
	}
	id, err := artifacts.IDFromPointer(strings.TrimSpace(r.PathValue("ptr")))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	content, meta, err := s.artifacts.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "artifact not found")
		return
	}
	resp := map[string]any{
		"artifact_ptr":   artifacts.PointerForID(id),
		"content_base64": base64.StdEncoding.EncodeToString(content),
		"metadata":       meta,
	}
	if ttl, ok := s.artifacts.(artifactTTL); ok {
		if left, err := ttl.TTL(r.Context(), id); err == nil && left > 0 {
			resp["expires_in_seconds"] = int64(left.Seconds())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// artifactTTL is implemented by stores that can report remaining retention.
type artifactTTL interface {
	TTL(ctx context.Context, ptr string) (time.Duration, error)
}
