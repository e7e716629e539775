package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/queue"
)

const (
	defaultBuildLimit = 20
	maxBuildLimit     = 200
)

// SubmitRequest optionally overrides the branch or pins a commit for one build.
type SubmitRequest struct {
	Branch string `json:"branch,omitempty"`
	Commit string `json:"commit,omitempty"`
}

// SubmitResponse acknowledges a queued build.
type SubmitResponse struct {
	ID     string       `json:"id"`
	Status build.Status `json:"status"`
}

// BuildResponse is a build with its derived run time.
type BuildResponse struct {
	*build.Build
	DurationMS int64 `json:"duration_ms,omitempty"`
}

func submitted(b *build.Build) SubmitResponse {
	return SubmitResponse{ID: b.ID, Status: b.Status}
}

func buildResponse(b *build.Build) BuildResponse {
	return BuildResponse{Build: b, DurationMS: b.Duration().Milliseconds()}
}

func (s *Server) handleSubmitBuild(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}
	b, err := s.scheduler.Submit(r.Context(), chi.URLParam(r, "appID"), queue.SubmitOptions{
		Branch: strings.TrimSpace(req.Branch),
		Commit: strings.TrimSpace(req.Commit),
	})
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusAccepted, submitted(b))
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	if _, err := s.store.GetApplication(r.Context(), appID); err != nil {
		s.Error(w, r, err)
		return
	}
	builds, err := s.store.ListBuilds(r.Context(), appID, limit)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	out := make([]BuildResponse, 0, len(builds))
	for i := range builds {
		out = append(out, buildResponse(&builds[i]))
	}
	s.Success(w, http.StatusOK, out)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBuild(r.Context(), chi.URLParam(r, "buildID"))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, buildResponse(b))
}

func (s *Server) handleBuildLogs(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildID")
	if _, err := s.store.GetBuild(r.Context(), buildID); err != nil {
		s.Error(w, r, err)
		return
	}
	lines, err := s.store.Logs(r.Context(), buildID)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	if lines == nil {
		lines = []build.LogLine{}
	}
	s.Success(w, http.StatusOK, lines)
}

func (s *Server) handleCancelBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.scheduler.Cancel(r.Context(), chi.URLParam(r, "buildID"))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, buildResponse(b))
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultBuildLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.ValidationError("limit must be a positive integer").WithContext("limit", raw).Build()
	}
	return min(n, maxBuildLimit), nil
}
