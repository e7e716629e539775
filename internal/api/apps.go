package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/webship/internal/build"
	"git.home.luguber.info/inful/webship/internal/foundation/errors"
	"git.home.luguber.info/inful/webship/internal/store"
)

const maxBodyBytes = 1 << 20

// CreateAppRequest registers an application.
type CreateAppRequest struct {
	Name    string `json:"name"`
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch,omitempty"`
	OwnerID string `json:"owner_id,omitempty"`
}

// UpdateAppRequest edits an application; absent fields are left unchanged.
type UpdateAppRequest struct {
	Name   *string `json:"name,omitempty"`
	Branch *string `json:"branch,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// CreateAppResponse carries the new application and its first build.
type CreateAppResponse struct {
	Application *build.Application `json:"application"`
	Build       SubmitResponse     `json:"build"`
}

func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	var req CreateAppRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}
	app := &build.Application{
		Name:    req.Name,
		RepoURL: req.RepoURL,
		Branch:  strings.TrimSpace(req.Branch),
		OwnerID: req.OwnerID,
	}
	b, err := s.scheduler.RegisterApplication(r.Context(), app)
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusCreated, CreateAppResponse{Application: app, Build: submitted(b)})
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := s.store.ListApplications(r.Context())
	if err != nil {
		s.Error(w, r, err)
		return
	}
	if apps == nil {
		apps = []build.Application{}
	}
	s.Success(w, http.StatusOK, apps)
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) {
	app, err := s.store.GetApplication(r.Context(), chi.URLParam(r, "appID"))
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, app)
}

func (s *Server) handleUpdateApp(w http.ResponseWriter, r *http.Request) {
	var req UpdateAppRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.Error(w, r, err)
		return
	}
	app, err := s.store.UpdateApplication(r.Context(), chi.URLParam(r, "appID"), store.ApplicationUpdate{
		Name:   req.Name,
		Branch: req.Branch,
		Active: req.Active,
	})
	if err != nil {
		s.Error(w, r, err)
		return
	}
	s.Success(w, http.StatusOK, app)
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.ValidationError("invalid request body").WithCause(err).Build()
	}
	return nil
}
