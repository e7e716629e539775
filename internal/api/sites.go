package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"git.home.luguber.info/inful/webship/internal/foundation/errors"
)

func (s *Server) handleSiteRedirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
}

// handleSite serves the live release of an application. The live link is
// swapped atomically on publish, so each request sees one whole release.
func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if !validSlug(slug) {
		s.Error(w, r, errors.ValidationError("invalid site name").WithContext("slug", slug).Build())
		return
	}
	prefix := "/sites/" + slug
	http.StripPrefix(prefix, http.FileServer(http.Dir(s.sites.SiteDir(slug)))).ServeHTTP(w, r)
}

func validSlug(slug string) bool {
	if slug == "" || strings.HasPrefix(slug, ".") {
		return false
	}
	return !strings.ContainsAny(slug, `/\`)
}
