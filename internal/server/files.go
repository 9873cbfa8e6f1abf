package server

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/snapbin/snapbin/internal/store"
)

// serveObject returns a handler reading objects from st by filename. A
// non-empty contentType overrides detection, which keeps pastes rendering as
// plain text instead of whatever the browser sniffs.
func (s *Server) serveObject(st *store.Store, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if !validObjectName(name) {
			writeJSON(w, http.StatusNotFound, false, "not found")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		http.ServeFile(w, r, filepath.Join(st.Dir(), name))
	}
}

// validObjectName accepts only bare filenames, keeping requests inside the
// flat object directory.
func validObjectName(name string) bool {
	if name == "" || name[0] == '.' {
		return false
	}
	if strings.ContainsAny(name, "/\\") {
		return false
	}
	return filepath.Base(name) == name
}
