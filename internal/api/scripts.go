package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

// ScriptInfo describes one registered script.
type ScriptInfo struct {
	Name string `json:"name"`
}

// SchemaResponse is the configuration schema of a script. Schema is the
// parsed document; Raw is the YAML text the script declares. Both are empty
// for scripts that take no configuration.
type SchemaResponse struct {
	Name   string `json:"name"`
	Schema any    `json:"schema,omitempty"`
	Raw    string `json:"raw"`
}

// handleListScripts returns the registered script names in order.
func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	out := []ScriptInfo{}
	for _, name := range s.registry.List() {
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		out = append(out, ScriptInfo{Name: name})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"scripts": out,
		"count":   len(out),
	})
}

// handleGetSchema serves /scripts/{name}/schema, where name may contain
// slashes.
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	name, ok := strings.CutSuffix(path, "/schema")
	if !ok || name == "" {
		fail(w, r, http.StatusNotFound, "not found")
		return
	}
	if !s.registry.Has(name) {
		fail(w, r, http.StatusNotFound, "script not found: "+name)
		return
	}

	inst, err := s.registry.New(name, s.scripts, schemaIndex)
	if err != nil {
		s.logger.Error("building script for schema", "script", name, "error", err)
		fail(w, r, http.StatusInternalServerError, "failed to build script")
		return
	}

	resp := SchemaResponse{Name: name, Raw: inst.Schema()}
	if strings.TrimSpace(resp.Raw) != "" {
		var doc map[string]any
		if err := yaml.Unmarshal([]byte(resp.Raw), &doc); err != nil {
			s.logger.Error("script schema does not parse", "script", name, "error", err)
			fail(w, r, http.StatusInternalServerError, "invalid script schema")
			return
		}
		resp.Schema = doc
	}

	writeJSON(w, http.StatusOK, resp)
}
