// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/strmd/strmd/internal/catalog"
)

// handleDirsList returns the full approved-directory set, active or not.
func (s *Server) handleDirsList(w http.ResponseWriter, r *http.Request) {
	dirs, err := s.store.ApprovedDirectories(r.Context())
	if err != nil {
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, dirs)
}

type addDirRequest struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
}

func (s *Server) handleDirsAdd(w http.ResponseWriter, r *http.Request) {
	var req addDirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeBadRequest(w, "path is required")
		return
	}

	kind := catalog.KindLocal
	switch req.Kind {
	case "", string(catalog.KindLocal):
	case string(catalog.KindRemote):
		kind = catalog.KindRemote
	default:
		writeBadRequest(w, "kind must be local or remote")
		return
	}

	dir, err := s.store.AddDirectory(r.Context(), req.Path, kind)
	if err != nil {
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusCreated, dir)
}

type patchDirRequest struct {
	Active *bool `json:"active"`
}

func (s *Server) handleDirsPatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid directory id")
		return
	}

	var req patchDirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Active == nil {
		writeBadRequest(w, "active is required")
		return
	}

	if err := s.store.SetActive(r.Context(), id, *req.Active); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "active": *req.Active})
}

func (s *Server) handleDirsDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid directory id")
		return
	}

	if err := s.store.RemoveDirectory(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeNotFound(w)
			return
		}
		writeInternalError(w)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
