// ABOUTME: File transfer HTTP handlers: staging uploads, staged downloads, slot uploads, one-time fetches.
// ABOUTME: These endpoints are what the transfer command URLs built by the orchestrator point at.

package server

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/drover-hq/drover/internal/transfer"
)

const maxUploadBytes = 1 << 30 // 1 GiB

// handleStageFile accepts a multipart "file" field from the operator and
// places it in the staging area for agents to pull.
func (s *Server) handleStageFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file field: "+err.Error())
		return
	}
	defer file.Close()

	url, err := s.staging.StageFile(header.Filename, file)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"name": filepath.Base(header.Filename),
		"url":  url,
	})
}

// handleDownloadStaged serves a staged file to a pulling agent.
func (s *Server) handleDownloadStaged(w http.ResponseWriter, r *http.Request) {
	path := s.staging.StagePath(r.PathValue("name"))
	http.ServeFile(w, r, path)
}

// handleUpload receives an agent's pushed file into its upload slot.
// Uploads to slots that were never allocated are rejected.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing file field: "+err.Error())
		return
	}
	defer file.Close()

	if _, err := s.staging.SaveUpload(r.PathValue("slot"), header.Filename, file); err != nil {
		if errors.Is(err, transfer.ErrUnknownSlot) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

// handleFetchOnce redeems a one-time download link. A second request for the
// same token gets 410.
func (s *Server) handleFetchOnce(w http.ResponseWriter, r *http.Request) {
	path, err := s.staging.RedeemLink(r.PathValue("token"))
	if err != nil {
		s.writeError(w, http.StatusGone, err.Error())
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(path)+"\"")
	http.ServeFile(w, r, path)
}
