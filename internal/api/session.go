package api

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// textRequest is the body of POST /session/{id}/text.
type textRequest struct {
	Text string `json:"text"`
}

// StartSession creates a new conversation and returns it with the first
// question group.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.machine.Start(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	questions, err := s.machine.CurrentQuestions(r.Context(), sess.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, map[string]any{
		"session":   sess,
		"questions": questions,
	})
}

// GetSession returns the full session, turn log included.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.machine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, sess)
}

// Questions returns the prompts for the session's active group.
func (s *Server) Questions(w http.ResponseWriter, r *http.Request) {
	q, err := s.machine.CurrentQuestions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, q)
}

// SubmitText processes one typed answer turn.
func (s *Server) SubmitText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text must not be empty")
		return
	}
	res, err := s.machine.SubmitText(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// SubmitAudio processes one spoken answer turn. The request is multipart form
// data with the recording in the "audio" field; the format is taken from the
// optional "format" field, falling back to the upload's file extension.
func (s *Server) SubmitAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxAudioBytes)
	if err := r.ParseMultipartForm(s.maxAudioBytes); err != nil {
		Error(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		Error(w, http.StatusBadRequest, `missing "audio" form file`)
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		Error(w, http.StatusBadRequest, "read audio: "+err.Error())
		return
	}
	if len(audio) == 0 {
		Error(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	format := r.FormValue("format")
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	}

	res, err := s.machine.SubmitAudio(r.Context(), chi.URLParam(r, "id"), audio, format)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Skip abandons the optional fields of the active group and moves on.
func (s *Server) Skip(w http.ResponseWriter, r *http.Request) {
	res, err := s.machine.Skip(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Data returns the accumulated record with per-field states and a completion
// percentage.
func (s *Server) Data(w http.ResponseWriter, r *http.Request) {
	d, err := s.machine.Data(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, d)
}

// DeleteSession discards the session. Deleting an unknown session succeeds.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
