package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Preview returns the field-by-field mapping that a fill would apply, plus
// whether the record is complete enough for a full fill.
func (s *Server) Preview(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Preview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// Fill starts an asynchronous fill job for the session. Pass ?partial=true to
// fill whatever is confirmed even when required fields are missing.
func (s *Server) Fill(w http.ResponseWriter, r *http.Request) {
	partial := r.URL.Query().Get("partial") == "true"
	job, err := s.engine.Fill(r.Context(), chi.URLParam(r, "id"), partial)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusAccepted, job)
}

// FillStatus reports the session's most recent fill job.
func (s *Server) FillStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, job)
}

// Screenshot serves the PNG captured at the end of the fill. For a job paused
// on a manual verification step this shows the page the operator must finish.
func (s *Server) Screenshot(w http.ResponseWriter, r *http.Request) {
	png, err := s.engine.Screenshot(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
