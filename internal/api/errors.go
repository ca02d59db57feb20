package api

import (
	"errors"
	"net/http"

	"github.com/arji-ai/arji/internal/formfill"
	"github.com/arji-ai/arji/internal/session"
)

// writeError maps domain sentinels onto HTTP statuses. Transcription and
// extraction failures are marked retryable: the session state is untouched and
// the client should resubmit the same turn.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, formfill.ErrNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, formfill.ErrNotReady):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrExpired):
		Error(w, http.StatusGone, err.Error())
	case errors.Is(err, session.ErrAlreadyCompleted),
		errors.Is(err, formfill.ErrFillInProgress),
		errors.Is(err, formfill.ErrIncompleteRecord):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrRequiredFieldSkip):
		Error(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, session.ErrTranscription), errors.Is(err, session.ErrExtraction):
		JSON(w, http.StatusBadGateway, errorBody{Error: err.Error(), Retryable: true})
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}
