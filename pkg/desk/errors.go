package desk

import (
	"errors"
	"net/http"

	"github.com/synaptica-ai/ecgdesk/pkg/analysis"
	"github.com/synaptica-ai/ecgdesk/pkg/common/logger"
	"github.com/synaptica-ai/ecgdesk/pkg/identity"
	"github.com/synaptica-ai/ecgdesk/pkg/lifecycle"
	"github.com/synaptica-ai/ecgdesk/pkg/records"
)

type errorResponse struct {
	Error   string              `json:"error"`
	Session *lifecycle.Snapshot `json:"session,omitempty"`
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case lifecycle.IsValidationError(err), errors.Is(err, records.ErrIncompleteRecord):
		return http.StatusBadRequest
	case errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrBusy),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrSessionReset):
		return http.StatusConflict
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case analysis.IsRemoteAnalysisError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, analysis.ErrRemoteUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, identity.ErrCapacityExceeded):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func logFailure(err error, status int) {
	entry := logger.Log.WithError(err).WithField("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
		return
	}
	entry.Debug("request rejected")
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	logFailure(err, status)
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeErrorStatus(w http.ResponseWriter, err error, status int, msg string) {
	if errors.As(err, new(*http.MaxBytesError)) {
		status = http.StatusRequestEntityTooLarge
		msg = "request body too large"
	}
	logger.Log.WithError(err).Warn(msg)
	writeJSON(w, status, errorResponse{Error: msg})
}
