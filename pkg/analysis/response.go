package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
)

var ErrRemoteUnavailable = errors.New("analysis service unavailable")

// RemoteAnalysisError is an error payload returned by the analysis service.
type RemoteAnalysisError struct {
	Message string
}

func (e *RemoteAnalysisError) Error() string {
	return "analysis service error: " + e.Message
}

func IsRemoteAnalysisError(err error) bool {
	var re *RemoteAnalysisError
	return errors.As(err, &re)
}

const defaultNotes = "No notes"

func DefaultDiagnosis() models.Findings {
	return models.Findings{{Label: "Assessment", Value: "Unavailable"}}
}

func DefaultScore() models.Findings {
	return models.Findings{{Label: "Confidence", Value: "--"}}
}

type envelope struct {
	Diagnosis json.RawMessage `json:"diagnosis"`
	Score     json.RawMessage `json:"score"`
	Notes     json.RawMessage `json:"doctors_notes"`
	Error     json.RawMessage `json:"error"`
}

// decodeResponse gives an error field precedence over the status. A non-2xx
// reply without one is unavailable even when it carries findings.
func decodeResponse(status int, body []byte) (Result, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Result{}, fmt.Errorf("%w: malformed response (status %d): %v", ErrRemoteUnavailable, status, err)
	}

	if msg := errorMessage(env.Error); msg != "" {
		return Result{}, &RemoteAnalysisError{Message: msg}
	}
	if status < 200 || status > 299 {
		return Result{}, fmt.Errorf("%w: unexpected status %d", ErrRemoteUnavailable, status)
	}

	diagnosis, err := findings(env.Diagnosis, DefaultDiagnosis)
	if err != nil {
		return Result{}, fmt.Errorf("%w: diagnosis: %v", ErrRemoteUnavailable, err)
	}
	score, err := findings(env.Score, DefaultScore)
	if err != nil {
		return Result{}, fmt.Errorf("%w: score: %v", ErrRemoteUnavailable, err)
	}

	notes := text(env.Notes)
	if notes == "" {
		notes = defaultNotes
	}

	return Result{Diagnosis: diagnosis, Score: score, Notes: notes}, nil
}

func absent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

func findings(raw json.RawMessage, fallback func() models.Findings) (models.Findings, error) {
	if absent(raw) {
		return fallback(), nil
	}
	var f models.Findings
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return f, nil
}

// text returns a JSON string's value, or the raw JSON of any other value.
func text(raw json.RawMessage) string {
	if absent(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

// errorMessage treats a missing, null, empty or false error field as no error.
func errorMessage(raw json.RawMessage) string {
	msg := text(raw)
	if msg == "false" || msg == "0" {
		return ""
	}
	return msg
}
