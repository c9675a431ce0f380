package desk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/ecgdesk/pkg/analysis"
	"github.com/synaptica-ai/ecgdesk/pkg/common/logger"
	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
	"github.com/synaptica-ai/ecgdesk/pkg/lifecycle"
	"github.com/synaptica-ai/ecgdesk/pkg/report"
	"github.com/synaptica-ai/ecgdesk/pkg/waveform"
)

const (
	uploadField = "file"
	xlsxType    = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// RecordReader is the read side of the record store.
type RecordReader interface {
	List() []models.PatientRecord
	Get(id string) (models.PatientRecord, error)
}

type RecordSummary struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Age        string          `json:"age"`
	Gender     string          `json:"gender"`
	FileType   models.FileType `json:"fileType"`
	Assessment string          `json:"assessment,omitempty"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type LeadSeries struct {
	RecordID string           `json:"recordId"`
	Lead     string           `json:"lead"`
	Points   []waveform.Point `json:"points"`
}

type HTTPHandler struct {
	ctrl      *lifecycle.Controller
	records   RecordReader
	maxUpload int64
	now       func() time.Time
}

func NewHTTPHandler(ctrl *lifecycle.Controller, records RecordReader, maxUpload int64) *HTTPHandler {
	return &HTTPHandler{ctrl: ctrl, records: records, maxUpload: maxUpload, now: time.Now}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/records", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/records/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/records/{id}", h.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/records/{id}/leads/{lead}", h.handleLead).Methods(http.MethodGet)
	router.HandleFunc("/records/{id}/report", h.handleRecordReport).Methods(http.MethodGet)

	router.HandleFunc("/session", h.handleSnapshot).Methods(http.MethodGet)
	router.HandleFunc("/session/form", h.handleForm).Methods(http.MethodPut)
	router.HandleFunc("/session/file", h.handleFile).Methods(http.MethodPost)
	router.HandleFunc("/session/submit", h.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/session/confirm", h.handleConfirm).Methods(http.MethodPost)
	router.HandleFunc("/session/save", h.handleSave).Methods(http.MethodPost)
	router.HandleFunc("/session/update-file", h.handleUpdateFile).Methods(http.MethodPost)
	router.HandleFunc("/session/open/{id}", h.handleOpen).Methods(http.MethodPost)
	router.HandleFunc("/session/reset", h.handleReset).Methods(http.MethodPost)
	router.HandleFunc("/session/report", h.handleSessionReport).Methods(http.MethodGet)
}

// RegisterProbes adds /health and /ready. ready may be nil.
func RegisterProbes(router *mux.Router, ready func(ctx context.Context) error) {
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(ctx); err != nil {
				logger.Log.WithError(err).Warn("readiness check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	recs := h.records.List()
	out := make([]RecordSummary, 0, len(recs))
	for _, rec := range recs {
		s := RecordSummary{
			ID:        rec.ID,
			Name:      rec.Name,
			Age:       rec.Age,
			Gender:    rec.Gender,
			FileType:  rec.FileType,
			UpdatedAt: rec.UpdatedAt,
		}
		if v, ok := rec.Diagnosis.Get("Assessment"); ok {
			s.Assessment = models.FormatValue(v)
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.records.Get(id); err != nil {
		writeError(w, err)
		return
	}
	snap, err := h.ctrl.RequestDelete(id)
	h.writeSession(w, http.StatusAccepted, snap, err)
}

func (h *HTTPHandler) handleLead(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	rec, err := h.records.Get(vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	points, ok := waveform.Series(rec.Waveform, vars["lead"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("lead %q not found for record %s", vars["lead"], rec.ID)})
		return
	}
	writeJSON(w, http.StatusOK, LeadSeries{RecordID: rec.ID, Lead: vars["lead"], Points: points})
}

func (h *HTTPHandler) handleRecordReport(w http.ResponseWriter, r *http.Request) {
	rec, err := h.records.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeReport(w, r, report.Build(rec, h.now()))
}

func (h *HTTPHandler) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.ctrl.Report(h.now())
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeReport(w, r, rep)
}

func (h *HTTPHandler) writeReport(w http.ResponseWriter, r *http.Request, rep report.Report) {
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, rep)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, rep); err != nil {
		logger.Log.WithError(err).WithField("record_id", rep.PatientID).Error("failed to render report")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to render report"})
		return
	}
	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName(rep.Name, rep.GeneratedAt, "xlsx")))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *HTTPHandler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Snapshot())
}

func (h *HTTPHandler) handleForm(w http.ResponseWriter, r *http.Request) {
	var d lifecycle.Demographics
	if !decodeBody(w, r, &d) {
		return
	}
	snap, err := h.ctrl.FillForm(d)
	h.writeSession(w, http.StatusOK, snap, err)
}

func (h *HTTPHandler) handleFile(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeErrorStatus(w, err, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeErrorStatus(w, err, http.StatusBadRequest, "failed to read upload")
		return
	}
	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = http.DetectContentType(data)
	}

	snap, err := h.ctrl.AttachFile(analysis.File{Name: header.Filename, MediaType: mediaType, Data: data})
	h.writeSession(w, http.StatusOK, snap, err)
}

func (h *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctrl.Submit(r.Context())
	h.writeSession(w, http.StatusOK, snap, err)
}

type confirmRequest struct {
	Answer *bool `json:"answer"`
}

func (h *HTTPHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Answer == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "answer is required"})
		return
	}
	snap, err := h.ctrl.Confirm(r.Context(), *req.Answer)
	h.writeSession(w, http.StatusOK, snap, err)
}

func (h *HTTPHandler) handleSave(w http.ResponseWriter, r *http.Request) {
	var edits lifecycle.Edits
	if !decodeBody(w, r, &edits) {
		return
	}
	snap, err := h.ctrl.Save(r.Context(), edits)
	h.writeSession(w, http.StatusOK, snap, err)
}

func (h *HTTPHandler) handleUpdateFile(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctrl.UpdateFile()
	h.writeSession(w, http.StatusOK, snap, err)
}

func (h *HTTPHandler) handleOpen(w http.ResponseWriter, r *http.Request) {
	snap, err := h.ctrl.Open(mux.Vars(r)["id"])
	h.writeSession(w, http.StatusOK, snap, err)
}

func (h *HTTPHandler) handleReset(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Reset())
}

func (h *HTTPHandler) writeSession(w http.ResponseWriter, status int, snap lifecycle.Snapshot, err error) {
	if err != nil {
		code := statusFor(err)
		logFailure(err, code)
		writeJSON(w, code, errorResponse{Error: err.Error(), Session: &snap})
		return
	}
	writeJSON(w, status, snap)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorStatus(w, err, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("failed to encode response")
	}
}
