package desk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/ecgdesk/pkg/analysis"
	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
	"github.com/synaptica-ai/ecgdesk/pkg/identity"
	"github.com/synaptica-ai/ecgdesk/pkg/lifecycle"
	"github.com/synaptica-ai/ecgdesk/pkg/records"
)

type fakeAnalyzer struct {
	result analysis.Result
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, file analysis.File) (analysis.Result, error) {
	return f.result, f.err
}

type testServer struct {
	router   *mux.Router
	store    *records.Store
	analyzer *fakeAnalyzer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := records.Open(context.Background(), records.NewMemorySlot(nil))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	analyzer := &fakeAnalyzer{result: analysis.Result{
		Diagnosis: models.Findings{{Label: "Rhythm", Value: "Sinus"}, {Label: "Assessment", Value: "Normal"}},
		Score:     models.Findings{{Label: "Confidence", Value: "0.88"}},
		Notes:     "No acute findings",
	}}
	ctrl := lifecycle.NewController(store, analyzer, lifecycle.Options{
		IDs: identity.NewGenerator(func(int) int { return 0 }),
	})

	router := mux.NewRouter()
	RegisterProbes(router, nil)
	NewHTTPHandler(ctrl, store, 1<<20).Register(router.PathPrefix("/api/v1").Subrouter())
	return &testServer{router: router, store: store, analyzer: analyzer}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, name, mediaType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(map[string][]string)
	header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename="%s"`, name)}
	header["Content-Type"] = []string{mediaType}
	part, err := mw.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

var ecgCSV = []byte("time,I,II\n0,0.1,0.2\n0.004,abc,0.25\n0.008,0.12,0.3\n")

func (s *testServer) storeRecord(t *testing.T) lifecycle.Snapshot {
	t.Helper()
	if rec := s.do(t, http.MethodPut, "/api/v1/session/form", lifecycle.Demographics{Name: "Ana", Age: "30", Gender: "female"}); rec.Code != http.StatusOK {
		t.Fatalf("form: %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.upload(t, "ana.csv", "text/csv", ecgCSV); rec.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	rec := s.do(t, http.MethodPost, "/api/v1/session/submit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	var snap lifecycle.Snapshot
	decode(t, rec, &snap)
	return snap
}

func TestSessionFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	snap := s.storeRecord(t)
	if snap.State != lifecycle.Reviewing || snap.Record == nil || snap.Record.ID != "ANAX100" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/records", nil)
	var list []RecordSummary
	decode(t, rec, &list)
	if len(list) != 1 || list[0].ID != "ANAX100" || list[0].Assessment != "Normal" {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/records/ANAX100/leads/I", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lead: %d", rec.Code)
	}
	var series LeadSeries
	decode(t, rec, &series)
	if len(series.Points) != 2 {
		t.Fatalf("expected NaN sample dropped, got %d points", len(series.Points))
	}

	if rec := s.do(t, http.MethodGet, "/api/v1/records/ANAX100/leads/V6", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing lead, got %d", rec.Code)
	}
}

func TestReportDownload(t *testing.T) {
	s := newTestServer(t)
	s.storeRecord(t)

	rec := s.do(t, http.MethodGet, "/api/v1/records/ANAX100/report", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != xlsxType {
		t.Fatalf("unexpected report response %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "ECG_Report_Ana_") {
		t.Fatalf("unexpected disposition %q", cd)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/session/report?format=json", nil)
	var payload map[string]interface{}
	decode(t, rec, &payload)
	if payload["title"] != "ECG Analysis Report" || payload["patientId"] != "ANAX100" {
		t.Fatalf("unexpected report payload %v", payload)
	}
}

func TestAttachWithoutFormIs400(t *testing.T) {
	s := newTestServer(t)
	rec := s.upload(t, "ana.csv", "text/csv", ecgCSV)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body errorResponse
	decode(t, rec, &body)
	if body.Session == nil || body.Session.State != lifecycle.Idle {
		t.Fatalf("expected session in error body, got %+v", body)
	}
}

func TestAnalysisErrorsMapToStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&analysis.RemoteAnalysisError{Message: "bad file"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: connection refused", analysis.ErrRemoteUnavailable), http.StatusBadGateway},
	}
	for _, tc := range cases {
		s := newTestServer(t)
		s.analyzer.err = tc.err
		s.do(t, http.MethodPut, "/api/v1/session/form", lifecycle.Demographics{Name: "Ana", Age: "30", Gender: "female"})
		s.upload(t, "ana.csv", "text/csv", ecgCSV)

		rec := s.do(t, http.MethodPost, "/api/v1/session/submit", nil)
		if rec.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
		var body errorResponse
		decode(t, rec, &body)
		if body.Session == nil || body.Session.State != lifecycle.FilePending {
			t.Fatalf("expected file pending session, got %+v", body.Session)
		}
		if s.store.Len() != 0 {
			t.Fatal("store must stay empty")
		}
	}
}

func TestConfirmValidation(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodPost, "/api/v1/session/confirm", map[string]string{}); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without answer, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/api/v1/session/confirm", map[string]bool{"answer": true}); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 without prompt, got %d", rec.Code)
	}
}

func TestDeleteOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.storeRecord(t)

	if rec := s.do(t, http.MethodDelete, "/api/v1/records/NOPE999", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec := s.do(t, http.MethodDelete, "/api/v1/records/ANAX100", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	var snap lifecycle.Snapshot
	decode(t, rec, &snap)
	if snap.Prompt == nil || snap.Prompt.Message != "Do you want to delete Ana (ANAX100)?" {
		t.Fatalf("unexpected prompt %+v", snap.Prompt)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/session/confirm", map[string]bool{"answer": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/v1/records/ANAX100", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected record gone, got %d", rec.Code)
	}
}

func TestSessionReportWithoutRecordIs409(t *testing.T) {
	s := newTestServer(t)
	if rec := s.do(t, http.MethodGet, "/api/v1/session/report", nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		fmt.Errorf("prefix ANNA: %w", identity.ErrCapacityExceeded): http.StatusInsufficientStorage,
		records.ErrNotFound:                                         http.StatusNotFound,
		lifecycle.ErrBusy:                                           http.StatusConflict,
		errors.New("disk full"):                                     http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("%v: expected %d, got %d", err, want, got)
		}
	}
}

func TestReadyProbe(t *testing.T) {
	router := mux.NewRouter()
	RegisterProbes(router, func(ctx context.Context) error { return errors.New("redis down") })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
