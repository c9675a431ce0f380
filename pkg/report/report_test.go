package report

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
	"github.com/xuri/excelize/v2"
)

var generated = time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC)

func csvRecord() models.PatientRecord {
	return models.PatientRecord{
		ID:           "MARI123",
		Name:         "Maria  de la Cruz",
		Age:          "61",
		Gender:       "female",
		FileType:     models.FileTypeCSV,
		PreviewTable: &models.Preview{Header: []string{"time", "I"}, Rows: [][]string{{"0", "0.12"}, {"0.004", "0.15"}}},
		Diagnosis:    models.Findings{{Label: "Rhythm", Value: "Sinus"}, {Label: "Assessment", Value: "Normal"}},
		Score:        models.Findings{{Label: "Confidence", Value: "0.91"}},
		Notes:        "Routine follow-up",
	}
}

func TestBuildUsesStructuredFindings(t *testing.T) {
	rec := csvRecord()
	rec.DiagnosisText = "edited text"

	r := Build(rec, generated)
	if r.Title != Title || r.PatientID != "MARI123" {
		t.Fatalf("unexpected header %+v", r)
	}
	if !reflect.DeepEqual(r.Diagnosis, []string{"Rhythm: Sinus", "Assessment: Normal"}) {
		t.Fatalf("unexpected diagnosis lines %v", r.Diagnosis)
	}
	if len(r.DetectedLeads) != 12 {
		t.Fatalf("expected 12 detected leads, got %d", len(r.DetectedLeads))
	}
	if r.Preview == nil || len(r.Preview.Rows) != 2 {
		t.Fatal("expected csv preview")
	}
}

func TestBuildFallsBackToText(t *testing.T) {
	rec := csvRecord()
	rec.Diagnosis = nil
	rec.DiagnosisText = "Rhythm: AF"
	rec.Score = nil

	r := Build(rec, generated)
	if !reflect.DeepEqual(r.Diagnosis, []string{"Rhythm: AF"}) {
		t.Fatalf("expected text fallback, got %v", r.Diagnosis)
	}
	if !reflect.DeepEqual(r.Score, []string{"--"}) {
		t.Fatalf("expected placeholder, got %v", r.Score)
	}
}

func TestFileName(t *testing.T) {
	got := FileName("Maria  de la\tCruz", generated, "xlsx")
	want := "ECG_Report_Maria_de_la_Cruz_1772373909000.xlsx"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got := FileName("Ann", generated, ".pdf"); got != "ECG_Report_Ann_1772373909000.pdf" {
		t.Fatalf("unexpected name %s", got)
	}
}

func TestWriteXLSXCSVRecord(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteXLSX(&buf, Build(csvRecord(), generated)); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	if !reflect.DeepEqual(f.GetSheetList(), []string{"Report", "Preview"}) {
		t.Fatalf("unexpected sheets %v", f.GetSheetList())
	}
	if v, _ := f.GetCellValue("Report", "A1"); v != Title {
		t.Fatalf("unexpected title %q", v)
	}
	if v, _ := f.GetCellValue("Report", "B4"); v != "Maria  de la Cruz" {
		t.Fatalf("unexpected patient name %q", v)
	}
	if v, _ := f.GetCellValue("Preview", "B3"); v != "0.15" {
		t.Fatalf("unexpected preview cell %q", v)
	}
}

func TestWriteXLSXImageRecord(t *testing.T) {
	rec := csvRecord()
	rec.FileType = models.FileTypeImage
	rec.PreviewTable = nil
	rec.PreviewImage = &models.ImageArtifact{FileName: "scan.tiff", MediaType: "image/tiff", Data: []byte("not a picture")}

	var buf bytes.Buffer
	if err := WriteXLSX(&buf, Build(rec, generated)); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	if !reflect.DeepEqual(f.GetSheetList(), []string{"Report"}) {
		t.Fatalf("unexpected sheets %v", f.GetSheetList())
	}
	if v, _ := f.GetCellValue("Report", "B8"); v != "scan.tiff" {
		t.Fatalf("expected image reference, got %q", v)
	}
}
