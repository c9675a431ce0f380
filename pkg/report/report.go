package report

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
	"github.com/synaptica-ai/ecgdesk/pkg/waveform"
)

const (
	Title       = "ECG Analysis Report"
	PreviewNote = "(CSV preview is limited to first few rows)"
	missing     = "--"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

type ImageRef struct {
	FileName  string `json:"fileName"`
	MediaType string `json:"mediaType"`
	Size      int    `json:"size"`
}

// Report is the printable summary of one record.
type Report struct {
	Title         string          `json:"title"`
	GeneratedAt   time.Time       `json:"generatedAt"`
	PatientID     string          `json:"patientId"`
	Name          string          `json:"name"`
	Age           string          `json:"age"`
	Gender        string          `json:"gender"`
	FileType      models.FileType `json:"fileType"`
	DetectedLeads []string        `json:"detectedLeads,omitempty"`
	Preview       *models.Preview `json:"preview,omitempty"`
	Image         *ImageRef       `json:"image,omitempty"`
	Diagnosis     []string        `json:"diagnosis"`
	Score         []string        `json:"score"`
	Notes         string          `json:"notes"`

	image []byte
}

func Build(rec models.PatientRecord, now time.Time) Report {
	r := Report{
		Title:       Title,
		GeneratedAt: now,
		PatientID:   rec.ID,
		Name:        rec.Name,
		Age:         rec.Age,
		Gender:      rec.Gender,
		FileType:    rec.FileType,
		Diagnosis:   lines(rec.Diagnosis, rec.DiagnosisText),
		Score:       lines(rec.Score, rec.ScoreText),
		Notes:       rec.Notes,
	}

	switch rec.FileType {
	case models.FileTypeCSV:
		r.DetectedLeads = append([]string(nil), waveform.StandardLeads...)
		if rec.PreviewTable != nil {
			p := rec.PreviewTable.Clone()
			r.Preview = &p
		}
	case models.FileTypeImage:
		if rec.PreviewImage != nil {
			r.Image = &ImageRef{
				FileName:  rec.PreviewImage.FileName,
				MediaType: rec.PreviewImage.MediaType,
				Size:      len(rec.PreviewImage.Data),
			}
			r.image = rec.PreviewImage.Data
		}
	}
	return r
}

// lines prefers the structured findings, then the stored text.
func lines(f models.Findings, text string) []string {
	var out string
	switch {
	case f != nil:
		out = f.Text()
	case text != "":
		out = text
	default:
		out = missing
	}
	return strings.Split(out, "\n")
}

// FileName is ECG_Report_<name>_<unix millis>.<ext> with whitespace runs in
// name replaced by underscores.
func FileName(name string, now time.Time, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("ECG_Report_%s_%d.%s", whitespaceRun.ReplaceAllString(name, "_"), now.UnixMilli(), ext)
}
