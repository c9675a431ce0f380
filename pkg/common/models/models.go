package models

import (
	"encoding/json"
	"math"
	"time"
)

type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeCSV   FileType = "csv"
)

// Patient records
type PatientRecord struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Age           string         `json:"age"` // kept as entered, e.g. "54"
	Gender        string         `json:"gender"`
	FileType      FileType       `json:"fileType"`
	Waveform      *Waveform      `json:"waveform,omitempty"`     // csv only
	PreviewTable  *Preview       `json:"previewTable,omitempty"` // csv only
	PreviewImage  *ImageArtifact `json:"previewImage,omitempty"` // image only
	Diagnosis     Findings       `json:"diagnosis"`
	Score         Findings       `json:"score"`
	Notes         string         `json:"notes"`
	DiagnosisText string         `json:"diagnosisText"`
	ScoreText     string         `json:"scoreText"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy that shares no slices or maps with r.
func (r PatientRecord) Clone() PatientRecord {
	out := r
	if r.Waveform != nil {
		w := r.Waveform.Clone()
		out.Waveform = &w
	}
	if r.PreviewTable != nil {
		p := r.PreviewTable.Clone()
		out.PreviewTable = &p
	}
	if r.PreviewImage != nil {
		img := *r.PreviewImage
		if r.PreviewImage.Data != nil {
			img.Data = append([]byte{}, r.PreviewImage.Data...)
		}
		out.PreviewImage = &img
	}
	out.Diagnosis = r.Diagnosis.Clone()
	out.Score = r.Score.Clone()
	return out
}

// Waveform is a lead-indexed ECG time series. Every lead has len(TimePoints) samples.
type Waveform struct {
	TimePoints Samples            `json:"timePoints"`
	LeadNames  []string           `json:"leadNames"`
	Leads      map[string]Samples `json:"leads"`
}

func (w Waveform) Clone() Waveform {
	out := Waveform{
		TimePoints: w.TimePoints.Clone(),
		LeadNames:  cloneStrings(w.LeadNames),
	}
	if w.Leads != nil {
		out.Leads = make(map[string]Samples, len(w.Leads))
		for name, s := range w.Leads {
			out.Leads[name] = s.Clone()
		}
	}
	return out
}

// Samples is a float series whose NaN entries are encoded as JSON null.
type Samples []float64

func (s Samples) Clone() Samples {
	if s == nil {
		return nil
	}
	return append(Samples{}, s...)
}

func (s Samples) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	out := make([]*float64, len(s))
	for i := range s {
		if math.IsNaN(s[i]) || math.IsInf(s[i], 0) {
			continue
		}
		v := s[i]
		out[i] = &v
	}
	return json.Marshal(out)
}

func (s *Samples) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Samples, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
			continue
		}
		out[i] = *v
	}
	*s = out
	return nil
}

// Preview keeps the CSV header and the first rows exactly as uploaded.
type Preview struct {
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

func (p Preview) Clone() Preview {
	out := Preview{Header: cloneStrings(p.Header)}
	if p.Rows != nil {
		out.Rows = make([][]string, len(p.Rows))
		for i, row := range p.Rows {
			out.Rows[i] = cloneStrings(row)
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string{}, in...)
}

type ImageArtifact struct {
	FileName  string `json:"fileName"`
	MediaType string `json:"mediaType"`
	Data      []byte `json:"data"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // record.created, record.replaced, record.updated, record.deleted
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}
