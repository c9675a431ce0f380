package lifecycle

import (
	"strings"

	"github.com/synaptica-ai/ecgdesk/pkg/analysis"
	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
	"github.com/synaptica-ai/ecgdesk/pkg/waveform"
)

type State string

const (
	Idle               State = "idle"
	FormFilled         State = "form_filled"
	FilePending        State = "file_pending"
	ConfirmingIdentity State = "confirming_identity"
	ConfirmingUpdate   State = "confirming_update"
	ConfirmingDelete   State = "confirming_delete"
	Analyzing          State = "analyzing"
	Reviewing          State = "reviewing"
	Saved              State = "saved"
)

type Demographics struct {
	Name   string `json:"name"`
	Age    string `json:"age"`
	Gender string `json:"gender"`
}

func (d Demographics) normalized() Demographics {
	return Demographics{
		Name:   strings.TrimSpace(d.Name),
		Age:    strings.TrimSpace(d.Age),
		Gender: strings.TrimSpace(d.Gender),
	}
}

// Complete reports whether all three fields are non-blank.
func (d Demographics) Complete() bool {
	n := d.normalized()
	return n.Name != "" && n.Age != "" && n.Gender != ""
}

// Edits are the operator's changes to an open record.
type Edits struct {
	Name          string `json:"name"`
	Age           string `json:"age"`
	Gender        string `json:"gender"`
	DiagnosisText string `json:"diagnosisText"`
	ScoreText     string `json:"scoreText"`
	Notes         string `json:"notes"`
}

type PromptKind string

const (
	PromptIdentity PromptKind = "identity"
	PromptUpdate   PromptKind = "update"
	PromptDelete   PromptKind = "delete"
)

// Prompt is a pending yes/no question answered through Confirm.
type Prompt struct {
	Kind     PromptKind `json:"kind"`
	Message  string     `json:"message"`
	RecordID string     `json:"recordId"`
}

type FileInfo struct {
	Name      string          `json:"name"`
	MediaType string          `json:"mediaType"`
	Kind      models.FileType `json:"kind"`
	Size      int             `json:"size"`
	Preview   *models.Preview `json:"preview,omitempty"`
}

type Snapshot struct {
	State         State                 `json:"state"`
	Demographics  Demographics          `json:"demographics"`
	File          *FileInfo             `json:"file,omitempty"`
	Prompt        *Prompt               `json:"prompt,omitempty"`
	Record        *models.PatientRecord `json:"record,omitempty"`
	RecordID      string                `json:"recordId,omitempty"`
	DetectedLeads []string              `json:"detectedLeads,omitempty"`
	LastError     string                `json:"lastError,omitempty"`
}

// pendingFile is an attached upload with its kind resolved.
type pendingFile struct {
	raw    analysis.File
	kind   models.FileType
	parsed *waveform.Parsed
}

func classify(file analysis.File) (models.FileType, bool) {
	switch {
	case strings.HasSuffix(strings.ToLower(file.Name), ".csv"):
		return models.FileTypeCSV, true
	case strings.HasPrefix(strings.ToLower(file.MediaType), "image/"):
		return models.FileTypeImage, true
	default:
		return "", false
	}
}

func newPendingFile(file analysis.File) (*pendingFile, error) {
	if file.Name == "" && len(file.Data) == 0 {
		return nil, invalid(errNoFile)
	}
	kind, ok := classify(file)
	if !ok {
		return nil, invalid(errUnsupportedECG)
	}

	pf := &pendingFile{
		raw: analysis.File{
			Name:      file.Name,
			MediaType: file.MediaType,
			Data:      append([]byte(nil), file.Data...),
		},
		kind: kind,
	}
	if kind == models.FileTypeCSV {
		parsed := waveform.Parse(string(file.Data))
		pf.parsed = &parsed
	}
	return pf, nil
}

func (p *pendingFile) info() *FileInfo {
	if p == nil {
		return nil
	}
	fi := &FileInfo{
		Name:      p.raw.Name,
		MediaType: p.raw.MediaType,
		Kind:      p.kind,
		Size:      len(p.raw.Data),
	}
	if p.parsed != nil {
		preview := p.parsed.Preview.Clone()
		fi.Preview = &preview
	}
	return fi
}
