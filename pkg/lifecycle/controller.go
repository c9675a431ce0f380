package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/synaptica-ai/ecgdesk/pkg/analysis"
	"github.com/synaptica-ai/ecgdesk/pkg/common/logger"
	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
	"github.com/synaptica-ai/ecgdesk/pkg/identity"
	"github.com/synaptica-ai/ecgdesk/pkg/observability/metrics"
	"github.com/synaptica-ai/ecgdesk/pkg/records"
	"github.com/synaptica-ai/ecgdesk/pkg/report"
	"github.com/synaptica-ai/ecgdesk/pkg/waveform"
)

const (
	EventRecordCreated  = "record.created"
	EventRecordReplaced = "record.replaced"
	EventRecordUpdated  = "record.updated"
	EventRecordDeleted  = "record.deleted"

	eventSource = "ecgdesk"
)

// RecordStore is the collection the controller reads and mutates.
type RecordStore interface {
	List() []models.PatientRecord
	Get(id string) (models.PatientRecord, error)
	IDs() []string
	Len() int
	Upsert(ctx context.Context, rec models.PatientRecord) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// Publisher receives record lifecycle events.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

type Options struct {
	Publisher Publisher
	Metrics   *metrics.Collector
	IDs       *identity.Generator
	Now       func() time.Time
}

type recordEvent struct {
	kind string
	data map[string]interface{}
}

// analysisJob is a gateway round trip started under the lock and finished
// without it.
type analysisJob struct {
	generation uint64
	id         string
	form       Demographics
	file       *pendingFile
}

// Controller drives one operator session over the record store.
type Controller struct {
	store     RecordStore
	analyzer  analysis.Analyzer
	ids       *identity.Generator
	publisher Publisher
	metrics   *metrics.Collector
	now       func() time.Time

	mu         sync.Mutex
	state      State
	form       Demographics
	file       *pendingFile
	prompt     *Prompt
	matchID    string
	fixedID    string
	working    *models.PatientRecord
	lastError  string
	generation uint64

	// delete confirmation
	deleteID     string
	resumeState  State
	resumePrompt *Prompt
}

func NewController(store RecordStore, analyzer analysis.Analyzer, opts Options) *Controller {
	c := &Controller{
		store:     store,
		analyzer:  analyzer,
		ids:       opts.IDs,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		now:       opts.Now,
		state:     Idle,
	}
	if c.ids == nil {
		c.ids = identity.NewGenerator(nil)
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.metrics.SetStored(store.Len())
	return c
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:        c.state,
		Demographics: c.form,
		File:         c.file.info(),
		RecordID:     c.fixedID,
		LastError:    c.lastError,
	}
	if c.prompt != nil {
		p := *c.prompt
		snap.Prompt = &p
	}
	if c.working != nil {
		rec := c.working.Clone()
		snap.Record = &rec
		if rec.FileType == models.FileTypeCSV {
			snap.DetectedLeads = append([]string(nil), waveform.StandardLeads...)
		}
	}
	return snap
}

// FillForm records the demographic fields. Complete fields move Idle to
// FormFilled; incomplete ones return the session to Idle and drop any
// attached file and open record.
func (c *Controller) FillForm(d Demographics) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Idle, FormFilled, FilePending:
	default:
		return c.snapshotLocked(), transitionError("edit the form", c.state)
	}

	c.form = d.normalized()
	c.lastError = ""
	switch {
	case !c.form.Complete():
		c.state = Idle
		c.file = nil
		c.fixedID = ""
		c.working = nil
	case c.state == Idle:
		c.state = FormFilled
	}
	return c.snapshotLocked(), nil
}

// AttachFile accepts a .csv waveform or an image upload. CSV content is
// parsed immediately for the preview.
func (c *Controller) AttachFile(file analysis.File) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Idle, FormFilled, FilePending:
	default:
		return c.snapshotLocked(), transitionError("attach a file", c.state)
	}
	if !c.form.Complete() {
		return c.snapshotLocked(), invalid(errIncompleteForm)
	}

	pf, err := newPendingFile(file)
	if err != nil {
		return c.snapshotLocked(), err
	}

	c.file = pf
	c.state = FilePending
	c.lastError = ""
	c.metrics.ObserveUpload(string(pf.kind))

	entry := logger.Log.WithFields(map[string]interface{}{
		"file":      file.Name,
		"file_type": pf.kind,
		"bytes":     len(file.Data),
	})
	if pf.parsed != nil {
		entry = entry.WithField("leads", len(pf.parsed.Waveform.LeadNames)).
			WithField("samples", len(pf.parsed.Waveform.TimePoints))
	}
	entry.Info("ECG file attached")

	return c.snapshotLocked(), nil
}

// Submit resolves the patient identity and, unless a probable match needs
// confirming, runs the analysis.
func (c *Controller) Submit(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.state != FilePending {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, transitionError("submit", c.state)
	}
	if !c.form.Complete() {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, invalid(errIncompleteForm)
	}
	if c.file == nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, invalid(errNoFile)
	}

	if c.fixedID != "" {
		return c.analyze(ctx, c.beginLocked(c.fixedID))
	}

	if match, ok := identity.FindProbableMatch(c.form.Name, c.form.Age, c.store.List()); ok {
		c.matchID = match.ID
		c.prompt = &Prompt{Kind: PromptIdentity, Message: fmt.Sprintf("Are you %s?", match.ID), RecordID: match.ID}
		c.state = ConfirmingIdentity
		logger.Log.WithFields(map[string]interface{}{
			"record_id": match.ID,
			"state":     c.state,
		}).Info("Probable returning patient")
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}

	return c.analyzeFresh(ctx)
}

// Confirm answers the pending prompt.
func (c *Controller) Confirm(ctx context.Context, yes bool) (Snapshot, error) {
	c.mu.Lock()
	switch c.state {
	case ConfirmingIdentity:
		if yes {
			c.prompt = &Prompt{Kind: PromptUpdate, Message: "Do you want to update your previous record?", RecordID: c.matchID}
			c.state = ConfirmingUpdate
			snap := c.snapshotLocked()
			c.mu.Unlock()
			return snap, nil
		}
		return c.analyzeFresh(ctx)

	case ConfirmingUpdate:
		if yes {
			return c.analyze(ctx, c.beginLocked(c.matchID))
		}
		return c.analyzeFresh(ctx)

	case ConfirmingDelete:
		var ev *recordEvent
		snap, err := c.confirmDeleteLocked(ctx, yes, &ev)
		c.mu.Unlock()
		c.emit(ctx, ev)
		return snap, err

	default:
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, transitionError("confirm", c.state)
	}
}

// analyzeFresh issues a new unique id and analyzes. Called with c.mu held;
// releases it.
func (c *Controller) analyzeFresh(ctx context.Context) (Snapshot, error) {
	id, err := c.ids.GenerateUniqueID(c.form.Name, c.store.IDs())
	if err != nil {
		c.clearPromptLocked()
		c.state = FilePending
		c.lastError = err.Error()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	return c.analyze(ctx, c.beginLocked(id))
}

func (c *Controller) beginLocked(id string) analysisJob {
	c.clearPromptLocked()
	c.generation++
	c.state = Analyzing
	c.lastError = ""
	return analysisJob{generation: c.generation, id: id, form: c.form, file: c.file}
}

func (c *Controller) clearPromptLocked() {
	c.prompt = nil
	c.matchID = ""
}

// analyze runs the gateway call outside the lock and commits the result.
// Called with c.mu held; releases it.
func (c *Controller) analyze(ctx context.Context, job analysisJob) (Snapshot, error) {
	c.mu.Unlock()

	start := time.Now()
	result, err := c.analyzer.Analyze(ctx, job.file.raw)
	elapsed := time.Since(start)

	c.mu.Lock()
	if c.generation != job.generation || c.state != Analyzing {
		c.metrics.ObserveAnalysis(metrics.OutcomeDiscarded, elapsed)
		logger.Log.WithField("record_id", job.id).Warn("Discarding analysis result for a reset session")
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ErrSessionReset
	}

	if err != nil {
		outcome := metrics.OutcomeUnavailable
		if analysis.IsRemoteAnalysisError(err) {
			outcome = metrics.OutcomeRemoteError
		}
		c.metrics.ObserveAnalysis(outcome, elapsed)
		c.state = FilePending
		c.lastError = err.Error()
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	c.metrics.ObserveAnalysis(metrics.OutcomeSuccess, elapsed)

	ev, err := c.commitLocked(ctx, job, result)
	if err != nil {
		c.state = FilePending
		c.lastError = err.Error()
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.emit(ctx, ev)
	return snap, err
}

func (c *Controller) commitLocked(ctx context.Context, job analysisJob, result analysis.Result) (*recordEvent, error) {
	now := c.now().UTC()
	rec := models.PatientRecord{
		ID:            job.id,
		Name:          job.form.Name,
		Age:           job.form.Age,
		Gender:        job.form.Gender,
		FileType:      job.file.kind,
		Diagnosis:     result.Diagnosis.Clone(),
		Score:         result.Score.Clone(),
		Notes:         result.Notes,
		DiagnosisText: result.Diagnosis.Text(),
		ScoreText:     result.Score.Text(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if job.file.parsed != nil {
		wf := job.file.parsed.Waveform.Clone()
		preview := job.file.parsed.Preview.Clone()
		rec.Waveform = &wf
		rec.PreviewTable = &preview
	} else {
		rec.PreviewImage = &models.ImageArtifact{
			FileName:  job.file.raw.Name,
			MediaType: job.file.raw.MediaType,
			Data:      append([]byte(nil), job.file.raw.Data...),
		}
	}
	if existing, err := c.store.Get(job.id); err == nil {
		rec.CreatedAt = existing.CreatedAt
	}

	replaced, err := c.store.Upsert(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("storing record %s: %w", job.id, err)
	}

	c.working = &rec
	c.file = nil
	c.fixedID = ""
	c.state = Reviewing

	kind, op := EventRecordCreated, "created"
	if replaced {
		kind, op = EventRecordReplaced, "replaced"
	}
	c.metrics.ObserveMutation(op, c.store.Len())
	logger.Log.WithFields(map[string]interface{}{
		"record_id": rec.ID,
		"file_type": rec.FileType,
		"replaced":  replaced,
	}).Info("ECG record stored")

	return &recordEvent{kind: kind, data: eventData(rec)}, nil
}

// Save applies the operator's edits to the open record.
func (c *Controller) Save(ctx context.Context, edits Edits) (Snapshot, error) {
	c.mu.Lock()
	ev, snap, err := c.saveLocked(ctx, edits)
	c.mu.Unlock()
	c.emit(ctx, ev)
	return snap, err
}

func (c *Controller) saveLocked(ctx context.Context, edits Edits) (*recordEvent, Snapshot, error) {
	if c.state != Reviewing && c.state != Saved {
		return nil, c.snapshotLocked(), transitionError("save", c.state)
	}
	form := Demographics{Name: edits.Name, Age: edits.Age, Gender: edits.Gender}.normalized()
	if !form.Complete() {
		return nil, c.snapshotLocked(), invalid(errIncompleteForm)
	}

	rec, err := c.store.Get(c.working.ID)
	if errors.Is(err, records.ErrNotFound) {
		return nil, c.snapshotLocked(), nil
	}
	if err != nil {
		return nil, c.snapshotLocked(), err
	}

	rec.Name = form.Name
	rec.Age = form.Age
	rec.Gender = form.Gender
	rec.DiagnosisText = edits.DiagnosisText
	rec.ScoreText = edits.ScoreText
	rec.Notes = edits.Notes
	rec.UpdatedAt = c.now().UTC()

	if _, err := c.store.Upsert(ctx, rec); err != nil {
		c.lastError = err.Error()
		return nil, c.snapshotLocked(), fmt.Errorf("saving record %s: %w", rec.ID, err)
	}

	c.working = &rec
	c.form = form
	c.state = Saved
	c.lastError = ""
	c.metrics.ObserveMutation("updated", c.store.Len())
	logger.Log.WithField("record_id", rec.ID).Info("ECG record saved")

	return &recordEvent{kind: EventRecordUpdated, data: eventData(rec)}, c.snapshotLocked(), nil
}

// UpdateFile reopens the upload step for the open record, keeping its id.
func (c *Controller) UpdateFile() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Reviewing && c.state != Saved {
		return c.snapshotLocked(), transitionError("update the file", c.state)
	}
	c.fixedID = c.working.ID
	c.form = Demographics{Name: c.working.Name, Age: c.working.Age, Gender: c.working.Gender}
	c.file = nil
	c.state = FilePending
	return c.snapshotLocked(), nil
}

// RequestDelete asks for confirmation before deleting id, or the open record
// when id is empty. Unknown ids are ignored.
func (c *Controller) RequestDelete(id string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Analyzing {
		return c.snapshotLocked(), ErrBusy
	}
	if id == "" && c.working != nil {
		id = c.working.ID
	}
	rec, err := c.store.Get(id)
	if err != nil {
		return c.snapshotLocked(), nil
	}

	if c.state != ConfirmingDelete {
		c.resumeState = c.state
		c.resumePrompt = c.prompt
	}
	c.deleteID = rec.ID
	c.prompt = &Prompt{
		Kind:     PromptDelete,
		Message:  fmt.Sprintf("Do you want to delete %s (%s)?", rec.Name, rec.ID),
		RecordID: rec.ID,
	}
	c.state = ConfirmingDelete
	return c.snapshotLocked(), nil
}

func (c *Controller) confirmDeleteLocked(ctx context.Context, yes bool, ev **recordEvent) (Snapshot, error) {
	id := c.deleteID
	if !yes {
		c.resumeLocked()
		return c.snapshotLocked(), nil
	}

	removed, err := c.store.Delete(ctx, id)
	if err != nil {
		c.resumeLocked()
		c.lastError = err.Error()
		return c.snapshotLocked(), fmt.Errorf("deleting record %s: %w", id, err)
	}

	c.resetLocked()
	if removed {
		c.metrics.ObserveMutation("deleted", c.store.Len())
		logger.Log.WithField("record_id", id).Info("ECG record deleted")
		*ev = &recordEvent{kind: EventRecordDeleted, data: map[string]interface{}{"record_id": id}}
	}
	return c.snapshotLocked(), nil
}

func (c *Controller) resumeLocked() {
	c.state = c.resumeState
	c.prompt = c.resumePrompt
	c.deleteID = ""
	c.resumeState = ""
	c.resumePrompt = nil
}

// Reset returns the session to Idle. A running analysis completes but its
// result is discarded; the store is not touched.
func (c *Controller) Reset() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	return c.snapshotLocked()
}

func (c *Controller) resetLocked() {
	c.generation++
	c.state = Idle
	c.form = Demographics{}
	c.file = nil
	c.prompt = nil
	c.matchID = ""
	c.fixedID = ""
	c.working = nil
	c.lastError = ""
	c.deleteID = ""
	c.resumeState = ""
	c.resumePrompt = nil
}

// Open loads a stored record into the session for review.
func (c *Controller) Open(id string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Analyzing {
		return c.snapshotLocked(), ErrBusy
	}
	rec, err := c.store.Get(id)
	if err != nil {
		return c.snapshotLocked(), err
	}

	c.resetLocked()
	c.working = &rec
	c.form = Demographics{Name: rec.Name, Age: rec.Age, Gender: rec.Gender}
	c.state = Reviewing
	return c.snapshotLocked(), nil
}

// Report builds the export payload for the open record.
func (c *Controller) Report(now time.Time) (report.Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.working == nil {
		return report.Report{}, fmt.Errorf("%w: no record is open", ErrInvalidTransition)
	}
	return report.Build(c.working.Clone(), now), nil
}

func (c *Controller) emit(ctx context.Context, ev *recordEvent) {
	if ev == nil || c.publisher == nil {
		return
	}
	if err := c.publisher.PublishEvent(ctx, ev.kind, eventSource, ev.data); err != nil {
		c.metrics.EventPublishFailed()
		logger.Log.WithError(err).WithField("event_type", ev.kind).Warn("Failed to publish record event")
	}
}

func eventData(rec models.PatientRecord) map[string]interface{} {
	data := map[string]interface{}{
		"record_id":  rec.ID,
		"file_type":  rec.FileType,
		"updated_at": rec.UpdatedAt,
	}
	if v, ok := rec.Diagnosis.Get("Assessment"); ok {
		data["assessment"] = models.FormatValue(v)
	}
	return data
}
