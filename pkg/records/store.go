package records

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/synaptica-ai/ecgdesk/pkg/common/logger"
	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
)

var (
	ErrNotFound         = errors.New("patient record not found")
	ErrIncompleteRecord = errors.New("patient record incomplete")
)

// Slot is the single named location holding the serialized collection.
// Load returns nil data when nothing has been written yet.
type Slot interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Store is the authoritative, ordered patient record collection. It reads
// the slot once in Open and rewrites it in full after every mutation.
// Records handed out are deep copies.
type Store struct {
	mu      sync.RWMutex
	slot    Slot
	records []models.PatientRecord
	index   map[string]int
}

func Open(ctx context.Context, slot Slot) (*Store, error) {
	data, err := slot.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading record slot: %w", err)
	}

	s := &Store{slot: slot, index: make(map[string]int)}
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}

	var loaded []models.PatientRecord
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("decoding record slot: %w", err)
	}
	for _, rec := range loaded {
		if _, dup := s.index[rec.ID]; dup {
			logger.Log.WithField("record_id", rec.ID).Warn("duplicate record id in slot, keeping first")
			continue
		}
		s.index[rec.ID] = len(s.records)
		s.records = append(s.records, rec)
	}

	logger.Log.WithField("records", len(s.records)).Info("record store loaded")
	return s, nil
}

// List returns every record in insertion order.
func (s *Store) List() []models.PatientRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.PatientRecord, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Clone()
	}
	return out
}

func (s *Store) Get(id string) (models.PatientRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.index[id]
	if !ok {
		return models.PatientRecord{}, ErrNotFound
	}
	return s.records[idx].Clone(), nil
}

func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.records))
	for i, rec := range s.records {
		ids[i] = rec.ID
	}
	return ids
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Upsert replaces the record with the same id in place or appends it.
// It reports whether an existing record was replaced.
func (s *Store) Upsert(ctx context.Context, rec models.PatientRecord) (bool, error) {
	if err := validate(rec); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]models.PatientRecord, len(s.records), len(s.records)+1)
	copy(next, s.records)

	idx, replaced := s.index[rec.ID]
	if replaced {
		next[idx] = rec.Clone()
	} else {
		idx = len(next)
		next = append(next, rec.Clone())
	}

	if err := s.persist(ctx, next); err != nil {
		return false, err
	}

	s.records = next
	s.index[rec.ID] = idx
	return replaced, nil
}

// Delete removes the record with id. A missing id is not an error and
// leaves the slot untouched.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[id]
	if !ok {
		return false, nil
	}

	next := make([]models.PatientRecord, 0, len(s.records)-1)
	next = append(next, s.records[:idx]...)
	next = append(next, s.records[idx+1:]...)

	if err := s.persist(ctx, next); err != nil {
		return false, err
	}

	s.records = next
	s.index = make(map[string]int, len(next))
	for i, rec := range next {
		s.index[rec.ID] = i
	}
	return true, nil
}

func (s *Store) persist(ctx context.Context, collection []models.PatientRecord) error {
	if collection == nil {
		collection = []models.PatientRecord{}
	}
	data, err := json.Marshal(collection)
	if err != nil {
		return fmt.Errorf("encoding record slot: %w", err)
	}
	if err := s.slot.Save(ctx, data); err != nil {
		logger.Log.WithError(err).Error("failed to write record slot")
		return fmt.Errorf("writing record slot: %w", err)
	}
	return nil
}

func validate(rec models.PatientRecord) error {
	switch {
	case strings.TrimSpace(rec.ID) == "":
		return fmt.Errorf("id required: %w", ErrIncompleteRecord)
	case strings.TrimSpace(rec.Name) == "", strings.TrimSpace(rec.Age) == "", strings.TrimSpace(rec.Gender) == "":
		return fmt.Errorf("name, age and gender required: %w", ErrIncompleteRecord)
	case rec.FileType != models.FileTypeCSV && rec.FileType != models.FileTypeImage:
		return fmt.Errorf("file type %q: %w", rec.FileType, ErrIncompleteRecord)
	}
	return nil
}
