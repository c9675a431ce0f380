package records

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
	"github.com/synaptica-ai/ecgdesk/pkg/waveform"
)

func sampleRecord(id, name string) models.PatientRecord {
	return models.PatientRecord{
		ID:       id,
		Name:     name,
		Age:      "52",
		Gender:   "female",
		FileType: models.FileTypeCSV,
		Waveform: &models.Waveform{
			TimePoints: models.Samples{0, 0.004},
			LeadNames:  []string{"I", "II"},
			Leads:      map[string]models.Samples{"I": {0.1, 0.2}, "II": {0.3, 0.4}},
		},
		PreviewTable:  &models.Preview{Header: []string{"time", "I", "II"}, Rows: [][]string{{"0", "0.1", "0.3"}}},
		Diagnosis:     models.Findings{{Label: "Rhythm", Value: "Sinus"}, {Label: "Assessment", Value: "Normal"}},
		Score:         models.Findings{{Label: "Confidence", Value: "0.91"}},
		Notes:         "Routine follow-up",
		DiagnosisText: "Rhythm: Sinus\nAssessment: Normal",
		ScoreText:     "Confidence: 0.91",
		CreatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func openMemory(t *testing.T) (*Store, *MemorySlot) {
	t.Helper()
	slot := NewMemorySlot(nil)
	store, err := Open(context.Background(), slot)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return store, slot
}

func TestEmptyStoreListsNothing(t *testing.T) {
	store, _ := openMemory(t)
	if got := store.List(); len(got) != 0 {
		t.Fatalf("expected empty list, got %d records", len(got))
	}
}

func TestUpsertIsIdempotentOnID(t *testing.T) {
	ctx := context.Background()
	store, slot := openMemory(t)

	first := sampleRecord("MARI123", "Maria")
	if replaced, err := store.Upsert(ctx, first); err != nil || replaced {
		t.Fatalf("unexpected result replaced=%v err=%v", replaced, err)
	}

	second := sampleRecord("MARI123", "Maria")
	second.Notes = "Updated notes"
	replaced, err := store.Upsert(ctx, second)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !replaced {
		t.Fatal("expected replacement")
	}

	if store.Len() != 1 {
		t.Fatalf("expected one record, got %d", store.Len())
	}
	got, err := store.Get("MARI123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Notes != "Updated notes" {
		t.Fatalf("second upsert must win, got %q", got.Notes)
	}
	if slot.Writes() != 2 {
		t.Fatalf("expected a full write per mutation, got %d", slot.Writes())
	}
}

func TestUpsertPreservesPosition(t *testing.T) {
	ctx := context.Background()
	store, _ := openMemory(t)

	for _, id := range []string{"AAAA100", "BBBB100", "CCCC100"} {
		if _, err := store.Upsert(ctx, sampleRecord(id, id[:4])); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	updated := sampleRecord("BBBB100", "Bbbb")
	updated.Notes = "changed"
	if _, err := store.Upsert(ctx, updated); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if !reflect.DeepEqual(store.IDs(), []string{"AAAA100", "BBBB100", "CCCC100"}) {
		t.Fatalf("unexpected order %v", store.IDs())
	}
}

func TestUpsertRejectsIncompleteRecord(t *testing.T) {
	store, slot := openMemory(t)

	rec := sampleRecord("JOHN100", "John")
	rec.Age = ""
	if _, err := store.Upsert(context.Background(), rec); !errors.Is(err, ErrIncompleteRecord) {
		t.Fatalf("expected ErrIncompleteRecord, got %v", err)
	}
	if slot.Writes() != 0 || store.Len() != 0 {
		t.Fatal("incomplete record reached the slot")
	}
}

func TestDeleteThenGet(t *testing.T) {
	ctx := context.Background()
	store, slot := openMemory(t)

	if _, err := store.Upsert(ctx, sampleRecord("JOHN100", "John")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	removed, err := store.Delete(ctx, "JOHN100")
	if err != nil || !removed {
		t.Fatalf("unexpected delete result removed=%v err=%v", removed, err)
	}
	if _, err := store.Get("JOHN100"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	writes := slot.Writes()
	removed, err = store.Delete(ctx, "NOPE999")
	if err != nil || removed {
		t.Fatalf("deleting an absent id must be a no-op, removed=%v err=%v", removed, err)
	}
	if store.Len() != 0 || slot.Writes() != writes {
		t.Fatal("absent delete changed the collection")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store, _ := openMemory(t)
	if _, err := store.Upsert(ctx, sampleRecord("JOHN100", "John")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, _ := store.Get("JOHN100")
	got.Name = "Mutated"
	got.Waveform.Leads["I"][0] = 42

	again, _ := store.Get("JOHN100")
	if again.Name != "John" || again.Waveform.Leads["I"][0] != 0.1 {
		t.Fatal("store record aliased by caller")
	}
}

func TestRoundTripReproducesCollection(t *testing.T) {
	ctx := context.Background()
	store, slot := openMemory(t)

	want := []models.PatientRecord{
		sampleRecord("ANNA101", "Anna"),
		sampleRecord("BORI202", "Boris"),
	}
	img := sampleRecord("CARL303", "Carl")
	img.FileType = models.FileTypeImage
	img.Waveform = nil
	img.PreviewTable = nil
	img.PreviewImage = &models.ImageArtifact{FileName: "ecg.png", MediaType: "image/png", Data: []byte{0x89, 0x50, 0x4e, 0x47}}
	want = append(want, img)

	for _, rec := range want {
		if _, err := store.Upsert(ctx, rec); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	reloaded, err := Open(ctx, slot)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reflect.DeepEqual(reloaded.List(), want) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", reloaded.List(), want)
	}
}

func sameSamples(a, b models.Samples) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.IsNaN(a[i]) && math.IsNaN(b[i]) {
			continue
		}
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRoundTripKeepsUnparsableCells(t *testing.T) {
	ctx := context.Background()
	store, slot := openMemory(t)

	parsed := waveform.Parse("time,I\n0,Inf\n1,1e400\n2,0x1p-2\n3,0.25\n")
	rec := sampleRecord("JOHN100", "John")
	rec.Waveform = &parsed.Waveform
	if _, err := store.Upsert(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	reloaded, err := Open(ctx, slot)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reloaded.Get("JOHN100")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, lead := range parsed.Waveform.LeadNames {
		if !sameSamples(got.Waveform.Leads[lead], parsed.Waveform.Leads[lead]) {
			t.Fatalf("lead %s: got %v, want %v", lead, got.Waveform.Leads[lead], parsed.Waveform.Leads[lead])
		}
	}
	if !sameSamples(got.Waveform.TimePoints, parsed.Waveform.TimePoints) {
		t.Fatalf("time points: got %v, want %v", got.Waveform.TimePoints, parsed.Waveform.TimePoints)
	}
}

func TestOpenRejectsCorruptSlot(t *testing.T) {
	if _, err := Open(context.Background(), NewMemorySlot([]byte("{not json"))); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestOpenKeepsFirstDuplicate(t *testing.T) {
	raw := []byte(`[{"id":"JOHN100","name":"John","age":"1","gender":"m","fileType":"image"},` +
		`{"id":"JOHN100","name":"Johnny","age":"1","gender":"m","fileType":"image"}]`)
	store, err := Open(context.Background(), NewMemorySlot(raw))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one record, got %d", store.Len())
	}
	got, _ := store.Get("JOHN100")
	if got.Name != "John" {
		t.Fatalf("expected first occurrence, got %q", got.Name)
	}
}

func TestFileSlotRoundTrip(t *testing.T) {
	ctx := context.Background()
	slot := NewFileSlot(filepath.Join(t.TempDir(), "data"), "patients")

	store, err := Open(ctx, slot)
	if err != nil {
		t.Fatalf("open missing file: %v", err)
	}
	if _, err := store.Upsert(ctx, sampleRecord("JOHN100", "John")); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	reloaded, err := Open(ctx, NewFileSlot(filepath.Dir(slot.Path()), "patients"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reflect.DeepEqual(reloaded.List(), store.List()) {
		t.Fatal("file slot round trip mismatch")
	}
}

func TestRedisSlotRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	slot := NewRedisSlot(client, "patients")
	data, err := slot.Load(ctx)
	if err != nil || data != nil {
		t.Fatalf("expected empty slot, got %q err=%v", data, err)
	}

	store, err := Open(ctx, slot)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Upsert(ctx, sampleRecord("JOHN100", "John")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !mr.Exists("patients") {
		t.Fatal("expected slot key to be written")
	}

	reloaded, err := Open(ctx, NewRedisSlot(client, "patients"))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reflect.DeepEqual(reloaded.List(), store.List()) {
		t.Fatal("redis slot round trip mismatch")
	}
}
