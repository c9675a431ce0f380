package identity

import (
	"strings"

	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
)

// FindProbableMatch returns the first record whose name matches
// case-insensitively and whose age string is identical.
func FindProbableMatch(name, age string, records []models.PatientRecord) (models.PatientRecord, bool) {
	name = strings.TrimSpace(name)
	age = strings.TrimSpace(age)
	if name == "" {
		return models.PatientRecord{}, false
	}
	for _, rec := range records {
		if rec.Age == age && strings.EqualFold(strings.TrimSpace(rec.Name), name) {
			return rec, true
		}
	}
	return models.PatientRecord{}, false
}
