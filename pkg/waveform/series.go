package waveform

import (
	"math"

	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
)

// Point is one time/amplitude pair handed to the chart surface.
type Point struct {
	Time      float64 `json:"t"`
	Amplitude float64 `json:"v"`
}

// Series returns the plottable points of one lead. Samples where either
// coordinate is NaN are left out.
func Series(w *models.Waveform, lead string) ([]Point, bool) {
	if w == nil {
		return nil, false
	}
	samples, ok := w.Leads[lead]
	if !ok {
		return nil, false
	}

	points := make([]Point, 0, len(samples))
	for i, v := range samples {
		if i >= len(w.TimePoints) {
			break
		}
		t := w.TimePoints[i]
		if math.IsNaN(t) || math.IsNaN(v) {
			continue
		}
		points = append(points, Point{Time: t, Amplitude: v})
	}
	return points, true
}

// Consistent reports whether every lead has exactly one sample per time point.
func Consistent(w models.Waveform) bool {
	for _, samples := range w.Leads {
		if len(samples) != len(w.TimePoints) {
			return false
		}
	}
	return true
}
