package waveform

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/synaptica-ai/ecgdesk/pkg/common/models"
)

// PreviewRows is the number of data rows kept for redisplay and export.
const PreviewRows = 5

// StandardLeads are the twelve conventional ECG leads reported for a CSV upload.
var StandardLeads = []string{"I", "II", "III", "aVR", "aVL", "aVF", "V1", "V2", "V3", "V4", "V5", "V6"}

type Parsed struct {
	Waveform models.Waveform
	Preview  models.Preview
}

type column struct {
	index int
	lead  string
}

// Parse reads "time,<lead>,..." text into a lead-indexed series. It never fails:
// non-numeric cells become NaN, short rows are padded with NaN and a header
// without lead columns yields an empty lead mapping.
func Parse(text string) Parsed {
	text = strings.TrimPrefix(text, "\ufeff")

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	out := Parsed{
		Waveform: models.Waveform{
			TimePoints: models.Samples{},
			LeadNames:  []string{},
			Leads:      map[string]models.Samples{},
		},
		Preview: models.Preview{Header: []string{}, Rows: [][]string{}},
	}

	header, ok := nextRecord(reader)
	if !ok {
		return out
	}
	out.Preview.Header = append(out.Preview.Header, header...)

	var columns []column
	for i := 1; i < len(header); i++ {
		lead := strings.TrimSpace(header[i])
		if lead == "" {
			continue
		}
		if _, dup := out.Waveform.Leads[lead]; dup {
			continue
		}
		out.Waveform.LeadNames = append(out.Waveform.LeadNames, lead)
		out.Waveform.Leads[lead] = models.Samples{}
		columns = append(columns, column{index: i, lead: lead})
	}

	for {
		row, ok := nextRecord(reader)
		if !ok {
			break
		}
		if len(out.Preview.Rows) < PreviewRows {
			out.Preview.Rows = append(out.Preview.Rows, append([]string{}, row...))
		}

		out.Waveform.TimePoints = append(out.Waveform.TimePoints, cell(row, 0))
		for _, col := range columns {
			out.Waveform.Leads[col.lead] = append(out.Waveform.Leads[col.lead], cell(row, col.index))
		}
	}

	return out
}

// nextRecord skips rows the csv reader rejects and stops at EOF.
func nextRecord(reader *csv.Reader) ([]string, bool) {
	for {
		record, err := reader.Read()
		if err == nil {
			return record, true
		}
		if errors.Is(err, io.EOF) {
			return nil, false
		}
		var parseErr *csv.ParseError
		if !errors.As(err, &parseErr) {
			return nil, false
		}
	}
}

func cell(row []string, idx int) float64 {
	if idx >= len(row) {
		return math.NaN()
	}
	text := strings.TrimSpace(row[idx])
	if !decimal(text) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

// decimal rejects the Inf, NaN, hex and underscore forms ParseFloat accepts.
func decimal(text string) bool {
	for _, r := range text {
		switch {
		case r >= '0' && r <= '9':
		case r == '.', r == '+', r == '-', r == 'e', r == 'E':
		default:
			return false
		}
	}
	return text != ""
}
