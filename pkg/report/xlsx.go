package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	reportSheet  = "Report"
	previewSheet = "Preview"
	dateLayout   = "2 January 2006, 03:04:05 PM"
)

var pictureExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
}

// sheetWriter appends rows to a sheet and keeps the first error.
type sheetWriter struct {
	f     *excelize.File
	sheet string
	row   int
	err   error
}

func (s *sheetWriter) put(values ...interface{}) {
	if s.err != nil {
		return
	}
	s.row++
	if len(values) == 0 {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		s.err = err
		return
	}
	s.err = s.f.SetSheetRow(s.sheet, cell, &values)
}

func (s *sheetWriter) styleRow(style, width int) {
	if s.err != nil {
		return
	}
	first, _ := excelize.CoordinatesToCellName(1, s.row)
	last, err := excelize.CoordinatesToCellName(width, s.row)
	if err != nil {
		s.err = err
		return
	}
	s.err = s.f.SetCellStyle(s.sheet, first, last, style)
}

// WriteXLSX renders r as a workbook with a Report sheet and, for CSV records,
// a Preview sheet holding the first rows of the upload.
func WriteXLSX(w io.Writer, r Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}

	titleStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return fmt.Errorf("failed to create title style: %w", err)
	}
	headingStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create heading style: %w", err)
	}

	sw := &sheetWriter{f: f, sheet: reportSheet}
	sw.put(r.Title)
	sw.styleRow(titleStyle, 1)
	sw.put("Date & Time", r.GeneratedAt.Format(dateLayout))
	sw.put("Patient ID", r.PatientID)
	sw.put("Patient Name", r.Name)
	sw.put("Patient Age", r.Age)
	sw.put("Patient Gender", r.Gender)
	sw.put("File Type", string(r.FileType))
	if len(r.DetectedLeads) > 0 {
		sw.put("Detected Leads", strings.Join(r.DetectedLeads, ", "))
	}
	if r.Image != nil {
		sw.put("ECG Image", r.Image.FileName)
	}
	if r.Preview != nil {
		sw.put("CSV Preview", "see "+previewSheet+" sheet")
	}
	section := func(heading string, body []string) {
		sw.put()
		sw.put(heading)
		sw.styleRow(headingStyle, 1)
		for _, line := range body {
			sw.put(line)
		}
	}
	section("Diagnosis", r.Diagnosis)
	section("Score", r.Score)
	section("Doctor's Notes", strings.Split(r.Notes, "\n"))
	if sw.err != nil {
		return fmt.Errorf("failed to write report sheet: %w", sw.err)
	}

	if err := f.SetColWidth(reportSheet, "A", "A", 22); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(reportSheet, "B", "B", 40); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	if r.Image != nil && len(r.image) > 0 {
		addPicture(f, sw.row+2, r)
	}

	if r.Preview != nil {
		if err := writePreview(f, r, headingStyle); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// addPicture embeds the ECG image below the report body. Formats excelize
// cannot decode keep the file name reference only.
func addPicture(f *excelize.File, row int, r Report) {
	ext, ok := pictureExtensions[strings.ToLower(r.Image.MediaType)]
	if !ok {
		ext = strings.ToLower(filepath.Ext(r.Image.FileName))
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return
	}
	_ = f.AddPictureFromBytes(reportSheet, cell, &excelize.Picture{
		Extension: ext,
		File:      r.image,
		Format:    &excelize.GraphicOptions{AutoFit: true, AltText: r.Image.FileName},
	})
}

func writePreview(f *excelize.File, r Report, headingStyle int) error {
	if _, err := f.NewSheet(previewSheet); err != nil {
		return fmt.Errorf("failed to create preview sheet: %w", err)
	}

	sw := &sheetWriter{f: f, sheet: previewSheet}
	if len(r.Preview.Header) > 0 {
		header := make([]interface{}, len(r.Preview.Header))
		for i, h := range r.Preview.Header {
			header[i] = h
		}
		sw.put(header...)
		sw.styleRow(headingStyle, len(header))
	}
	for _, row := range r.Preview.Rows {
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = v
		}
		sw.put(values...)
	}
	sw.put()
	sw.put(PreviewNote)
	if sw.err != nil {
		return fmt.Errorf("failed to write preview sheet: %w", sw.err)
	}
	return nil
}
