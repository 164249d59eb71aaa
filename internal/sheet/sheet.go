// Package sheet reads and writes attendance workbooks.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"roster/internal/attendance"
)

// ContentType is the MIME type of the workbooks produced by Write.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	ErrEmpty        = errors.New("sheet has no rows")
	ErrMissingNames = errors.New("sheet has no name column")
)

// Labels are the user-facing strings of a workbook.
type Labels struct {
	Sheet      string
	Name       string
	StudyType  string
	Department string
	Attended   string
	Present    string
	Absent     string
	Morning    string
	Evening    string
	// DateLayout formats date-key column headers.
	DateLayout string
}

// DefaultLabels matches the workbooks the roster has always exchanged.
var DefaultLabels = Labels{
	Sheet:      "الحضور",
	Name:       "الاسم",
	StudyType:  "نوع الدراسة",
	Department: "القسم",
	Attended:   "الحضور",
	Present:    "حاضر",
	Absent:     "غائب",
	Morning:    "صباحي",
	Evening:    "مسائي",
	DateLayout: "2/1/2006",
}

func (l Labels) studyType(t attendance.StudyType) string {
	switch t {
	case attendance.Morning:
		return l.Morning
	case attendance.Evening:
		return l.Evening
	}
	return string(t)
}

func (l Labels) date(key string) string {
	t, err := time.Parse("2006-01-02", key)
	if err != nil {
		return key
	}
	return t.Format(l.DateLayout)
}

// FileName is the download name of the export of f.
func FileName(f attendance.Filter) string {
	return fmt.Sprintf("attendance_%s_%s_%s.xlsx", f.Department, f.Grade, f.Subject)
}

// Write renders exp as a workbook: name, study type and department, one
// column per date, then an attended/total column.
func Write(w io.Writer, exp attendance.Export, l Labels) error {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := l.Sheet
	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return err
	}

	headers := []any{l.Name, l.StudyType, l.Department}
	for _, d := range exp.Dates {
		headers = append(headers, l.date(d))
	}
	headers = append(headers, l.Attended)
	if err := f.SetSheetRow(sheetName, "A1", &headers); err != nil {
		return err
	}

	for i, row := range exp.Rows {
		values := []any{row.Student.Name, l.studyType(row.Student.StudyType), row.Student.Department}
		for _, present := range row.Marks {
			if present {
				values = append(values, l.Present)
			} else {
				values = append(values, l.Absent)
			}
		}
		values = append(values, fmt.Sprintf("%d/%d", row.Attended, len(exp.Dates)))
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return err
		}
	}

	for col, width := range map[string]float64{"A": 25, "B": 15, "C": 20} {
		if err := f.SetColWidth(sheetName, col, col, width); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// Read parses the first sheet of a workbook. The header row must contain
// the name label; the study type column is optional and defaults to
// morning. Rows without a name are skipped.
func Read(r io.Reader, l Labels) ([]attendance.ImportRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}

	nameCol, typeCol := -1, -1
	for i, h := range rows[0] {
		switch strings.TrimSpace(h) {
		case l.Name:
			nameCol = i
		case l.StudyType:
			typeCol = i
		}
	}
	if nameCol < 0 {
		return nil, ErrMissingNames
	}

	var out []attendance.ImportRow
	for n, row := range rows[1:] {
		name := cellAt(row, nameCol)
		if name == "" {
			continue
		}
		st, err := attendance.ParseStudyType(cellAt(row, typeCol))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n+2, err)
		}
		out = append(out, attendance.ImportRow{Name: name, StudyType: st})
	}
	return out, nil
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
