package attendance

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation       = errors.New("validation failed")
	ErrDuplicateStudent = errors.New("student already exists")
	ErrNotFound         = errors.New("not found")
	ErrInvalidDate      = errors.New("invalid date")
)

// StudyType is the shift a student attends.
type StudyType string

const (
	Morning StudyType = "morning"
	Evening StudyType = "evening"
	// AllStudyTypes is only meaningful in a Filter.
	AllStudyTypes StudyType = "all"
)

// ParseStudyType accepts the canonical values as well as the Arabic
// labels used by the roster sheets. Empty input defaults to Morning.
func ParseStudyType(s string) (StudyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "morning", "صباحي":
		return Morning, nil
	case "evening", "مسائي":
		return Evening, nil
	}
	return "", fmt.Errorf("%w: unknown study type %q", ErrValidation, s)
}

// ParseFilterStudyType is ParseStudyType plus "all" (and the empty string)
// meaning no study type restriction.
func ParseFilterStudyType(s string) (StudyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "الكل":
		return AllStudyTypes, nil
	}
	return ParseStudyType(s)
}

// Grade is the academic year a course is taught in.
type Grade string

const (
	GradeFirst  Grade = "first"
	GradeSecond Grade = "second"
	GradeThird  Grade = "third"
	GradeFourth Grade = "fourth"
)

// Grades lists every grade in teaching order.
var Grades = []Grade{GradeFirst, GradeSecond, GradeThird, GradeFourth}

func (g Grade) Valid() bool {
	for _, v := range Grades {
		if v == g {
			return true
		}
	}
	return false
}

// Course is the subject list offered for one (college, department, grade).
type Course struct {
	College    string   `json:"college"`
	Department string   `json:"department"`
	Grade      Grade    `json:"grade"`
	Subjects   []string `json:"subjects"`
}

func (c Course) hasSubject(subject string) bool {
	for _, s := range c.Subjects {
		if s == subject {
			return true
		}
	}
	return false
}

// Student is enrolled in exactly one (college, department, grade, subject).
type Student struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StudyType  StudyType `json:"studyType"`
	College    string    `json:"college"`
	Department string    `json:"department"`
	Grade      Grade     `json:"grade"`
	Subject    string    `json:"subject"`
}

// StudentInput carries the fields of a student to be added.
type StudentInput struct {
	Name       string
	StudyType  StudyType
	College    string
	Department string
	Grade      Grade
	Subject    string
}

// StudentPatch lists the fields UpdateStudent may change. Nil means keep.
type StudentPatch struct {
	Name      *string
	StudyType *StudyType
}

// ImportRow is one student read from an imported sheet.
type ImportRow struct {
	Name      string
	StudyType StudyType
}

// Record maps a date key to the per-student presence flags of that day.
type Record map[string]map[string]bool

// Filter selects a slice of the roster.
type Filter struct {
	College    string
	Department string
	Grade      Grade
	Subject    string
	StudyType  StudyType
}

// complete reports whether the filter names a subject group.
func (f Filter) complete() bool {
	return f.Department != "" && f.Grade != "" && f.Subject != ""
}

// Complete reports whether all four fields of the course tuple are set.
func (f Filter) Complete() bool {
	return f.College != "" && f.complete()
}

func (f Filter) allStudyTypes() bool {
	return f.StudyType == "" || f.StudyType == AllStudyTypes
}

const dateLayout = "2006-01-02"

// DateKey formats t as the calendar day used to index attendance.
func DateKey(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// ParseDateKey validates s and returns it in canonical form.
func ParseDateKey(s string) (string, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t.Format(dateLayout), nil
}
