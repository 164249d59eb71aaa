package attendance

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/collate"
)

// SortKey names the student field a listing is ordered by.
type SortKey string

const (
	SortByName       SortKey = "name"
	SortByDepartment SortKey = "department"
	SortByGrade      SortKey = "grade"
	SortBySubject    SortKey = "subject"
	SortByStudyType  SortKey = "studyType"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

// Query describes a student listing.
type Query struct {
	Filter Filter
	Search string
	SortBy SortKey
	Order  SortOrder
}

// Stats summarises one day of attendance for a filter.
type Stats struct {
	Total      int    `json:"total"`
	Present    int    `json:"present"`
	Absent     int    `json:"absent"`
	Percentage string `json:"percentage"`
}

// Row is a visible student with its mark for the selected day.
type Row struct {
	Student
	Marked   bool `json:"marked"`
	Present  bool `json:"present"`
	Attended int  `json:"attended"`
}

// Table is everything a roster screen (or its printout) shows.
type Table struct {
	Date          string `json:"date"`
	Rows          []Row  `json:"rows"`
	TotalLectures int    `json:"totalLectures"`
	Stats         Stats  `json:"stats"`
}

// matches is the predicate shared by listings, statistics and mark-all.
func (r *Roster) matches(f Filter, s Student) bool {
	if !strings.EqualFold(s.Department, f.Department) ||
		!strings.EqualFold(string(s.Grade), string(f.Grade)) ||
		!strings.EqualFold(s.Subject, f.Subject) {
		return false
	}
	if r.opts.StrictCollegeMatch && !strings.EqualFold(s.College, f.College) {
		return false
	}
	return f.allStudyTypes() || s.StudyType == f.StudyType
}

func (r *Roster) selectStudents(f Filter) []Student {
	if !f.complete() {
		return nil
	}
	var out []Student
	for _, s := range r.students {
		if r.matches(f, s) {
			out = append(out, s)
		}
	}
	return out
}

// VisibleStudents returns the students matching q. Department, grade and
// subject must all be set, otherwise the result is empty.
func (r *Roster) VisibleStudents(q Query) []Student {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visible(q)
}

func (r *Roster) visible(q Query) []Student {
	search := strings.ToLower(q.Search)
	var out []Student
	for _, s := range r.selectStudents(q.Filter) {
		if strings.Contains(strings.ToLower(s.Name), search) {
			out = append(out, s)
		}
	}

	field := sortField(q.SortBy)
	if field == nil {
		return out
	}
	sign := 1
	if q.Order == Descending {
		sign = -1
	}
	col := collate.New(r.opts.Locale)
	slices.SortStableFunc(out, func(a, b Student) int {
		return sign * col.CompareString(field(a), field(b))
	})
	return out
}

func sortField(k SortKey) func(Student) string {
	switch k {
	case SortByName, "":
		return func(s Student) string { return s.Name }
	case SortByDepartment:
		return func(s Student) string { return s.Department }
	case SortByGrade:
		return func(s Student) string { return string(s.Grade) }
	case SortBySubject:
		return func(s Student) string { return s.Subject }
	case SortByStudyType:
		return func(s Student) string { return string(s.StudyType) }
	}
	return nil
}

// Statistics counts present and absent students of f on dateKey.
func (r *Roster) Statistics(f Filter, dateKey string) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statistics(f, dateKey)
}

func (r *Roster) statistics(f Filter, dateKey string) Stats {
	students := r.selectStudents(f)
	day := r.record[dateKey]
	present := 0
	for _, s := range students {
		if day[s.ID] {
			present++
		}
	}
	return newStats(len(students), present)
}

func newStats(total, present int) Stats {
	st := Stats{Total: total, Present: present, Absent: total - present, Percentage: "0"}
	if total > 0 {
		st.Percentage = fmt.Sprintf("%.1f", float64(present)/float64(total)*100)
	}
	return st
}

// AttendanceCount is the number of days the student was marked present.
func (r *Roster) AttendanceCount(studentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.attended(studentID)
}

func (r *Roster) attended(id string) int {
	n := 0
	for _, day := range r.record {
		if day[id] {
			n++
		}
	}
	return n
}

// TotalLectures is the number of days with an attendance sheet.
func (r *Roster) TotalLectures() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.record)
}

// AvailableSubjects returns the subjects offered for the triple, without
// duplicates and in first-seen order.
func (r *Roster) AvailableSubjects(college, department string, grade Grade) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	out := []string{}
	for _, c := range r.courses {
		if c.College != college || c.Department != department || c.Grade != grade {
			continue
		}
		for _, s := range c.Subjects {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Table builds the listing for q together with the marks of dateKey.
func (r *Roster) Table(q Query, dateKey string) (Table, error) {
	key, err := ParseDateKey(dateKey)
	if err != nil {
		return Table{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	day := r.record[key]
	students := r.visible(q)
	rows := make([]Row, 0, len(students))
	for _, s := range students {
		present, marked := day[s.ID]
		rows = append(rows, Row{Student: s, Marked: marked, Present: present, Attended: r.attended(s.ID)})
	}
	return Table{
		Date:          key,
		Rows:          rows,
		TotalLectures: len(r.record),
		Stats:         r.statistics(q.Filter, key),
	}, nil
}

// DateKeys returns every date key in chronological order.
func (r *Roster) DateKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dateKeys()
}

func (r *Roster) dateKeys() []string {
	keys := make([]string, 0, len(r.record))
	for k := range r.record {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareDateKeys)
	return keys
}

// compareDateKeys orders parseable keys by date and puts the rest last.
func compareDateKeys(a, b string) int {
	ta, errA := time.Parse(dateLayout, a)
	tb, errB := time.Parse(dateLayout, b)
	switch {
	case errA == nil && errB == nil:
		return ta.Compare(tb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// ExportRow is one student line of an attendance export.
type ExportRow struct {
	Student  Student
	Marks    []bool
	Attended int
}

// Export is a student-by-date grid for the exact course tuple of a filter.
type Export struct {
	Filter Filter
	Dates  []string
	Rows   []ExportRow
}

// Export collects the students of the exact (college, department, grade,
// subject) tuple with their marks for every recorded day. A missing mark
// counts as absent.
func (r *Roster) Export(f Filter) (Export, error) {
	if !f.Complete() {
		return Export{}, fmt.Errorf("%w: college, department, grade and subject are required", ErrValidation)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	exp := Export{Filter: f, Dates: r.dateKeys()}
	for _, s := range r.students {
		if s.College != f.College || s.Department != f.Department || s.Grade != f.Grade || s.Subject != f.Subject {
			continue
		}
		row := ExportRow{Student: s, Marks: make([]bool, len(exp.Dates))}
		for i, d := range exp.Dates {
			if r.record[d][s.ID] {
				row.Marks[i] = true
				row.Attended++
			}
		}
		exp.Rows = append(exp.Rows, row)
	}
	if len(exp.Rows) == 0 {
		return Export{}, fmt.Errorf("%w: no students to export", ErrNotFound)
	}
	return exp, nil
}
