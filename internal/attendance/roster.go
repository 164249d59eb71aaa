package attendance

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/language"
)

// Options tunes matching and ordering rules of a Roster.
type Options struct {
	// StrictCollegeMatch adds the college to the duplicate check and to the
	// visible/statistics predicates, which otherwise ignore it.
	StrictCollegeMatch bool
	// Locale drives the collation used when sorting students.
	Locale language.Tag
}

// Snapshot is the serialisable state of a Roster.
type Snapshot struct {
	Courses    []Course  `json:"courses"`
	Students   []Student `json:"students"`
	Attendance Record    `json:"attendance"`
}

// Roster holds one identity's courses, students and attendance record.
// Every method is safe for concurrent use.
type Roster struct {
	mu       sync.RWMutex
	courses  []Course
	students []Student
	record   Record
	opts     Options
	newID    func() string
}

// New creates an empty roster.
func New(opts Options) *Roster {
	return FromSnapshot(Snapshot{}, opts)
}

// FromSnapshot creates a roster owning a copy of s.
func FromSnapshot(s Snapshot, opts Options) *Roster {
	r := &Roster{opts: opts, newID: uuid.NewString}
	r.restore(s)
	return r
}

func (r *Roster) restore(s Snapshot) {
	s = s.clone()
	r.courses = s.Courses
	r.students = s.Students
	r.record = s.Attendance
}

// Snapshot returns a deep copy of the current state.
func (r *Roster) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{Courses: r.courses, Students: r.students, Attendance: r.record}.clone()
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Courses:    make([]Course, 0, len(s.Courses)),
		Students:   make([]Student, len(s.Students)),
		Attendance: make(Record, len(s.Attendance)),
	}
	for _, c := range s.Courses {
		c.Subjects = append([]string(nil), c.Subjects...)
		out.Courses = append(out.Courses, c)
	}
	copy(out.Students, s.Students)
	for date, day := range s.Attendance {
		d := make(map[string]bool, len(day))
		for id, present := range day {
			d[id] = present
		}
		out.Attendance[date] = d
	}
	return out
}

// Courses returns a copy of the course list.
func (r *Roster) Courses() []Course {
	return r.Snapshot().Courses
}

// AddCourse registers subject for the (college, department, grade) triple,
// creating the course on first use. Adding a known subject is a no-op.
func (r *Roster) AddCourse(college, department string, grade Grade, subject string) (Course, error) {
	if college == "" || department == "" || grade == "" || subject == "" {
		return Course{}, fmt.Errorf("%w: college, department, grade and subject are required", ErrValidation)
	}
	if !grade.Valid() {
		return Course{}, fmt.Errorf("%w: unknown grade %q", ErrValidation, grade)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.courses {
		if c.College == college && c.Department == department && c.Grade == grade {
			if !c.hasSubject(subject) {
				r.courses[i].Subjects = append(r.courses[i].Subjects, subject)
			}
			out := r.courses[i]
			out.Subjects = append([]string(nil), out.Subjects...)
			return out, nil
		}
	}
	c := Course{College: college, Department: department, Grade: grade, Subjects: []string{subject}}
	r.courses = append(r.courses, c)
	return Course{College: college, Department: department, Grade: grade, Subjects: []string{subject}}, nil
}

// RemoveSubjectCascade drops subject from the matching courses, deletes the
// students enrolled under the exact tuple and purges their attendance.
// It returns the number of students removed.
func (r *Roster) RemoveSubjectCascade(college, department string, grade Grade, subject string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	courses := r.courses[:0]
	for _, c := range r.courses {
		if c.College == college && c.Department == department && c.Grade == grade {
			kept := make([]string, 0, len(c.Subjects))
			for _, s := range c.Subjects {
				if s != subject {
					kept = append(kept, s)
				}
			}
			c.Subjects = kept
		}
		if len(c.Subjects) > 0 {
			courses = append(courses, c)
		}
	}
	r.courses = courses

	return r.removeStudents(func(s Student) bool {
		return s.College == college && s.Department == department && s.Grade == grade && s.Subject == subject
	})
}

// removeStudents deletes every student matching fn and purges their ids from
// the attendance record. Callers hold the write lock.
func (r *Roster) removeStudents(fn func(Student) bool) int {
	removed := make(map[string]struct{})
	kept := r.students[:0]
	for _, s := range r.students {
		if fn(s) {
			removed[s.ID] = struct{}{}
			continue
		}
		kept = append(kept, s)
	}
	// clear the tail so dropped students are not retained by the backing array
	for i := len(kept); i < len(r.students); i++ {
		r.students[i] = Student{}
	}
	r.students = kept

	if len(removed) == 0 {
		return 0
	}
	for _, day := range r.record {
		for id := range removed {
			delete(day, id)
		}
	}
	return len(removed)
}

// AddStudent validates in and appends a new student. A student with the same
// name, department, grade and subject is rejected with ErrDuplicateStudent;
// the college takes part in that check only with StrictCollegeMatch.
func (r *Roster) AddStudent(in StudentInput) (Student, error) {
	if strings.TrimSpace(in.Name) == "" || in.College == "" || in.Department == "" || in.Grade == "" || in.Subject == "" {
		return Student{}, fmt.Errorf("%w: name, college, department, grade and subject are required", ErrValidation)
	}
	if !in.Grade.Valid() {
		return Student{}, fmt.Errorf("%w: unknown grade %q", ErrValidation, in.Grade)
	}
	if in.StudyType == "" {
		in.StudyType = Morning
	}
	if in.StudyType != Morning && in.StudyType != Evening {
		return Student{}, fmt.Errorf("%w: unknown study type %q", ErrValidation, in.StudyType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.students {
		if s.Name == in.Name && s.Department == in.Department && s.Grade == in.Grade && s.Subject == in.Subject &&
			(!r.opts.StrictCollegeMatch || s.College == in.College) {
			return Student{}, fmt.Errorf("%w: %s", ErrDuplicateStudent, in.Name)
		}
	}
	st := Student{
		ID:         r.newID(),
		Name:       in.Name,
		StudyType:  in.StudyType,
		College:    in.College,
		Department: in.Department,
		Grade:      in.Grade,
		Subject:    in.Subject,
	}
	r.students = append(r.students, st)
	return st, nil
}

// UpdateStudent applies p to the student with the given id.
func (r *Roster) UpdateStudent(id string, p StudentPatch) (Student, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return Student{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if p.StudyType != nil && *p.StudyType != Morning && *p.StudyType != Evening {
		return Student{}, fmt.Errorf("%w: unknown study type %q", ErrValidation, *p.StudyType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.students {
		if r.students[i].ID != id {
			continue
		}
		if p.Name != nil {
			r.students[i].Name = *p.Name
		}
		if p.StudyType != nil {
			r.students[i].StudyType = *p.StudyType
		}
		return r.students[i], nil
	}
	return Student{}, fmt.Errorf("%w: student %s", ErrNotFound, id)
}

// RemoveStudent deletes a student and its attendance marks. Unknown ids are
// ignored; the result reports whether anything was removed.
func (r *Roster) RemoveStudent(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeStudents(func(s Student) bool { return s.ID == id }) > 0
}

// RemoveAll deletes every student and the whole attendance record. Courses
// are kept.
func (r *Roster) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.students = nil
	r.record = make(Record)
}

// SetAttendance marks one student present or absent on dateKey.
func (r *Roster) SetAttendance(dateKey, studentID string, present bool) error {
	key, err := ParseDateKey(dateKey)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasStudent(studentID) {
		return fmt.Errorf("%w: student %s", ErrNotFound, studentID)
	}
	r.mark(key, []string{studentID}, present)
	return nil
}

func (r *Roster) hasStudent(id string) bool {
	for _, s := range r.students {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (r *Roster) mark(dateKey string, ids []string, present bool) {
	day, ok := r.record[dateKey]
	if !ok {
		day = make(map[string]bool, len(ids))
		r.record[dateKey] = day
	}
	for _, id := range ids {
		day[id] = present
	}
}

// ImportStudents appends rows as students of the course tuple in target.
// Rows without a name are skipped; rows are not checked for duplicates.
func (r *Roster) ImportStudents(target Filter, rows []ImportRow) ([]Student, error) {
	if !target.Complete() {
		return nil, fmt.Errorf("%w: college, department, grade and subject are required", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	added := make([]Student, 0, len(rows))
	for _, row := range rows {
		name := strings.TrimSpace(row.Name)
		if name == "" {
			continue
		}
		st := row.StudyType
		if st != Evening {
			st = Morning
		}
		s := Student{
			ID:         r.newID(),
			Name:       name,
			StudyType:  st,
			College:    target.College,
			Department: target.Department,
			Grade:      target.Grade,
			Subject:    target.Subject,
		}
		r.students = append(r.students, s)
		added = append(added, s)
	}
	return added, nil
}
