package attendance

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoster(opts Options) *Roster {
	r := New(opts)
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
	return r
}

func mustAdd(t *testing.T, r *Roster, in StudentInput) Student {
	t.Helper()
	s, err := r.AddStudent(in)
	require.NoError(t, err)
	return s
}

func TestAddCourse(t *testing.T) {
	r := newTestRoster(Options{})

	c, err := r.AddCourse("Science", "CS", GradeFirst, "Algorithms")
	require.NoError(t, err)
	assert.Equal(t, []string{"Algorithms"}, c.Subjects)

	c, err = r.AddCourse("Science", "CS", GradeFirst, "Networks")
	require.NoError(t, err)
	assert.Equal(t, []string{"Algorithms", "Networks"}, c.Subjects)

	// duplicate subject is ignored
	c, err = r.AddCourse("Science", "CS", GradeFirst, "Algorithms")
	require.NoError(t, err)
	assert.Equal(t, []string{"Algorithms", "Networks"}, c.Subjects)

	_, err = r.AddCourse("Science", "CS", GradeSecond, "Algorithms")
	require.NoError(t, err)
	assert.Len(t, r.Courses(), 2)

	tests := []struct {
		name                                string
		college, department, grade, subject string
	}{
		{name: "missing college", department: "CS", grade: "first", subject: "X"},
		{name: "missing subject", college: "Science", department: "CS", grade: "first"},
		{name: "unknown grade", college: "Science", department: "CS", grade: "fifth", subject: "X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.AddCourse(tt.college, tt.department, Grade(tt.grade), tt.subject)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestRemoveSubjectCascade(t *testing.T) {
	r := newTestRoster(Options{})
	_, _ = r.AddCourse("C", "D", GradeFirst, "S1")
	_, _ = r.AddCourse("C", "D", GradeFirst, "S2")
	s1 := mustAdd(t, r, StudentInput{Name: "Ali", College: "C", Department: "D", Grade: GradeFirst, Subject: "S1"})
	s2 := mustAdd(t, r, StudentInput{Name: "Sara", College: "C", Department: "D", Grade: GradeFirst, Subject: "S2"})
	require.NoError(t, r.SetAttendance("2024-03-01", s1.ID, true))
	require.NoError(t, r.SetAttendance("2024-03-01", s2.ID, true))

	removed := r.RemoveSubjectCascade("C", "D", GradeFirst, "S1")
	assert.Equal(t, 1, removed)

	courses := r.Courses()
	require.Len(t, courses, 1)
	assert.Equal(t, []string{"S2"}, courses[0].Subjects)

	snap := r.Snapshot()
	require.Len(t, snap.Students, 1)
	assert.Equal(t, s2.ID, snap.Students[0].ID)
	assert.NotContains(t, snap.Attendance["2024-03-01"], s1.ID)
	assert.True(t, snap.Attendance["2024-03-01"][s2.ID])

	// removing the last subject drops the course
	r.RemoveSubjectCascade("C", "D", GradeFirst, "S2")
	assert.Empty(t, r.Courses())
	assert.Equal(t, 1, r.TotalLectures())
}

func TestAddStudentDuplicate(t *testing.T) {
	in := StudentInput{Name: "Ali", College: "C1", Department: "D", Grade: GradeFirst, Subject: "S"}
	other := in
	other.College = "C2"

	t.Run("college ignored", func(t *testing.T) {
		r := newTestRoster(Options{})
		mustAdd(t, r, in)
		_, err := r.AddStudent(in)
		assert.ErrorIs(t, err, ErrDuplicateStudent)
		_, err = r.AddStudent(other)
		assert.ErrorIs(t, err, ErrDuplicateStudent)
	})

	t.Run("strict college", func(t *testing.T) {
		r := newTestRoster(Options{StrictCollegeMatch: true})
		mustAdd(t, r, in)
		_, err := r.AddStudent(in)
		assert.ErrorIs(t, err, ErrDuplicateStudent)
		_, err = r.AddStudent(other)
		assert.NoError(t, err)
	})
}

func TestAddStudentValidation(t *testing.T) {
	r := newTestRoster(Options{})
	s := mustAdd(t, r, StudentInput{Name: "Ali", College: "C", Department: "D", Grade: GradeFirst, Subject: "S"})
	assert.Equal(t, Morning, s.StudyType)
	assert.Equal(t, "s1", s.ID)

	tests := []struct {
		name string
		in   StudentInput
	}{
		{name: "blank name", in: StudentInput{Name: "  ", College: "C", Department: "D", Grade: GradeFirst, Subject: "S"}},
		{name: "no subject", in: StudentInput{Name: "Omar", College: "C", Department: "D", Grade: GradeFirst}},
		{name: "bad grade", in: StudentInput{Name: "Omar", College: "C", Department: "D", Grade: "zero", Subject: "S"}},
		{name: "bad study type", in: StudentInput{Name: "Omar", StudyType: "night", College: "C", Department: "D", Grade: GradeFirst, Subject: "S"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.AddStudent(tt.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestUpdateAndRemoveStudent(t *testing.T) {
	r := newTestRoster(Options{})
	s := mustAdd(t, r, StudentInput{Name: "Ali", College: "C", Department: "D", Grade: GradeFirst, Subject: "S"})

	name, evening := "Ali Hassan", Evening
	got, err := r.UpdateStudent(s.ID, StudentPatch{Name: &name, StudyType: &evening})
	require.NoError(t, err)
	assert.Equal(t, "Ali Hassan", got.Name)
	assert.Equal(t, Evening, got.StudyType)

	empty := ""
	_, err = r.UpdateStudent(s.ID, StudentPatch{Name: &empty})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = r.UpdateStudent("missing", StudentPatch{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, r.SetAttendance("2024-03-01", s.ID, true))
	assert.True(t, r.RemoveStudent(s.ID))
	assert.False(t, r.RemoveStudent(s.ID))
	assert.Empty(t, r.Snapshot().Attendance["2024-03-01"])
}

func TestRemoveAll(t *testing.T) {
	r := newTestRoster(Options{})
	_, _ = r.AddCourse("C", "D", GradeFirst, "S")
	s := mustAdd(t, r, StudentInput{Name: "Ali", College: "C", Department: "D", Grade: GradeFirst, Subject: "S"})
	require.NoError(t, r.SetAttendance("2024-03-01", s.ID, true))

	r.RemoveAll()
	snap := r.Snapshot()
	assert.Empty(t, snap.Students)
	assert.Empty(t, snap.Attendance)
	assert.Len(t, snap.Courses, 1)
	assert.Zero(t, r.TotalLectures())
}

func TestSetAttendance(t *testing.T) {
	r := newTestRoster(Options{})
	s := mustAdd(t, r, StudentInput{Name: "Ali", College: "C", Department: "D", Grade: GradeFirst, Subject: "S"})

	assert.ErrorIs(t, r.SetAttendance("2024-13-01", s.ID, true), ErrInvalidDate)
	assert.ErrorIs(t, r.SetAttendance("yesterday", s.ID, true), ErrInvalidDate)
	assert.ErrorIs(t, r.SetAttendance("2024-03-01", "ghost", true), ErrNotFound)

	require.NoError(t, r.SetAttendance("2024-03-01", s.ID, true))
	require.NoError(t, r.SetAttendance("2024-03-01", s.ID, false))
	assert.Equal(t, 0, r.AttendanceCount(s.ID))
	assert.Equal(t, 1, r.TotalLectures())
}

func TestImportStudents(t *testing.T) {
	r := newTestRoster(Options{})
	target := Filter{College: "C", Department: "D", Grade: GradeSecond, Subject: "S"}

	_, err := r.ImportStudents(Filter{Department: "D", Grade: GradeSecond, Subject: "S"}, []ImportRow{{Name: "x"}})
	assert.ErrorIs(t, err, ErrValidation)

	added, err := r.ImportStudents(target, []ImportRow{
		{Name: "Ali", StudyType: Evening},
		{Name: "  "},
		{Name: "Sara"},
	})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, Evening, added[0].StudyType)
	assert.Equal(t, Morning, added[1].StudyType)
	for _, s := range added {
		assert.Equal(t, "C", s.College)
		assert.Equal(t, GradeSecond, s.Grade)
		assert.Equal(t, "S", s.Subject)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	r := newTestRoster(Options{})
	_, _ = r.AddCourse("C", "D", GradeFirst, "S")
	snap := r.Snapshot()
	snap.Courses[0].Subjects[0] = "changed"
	assert.Equal(t, "S", r.Courses()[0].Subjects[0])

	restored := FromSnapshot(snap, Options{})
	assert.Equal(t, "changed", restored.Courses()[0].Subjects[0])
}

func TestParseStudyType(t *testing.T) {
	tests := []struct {
		in      string
		want    StudyType
		wantErr bool
	}{
		{in: "", want: Morning},
		{in: "Morning", want: Morning},
		{in: "صباحي", want: Morning},
		{in: "evening", want: Evening},
		{in: "مسائي", want: Evening},
		{in: "weekend", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStudyType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	st, err := ParseFilterStudyType("all")
	require.NoError(t, err)
	assert.Equal(t, AllStudyTypes, st)
}
