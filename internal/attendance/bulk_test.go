package attendance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkAllIdempotent(t *testing.T) {
	r, students := seedStatistics(t)
	f := Filter{Department: "D", Grade: GradeFirst, Subject: "S"}

	n, err := r.MarkAllPresent("2024-03-01", f)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	once := r.Snapshot().Attendance

	_, err = r.MarkAllPresent("2024-03-01", f)
	require.NoError(t, err)
	assert.Equal(t, once, r.Snapshot().Attendance)
	assert.NotContains(t, once["2024-03-01"], students[3].ID)

	f.StudyType = Evening
	n, err = r.MarkAllAbsent("2024-03-01", f)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "66.7", r.Statistics(Filter{Department: "D", Grade: GradeFirst, Subject: "S"}, "2024-03-01").Percentage)
}

func TestMarkAllValidation(t *testing.T) {
	r, _ := seedStatistics(t)

	_, err := r.MarkAll("2024-02-30", Filter{Department: "D", Grade: GradeFirst, Subject: "S"}, true)
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = r.MarkAll("2024-03-01", Filter{Department: "D", Grade: GradeFirst}, true)
	assert.ErrorIs(t, err, ErrValidation)

	n, err := r.MarkAll("2024-03-01", Filter{Department: "D", Grade: GradeFirst, Subject: "none"}, true)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, r.TotalLectures())
}

func TestBulkDeleteByFilter(t *testing.T) {
	r, students := seedStatistics(t)
	_, err := r.MarkAllPresent("2024-03-01", Filter{Department: "D", Grade: GradeFirst, Subject: "S"})
	require.NoError(t, err)
	require.NoError(t, r.SetAttendance("2024-03-01", students[3].ID, true))

	n, err := r.BulkDeleteByFilter(Filter{Department: "D", Grade: GradeFirst, Subject: "S", StudyType: Morning})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snap := r.Snapshot()
	assert.Equal(t, []string{"Ali", "Other"}, names(snap.Students))
	assert.Equal(t, map[string]bool{students[1].ID: true, students[3].ID: true}, snap.Attendance["2024-03-01"])

	n, err = r.BulkDeleteByFilter(Filter{Department: "D", Grade: GradeFirst, Subject: "S", StudyType: AllStudyTypes})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = r.BulkDeleteByFilter(Filter{Department: "D", Grade: GradeFirst, Subject: "S"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.BulkDeleteByFilter(Filter{Department: "D"})
	assert.ErrorIs(t, err, ErrValidation)
}
