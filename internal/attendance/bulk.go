package attendance

import "fmt"

// MarkAll sets the mark of every student matching f on dateKey. The search
// term of a listing plays no part here. It returns the number of students
// marked; repeating the call leaves the record unchanged.
func (r *Roster) MarkAll(dateKey string, f Filter, present bool) (int, error) {
	key, err := ParseDateKey(dateKey)
	if err != nil {
		return 0, err
	}
	if !f.complete() {
		return 0, fmt.Errorf("%w: department, grade and subject are required", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	students := r.selectStudents(f)
	ids := make([]string, len(students))
	for i, s := range students {
		ids[i] = s.ID
	}
	if len(ids) > 0 {
		r.mark(key, ids, present)
	}
	return len(ids), nil
}

// MarkAllPresent is MarkAll with present set.
func (r *Roster) MarkAllPresent(dateKey string, f Filter) (int, error) {
	return r.MarkAll(dateKey, f, true)
}

// MarkAllAbsent is MarkAll with present cleared.
func (r *Roster) MarkAllAbsent(dateKey string, f Filter) (int, error) {
	return r.MarkAll(dateKey, f, false)
}

// BulkDeleteByFilter removes the students of f's department, grade and
// subject (restricted to f's study type unless it is "all") and purges
// their attendance marks.
func (r *Roster) BulkDeleteByFilter(f Filter) (int, error) {
	if !f.complete() {
		return 0, fmt.Errorf("%w: department, grade and subject are required", ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.removeStudents(func(s Student) bool {
		return s.Department == f.Department && s.Grade == f.Grade && s.Subject == f.Subject &&
			(f.allStudyTypes() || s.StudyType == f.StudyType)
	})
	if n == 0 {
		return 0, fmt.Errorf("%w: no students match", ErrNotFound)
	}
	return n, nil
}
