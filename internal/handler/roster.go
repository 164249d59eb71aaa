package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"roster/internal/attendance"
	"roster/internal/metrics"
)

// filterQuery is the course context shared by most roster endpoints.
type filterQuery struct {
	College    string `form:"college"`
	Department string `form:"department"`
	Grade      string `form:"grade"`
	Subject    string `form:"subject"`
	StudyType  string `form:"studyType"`
}

func (q filterQuery) filter() (attendance.Filter, error) {
	grade, err := parseGrade(q.Grade)
	if err != nil {
		return attendance.Filter{}, err
	}
	st, err := attendance.ParseFilterStudyType(q.StudyType)
	if err != nil {
		return attendance.Filter{}, err
	}
	return attendance.Filter{
		College:    q.College,
		Department: q.Department,
		Grade:      grade,
		Subject:    q.Subject,
		StudyType:  st,
	}, nil
}

func parseGrade(s string) (attendance.Grade, error) {
	g := attendance.Grade(s)
	if s != "" && !g.Valid() {
		return "", fmt.Errorf("%w: unknown grade %q", attendance.ErrValidation, s)
	}
	return g, nil
}

func bindFilter(c *gin.Context) (attendance.Filter, bool) {
	var q filterQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return attendance.Filter{}, false
	}
	f, err := q.filter()
	if err != nil {
		fail(c, err)
		return attendance.Filter{}, false
	}
	return f, true
}

type listQuery struct {
	filterQuery
	Search string `form:"search"`
	SortBy string `form:"sortBy"`
	Order  string `form:"order"`
	Date   string `form:"date"`
}

func (q listQuery) query() (attendance.Query, error) {
	f, err := q.filter()
	if err != nil {
		return attendance.Query{}, err
	}
	out := attendance.Query{Filter: f, Search: q.Search, SortBy: attendance.SortKey(q.SortBy), Order: attendance.SortOrder(q.Order)}
	switch out.SortBy {
	case "", attendance.SortByName, attendance.SortByDepartment, attendance.SortByGrade,
		attendance.SortBySubject, attendance.SortByStudyType:
	default:
		return attendance.Query{}, fmt.Errorf("%w: unknown sort key %q", attendance.ErrValidation, q.SortBy)
	}
	switch out.Order {
	case "":
		out.Order = attendance.Ascending
	case attendance.Ascending, attendance.Descending:
	default:
		return attendance.Query{}, fmt.Errorf("%w: unknown order %q", attendance.ErrValidation, q.Order)
	}
	return out, nil
}

func (h *Handler) bindList(c *gin.Context) (attendance.Query, string, bool) {
	var lq listQuery
	if err := c.ShouldBindQuery(&lq); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return attendance.Query{}, "", false
	}
	q, err := lq.query()
	if err != nil {
		fail(c, err)
		return attendance.Query{}, "", false
	}
	date := lq.Date
	if date == "" {
		date = h.today()
	}
	return q, date, true
}

func (h *Handler) ListCourses(c *gin.Context) {
	courses := rosterOf(c).Courses()
	if courses == nil {
		courses = []attendance.Course{}
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

type courseRequest struct {
	College    string `json:"college" binding:"required"`
	Department string `json:"department" binding:"required"`
	Grade      string `json:"grade" binding:"required"`
	Subject    string `json:"subject" binding:"required"`
}

func (h *Handler) AddCourse(c *gin.Context) {
	var req courseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	grade, err := parseGrade(req.Grade)
	if err != nil {
		fail(c, err)
		return
	}
	course, err := rosterOf(c).AddCourse(req.College, req.Department, grade, req.Subject)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

// RemoveSubject drops a subject together with its students and their marks.
func (h *Handler) RemoveSubject(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	if !f.Complete() {
		fail(c, fmt.Errorf("%w: college, department, grade and subject are required", attendance.ErrValidation))
		return
	}
	removed := rosterOf(c).RemoveSubjectCascade(f.College, f.Department, f.Grade, f.Subject)
	c.JSON(http.StatusOK, gin.H{"removedStudents": removed})
}

func (h *Handler) AvailableSubjects(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	subjects := rosterOf(c).AvailableSubjects(f.College, f.Department, f.Grade)
	if subjects == nil {
		subjects = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"subjects": subjects})
}

// ListStudents returns the visible students of the query with their marks
// for date (default today) and the day's statistics.
func (h *Handler) ListStudents(c *gin.Context) {
	q, date, ok := h.bindList(c)
	if !ok {
		return
	}
	table, err := rosterOf(c).Table(q, date)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, table)
}

type studentRequest struct {
	Name       string `json:"name" binding:"required"`
	StudyType  string `json:"studyType"`
	College    string `json:"college" binding:"required"`
	Department string `json:"department" binding:"required"`
	Grade      string `json:"grade" binding:"required"`
	Subject    string `json:"subject" binding:"required"`
}

func (h *Handler) AddStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st, err := attendance.ParseStudyType(req.StudyType)
	if err != nil {
		fail(c, err)
		return
	}
	grade, err := parseGrade(req.Grade)
	if err != nil {
		fail(c, err)
		return
	}
	student, err := rosterOf(c).AddStudent(attendance.StudentInput{
		Name:       req.Name,
		StudyType:  st,
		College:    req.College,
		Department: req.Department,
		Grade:      grade,
		Subject:    req.Subject,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, student)
}

type patchRequest struct {
	Name      *string `json:"name"`
	StudyType *string `json:"studyType"`
}

func (h *Handler) UpdateStudent(c *gin.Context) {
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	patch := attendance.StudentPatch{Name: req.Name}
	if req.StudyType != nil {
		st, err := attendance.ParseStudyType(*req.StudyType)
		if err != nil {
			fail(c, err)
			return
		}
		patch.StudyType = &st
	}
	student, err := rosterOf(c).UpdateStudent(c.Param("id"), patch)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, student)
}

func (h *Handler) RemoveStudent(c *gin.Context) {
	rosterOf(c).RemoveStudent(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *Handler) RemoveAllStudents(c *gin.Context) {
	rosterOf(c).RemoveAll()
	c.Status(http.StatusNoContent)
}

func (h *Handler) BulkDelete(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	n, err := rosterOf(c).BulkDeleteByFilter(f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": n})
}

type markRequest struct {
	Present *bool `json:"present" binding:"required"`
}

func (h *Handler) SetAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := rosterOf(c).SetAttendance(c.Param("date"), c.Param("studentID"), *req.Present); err != nil {
		fail(c, err)
		return
	}
	metrics.AttendanceMarks.WithLabelValues(metrics.Status(*req.Present)).Inc()
	c.Status(http.StatusNoContent)
}

// MarkAll marks every student of the query filter on the date. The body
// carries the mark; the filter comes from the query string.
func (h *Handler) MarkAll(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	n, err := rosterOf(c).MarkAll(c.Param("date"), f, *req.Present)
	if err != nil {
		fail(c, err)
		return
	}
	metrics.AttendanceMarks.WithLabelValues(metrics.Status(*req.Present)).Add(float64(n))
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func (h *Handler) Statistics(c *gin.Context) {
	f, ok := bindFilter(c)
	if !ok {
		return
	}
	date := c.Query("date")
	if date == "" {
		date = h.today()
	}
	key, err := attendance.ParseDateKey(date)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rosterOf(c).Statistics(f, key))
}

func (h *Handler) Lectures(c *gin.Context) {
	r := rosterOf(c)
	dates := r.DateKeys()
	c.JSON(http.StatusOK, gin.H{"totalLectures": len(dates), "dates": dates})
}
