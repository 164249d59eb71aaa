package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"roster/internal/attendance"
	"roster/internal/auth"
	"roster/internal/report"
	"roster/internal/session"
	"roster/internal/sheet"
	"roster/internal/store"
)

const sessionKey = "session"

// Handler serves the roster API. Every authenticated route works on the
// roster of the identity in the bearer token.
type Handler struct {
	accounts *auth.Accounts
	sessions *session.Manager
	checks   map[string]store.Pinger

	SheetLabels  sheet.Labels
	ReportLabels report.Labels
	now          func() time.Time
}

// New creates a handler. checks are pinged by /healthz.
func New(accounts *auth.Accounts, sessions *session.Manager, checks map[string]store.Pinger) *Handler {
	return &Handler{
		accounts:     accounts,
		sessions:     sessions,
		checks:       checks,
		SheetLabels:  sheet.DefaultLabels,
		ReportLabels: report.DefaultLabels,
		now:          time.Now,
	}
}

// Routes registers every endpoint on r. protected runs after token
// validation and before the session is attached, e.g. a rate limiter keyed
// by identity.
func (h *Handler) Routes(r gin.IRouter, protected ...gin.HandlerFunc) {
	binding.EnableDecoderDisallowUnknownFields = true

	r.GET("/healthz", h.Healthz)

	pub := r.Group("/v1/auth")
	pub.POST("/register", h.Register)
	pub.POST("/verify", h.VerifyEmail)
	pub.POST("/resend", h.ResendVerification)
	pub.POST("/login", h.Login)
	pub.POST("/refresh", h.Refresh)
	pub.POST("/password/forgot", h.ForgotPassword)
	pub.POST("/password/reset", h.ResetPassword)

	authed := r.Group("/v1", append([]gin.HandlerFunc{auth.IdentityAuth(h.accounts.Tokens())}, protected...)...)
	authed.POST("/auth/logout", h.Logout)

	v1 := authed.Group("", h.withSession)

	v1.GET("/courses", h.ListCourses)
	v1.POST("/courses", h.AddCourse)
	v1.DELETE("/courses", h.RemoveSubject)
	v1.GET("/subjects", h.AvailableSubjects)

	v1.GET("/students", h.ListStudents)
	v1.POST("/students", h.AddStudent)
	v1.DELETE("/students", h.RemoveAllStudents)
	v1.PATCH("/students/:id", h.UpdateStudent)
	v1.DELETE("/students/:id", h.RemoveStudent)
	v1.POST("/students/bulk-delete", h.BulkDelete)

	v1.PUT("/attendance/:date/:studentID", h.SetAttendance)
	v1.POST("/attendance/:date/mark-all", h.MarkAll)
	v1.GET("/statistics", h.Statistics)
	v1.GET("/lectures", h.Lectures)

	v1.GET("/export", h.Export)
	v1.POST("/import", h.Import)
	v1.GET("/print", h.Print)
}

// Healthz reports the status of every configured backend.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, p := range h.checks {
		healthy := p.Ping(ctx) == nil
		body[name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// withSession attaches the caller's roster, loading it on first use, and
// keeps it pinned until the request is done.
func (h *Handler) withSession(c *gin.Context) {
	identity := c.GetString(auth.IdentityKey)
	s, leave, err := h.sessions.Enter(c.Request.Context(), identity)
	if err != nil {
		log.Printf("acquire session %s: %v", identity, err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "could not load roster"})
		return
	}
	defer leave()
	c.Set(sessionKey, s)
	c.Next()
}

func rosterOf(c *gin.Context) *attendance.Roster {
	return c.MustGet(sessionKey).(*session.Session).Roster
}

func (h *Handler) today() string {
	return attendance.DateKey(h.now())
}

// fail writes err with the status its kind maps to.
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, attendance.ErrValidation),
		errors.Is(err, attendance.ErrInvalidDate),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidCode),
		errors.Is(err, auth.ErrCodeExpired),
		errors.Is(err, sheet.ErrEmpty),
		errors.Is(err, sheet.ErrMissingNames),
		errors.Is(err, report.ErrNoTable):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrDuplicateStudent),
		errors.Is(err, auth.ErrUsernameTaken),
		errors.Is(err, auth.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrNotFound),
		errors.Is(err, auth.ErrNoAccount),
		errors.Is(err, auth.ErrNoPendingRequest):
		return http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrNotVerified):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrDelivery):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
