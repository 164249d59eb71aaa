package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/language"

	"roster/internal/attendance"
	"roster/internal/auth"
	"roster/internal/session"
	"roster/internal/sheet"
	"roster/internal/store"
)

type codeBox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBox) SendVerificationCode(_ context.Context, email, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[email] = code
	return nil
}

func (b *codeBox) SendPasswordReset(ctx context.Context, email, code string) error {
	return b.SendVerificationCode(ctx, email, code)
}

func (b *codeBox) code(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[email]
}

type testServer struct {
	t        *testing.T
	router   *gin.Engine
	blob     *store.Memory
	sessions *session.Manager
	codes    *codeBox
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	blob := store.NewMemory()
	codes := &codeBox{codes: make(map[string]string)}
	tokens := auth.TokenConfig{Issuer: "roster-test", SigningKey: "k", AccessTTL: time.Minute, RefreshTTL: time.Hour}
	accounts, err := auth.NewAccounts(ctx, blob, codes, tokens, bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, accounts.EnsureUser(ctx, "lecturer", "lecturer@example.com", "secret1"))

	sessions := session.NewManager(blob, time.Hour, attendance.Options{Locale: language.Arabic})
	t.Cleanup(func() { _ = sessions.Close(context.Background()) })

	h := New(accounts, sessions, map[string]store.Pinger{"store": blob})
	h.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	r := gin.New()
	h.Routes(r)
	return &testServer{t: t, router: r, blob: blob, sessions: sessions, codes: codes}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(s.t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(identifier, password string) string {
	s.t.Helper()
	w := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"identifier": identifier, "password": password})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

const group = "college=Eng&department=CS&grade=first&subject=Math"

func (s *testServer) addStudent(token, name, studyType string) attendance.Student {
	s.t.Helper()
	w := s.do(http.MethodPost, "/v1/students", token, gin.H{
		"name": name, "studyType": studyType, "college": "Eng", "department": "CS", "grade": "first", "subject": "Math",
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[attendance.Student](s.t, w)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","store":true}`, w.Body.String())
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/v1/auth/register", "", gin.H{"username": "new", "email": "new@example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"requireVerification":true,"email":"new@example.com"}`, w.Body.String())

	w = s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"identifier": "new", "password": "secret1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/v1/auth/verify", "", gin.H{"email": "new@example.com", "code": s.codes.code("new@example.com")})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"identifier": "new@example.com", "password": "secret1", "remember": true})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	assert.NotEmpty(t, resp["refresh_token"])

	w = s.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": resp["refresh_token"]})
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": resp["access_token"]})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodPost, "/v1/auth/register", "", gin.H{"username": "new", "email": "x@example.com", "password": "secret1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	w = s.do(http.MethodPost, "/v1/auth/register", "", gin.H{"username": "x", "email": "x@example.com", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(http.MethodPost, "/v1/auth/register", "", gin.H{"username": "x", "email": "x@example.com", "password": "secret1", "role": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown fields are rejected")
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/v1/auth/password/forgot", "", gin.H{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/v1/auth/password/forgot", "", gin.H{"email": "lecturer@example.com"})
	require.Equal(t, http.StatusAccepted, w.Code)
	w = s.do(http.MethodPost, "/v1/auth/password/reset", "", gin.H{
		"email": "lecturer@example.com", "code": s.codes.code("lecturer@example.com"), "new_password": "secret2",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s.login("lecturer", "secret2")
}

func TestRequiresToken(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/courses", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/v1/courses", "garbage", nil).Code)
}

func TestCoursesAndCascade(t *testing.T) {
	s := newTestServer(t)
	token := s.login("lecturer", "secret1")

	for _, subject := range []string{"Math", "Physics", "Math"} {
		w := s.do(http.MethodPost, "/v1/courses", token, gin.H{"college": "Eng", "department": "CS", "grade": "first", "subject": subject})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w := s.do(http.MethodPost, "/v1/courses", token, gin.H{"college": "Eng", "department": "CS", "grade": "fifth", "subject": "Math"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/v1/subjects?college=Eng&department=CS&grade=first", token, nil)
	assert.JSONEq(t, `{"subjects":["Math","Physics"]}`, w.Body.String())

	ali := s.addStudent(token, "Ali", "morning")
	require.Equal(t, http.StatusNoContent, s.do(http.MethodPut, "/v1/attendance/2024-03-01/"+ali.ID, token, gin.H{"present": true}).Code)

	w = s.do(http.MethodDelete, "/v1/courses?"+group, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removedStudents":1}`, w.Body.String())

	w = s.do(http.MethodGet, "/v1/courses", token, nil)
	assert.JSONEq(t, `{"courses":[{"college":"Eng","department":"CS","grade":"first","subjects":["Physics"]}]}`, w.Body.String())
	w = s.do(http.MethodGet, "/v1/lectures", token, nil)
	assert.JSONEq(t, `{"totalLectures":1,"dates":["2024-03-01"]}`, w.Body.String())
}

func TestStudentsAndAttendance(t *testing.T) {
	s := newTestServer(t)
	token := s.login("lecturer", "secret1")

	zaid := s.addStudent(token, "Zaid", "")
	ali := s.addStudent(token, "Ali", "مسائي")
	mona := s.addStudent(token, "Mona", "morning")
	assert.Equal(t, attendance.Evening, ali.StudyType)

	w := s.do(http.MethodPost, "/v1/students", token, gin.H{
		"name": "Ali", "college": "Other", "department": "CS", "grade": "first", "subject": "Math",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/v1/attendance/2024-03-01/mark-all?"+group, token, gin.H{"present": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"marked":3}`, w.Body.String())
	require.Equal(t, http.StatusNoContent, s.do(http.MethodPut, "/v1/attendance/2024-03-01/"+zaid.ID, token, gin.H{"present": false}).Code)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/v1/attendance/01-03-2024/"+zaid.ID, token, gin.H{"present": true}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPut, "/v1/attendance/2024-03-01/ghost", token, gin.H{"present": true}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, "/v1/attendance/2024-03-01/"+zaid.ID, token, gin.H{}).Code)

	w = s.do(http.MethodGet, "/v1/statistics?"+group+"&date=2024-03-01", token, nil)
	assert.JSONEq(t, `{"total":3,"present":2,"absent":1,"percentage":"66.7"}`, w.Body.String())

	w = s.do(http.MethodGet, "/v1/students?"+group+"&sortBy=name&order=desc", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	table := decode[attendance.Table](t, w)
	assert.Equal(t, "2024-03-01", table.Date)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, "Zaid", table.Rows[0].Name)
	assert.False(t, table.Rows[0].Present)
	assert.Equal(t, "Ali", table.Rows[2].Name)
	assert.Equal(t, 1, table.Rows[2].Attended)

	w = s.do(http.MethodGet, "/v1/students?"+group+"&search=on&studyType=morning", token, nil)
	table = decode[attendance.Table](t, w)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, mona.ID, table.Rows[0].ID)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/v1/students?"+group+"&sortBy=age", token, nil).Code)

	newName := "Mona K"
	w = s.do(http.MethodPatch, "/v1/students/"+mona.ID, token, gin.H{"name": newName, "studyType": "evening"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, attendance.Evening, decode[attendance.Student](t, w).StudyType)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPatch, "/v1/students/ghost", token, gin.H{"name": "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPatch, "/v1/students/"+mona.ID, token, gin.H{"name": " "}).Code)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/v1/students/"+zaid.ID, token, nil).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/v1/students/ghost", token, nil).Code)

	w = s.do(http.MethodPost, "/v1/students/bulk-delete?"+group+"&studyType=evening", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":2}`, w.Body.String())
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/v1/students/bulk-delete?"+group, token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/v1/students/bulk-delete?department=CS", token, nil).Code)
}

func TestExportImportPrint(t *testing.T) {
	s := newTestServer(t)
	token := s.login("lecturer", "secret1")
	ali := s.addStudent(token, "Ali", "morning")
	s.addStudent(token, "Huda", "evening")
	require.Equal(t, http.StatusNoContent, s.do(http.MethodPut, "/v1/attendance/2024-03-01/"+ali.ID, token, gin.H{"present": true}).Code)

	w := s.do(http.MethodGet, "/v1/export?"+group, token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, sheet.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance_CS_first_Math.xlsx")
	workbook := w.Body.Bytes()

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/export?college=Eng&department=CS&grade=first&subject=Art", token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/v1/export?department=CS", token, nil).Code)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "roster.xlsx")
	require.NoError(t, err)
	_, err = part.Write(workbook)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	q := url.Values{"college": {"Eng"}, "department": {"CS"}, "grade": {"second"}, "subject": {"Math"}}
	req := httptest.NewRequest(http.MethodPost, "/v1/import?"+q.Encode(), &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	imported := decode[struct {
		Imported int                  `json:"imported"`
		Students []attendance.Student `json:"students"`
	}](t, rec)
	assert.Equal(t, 2, imported.Imported)
	assert.Equal(t, attendance.GradeSecond, imported.Students[0].Grade)
	assert.Equal(t, attendance.Evening, imported.Students[1].StudyType)

	w = s.do(http.MethodGet, "/v1/print?"+group+"&date=2024-03-01", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, w.Body.String(), "<td>Ali</td>")
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/v1/print?department=CS", token, nil).Code)
}

func TestLogoutFlushesRoster(t *testing.T) {
	s := newTestServer(t)
	token := s.login("lecturer", "secret1")
	s.addStudent(token, "Ali", "morning")

	require.Equal(t, http.StatusNoContent, s.do(http.MethodPost, "/v1/auth/logout", token, nil).Code)
	data, err := s.blob.Get(context.Background(), "students_"+claimsSubject(t, token))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"Ali"`)

	w := s.do(http.MethodGet, "/v1/students?"+group, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[attendance.Table](t, w).Rows, 1, "roster is reloaded on next use")
}

func claimsSubject(t *testing.T, token string) string {
	t.Helper()
	tc := auth.TokenConfig{Issuer: "roster-test", SigningKey: "k"}
	claims, err := tc.Parse(token)
	require.NoError(t, err)
	return claims.Subject
}

func TestRostersAreScopedPerIdentity(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/v1/auth/register", "", gin.H{"username": "other", "email": "o@example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/v1/auth/verify", "", gin.H{"email": "o@example.com", "code": s.codes.code("o@example.com")}).Code)

	lecturer := s.login("lecturer", "secret1")
	other := s.login("other", "secret1")
	s.addStudent(lecturer, "Ali", "morning")

	w = s.do(http.MethodGet, "/v1/students?"+group, other, nil)
	assert.Empty(t, decode[attendance.Table](t, w).Rows)
}
