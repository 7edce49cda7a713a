package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/geocoder89/campusportal/internal/auth"
	"github.com/geocoder89/campusportal/internal/config"
	"github.com/geocoder89/campusportal/internal/credstore"
	"github.com/geocoder89/campusportal/internal/db"
	"github.com/geocoder89/campusportal/internal/domain/job"
	"github.com/geocoder89/campusportal/internal/domain/user"
	apphttp "github.com/geocoder89/campusportal/internal/http"
	"github.com/geocoder89/campusportal/internal/jobs"
	"github.com/geocoder89/campusportal/internal/portal"
	"github.com/geocoder89/campusportal/internal/profile"
	"github.com/geocoder89/campusportal/internal/repo/postgres"
	"github.com/geocoder89/campusportal/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type env struct {
	router *gin.Engine
	pool   *pgxpool.Pool
	users  *postgres.UsersRepo
	jobs   *postgres.JobsRepo
}

func setup(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	pool, err := db.NewPool(dsn)
	if err != nil {
		t.Fatalf("Failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	ctx := context.Background()
	if err := db.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE marks, attendance, timetable, students, faculty, subjects, sections, departments,
		         refresh_tokens, jobs, users
		CASCADE
	`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))

	users := postgres.NewUsersRepo(pool, nil)
	profiles := postgres.NewProfilesRepo(pool, nil)
	jobsRepo := postgres.NewJobsRepo(pool, nil)

	jwt := auth.NewManager("test-secret-key", 60*time.Minute, 7*24*time.Hour)
	svc := credstore.NewService(users, postgres.NewRefreshTokensRepo(pool, nil), jwt, nil, nil, log)
	resolver := profile.NewResolver(profiles, log, nil, jobs.NewMissingProfileAlerts(jobsRepo))
	sessions := portal.NewRegistry(svc, nil, resolver, time.Hour, nil, log)

	t.Cleanup(func() {
		c, cancel := context.WithCancel(context.Background())
		cancel()
		sessions.Run(c, time.Hour)
	})

	router := apphttp.NewRouter(apphttp.Deps{
		Log:       log,
		Cfg:       config.Config{Env: "test", SessionIdleTTLMinutes: 60},
		Sessions:  sessions,
		Academics: postgres.NewAcademicsRepo(pool, nil),
		Users:     users,
		Profiles:  profiles,
		Alerts:    jobsRepo,
	})

	return &env{router: router, pool: pool, users: users, jobs: jobsRepo}
}

type browser struct {
	t      *testing.T
	router *gin.Engine
	cookie *http.Cookie
}

func (b *browser) do(method, path string, body any) *httptest.ResponseRecorder {
	b.t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			b.t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.cookie != nil {
		req.AddCookie(b.cookie)
	}

	w := httptest.NewRecorder()
	b.router.ServeHTTP(w, req)

	for _, ck := range w.Result().Cookies() {
		if ck.Name == portal.CookieName && ck.MaxAge >= 0 {
			b.cookie = ck
		}
	}
	return w
}

func mustCreateUser(t *testing.T, e *env, email string, role user.Role) user.Identity {
	t.Helper()

	hash, err := security.HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := e.users.Create(context.Background(), email, hash, "", role)
	if err != nil {
		t.Fatalf("create %s: %v", email, err)
	}
	return u
}

func TestPortal_UnprovisionedStudentThenProvisioned(t *testing.T) {
	e := setup(t)

	mustCreateUser(t, e, "admin@example.com", user.RoleAdmin)
	stu := mustCreateUser(t, e, "s1@example.com", user.RoleStudent)

	student := &browser{t: t, router: e.router}
	admin := &browser{t: t, router: e.router}

	w := student.do(http.MethodPost, "/login", map[string]string{"email": "s1@example.com", "password": "secret123", "role": "student"})
	if w.Code != http.StatusOK {
		t.Fatalf("student login: %d %s", w.Code, w.Body.String())
	}

	w = student.do(http.MethodGet, "/student/dashboard", nil)
	var dash map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &dash)
	if w.Code != http.StatusOK || dash["profileStatus"] != "not_assigned" {
		t.Fatalf("expected not_assigned dashboard, got %d %s", w.Code, w.Body.String())
	}

	pending := job.StatusPending
	alerts, err := e.jobs.ListByType(context.Background(), string(jobs.JobProfileMissingAlert), &pending, 10)
	if err != nil || len(alerts) != 1 {
		t.Fatalf("expected one pending alert, got %d %v", len(alerts), err)
	}

	w = admin.do(http.MethodPost, "/login", map[string]string{"email": "admin@example.com", "password": "secret123", "role": "admin"})
	if w.Code != http.StatusOK {
		t.Fatalf("admin login: %d %s", w.Code, w.Body.String())
	}

	w = admin.do(http.MethodPost, "/admin/departments", map[string]string{"code": "CSE", "name": "Computer Science"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create department: %d %s", w.Code, w.Body.String())
	}
	var dept struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &dept)

	w = admin.do(http.MethodPost, "/admin/sections", map[string]any{"departmentId": dept.ID, "year": 2, "name": "A"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create section: %d %s", w.Code, w.Body.String())
	}
	var sec struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &sec)

	w = admin.do(http.MethodPost, "/admin/students", map[string]any{
		"userId":        stu.ID,
		"name":          "Asha Kumar",
		"rollNumber":    "CSE-2-001",
		"admissionYear": 2025,
		"sectionId":     sec.ID,
		"departmentId":  dept.ID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("provision student: %d %s", w.Code, w.Body.String())
	}

	w = admin.do(http.MethodPost, "/admin/students", map[string]any{
		"email":         "s2@example.com",
		"password":      "welcome42",
		"name":          "Second Student",
		"rollNumber":    "CSE-2-001",
		"admissionYear": 2025,
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate roll number: expected 409, got %d %s", w.Code, w.Body.String())
	}

	w = admin.do(http.MethodPost, "/admin/students", map[string]any{
		"email":         "s3@example.com",
		"password":      "welcome42",
		"name":          "Third Student",
		"rollNumber":    "CSE-2-003",
		"admissionYear": 2025,
		"sectionId":     uuid.NewString(),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown section: expected 400, got %d %s", w.Code, w.Body.String())
	}

	for _, email := range []string{"s2@example.com", "s3@example.com"} {
		if _, err := e.users.GetByEmail(context.Background(), email); !errors.Is(err, user.ErrNotFound) {
			t.Fatalf("%s should not exist after a rejected provision, got %v", email, err)
		}
	}

	w = student.do(http.MethodPost, "/session/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh session: %d %s", w.Code, w.Body.String())
	}

	var state struct {
		User struct {
			Name       string `json:"name"`
			Department string `json:"department"`
			Profile    struct {
				Kind    string `json:"kind"`
				Section struct {
					Name string `json:"name"`
				} `json:"section"`
			} `json:"profile"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.User.Name != "Asha Kumar" || state.User.Department != "Computer Science" ||
		state.User.Profile.Kind != "student" || state.User.Profile.Section.Name != "A" {
		t.Fatalf("unexpected resolved user: %s", w.Body.String())
	}

	w = student.do(http.MethodGet, "/student/dashboard", nil)
	dash = nil
	_ = json.Unmarshal(w.Body.Bytes(), &dash)
	if w.Code != http.StatusOK || dash["profileStatus"] != "ok" {
		t.Fatalf("expected full dashboard, got %d %s", w.Code, w.Body.String())
	}
}

func TestPortal_RoleMismatchAndLogout(t *testing.T) {
	e := setup(t)
	mustCreateUser(t, e, "f1@example.com", user.RoleFaculty)

	b := &browser{t: t, router: e.router}

	w := b.do(http.MethodPost, "/login", map[string]string{"email": "f1@example.com", "password": "secret123", "role": "student"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong role, got %d", w.Code)
	}

	var active int
	err := e.pool.QueryRow(context.Background(), `SELECT COUNT(*) FROM refresh_tokens WHERE revoked_at IS NULL`).Scan(&active)
	if err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if active != 0 {
		t.Fatalf("mismatched login must not leave an active refresh token, found %d", active)
	}

	w = b.do(http.MethodPost, "/login", map[string]string{"email": "f1@example.com", "password": "secret123", "role": "faculty"})
	if w.Code != http.StatusOK {
		t.Fatalf("faculty login: %d %s", w.Code, w.Body.String())
	}

	if w := b.do(http.MethodGet, "/faculty/timetable", nil); w.Code != http.StatusConflict {
		t.Fatalf("unprovisioned faculty should get 409, got %d", w.Code)
	}

	if w := b.do(http.MethodPost, "/logout", nil); w.Code != http.StatusOK {
		t.Fatalf("logout: %d", w.Code)
	}
	if w := b.do(http.MethodGet, "/faculty/timetable", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", w.Code)
	}
}
