package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/campusportal/internal/config"
	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/geocoder89/campusportal/internal/http/handlers"
	"github.com/geocoder89/campusportal/internal/http/middlewares"
	"github.com/geocoder89/campusportal/internal/observability"
	"github.com/geocoder89/campusportal/internal/portal"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const maxBodyBytes = 1 << 20

// Academics is every academic read and write the portal pages need.
type Academics interface {
	handlers.StudentRecords
	handlers.FacultyRecords
	handlers.AcademicsAdmin
}

type Deps struct {
	Log      *slog.Logger
	Cfg      config.Config
	Prom     *observability.Prom
	Gatherer prometheus.Gatherer

	Sessions  *portal.Registry
	Academics Academics
	Users     handlers.IdentityWriter
	Profiles  handlers.ProfileWriter
	Alerts    handlers.AlertsRepo

	// readiness checks, keyed by name
	Checks map[string]handlers.Pinger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Cfg.Env != "dev" && d.Cfg.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}

	r := gin.New()

	// middleware
	r.Use(middlewares.RequestID())
	r.Use(middlewares.ErrorBoundary(d.Log))
	r.Use(otelgin.Middleware("campusportal-api"))
	r.Use(d.Prom.GinHandleMiddleware())
	r.Use(middlewares.RequestLogger(d.Log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(d.Cfg.CORSAllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(maxBodyBytes))

	// health
	h := handlers.NewHealthHandler(d.Checks)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	sessions := middlewares.NewSessionMiddleware(d.Sessions, d.Cfg.IsProd(), d.Cfg.SessionIdleTTL())

	loginLimiter := middlewares.NewRateLimiter(10, time.Minute)
	portalLimiter := middlewares.NewRateLimiter(300, time.Minute)

	authH := handlers.NewAuthHandler(d.Sessions, sessions.ClearCookie, d.Log)
	studentH := handlers.NewStudentHandler(d.Academics)
	facultyH := handlers.NewFacultyHandler(d.Academics)
	adminH := handlers.NewAdminHandler(d.Academics, d.Users, d.Profiles, d.Log)
	alertsH := handlers.NewAlertsHandler(d.Alerts)

	// only a login attempt allocates a session context
	r.POST("/login", middlewares.RequireJSON(), loginLimiter.RateLimiterMiddleware(middlewares.KeyByIP), sessions.StartSession(), authH.Login)

	p := r.Group("/", sessions.AwaitSession(), middlewares.RequireJSON())

	p.POST("/logout", authH.Logout)
	p.GET("/session", authH.Session)

	signedIn := p.Group("/", middlewares.RequireRoles(), portalLimiter.RateLimiterMiddleware(middlewares.KeyByActorOrIP))
	signedIn.POST("/session/refresh", authH.RefreshSession)
	signedIn.POST("/account/password", authH.ChangePassword)
	signedIn.POST("/account/sign-out-everywhere", authH.SignOutEverywhere)

	student := p.Group("/student", middlewares.RequireRoles(user.RoleStudent), portalLimiter.RateLimiterMiddleware(middlewares.KeyByActorOrIP))
	student.GET("/dashboard", studentH.Dashboard)
	student.GET("/attendance", studentH.Attendance)
	student.GET("/marks", studentH.Marks)

	faculty := p.Group("/faculty", middlewares.RequireRoles(user.RoleFaculty), portalLimiter.RateLimiterMiddleware(middlewares.KeyByActorOrIP))
	faculty.GET("/timetable", facultyH.Timetable)
	faculty.GET("/timetable/:id/students", facultyH.SlotStudents)
	faculty.POST("/attendance", facultyH.MarkAttendance)
	faculty.POST("/marks", facultyH.EnterMarks)

	admin := p.Group("/admin", middlewares.RequireRoles(user.RoleAdmin), portalLimiter.RateLimiterMiddleware(middlewares.KeyByActorOrIP))
	admin.GET("/departments", adminH.ListDepartments)
	admin.POST("/departments", adminH.CreateDepartment)
	admin.GET("/sections", adminH.ListSections)
	admin.POST("/sections", adminH.CreateSection)
	admin.POST("/students", adminH.ProvisionStudent)
	admin.POST("/faculty", adminH.ProvisionFaculty)
	admin.GET("/alerts", alertsH.List)
	admin.POST("/alerts/:id/retry", alertsH.Retry)

	r.NoRoute(func(ctx *gin.Context) {
		handlers.RespondError(ctx, http.StatusNotFound, "not_found", "Route not found", nil)
	})

	return r
}
