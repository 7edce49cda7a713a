package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/geocoder89/campusportal/internal/config"
	"github.com/geocoder89/campusportal/internal/domain/academic"
	"github.com/geocoder89/campusportal/internal/domain/account"
	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/geocoder89/campusportal/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type AcademicsAdmin interface {
	ListDepartments(ctx context.Context) ([]academic.Department, error)
	CreateDepartment(ctx context.Context, req academic.CreateDepartmentRequest) (academic.Department, error)
	ListSections(ctx context.Context, departmentID *string) ([]academic.Section, error)
	CreateSection(ctx context.Context, req academic.CreateSectionRequest) (academic.Section, error)
}

type IdentityWriter interface {
	GetByID(ctx context.Context, id string) (user.Identity, error)
}

// ProfileWriter stores a profile together with newUser, when non-nil, as a
// single unit: on error neither is kept.
type ProfileWriter interface {
	ProvisionStudent(ctx context.Context, newUser *user.Identity, p account.StudentProfile) error
	ProvisionFaculty(ctx context.Context, newUser *user.Identity, p account.FacultyProfile) error
}

type AdminHandler struct {
	academics AcademicsAdmin
	users     IdentityWriter
	profiles  ProfileWriter
	log       *slog.Logger
}

func NewAdminHandler(academics AcademicsAdmin, users IdentityWriter, profiles ProfileWriter, log *slog.Logger) *AdminHandler {
	if log == nil {
		log = slog.Default()
	}
	return &AdminHandler{academics: academics, users: users, profiles: profiles, log: log}
}

// GET /admin/departments

func (h *AdminHandler) ListDepartments(ctx *gin.Context) {
	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, err := h.academics.ListDepartments(cctx)
	if err != nil {
		RespondInternal(ctx, "Could not list departments")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

// POST /admin/departments

func (h *AdminHandler) CreateDepartment(ctx *gin.Context) {
	var req academic.CreateDepartmentRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	d, err := h.academics.CreateDepartment(cctx, req)
	if err != nil {
		if errors.Is(err, academic.ErrAlreadyExists) {
			RespondConflict(ctx, "department_exists", "A department with this code already exists")
			return
		}
		RespondInternal(ctx, "Could not create department")
		return
	}

	ctx.JSON(http.StatusCreated, d)
}

// GET /admin/sections?departmentId=

func (h *AdminHandler) ListSections(ctx *gin.Context) {
	var deptID *string
	if v := ctx.Query("departmentId"); v != "" {
		if uuid.Validate(v) != nil {
			RespondBadRequest(ctx, "departmentId must be a valid UUID", nil)
			return
		}
		deptID = &v
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	items, err := h.academics.ListSections(cctx, deptID)
	if err != nil {
		RespondInternal(ctx, "Could not list sections")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, gin.H{
		"items": items,
		"count": len(items),
	})
}

// POST /admin/sections

func (h *AdminHandler) CreateSection(ctx *gin.Context) {
	var req academic.CreateSectionRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	s, err := h.academics.CreateSection(cctx, req)
	if err != nil {
		if errors.Is(err, academic.ErrAlreadyExists) {
			RespondConflict(ctx, "section_exists", "This section already exists")
			return
		}
		RespondInternal(ctx, "Could not create section")
		return
	}

	ctx.JSON(http.StatusCreated, s)
}

// POST /admin/students

func (h *AdminHandler) ProvisionStudent(ctx *gin.Context) {
	var req account.ProvisionStudentRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	id, newUser, ok := h.identity(ctx, cctx, req.UserID, req.Email, req.Password, req.Name, user.RoleStudent)
	if !ok {
		return
	}

	p := account.StudentProfile{
		UserID:        id.ID,
		RollNumber:    req.RollNumber,
		Name:          req.Name,
		AdmissionYear: req.AdmissionYear,
		SectionID:     req.SectionID,
		DepartmentID:  req.DepartmentID,
	}

	if err := h.profiles.ProvisionStudent(cctx, newUser, p); err != nil {
		h.profileError(ctx, id, err)
		return
	}

	h.log.InfoContext(ctx.Request.Context(), "profile_provisioned", "user_id", id.ID, "role", string(user.RoleStudent), "new_user", newUser != nil)
	ctx.JSON(http.StatusCreated, gin.H{"user": id, "profile": p})
}

// POST /admin/faculty

func (h *AdminHandler) ProvisionFaculty(ctx *gin.Context) {
	var req account.ProvisionFacultyRequest
	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	id, newUser, ok := h.identity(ctx, cctx, req.UserID, req.Email, req.Password, req.Name, user.RoleFaculty)
	if !ok {
		return
	}

	p := account.FacultyProfile{
		UserID:       id.ID,
		EmployeeID:   req.EmployeeID,
		Name:         req.Name,
		DepartmentID: req.DepartmentID,
	}

	if err := h.profiles.ProvisionFaculty(cctx, newUser, p); err != nil {
		h.profileError(ctx, id, err)
		return
	}

	h.log.InfoContext(ctx.Request.Context(), "profile_provisioned", "user_id", id.ID, "role", string(user.RoleFaculty), "new_user", newUser != nil)
	ctx.JSON(http.StatusCreated, gin.H{"user": id, "profile": p})
}

// identity loads the existing identity named by userID, or prepares an
// unsaved one from email and password which is returned as newUser for the
// profile writer to insert. It writes the error response itself.
func (h *AdminHandler) identity(ctx *gin.Context, cctx context.Context, userID, email, password, name string, role user.Role) (user.Identity, *user.Identity, bool) {
	if userID != "" {
		id, err := h.users.GetByID(cctx, userID)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				RespondNotFound(ctx, "User not found")
				return user.Identity{}, nil, false
			}
			RespondInternal(ctx, "Could not load user")
			return user.Identity{}, nil, false
		}
		if user.ParseRole(string(id.Role)) != role {
			RespondConflict(ctx, "role_mismatch", "User has role "+string(id.Role))
			return user.Identity{}, nil, false
		}
		return id, nil, true
	}

	if email == "" || password == "" {
		RespondBadRequest(ctx, "Invalid request body", gin.H{"fields": []FieldError{{
			Field:   "userId",
			Rule:    "required_without",
			Param:   "email password",
			Message: "provide userId or both email and password",
		}}})
		return user.Identity{}, nil, false
	}

	if err := security.CheckPolicy(password); err != nil {
		RespondError(ctx, http.StatusBadRequest, "weak_password", err.Error(), nil)
		return user.Identity{}, nil, false
	}

	hash, err := security.HashPassword(password)
	if err != nil {
		RespondInternal(ctx, "Could not create user")
		return user.Identity{}, nil, false
	}

	id := user.NewIdentity(email, hash, name, role)
	return id, &id, true
}

func (h *AdminHandler) profileError(ctx *gin.Context, id user.Identity, err error) {
	switch {
	case errors.Is(err, user.ErrEmailTaken):
		RespondConflict(ctx, "email_taken", "Email is already in use.")
	case errors.Is(err, account.ErrProfileExists):
		RespondConflict(ctx, "profile_exists", "Profile already exists for this user")
	case errors.Is(err, account.ErrRollNumberTaken):
		RespondConflict(ctx, "roll_number_taken", "Roll number is already in use.")
	case errors.Is(err, account.ErrEmployeeIDTaken):
		RespondConflict(ctx, "employee_id_taken", "Employee id is already in use.")
	case errors.Is(err, account.ErrUnknownReference):
		RespondError(ctx, http.StatusBadRequest, "unknown_reference", "Section or department does not exist.", nil)
	default:
		h.log.ErrorContext(ctx.Request.Context(), "profile_provision_failed", "user_id", id.ID, "err", err)
		RespondInternal(ctx, "Could not create profile")
	}
}
