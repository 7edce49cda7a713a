package profile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/geocoder89/campusportal/internal/domain/academic"
	"github.com/geocoder89/campusportal/internal/domain/account"
	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/geocoder89/campusportal/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

const (
	outcomeOK         = "ok"
	outcomeNotFound   = "not_found"
	outcomeQueryError = "query_error"
)

// Store is the set of lookups resolution needs. Implementations return
// academic.ErrNotFound when no row matches.
type Store interface {
	StudentByUserID(ctx context.Context, userID string) (account.StudentProfile, error)
	FacultyByUserID(ctx context.Context, userID string) (account.FacultyProfile, error)
	SectionByID(ctx context.Context, id string) (academic.Section, error)
	DepartmentByID(ctx context.Context, id string) (academic.Department, error)
}

// MissingProfileReporter is told about identities whose profile row does not
// exist yet.
type MissingProfileReporter interface {
	ReportMissingProfile(ctx context.Context, id user.Identity) error
}

type Resolver struct {
	store    Store
	log      *slog.Logger
	prom     *observability.Prom
	reporter MissingProfileReporter
}

// NewResolver wires a resolver. prom and reporter may be nil.
func NewResolver(store Store, log *slog.Logger, prom *observability.Prom, reporter MissingProfileReporter) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{store: store, log: log, prom: prom, reporter: reporter}
}

// Resolve turns an identity into a ResolvedUser. It never fails: any lookup
// problem yields the degraded user with a nil Profile and the identity's
// role intact.
func (r *Resolver) Resolve(ctx context.Context, id user.Identity) account.ResolvedUser {
	role := user.ParseRole(string(id.Role))
	id.Role = role

	ctx, span := otel.Tracer("campusportal/profile").Start(ctx, "profile.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", id.ID),
		attribute.String("user.role", string(role)),
	)

	var (
		out account.ResolvedUser
		err error
	)

	switch role {
	case user.RoleAdmin:
		out = resolveAdmin(id)
	case user.RoleFaculty:
		out, err = r.resolveFaculty(ctx, id)
	default:
		out, err = r.resolveStudent(ctx, id)
	}

	if err == nil {
		r.prom.ObserveResolution(string(role), outcomeOK)
		return out
	}

	outcome := outcomeQueryError
	if errors.Is(err, academic.ErrNotFound) {
		outcome = outcomeNotFound
	}

	span.SetStatus(codes.Error, outcome)
	span.SetAttributes(attribute.String("profile.outcome", outcome))
	r.prom.ObserveResolution(string(role), outcome)

	r.log.WarnContext(ctx, "profile_resolution_degraded",
		"user_id", id.ID,
		"role", string(role),
		"reason", outcome,
		"err", err,
	)

	// a cancelled resolution was superseded; its outcome is not the user's
	if outcome == outcomeNotFound && r.reporter != nil && ctx.Err() == nil {
		if rerr := r.reporter.ReportMissingProfile(ctx, id); rerr != nil {
			r.log.ErrorContext(ctx, "profile_missing_report_failed", "user_id", id.ID, "err", rerr)
		}
	}

	return fallback(id)
}

func resolveAdmin(id user.Identity) account.ResolvedUser {
	name := id.Name
	if name == "" {
		name = "Admin"
	}

	return account.ResolvedUser{
		ID:      id.ID,
		Email:   id.Email,
		Role:    user.RoleAdmin,
		Name:    name,
		Profile: account.AdminProfile{},
	}
}

func (r *Resolver) resolveStudent(ctx context.Context, id user.Identity) (account.ResolvedUser, error) {
	st, err := r.store.StudentByUserID(ctx, id.ID)
	if err != nil {
		return account.ResolvedUser{}, err
	}

	// Both lookups are optional and independent; a failure only leaves its
	// own field nil.
	var g errgroup.Group

	if st.SectionID != nil {
		g.Go(func() error {
			sec, err := r.store.SectionByID(ctx, *st.SectionID)
			if err != nil {
				r.log.DebugContext(ctx, "section_lookup_failed", "user_id", id.ID, "err", err)
				return nil
			}
			st.Section = &sec
			return nil
		})
	}

	if st.DepartmentID != nil {
		g.Go(func() error {
			st.Department = r.department(ctx, id.ID, *st.DepartmentID)
			return nil
		})
	}

	_ = g.Wait()

	out := account.ResolvedUser{
		ID:      id.ID,
		Email:   id.Email,
		Role:    user.RoleStudent,
		Name:    st.Name,
		Profile: st,
	}
	if st.Department != nil {
		out.Department = st.Department.Name
	}
	return out, nil
}

func (r *Resolver) resolveFaculty(ctx context.Context, id user.Identity) (account.ResolvedUser, error) {
	fac, err := r.store.FacultyByUserID(ctx, id.ID)
	if err != nil {
		return account.ResolvedUser{}, err
	}

	if fac.DepartmentID != nil {
		fac.Department = r.department(ctx, id.ID, *fac.DepartmentID)
	}

	out := account.ResolvedUser{
		ID:      id.ID,
		Email:   id.Email,
		Role:    user.RoleFaculty,
		Name:    fac.Name,
		Profile: fac,
	}
	if fac.Department != nil {
		out.Department = fac.Department.Name
	}
	return out, nil
}

func (r *Resolver) department(ctx context.Context, userID, deptID string) *academic.Department {
	d, err := r.store.DepartmentByID(ctx, deptID)
	if err != nil {
		r.log.DebugContext(ctx, "department_lookup_failed", "user_id", userID, "err", err)
		return nil
	}
	return &d
}

// fallback is the degraded user: authenticated, role preserved, no profile.
func fallback(id user.Identity) account.ResolvedUser {
	name := id.Name
	if name == "" {
		name = id.Email
	}
	if name == "" {
		name = "User"
	}

	return account.ResolvedUser{
		ID:    id.ID,
		Email: id.Email,
		Role:  id.Role,
		Name:  name,
	}
}
