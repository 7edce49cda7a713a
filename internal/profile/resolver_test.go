package profile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/geocoder89/campusportal/internal/domain/academic"
	"github.com/geocoder89/campusportal/internal/domain/account"
	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/geocoder89/campusportal/internal/observability"
	"github.com/geocoder89/campusportal/internal/repo/memory"
	"github.com/prometheus/client_golang/prometheus"
)

func strPtr(s string) *string { return &s }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

type fakeReporter struct {
	mu    sync.Mutex
	calls []user.Identity
	err   error
}

func (f *fakeReporter) ReportMissingProfile(_ context.Context, id user.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	return f.err
}

// splitStore lets the section and department lookups fail independently.
type splitStore struct {
	*memory.ProfilesRepo
	sectionErr error
	deptErr    error
}

func (s splitStore) SectionByID(ctx context.Context, id string) (academic.Section, error) {
	if s.sectionErr != nil {
		return academic.Section{}, s.sectionErr
	}
	return s.ProfilesRepo.SectionByID(ctx, id)
}

func (s splitStore) DepartmentByID(ctx context.Context, id string) (academic.Department, error) {
	if s.deptErr != nil {
		return academic.Department{}, s.deptErr
	}
	return s.ProfilesRepo.DepartmentByID(ctx, id)
}

func studentIdentity() user.Identity {
	return user.Identity{ID: "u1", Email: "s1@x.com", Role: user.RoleStudent}
}

func TestResolve_StudentWithoutRowIsDegraded(t *testing.T) {
	reporter := &fakeReporter{}
	r := NewResolver(memory.NewProfilesRepo(), quietLogger(), nil, reporter)

	got := r.Resolve(context.Background(), studentIdentity())

	if got.ID != "u1" || got.Email != "s1@x.com" {
		t.Fatalf("unexpected identity fields: %+v", got)
	}
	if got.Role != user.RoleStudent {
		t.Fatalf("expected role student, got %q", got.Role)
	}
	if got.Name != "s1@x.com" {
		t.Fatalf("expected name to fall back to email, got %q", got.Name)
	}
	if !got.Degraded() {
		t.Fatalf("expected nil profile, got %#v", got.Profile)
	}
	if len(reporter.calls) != 1 || reporter.calls[0].ID != "u1" {
		t.Fatalf("expected one missing-profile report, got %+v", reporter.calls)
	}
}

func TestResolve_DegradedPrefersMetadataName(t *testing.T) {
	r := NewResolver(memory.NewProfilesRepo(), quietLogger(), nil, nil)

	id := studentIdentity()
	id.Name = "Asha"

	got := r.Resolve(context.Background(), id)
	if got.Name != "Asha" {
		t.Fatalf("expected metadata name, got %q", got.Name)
	}
}

func TestResolve_StudentWithSectionOnly(t *testing.T) {
	store := memory.NewProfilesRepo()
	store.PutSection(academic.Section{ID: "sec1", Name: "CSE-A"})
	_ = store.CreateStudent(context.Background(), account.StudentProfile{
		UserID:    "u1",
		Name:      "Asha Rao",
		SectionID: strPtr("sec1"),
	})

	r := NewResolver(store, quietLogger(), nil, nil)
	got := r.Resolve(context.Background(), studentIdentity())

	st, ok := got.Student()
	if !ok {
		t.Fatalf("expected student profile, got %#v", got.Profile)
	}
	if st.Section == nil || st.Section.ID != "sec1" || st.Section.Name != "CSE-A" {
		t.Fatalf("unexpected section: %+v", st.Section)
	}
	if st.Department != nil {
		t.Fatalf("expected nil department, got %+v", st.Department)
	}
	if got.Name != "Asha Rao" {
		t.Fatalf("expected profile name, got %q", got.Name)
	}
	if got.Department != "" {
		t.Fatalf("expected no department name, got %q", got.Department)
	}

	b, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if _, present := m["department"]; present {
		t.Fatalf("department should be omitted, got %s", b)
	}
}

func TestResolve_NestedLookupsAreIndependent(t *testing.T) {
	base := memory.NewProfilesRepo()
	base.PutSection(academic.Section{ID: "sec1", Name: "CSE-A"})
	base.PutDepartment(academic.Department{ID: "d1", Code: "CSE", Name: "Computer Science"})
	_ = base.CreateStudent(context.Background(), account.StudentProfile{
		UserID:       "u1",
		Name:         "Asha Rao",
		SectionID:    strPtr("sec1"),
		DepartmentID: strPtr("d1"),
	})

	tests := []struct {
		name        string
		store       splitStore
		wantSection bool
		wantDept    bool
	}{
		{"both ok", splitStore{ProfilesRepo: base}, true, true},
		{"section fails", splitStore{ProfilesRepo: base, sectionErr: errors.New("boom")}, false, true},
		{"department fails", splitStore{ProfilesRepo: base, deptErr: errors.New("boom")}, true, false},
		{"both fail", splitStore{ProfilesRepo: base, sectionErr: errors.New("x"), deptErr: errors.New("y")}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(tt.store, quietLogger(), nil, nil)
			got := r.Resolve(context.Background(), studentIdentity())

			st, ok := got.Student()
			if !ok {
				t.Fatalf("expected student profile, got %#v", got.Profile)
			}
			if (st.Section != nil) != tt.wantSection {
				t.Fatalf("section presence = %v, want %v", st.Section != nil, tt.wantSection)
			}
			if (st.Department != nil) != tt.wantDept {
				t.Fatalf("department presence = %v, want %v", st.Department != nil, tt.wantDept)
			}
			if tt.wantDept && got.Department != "Computer Science" {
				t.Fatalf("expected department name, got %q", got.Department)
			}
		})
	}
}

func TestResolve_QueryErrorIsDegradedWithoutReport(t *testing.T) {
	store := memory.NewProfilesRepo()
	store.Err = errors.New("connection refused")
	reporter := &fakeReporter{}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	r := NewResolver(store, quietLogger(), prom, reporter)
	got := r.Resolve(context.Background(), user.Identity{ID: "f1", Email: "f@x.com", Role: user.RoleFaculty})

	if got.Role != user.RoleFaculty || !got.Degraded() {
		t.Fatalf("expected degraded faculty, got %+v", got)
	}
	if len(reporter.calls) != 0 {
		t.Fatalf("query errors must not raise missing-profile alerts")
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() != "campusportal_profile_resolutions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["role"] == "faculty" && labels["outcome"] == "query_error" && m.GetCounter().GetValue() == 1 {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected query_error resolution counted")
	}
}

func TestResolve_Faculty(t *testing.T) {
	store := memory.NewProfilesRepo()
	store.PutDepartment(academic.Department{ID: "d1", Code: "ME", Name: "Mechanical"})
	_ = store.CreateFaculty(context.Background(), account.FacultyProfile{
		UserID:       "f1",
		EmployeeID:   "EMP-7",
		Name:         "Dr. Iyer",
		DepartmentID: strPtr("d1"),
	})

	r := NewResolver(store, quietLogger(), nil, nil)
	got := r.Resolve(context.Background(), user.Identity{ID: "f1", Email: "f@x.com", Role: user.RoleFaculty})

	fac, ok := got.Faculty()
	if !ok {
		t.Fatalf("expected faculty profile, got %#v", got.Profile)
	}
	if fac.EmployeeID != "EMP-7" || got.Name != "Dr. Iyer" || got.Department != "Mechanical" {
		t.Fatalf("unexpected faculty resolution: %+v", got)
	}
}

func TestResolve_AdminNeedsNoQuery(t *testing.T) {
	store := memory.NewProfilesRepo()
	store.Err = errors.New("must not be called")

	r := NewResolver(store, quietLogger(), nil, nil)
	got := r.Resolve(context.Background(), user.Identity{ID: "a1", Email: "a@x.com", Role: user.RoleAdmin})

	if _, ok := got.Profile.(account.AdminProfile); !ok {
		t.Fatalf("expected admin profile, got %#v", got.Profile)
	}
	if got.Name != "Admin" {
		t.Fatalf("expected default admin name, got %q", got.Name)
	}
}

func TestResolve_UnknownRoleDefaultsToStudent(t *testing.T) {
	r := NewResolver(memory.NewProfilesRepo(), quietLogger(), nil, nil)

	got := r.Resolve(context.Background(), user.Identity{ID: "u9", Email: "x@x.com", Role: "wizard"})
	if got.Role != user.RoleStudent {
		t.Fatalf("expected student, got %q", got.Role)
	}
}

func TestResolve_ReporterErrorDoesNotChangeResult(t *testing.T) {
	reporter := &fakeReporter{err: errors.New("queue down")}
	r := NewResolver(memory.NewProfilesRepo(), quietLogger(), nil, reporter)

	got := r.Resolve(context.Background(), studentIdentity())
	if got.Role != user.RoleStudent || !got.Degraded() {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestResolve_CancelledResolutionDoesNotReport(t *testing.T) {
	reporter := &fakeReporter{}
	r := NewResolver(memory.NewProfilesRepo(), quietLogger(), nil, reporter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := r.Resolve(ctx, studentIdentity())
	if !got.Degraded() || got.Role != user.RoleStudent {
		t.Fatalf("expected degraded student, got %+v", got)
	}
	if len(reporter.calls) != 0 {
		t.Fatalf("cancelled resolution must not raise an alert, got %d", len(reporter.calls))
	}
}
