package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/geocoder89/campusportal/internal/domain/academic"
	"github.com/geocoder89/campusportal/internal/domain/account"
	"github.com/geocoder89/campusportal/internal/domain/user"
)

// ProfilesRepo keeps student and faculty rows plus the sections and
// departments they point at. Err, when set, is returned from every lookup.
type ProfilesRepo struct {
	mu          sync.RWMutex
	students    map[string]account.StudentProfile
	faculty     map[string]account.FacultyProfile
	sections    map[string]academic.Section
	departments map[string]academic.Department

	// Users receives the identities passed to Provision*.
	Users *UsersRepo
	Err   error
}

func NewProfilesRepo() *ProfilesRepo {
	return &ProfilesRepo{
		students:    make(map[string]account.StudentProfile),
		faculty:     make(map[string]account.FacultyProfile),
		sections:    make(map[string]academic.Section),
		departments: make(map[string]academic.Department),
	}
}

func (r *ProfilesRepo) PutSection(s academic.Section) {
	r.mu.Lock()
	r.sections[s.ID] = s
	r.mu.Unlock()
}

func (r *ProfilesRepo) PutDepartment(d academic.Department) {
	r.mu.Lock()
	r.departments[d.ID] = d
	r.mu.Unlock()
}

func (r *ProfilesRepo) CreateStudent(_ context.Context, p account.StudentProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.students[p.UserID]; ok {
		return account.ErrProfileExists
	}
	r.students[p.UserID] = p
	return nil
}

func (r *ProfilesRepo) CreateFaculty(_ context.Context, p account.FacultyProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.faculty[p.UserID]; ok {
		return account.ErrProfileExists
	}
	r.faculty[p.UserID] = p
	return nil
}

// ProvisionStudent checks the same constraints the students table enforces
// before storing anything, so a rejected call leaves no identity behind.
func (r *ProfilesRepo) ProvisionStudent(ctx context.Context, newUser *user.Identity, p account.StudentProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.students[p.UserID]; ok {
		return account.ErrProfileExists
	}
	for _, s := range r.students {
		if s.RollNumber == p.RollNumber {
			return account.ErrRollNumberTaken
		}
	}
	if !r.knownLocked(p.SectionID, p.DepartmentID) {
		return account.ErrUnknownReference
	}
	if err := r.insertUser(ctx, newUser); err != nil {
		return err
	}
	r.students[p.UserID] = p
	return nil
}

func (r *ProfilesRepo) ProvisionFaculty(ctx context.Context, newUser *user.Identity, p account.FacultyProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.faculty[p.UserID]; ok {
		return account.ErrProfileExists
	}
	for _, f := range r.faculty {
		if f.EmployeeID == p.EmployeeID {
			return account.ErrEmployeeIDTaken
		}
	}
	if !r.knownLocked(nil, p.DepartmentID) {
		return account.ErrUnknownReference
	}
	if err := r.insertUser(ctx, newUser); err != nil {
		return err
	}
	r.faculty[p.UserID] = p
	return nil
}

func (r *ProfilesRepo) knownLocked(sectionID, departmentID *string) bool {
	if sectionID != nil {
		if _, ok := r.sections[*sectionID]; !ok {
			return false
		}
	}
	if departmentID != nil {
		if _, ok := r.departments[*departmentID]; !ok {
			return false
		}
	}
	return true
}

func (r *ProfilesRepo) insertUser(ctx context.Context, u *user.Identity) error {
	if u == nil {
		return nil
	}
	if r.Users == nil {
		return errors.New("memory: profiles repo has no users repo")
	}
	return r.Users.Insert(ctx, *u)
}

func (r *ProfilesRepo) StudentByUserID(_ context.Context, userID string) (account.StudentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Err != nil {
		return account.StudentProfile{}, r.Err
	}
	p, ok := r.students[userID]
	if !ok {
		return account.StudentProfile{}, academic.ErrNotFound
	}
	return p, nil
}

func (r *ProfilesRepo) FacultyByUserID(_ context.Context, userID string) (account.FacultyProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Err != nil {
		return account.FacultyProfile{}, r.Err
	}
	p, ok := r.faculty[userID]
	if !ok {
		return account.FacultyProfile{}, academic.ErrNotFound
	}
	return p, nil
}

func (r *ProfilesRepo) SectionByID(_ context.Context, id string) (academic.Section, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Err != nil {
		return academic.Section{}, r.Err
	}
	s, ok := r.sections[id]
	if !ok {
		return academic.Section{}, academic.ErrNotFound
	}
	return s, nil
}

func (r *ProfilesRepo) DepartmentByID(_ context.Context, id string) (academic.Department, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.Err != nil {
		return academic.Department{}, r.Err
	}
	d, ok := r.departments[id]
	if !ok {
		return academic.Department{}, academic.ErrNotFound
	}
	return d, nil
}
