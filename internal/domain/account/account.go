package account

import (
	"encoding/json"
	"errors"

	"github.com/geocoder89/campusportal/internal/domain/academic"
	"github.com/geocoder89/campusportal/internal/domain/user"
)

var (
	ErrProfileExists    = errors.New("profile already exists")
	ErrRollNumberTaken  = errors.New("roll number already in use")
	ErrEmployeeIDTaken  = errors.New("employee id already in use")
	ErrUnknownReference = errors.New("unknown section or department")
)

// Profile is the role-specific back-office record joined onto an identity.
// Exactly one of StudentProfile, FacultyProfile or AdminProfile.
type Profile interface {
	Kind() user.Role
	isProfile()
}

type StudentProfile struct {
	UserID        string               `json:"userId"`
	RollNumber    string               `json:"rollNumber"`
	Name          string               `json:"name"`
	AdmissionYear int                  `json:"admissionYear"`
	SectionID     *string              `json:"sectionId"`
	DepartmentID  *string              `json:"departmentId"`
	Section       *academic.Section    `json:"section"`
	Department    *academic.Department `json:"department"`
}

type FacultyProfile struct {
	UserID       string               `json:"userId"`
	EmployeeID   string               `json:"employeeId"`
	Name         string               `json:"name"`
	DepartmentID *string              `json:"departmentId"`
	Department   *academic.Department `json:"department"`
}

// AdminProfile has no backing row.
type AdminProfile struct{}

func (StudentProfile) Kind() user.Role { return user.RoleStudent }
func (FacultyProfile) Kind() user.Role { return user.RoleFaculty }
func (AdminProfile) Kind() user.Role   { return user.RoleAdmin }

func (StudentProfile) isProfile() {}
func (FacultyProfile) isProfile() {}
func (AdminProfile) isProfile()   {}

func (p StudentProfile) MarshalJSON() ([]byte, error) {
	type alias StudentProfile
	return json.Marshal(struct {
		Kind user.Role `json:"kind"`
		alias
	}{Kind: p.Kind(), alias: alias(p)})
}

func (p FacultyProfile) MarshalJSON() ([]byte, error) {
	type alias FacultyProfile
	return json.Marshal(struct {
		Kind user.Role `json:"kind"`
		alias
	}{Kind: p.Kind(), alias: alias(p)})
}

func (p AdminProfile) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind user.Role `json:"kind"`
		Role user.Role `json:"role"`
	}{Kind: p.Kind(), Role: user.RoleAdmin})
}

// ResolvedUser is the normalized view of a signed-in identity. Role always
// mirrors the identity; Profile is nil when the profile could not be
// resolved.
type ResolvedUser struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Role       user.Role `json:"role"`
	Name       string    `json:"name"`
	Department string    `json:"department,omitempty"`
	Profile    Profile   `json:"profile"`
}

func (u ResolvedUser) Degraded() bool {
	return u.Profile == nil
}

// Student returns the student profile when present.
func (u ResolvedUser) Student() (StudentProfile, bool) {
	p, ok := u.Profile.(StudentProfile)
	return p, ok
}

func (u ResolvedUser) Faculty() (FacultyProfile, bool) {
	p, ok := u.Profile.(FacultyProfile)
	return p, ok
}

// ProvisionStudentRequest attaches a student row to an existing identity
// (UserID) or creates the identity first (Email and Password).
type ProvisionStudentRequest struct {
	UserID        string  `json:"userId" binding:"omitempty,uuid"`
	Email         string  `json:"email" binding:"omitempty,email"`
	Password      string  `json:"password" binding:"omitempty,min=8,max=72"`
	Name          string  `json:"name" binding:"required,min=1,max=120"`
	RollNumber    string  `json:"rollNumber" binding:"required,min=1,max=32"`
	AdmissionYear int     `json:"admissionYear" binding:"required,min=1990,max=2100"`
	SectionID     *string `json:"sectionId" binding:"omitempty,uuid"`
	DepartmentID  *string `json:"departmentId" binding:"omitempty,uuid"`
}

type ProvisionFacultyRequest struct {
	UserID       string  `json:"userId" binding:"omitempty,uuid"`
	Email        string  `json:"email" binding:"omitempty,email"`
	Password     string  `json:"password" binding:"omitempty,min=8,max=72"`
	Name         string  `json:"name" binding:"required,min=1,max=120"`
	EmployeeID   string  `json:"employeeId" binding:"required,min=1,max=32"`
	DepartmentID *string `json:"departmentId" binding:"omitempty,uuid"`
}
