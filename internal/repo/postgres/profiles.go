package postgres

import (
	"context"
	"errors"

	"github.com/geocoder89/campusportal/internal/domain/academic"
	"github.com/geocoder89/campusportal/internal/domain/account"
	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/geocoder89/campusportal/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrProfileExists = account.ErrProfileExists

// ProfilesRepo answers the single-row lookups profile resolution needs.
// Every method returns academic.ErrNotFound when no row matches.
type ProfilesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewProfilesRepo(pool *pgxpool.Pool, prom *observability.Prom) *ProfilesRepo {
	return &ProfilesRepo{pool: pool, prom: prom}
}

func (r *ProfilesRepo) StudentByUserID(ctx context.Context, userID string) (account.StudentProfile, error) {
	var p account.StudentProfile

	err := r.prom.ObserveDB("students.get_by_user", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT user_id, roll_number, name, admission_year, section_id, department_id
			FROM students
			WHERE user_id = $1
		`, userID).Scan(&p.UserID, &p.RollNumber, &p.Name, &p.AdmissionYear, &p.SectionID, &p.DepartmentID)
	})

	if err != nil {
		return account.StudentProfile{}, notFound(err)
	}
	return p, nil
}

func (r *ProfilesRepo) FacultyByUserID(ctx context.Context, userID string) (account.FacultyProfile, error) {
	var p account.FacultyProfile

	err := r.prom.ObserveDB("faculty.get_by_user", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT user_id, employee_id, name, department_id
			FROM faculty
			WHERE user_id = $1
		`, userID).Scan(&p.UserID, &p.EmployeeID, &p.Name, &p.DepartmentID)
	})

	if err != nil {
		return account.FacultyProfile{}, notFound(err)
	}
	return p, nil
}

func (r *ProfilesRepo) SectionByID(ctx context.Context, id string) (academic.Section, error) {
	var s academic.Section

	err := r.prom.ObserveDB("sections.get_by_id", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT id, department_id, year, name
			FROM sections
			WHERE id = $1
		`, id).Scan(&s.ID, &s.DepartmentID, &s.Year, &s.Name)
	})

	if err != nil {
		return academic.Section{}, notFound(err)
	}
	return s, nil
}

func (r *ProfilesRepo) DepartmentByID(ctx context.Context, id string) (academic.Department, error) {
	var d academic.Department

	err := r.prom.ObserveDB("departments.get_by_id", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT id, code, name
			FROM departments
			WHERE id = $1
		`, id).Scan(&d.ID, &d.Code, &d.Name)
	})

	if err != nil {
		return academic.Department{}, notFound(err)
	}
	return d, nil
}

// ProvisionStudent inserts the student row, and newUser first when set, in
// one transaction so a rejected profile never leaves an identity behind.
func (r *ProfilesRepo) ProvisionStudent(ctx context.Context, newUser *user.Identity, p account.StudentProfile) error {
	err := r.prom.ObserveDB("students.provision", func() error {
		return r.provision(ctx, newUser, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				INSERT INTO students (user_id, roll_number, name, admission_year, section_id, department_id)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, p.UserID, p.RollNumber, p.Name, p.AdmissionYear, p.SectionID, p.DepartmentID)
			return err
		})
	})
	return classifyProvisionErr(err)
}

func (r *ProfilesRepo) ProvisionFaculty(ctx context.Context, newUser *user.Identity, p account.FacultyProfile) error {
	err := r.prom.ObserveDB("faculty.provision", func() error {
		return r.provision(ctx, newUser, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				INSERT INTO faculty (user_id, employee_id, name, department_id)
				VALUES ($1,$2,$3,$4)
			`, p.UserID, p.EmployeeID, p.Name, p.DepartmentID)
			return err
		})
	})
	return classifyProvisionErr(err)
}

func (r *ProfilesRepo) provision(ctx context.Context, newUser *user.Identity, insert func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if newUser != nil {
		if err := insertUser(ctx, tx, *newUser); err != nil {
			return err
		}
	}

	if err := insert(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// classifyProvisionErr maps constraint violations onto domain errors by
// constraint name.
func classifyProvisionErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505":
		switch pgErr.ConstraintName {
		case "users_email_key":
			return user.ErrEmailTaken
		case "students_roll_number_key":
			return account.ErrRollNumberTaken
		case "faculty_employee_id_key":
			return account.ErrEmployeeIDTaken
		case "students_pkey", "faculty_pkey":
			return account.ErrProfileExists
		}
	case "23503":
		return account.ErrUnknownReference
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return academic.ErrNotFound
	}
	return err
}
