package postgres

import (
	"context"
	"time"

	"github.com/geocoder89/campusportal/internal/domain/academic"
	"github.com/geocoder89/campusportal/internal/domain/account"
	"github.com/geocoder89/campusportal/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AcademicsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewAcademicsRepo(pool *pgxpool.Pool, prom *observability.Prom) *AcademicsRepo {
	return &AcademicsRepo{pool: pool, prom: prom}
}

// Departments & sections

func (r *AcademicsRepo) ListDepartments(ctx context.Context) ([]academic.Department, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("departments.list", func() error {
		var err error
		rows, err = r.pool.Query(ctx, `SELECT id, code, name FROM departments ORDER BY code`)
		return err
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (academic.Department, error) {
		var d academic.Department
		err := row.Scan(&d.ID, &d.Code, &d.Name)
		return d, err
	})
}

func (r *AcademicsRepo) CreateDepartment(ctx context.Context, req academic.CreateDepartmentRequest) (academic.Department, error) {
	d := academic.Department{ID: uuid.NewString(), Code: req.Code, Name: req.Name}

	err := r.prom.ObserveDB("departments.create", func() error {
		_, err := r.pool.Exec(ctx, `INSERT INTO departments (id, code, name) VALUES ($1,$2,$3)`, d.ID, d.Code, d.Name)
		return err
	})
	if IsUniqueViolation(err) {
		return academic.Department{}, academic.ErrAlreadyExists
	}
	if err != nil {
		return academic.Department{}, err
	}
	return d, nil
}

func (r *AcademicsRepo) ListSections(ctx context.Context, departmentID *string) ([]academic.Section, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("sections.list", func() error {
		var err error
		rows, err = r.pool.Query(ctx, `
			SELECT id, department_id, year, name
			FROM sections
			WHERE ($1::uuid IS NULL OR department_id = $1)
			ORDER BY year, name
		`, departmentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (academic.Section, error) {
		var s academic.Section
		err := row.Scan(&s.ID, &s.DepartmentID, &s.Year, &s.Name)
		return s, err
	})
}

func (r *AcademicsRepo) CreateSection(ctx context.Context, req academic.CreateSectionRequest) (academic.Section, error) {
	s := academic.Section{ID: uuid.NewString(), DepartmentID: req.DepartmentID, Year: req.Year, Name: req.Name}

	err := r.prom.ObserveDB("sections.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO sections (id, department_id, year, name) VALUES ($1,$2,$3,$4)`,
			s.ID, s.DepartmentID, s.Year, s.Name,
		)
		return err
	})
	if IsUniqueViolation(err) {
		return academic.Section{}, academic.ErrAlreadyExists
	}
	if err != nil {
		return academic.Section{}, err
	}
	return s, nil
}

// Timetable

const timetableSelect = `
	SELECT t.id, t.section_id, t.subject_id, t.faculty_id, t.weekday, t.starts_at, t.ends_at, t.room,
	       sub.name, sec.name
	FROM timetable t
	JOIN subjects sub ON sub.id = t.subject_id
	JOIN sections sec ON sec.id = t.section_id
`

func scanTimetable(row pgx.CollectableRow) (academic.TimetableEntry, error) {
	var e academic.TimetableEntry
	err := row.Scan(&e.ID, &e.SectionID, &e.SubjectID, &e.FacultyID, &e.Weekday, &e.StartsAt, &e.EndsAt, &e.Room,
		&e.SubjectName, &e.SectionName)
	return e, err
}

func (r *AcademicsRepo) TimetableForFaculty(ctx context.Context, facultyID string) ([]academic.TimetableEntry, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("timetable.for_faculty", func() error {
		var err error
		rows, err = r.pool.Query(ctx, timetableSelect+`
			WHERE t.faculty_id = $1
			ORDER BY t.weekday, t.starts_at
		`, facultyID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, scanTimetable)
}

// TimetableForSection returns a section's slots; weekday 0 means every day.
func (r *AcademicsRepo) TimetableForSection(ctx context.Context, sectionID string, weekday int) ([]academic.TimetableEntry, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("timetable.for_section", func() error {
		var err error
		rows, err = r.pool.Query(ctx, timetableSelect+`
			WHERE t.section_id = $1 AND ($2 = 0 OR t.weekday = $2)
			ORDER BY t.weekday, t.starts_at
		`, sectionID, weekday)
		return err
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, scanTimetable)
}

func (r *AcademicsRepo) TimetableByID(ctx context.Context, id string) (academic.TimetableEntry, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("timetable.get_by_id", func() error {
		var err error
		rows, err = r.pool.Query(ctx, timetableSelect+` WHERE t.id = $1`, id)
		return err
	})
	if err != nil {
		return academic.TimetableEntry{}, err
	}

	e, err := pgx.CollectExactlyOneRow(rows, scanTimetable)
	if err != nil {
		return academic.TimetableEntry{}, notFound(err)
	}
	return e, nil
}

func (r *AcademicsRepo) StudentsInSection(ctx context.Context, sectionID string) ([]account.StudentProfile, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("students.in_section", func() error {
		var err error
		rows, err = r.pool.Query(ctx, `
			SELECT user_id, roll_number, name, admission_year, section_id, department_id
			FROM students
			WHERE section_id = $1
			ORDER BY roll_number
		`, sectionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (account.StudentProfile, error) {
		var p account.StudentProfile
		err := row.Scan(&p.UserID, &p.RollNumber, &p.Name, &p.AdmissionYear, &p.SectionID, &p.DepartmentID)
		return p, err
	})
}

func (r *AcademicsRepo) SubjectTaughtBy(ctx context.Context, subjectID, facultyID string) (bool, error) {
	var ok bool

	err := r.prom.ObserveDB("timetable.subject_taught_by", func() error {
		return r.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM timetable WHERE subject_id = $1 AND faculty_id = $2)
		`, subjectID, facultyID).Scan(&ok)
	})
	return ok, err
}

// Attendance

// MarkAttendance upserts one row per entry atomically; re-marking the same
// class on the same date overwrites the previous status.
func (r *AcademicsRepo) MarkAttendance(ctx context.Context, req academic.MarkAttendanceRequest, markedBy string) error {
	date := req.Date.UTC().Truncate(24 * time.Hour)

	return r.prom.ObserveDB("attendance.mark", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		batch := &pgx.Batch{}
		for _, e := range req.Entries {
			batch.Queue(`
				INSERT INTO attendance (timetable_id, student_id, date, status, marked_by)
				VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (timetable_id, student_id, date)
				DO UPDATE SET status = EXCLUDED.status, marked_by = EXCLUDED.marked_by
			`, req.TimetableID, e.StudentID, date, string(e.Status), markedBy)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (r *AcademicsRepo) AttendanceForStudent(ctx context.Context, studentID string) ([]academic.AttendanceRecord, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("attendance.for_student", func() error {
		var err error
		rows, err = r.pool.Query(ctx, `
			SELECT a.timetable_id, a.student_id, a.date, a.status, a.marked_by, sub.name
			FROM attendance a
			JOIN timetable t ON t.id = a.timetable_id
			JOIN subjects sub ON sub.id = t.subject_id
			WHERE a.student_id = $1
			ORDER BY a.date DESC
		`, studentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (academic.AttendanceRecord, error) {
		var a academic.AttendanceRecord
		var status string
		err := row.Scan(&a.TimetableID, &a.StudentID, &a.Date, &status, &a.MarkedBy, &a.SubjectName)
		a.Status = academic.AttendanceStatus(status)
		return a, err
	})
}

// Marks

func (r *AcademicsRepo) EnterMarks(ctx context.Context, req academic.EnterMarksRequest, enteredBy string) error {
	return r.prom.ObserveDB("marks.enter", func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		batch := &pgx.Batch{}
		for _, e := range req.Entries {
			batch.Queue(`
				INSERT INTO marks (subject_id, student_id, exam, score, max_score, entered_by, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,NOW())
				ON CONFLICT (subject_id, student_id, exam)
				DO UPDATE SET score = EXCLUDED.score, max_score = EXCLUDED.max_score,
				              entered_by = EXCLUDED.entered_by, updated_at = NOW()
			`, req.SubjectID, e.StudentID, req.Exam, e.Score, req.MaxScore, enteredBy)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}

func (r *AcademicsRepo) MarksForStudent(ctx context.Context, studentID string) ([]academic.Mark, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("marks.for_student", func() error {
		var err error
		rows, err = r.pool.Query(ctx, `
			SELECT m.subject_id, m.student_id, m.exam, m.score::float8, m.max_score::float8, m.entered_by, sub.name, m.updated_at
			FROM marks m
			JOIN subjects sub ON sub.id = m.subject_id
			WHERE m.student_id = $1
			ORDER BY sub.name, m.exam
		`, studentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (academic.Mark, error) {
		var m academic.Mark
		err := row.Scan(&m.SubjectID, &m.StudentID, &m.Exam, &m.Score, &m.MaxScore, &m.EnteredBy, &m.SubjectName, &m.UpdatedAt)
		return m, err
	})
}
