package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/geocoder89/campusportal/internal/domain/account"
	"github.com/geocoder89/campusportal/internal/domain/user"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyProvisionErr(t *testing.T) {
	other := errors.New("connection reset")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"email", &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}, user.ErrEmailTaken},
		{"roll number", &pgconn.PgError{Code: "23505", ConstraintName: "students_roll_number_key"}, account.ErrRollNumberTaken},
		{"employee id", &pgconn.PgError{Code: "23505", ConstraintName: "faculty_employee_id_key"}, account.ErrEmployeeIDTaken},
		{"student twice", &pgconn.PgError{Code: "23505", ConstraintName: "students_pkey"}, account.ErrProfileExists},
		{"faculty twice", &pgconn.PgError{Code: "23505", ConstraintName: "faculty_pkey"}, account.ErrProfileExists},
		{"unknown section", &pgconn.PgError{Code: "23503", ConstraintName: "students_section_id_fkey"}, account.ErrUnknownReference},
		{"wrapped", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503"}), account.ErrUnknownReference},
		{"other", other, other},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyProvisionErr(tt.err)
			if !errors.Is(got, tt.want) && got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}

	unknown := &pgconn.PgError{Code: "23505", ConstraintName: "something_else"}
	if got := classifyProvisionErr(unknown); got != unknown {
		t.Fatalf("unknown constraint should pass through, got %v", got)
	}
}
