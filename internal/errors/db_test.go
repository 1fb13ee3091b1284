package errors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapDBError_NilError(t *testing.T) {
	if err := MapDBError(nil); err != nil {
		t.Errorf("MapDBError(nil) = %v, want nil", err)
	}
}

func TestMapDBError_Codes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{"deadline exceeded", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), ErrCodeCanceled},
		{"sql no rows", sql.ErrNoRows, ErrCodeNotFound},
		{"pgx no rows", fmt.Errorf("get issue: %w", pgx.ErrNoRows), ErrCodeNotFound},
		{"unique", &pgconn.PgError{Code: pgerrcode.UniqueViolation}, ErrCodeConflict},
		{"foreign key", &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, TableName: "deliveries"}, ErrCodeConflict},
		{"check", &pgconn.PgError{Code: pgerrcode.CheckViolation, ColumnName: "status"}, ErrCodeValidation},
		{"not null", &pgconn.PgError{Code: pgerrcode.NotNullViolation, ColumnName: "to_email"}, ErrCodeValidation},
		{"other pg error", &pgconn.PgError{Code: pgerrcode.SerializationFailure}, ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			if !IsAppError(err, tt.wantCode) {
				t.Errorf("MapDBError() code = %v, want %v", GetCode(err), tt.wantCode)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("MapDBError() should keep the cause")
			}
		})
	}
}

func TestMapDBError_UnknownPassesThrough(t *testing.T) {
	plain := errors.New("socket closed")
	if got := MapDBError(plain); got != plain { //nolint:errorlint // identity check
		t.Errorf("MapDBError() = %v, want original", got)
	}
}

func TestMapDBError_UniqueViolationDetails(t *testing.T) {
	err := MapDBError(&pgconn.PgError{
		Code:           pgerrcode.UniqueViolation,
		ConstraintName: "jobs_active_issue_type_uniq",
		Detail:         "Key (issue_id, type)=(abc, send) already exists.",
	})
	if got := GetConstraint(err); got != "jobs_active_issue_type_uniq" {
		t.Errorf("GetConstraint() = %q", got)
	}
	if got := GetField(err); got != "issue_id, type" {
		t.Errorf("GetField() = %q", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "jobs_active_issue_type_uniq"}
	wrapped := fmt.Errorf("insert job: %w", pgErr)

	if !IsUniqueViolation(wrapped, "") {
		t.Error("any-constraint match expected")
	}
	if !IsUniqueViolation(wrapped, "jobs_active_issue_type_uniq") {
		t.Error("named constraint match expected")
	}
	if IsUniqueViolation(wrapped, "issues_pkey") {
		t.Error("different constraint should not match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: pgerrcode.CheckViolation}, "") {
		t.Error("check violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("x"), "") {
		t.Error("plain error is not a unique violation")
	}
}
