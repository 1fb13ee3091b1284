package errors

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// reKeyField extracts field names from unique violation detail: "Key (field)=(value) already exists.".
var reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)

// MapDBError maps database errors to AppError instances:
//   - sql.ErrNoRows / pgx.ErrNoRows → NotFound
//   - unique and foreign key violations → Conflict (constraint name retained)
//   - check and NOT NULL violations → Validation
//   - context timeouts/cancellations → Timeout/Canceled
//
// Unrecognized errors are returned unchanged.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: ErrCodeTimeout, Message: "request timed out", Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: ErrCodeCanceled, Message: "request was canceled", Cause: err}
	case errors.Is(err, sql.ErrNoRows), errors.Is(err, pgx.ErrNoRows):
		return &AppError{Code: ErrCodeNotFound, Message: "resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique violation, optionally of
// a specific constraint (empty matches any).
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func mapPgError(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return &AppError{
			Code:       ErrCodeConflict,
			Message:    "this value already exists",
			Field:      uniqueField(pgErr),
			Constraint: pgErr.ConstraintName,
			Cause:      pgErr,
		}
	case pgerrcode.ForeignKeyViolation:
		return &AppError{
			Code:       ErrCodeConflict,
			Message:    "the referenced " + tableLabel(pgErr.TableName) + " does not exist or is still in use",
			Constraint: pgErr.ConstraintName,
			Cause:      pgErr,
		}
	case pgerrcode.CheckViolation:
		return &AppError{
			Code:       ErrCodeValidation,
			Message:    "invalid value",
			Field:      pgErr.ColumnName,
			Constraint: pgErr.ConstraintName,
			Cause:      pgErr,
		}
	case pgerrcode.NotNullViolation:
		return &AppError{
			Code:    ErrCodeValidation,
			Message: "required field is missing",
			Field:   pgErr.ColumnName,
			Cause:   pgErr,
		}
	default:
		return &AppError{
			Code:    ErrCodeInternal,
			Message: "a database error occurred",
			Cause:   pgErr,
		}
	}
}

func uniqueField(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return ""
}

func tableLabel(table string) string {
	switch strings.ToLower(strings.TrimSpace(table)) {
	case "jobs":
		return "job"
	case "issues":
		return "issue"
	case "deliveries":
		return "delivery"
	case "preferences":
		return "preferences"
	case "email_events":
		return "email event"
	case "":
		return "record"
	default:
		return strings.ReplaceAll(table, "_", " ")
	}
}
