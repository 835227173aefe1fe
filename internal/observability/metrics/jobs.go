package metrics

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonDeadlock             = "deadlock"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonNotFound             = "not_found"
	JobReasonUnknown              = "unknown"
)

// ClassifyJobReason maps a job failure to a low-cardinality reason label.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return JobReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return JobReasonUniqueViolation
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return JobReasonNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03":
			return JobReasonDBLockTimeout
		case "40001":
			return JobReasonSerializationFailure
		case "40P01":
			return JobReasonDeadlock
		case "23505":
			return JobReasonUniqueViolation
		}
	}
	return JobReasonUnknown
}
