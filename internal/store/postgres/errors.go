package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"coffee-trace-api-server/internal/apperror"
)

// constraint names from migrations/1_initial_schema.sql
const (
	constraintBatchCode       = "harvest_batches_batch_code_key"
	constraintFarmerCode      = "farmers_cooperative_code_key"
	constraintUserEmail       = "users_email_key"
	constraintBatchFarmerCoop = "harvest_batches_farmer_cooperative_fkey"
)

// mapPostgresError maps PostgreSQL errors onto the apperror taxonomy.
func mapPostgresError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperror.Storage(op, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return apperror.Storage(op, err)
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		switch pgErr.ConstraintName {
		case constraintBatchCode:
			return apperror.ConflictOn(op, apperror.FieldBatchCode, err)
		case constraintFarmerCode:
			return apperror.ConflictOn(op, "farmer_code", err)
		case constraintUserEmail:
			return apperror.ConflictOn(op, "email", err)
		}
		return apperror.ConflictOn(op, pgErr.ConstraintName, err)

	case pgerrcode.ForeignKeyViolation:
		if pgErr.ConstraintName == constraintBatchFarmerCoop {
			return apperror.Conflict(op, "batch cooperative does not match farmer cooperative")
		}
		return &apperror.Error{Kind: apperror.KindNotFound, Op: op, Msg: "referenced record not found", Err: err}

	case pgerrcode.CheckViolation:
		return &apperror.Error{Kind: apperror.KindInvalid, Op: op, Msg: "check constraint " + pgErr.ConstraintName, Err: err}

	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		return apperror.Storage(op, err)
	}
	return apperror.Storage(op, err)
}
