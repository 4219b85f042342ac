// Package dbutil translates gorm/pgx storage errors into this
// repository's own error taxonomy, grounded on the teacher's
// common/dbutil.WrapError but rewritten against pkg/errors instead of a
// split common/errors package.
package dbutil

import (
	stderrors "errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	sentryerrors "github.com/sentrylabs/modelsentry/pkg/errors"
)

// DuplicateKeyErrorCode is Postgres's unique_violation SQLSTATE.
const DuplicateKeyErrorCode = "23505"

// ForeignKeyViolationErrorCode is Postgres's foreign_key_violation
// SQLSTATE, raised by labels_prediction_id_fkey when a label references
// a prediction_id that doesn't exist (invariant 2's UnknownPrediction
// case).
const ForeignKeyViolationErrorCode = "23503"

// WrapError translates a raw storage error into the taxonomy. Already-
// translated errors and nil pass through unchanged.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var sentryErr *sentryerrors.Error
	if stderrors.As(err, &sentryErr) {
		return err
	}

	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return sentryerrors.NotFound.Wrap(err)
	}

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case DuplicateKeyErrorCode:
			return sentryerrors.Conflict.Explain("duplicate key").Wrap(err)
		case ForeignKeyViolationErrorCode:
			return sentryerrors.NotFound.Explain("referenced prediction does not exist").Wrap(err)
		}
	}

	return sentryerrors.TransientStorageError.Wrap(err)
}
