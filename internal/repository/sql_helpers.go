package repository

import (
	"context"
	"errors"
	"fmt"

	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

var domainErrors = []error{
	dealroom_errors.ErrNotFound,
	dealroom_errors.ErrAlreadyExists,
	dealroom_errors.ErrInvalidInput,
	dealroom_errors.ErrInvalidSeenID,
	dealroom_errors.ErrIllegalContractTransition,
	dealroom_errors.ErrInvalidContractProposition,
	dealroom_errors.ErrNotAMember,
	dealroom_errors.ErrStoreUnavailable,
}

// storeErr maps a persistence failure onto the error kinds callers branch on.
// Anything that is not a domain outcome becomes ErrStoreUnavailable.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range domainErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dealroom_errors.ErrNotFound
	}
	if isUniqueViolation(err) {
		return dealroom_errors.ErrAlreadyExists
	}
	return fmt.Errorf("%w: %v", dealroom_errors.ErrStoreUnavailable, err)
}
