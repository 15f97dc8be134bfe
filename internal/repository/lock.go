package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kursadbilgin/alarm-dispatch/internal/domain"
)

// lock_not_available, raised by NOWAIT and by lock_timeout.
const pgLockNotAvailable = "55P03"

func mapLockError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
		return fmt.Errorf("%w: %s", domain.ErrLockContention, pgErr.Message)
	}
	return err
}
