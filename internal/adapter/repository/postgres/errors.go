package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/simaogato/guildbank-backend/internal/domain"
)

// SQLSTATE codes that mean "try the whole transaction again"
var transientCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available (lock_timeout)
	"57014": true, // query_canceled (statement_timeout)
}

// classify maps driver errors onto the domain taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if transientCodes[pqErr.Code] {
			return domain.Transient(fmt.Errorf("failed to %s: %w", op, err))
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			// connection exception, insufficient resources, operator intervention
			return &domain.StoreUnavailableError{Op: op, Cause: err}
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return &domain.StoreUnavailableError{Op: op, Cause: err}
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}

func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23514"
}
