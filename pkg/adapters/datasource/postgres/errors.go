package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/geosql-gateway/pkg/apperrors"
)

// classifyError tags a driver error with the gateway error taxonomy so
// callers can tell a bad statement from operational trouble.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", apperrors.ErrInfrastructure, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "57014": // query_canceled, raised by statement_timeout
			return fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		case pgErr.Code == "25P03": // idle_in_transaction_session_timeout
			return fmt.Errorf("%w: %w", apperrors.ErrTimeout, err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"),
			pgErr.Code == "53300", pgErr.Code == "28P01", pgErr.Code == "28000":
			return fmt.Errorf("%w: %w", apperrors.ErrInfrastructure, err)
		default:
			return fmt.Errorf("%w: %w", apperrors.ErrQueryFailed, err)
		}
	}

	// Anything below the protocol level (dial, TLS, pool closed).
	return fmt.Errorf("%w: %w", apperrors.ErrInfrastructure, err)
}
