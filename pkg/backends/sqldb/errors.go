package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/aquaform/aquaform/pkg/engine"
)

// ClassifySQLState maps a five character SQLSTATE to an engine error code.
func ClassifySQLState(state string) string {
	switch state {
	case "42P07", "42701", "42710", "42S01", "42S21":
		// duplicate table, column or object
		return engine.ErrCodeAlreadyExists
	case "42P01", "42703", "42704", "42S02", "42S22":
		// undefined table, column or object
		return engine.ErrCodeNotFound
	case "42501", "28000", "28P01":
		return engine.ErrCodePermissionDenied
	case "57014":
		return engine.ErrCodeTimeout
	case "42830":
		// invalid foreign key
		return engine.ErrCodeConstraintViolation
	}
	switch {
	case strings.HasPrefix(state, "23"):
		return engine.ErrCodeConstraintViolation
	case strings.HasPrefix(state, "08"):
		return engine.ErrCodeConnectionFailure
	case strings.HasPrefix(state, "53"), strings.HasPrefix(state, "57"):
		// insufficient resources, operator intervention
		return engine.ErrCodeConnectionFailure
	}
	return engine.ErrCodeInternal
}

// classifyCommon handles errors raised before the server answered.
func classifyCommon(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return engine.ErrCodeTimeout
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return engine.ErrCodeConnectionFailure
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return engine.ErrCodeTimeout
		}
		return engine.ErrCodeConnectionFailure
	}
	return engine.ErrCodeInternal
}

// wrapError classifies err with d and wraps it as a backend error.
func wrapError(d Dialect, a *engine.Action, stmt string, err error) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return err
	}
	code := d.Classify(err)
	return engine.NewBackendError(code, "statement failed", err).
		WithResource(a.Resource).
		WithOperation(string(a.Type)).
		WithDetail("statement", stmt)
}

func tableNotFound(name string) error {
	return engine.NewBackendError(engine.ErrCodeNotFound, "table does not exist", nil).WithResource(name)
}
