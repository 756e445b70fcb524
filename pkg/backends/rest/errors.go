package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aquaform/aquaform/pkg/backends/sqldb"
	"github.com/aquaform/aquaform/pkg/engine"
)

// postgrestError is the error body PostgREST returns on non-2xx responses.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func transportError(err error) error {
	code := engine.ErrCodeConnectionFailure
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		code = engine.ErrCodeTimeout
	}
	return engine.NewBackendError(code, "request failed", err)
}

func statusError(status int, body []byte) error {
	var pe postgrestError
	if json.Unmarshal(body, &pe) == nil && pe.Message != "" {
		code := classifyMessage(pe.Code, pe.Message)
		if code == engine.ErrCodeInternal {
			code = classifyStatus(status)
		}
		ee := engine.NewBackendError(code, fmt.Sprintf("HTTP %d: %s", status, pe.Message), nil).
			WithDetail("status", status)
		if pe.Code != "" {
			ee.WithDetail("sqlstate", pe.Code)
		}
		if pe.Hint != "" {
			ee.WithDetail("hint", pe.Hint)
		}
		return ee
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return engine.NewBackendError(classifyStatus(status), fmt.Sprintf("HTTP %d: %s", status, msg), nil).
		WithDetail("status", status)
}

func classifyStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return engine.ErrCodePermissionDenied
	case http.StatusNotFound:
		return engine.ErrCodeNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return engine.ErrCodeTimeout
	case http.StatusConflict:
		return engine.ErrCodeAlreadyExists
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return engine.ErrCodeConnectionFailure
	}
	return engine.ErrCodeInternal
}

// classifyMessage uses the SQLSTATE when there is one and falls back to the
// wording of the server message.
func classifyMessage(sqlstate, msg string) string {
	if len(sqlstate) == 5 {
		if code := sqldb.ClassifySQLState(sqlstate); code != engine.ErrCodeInternal {
			return code
		}
	}
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "already exists"):
		return engine.ErrCodeAlreadyExists
	case strings.Contains(lower, "does not exist"):
		return engine.ErrCodeNotFound
	case strings.Contains(lower, "permission denied"):
		return engine.ErrCodePermissionDenied
	case strings.Contains(lower, "violates"):
		return engine.ErrCodeConstraintViolation
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "canceling statement"):
		return engine.ErrCodeTimeout
	}
	return engine.ErrCodeInternal
}
