package capability

import (
	"errors"
	"fmt"
)

var (
	// ErrToolNotFound indicates the tool is not in the current catalog.
	ErrToolNotFound = errors.New("tool not found")
	// ErrSchemaValidation indicates arguments do not satisfy the tool's input schema.
	ErrSchemaValidation = errors.New("arguments failed schema validation")
	// ErrServerUnavailable indicates the owning server could not be reached or
	// timed out. Callers may retry.
	ErrServerUnavailable = errors.New("server unavailable")
	// ErrToolMissing indicates a required tool is not registered.
	ErrToolMissing = errors.New("required tool missing")
	// ErrNoServers is returned when initialization is given nothing to launch.
	ErrNoServers = errors.New("no capability servers configured")
)

// CallError carries the tool and server of a failed dispatch.
type CallError struct {
	Tool     string
	ServerID string
	Err      error
}

func (e *CallError) Error() string {
	if e.ServerID == "" {
		return fmt.Sprintf("call %s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("call %s on %s: %v", e.Tool, e.ServerID, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Retryable reports whether err is a transient dispatch failure.
func Retryable(err error) bool {
	return errors.Is(err, ErrServerUnavailable)
}
