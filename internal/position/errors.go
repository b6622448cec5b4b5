package position

import (
	"errors"
	"fmt"
)

var (
	// ErrPositionNotFound is a hard abort: the event's position cannot be resolved.
	ErrPositionNotFound = errors.New("position not found")
	// ErrPoolNotFound is a soft abort: the position's pool is unknown.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrNegativeLiquidity rejects an event that would drive liquidity below zero.
	ErrNegativeLiquidity = errors.New("liquidity below zero")
)

// AbortKind classifies why a handler stopped without persisting anything.
type AbortKind int

const (
	AbortPositionNotFound AbortKind = iota + 1
	AbortPoolNotFound
)

func (k AbortKind) String() string {
	switch k {
	case AbortPositionNotFound:
		return "position_not_found"
	case AbortPoolNotFound:
		return "pool_not_found"
	default:
		return "unknown"
	}
}

// AbortError is returned when a handler aborts before persisting any change.
type AbortError struct {
	Kind       AbortKind
	TxHash     string
	TokenID    string
	PositionID string
	Pool       string
}

func (e *AbortError) Error() string {
	switch e.Kind {
	case AbortPositionNotFound:
		return fmt.Sprintf("position not found: token %s tx %s", e.TokenID, e.TxHash)
	case AbortPoolNotFound:
		return fmt.Sprintf("pool not found: pool %s position %s", e.Pool, e.PositionID)
	default:
		return "aborted"
	}
}

// Unwrap maps the abort kind onto its sentinel.
func (e *AbortError) Unwrap() error {
	switch e.Kind {
	case AbortPositionNotFound:
		return ErrPositionNotFound
	case AbortPoolNotFound:
		return ErrPoolNotFound
	default:
		return nil
	}
}

// Hard reports whether the abort is error-level.
func (e *AbortError) Hard() bool {
	return e.Kind == AbortPositionNotFound
}

// AsAbort extracts an AbortError from err.
func AsAbort(err error) (*AbortError, bool) {
	var abort *AbortError
	if errors.As(err, &abort) {
		return abort, true
	}
	return nil, false
}
