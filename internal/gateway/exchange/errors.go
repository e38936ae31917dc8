package exchange

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	// KindRetryable marks transient failures: network errors, timeouts, 5xx.
	KindRetryable ErrorKind = iota
	// KindTerminal marks rejections that will not succeed on retry:
	// insufficient margin, invalid price, notional below minimum.
	KindTerminal
)

func (k ErrorKind) String() string {
	if k == KindTerminal {
		return "terminal"
	}
	return "retryable"
}

// Error wraps every failure surfaced by a Gateway so callers can distinguish
// retryable from terminal causes without knowing exchange wire codes.
type Error struct {
	Kind ErrorKind
	Op   string // gateway operation, e.g. "submit_order"
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("exchange %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Retryable() bool { return e.Kind == KindRetryable }

func Retryable(op string, err error) *Error {
	return &Error{Kind: KindRetryable, Op: op, Err: err}
}

func Terminal(op string, err error) *Error {
	return &Error{Kind: KindTerminal, Op: op, Err: err}
}

// IsRetryable reports whether err is a gateway error of retryable kind.
// Unclassified errors are treated as terminal: retrying an unknown failure
// against a live exchange is the more expensive mistake.
func IsRetryable(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Retryable()
	}
	return false
}
