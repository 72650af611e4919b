package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrOutOfStock   = errors.New("out of stock")
	ErrUnavailable  = errors.New("cart temporarily unavailable")
)

// StockError reports a request that would take a line above current stock.
type StockError struct {
	Requested int
	InCart    int
	Available int
}

func (e *StockError) Error() string {
	if e.InCart > 0 {
		return fmt.Sprintf("only %d available, %d more can be added", e.Available, e.Remaining())
	}
	return fmt.Sprintf("only %d available", e.Available)
}

func (e *StockError) Unwrap() error { return ErrOutOfStock }

// Remaining is how many more units fit next to what is already in the cart.
func (e *StockError) Remaining() int {
	if n := e.Available - e.InCart; n > 0 {
		return n
	}
	return 0
}

// ruleError carries a user-facing message and a taxonomy sentinel.
type ruleError struct {
	kind error
	msg  string
}

func (e *ruleError) Error() string { return e.msg }
func (e *ruleError) Unwrap() error { return e.kind }

func invalid(msg string) error  { return &ruleError{kind: ErrInvalidInput, msg: msg} }
func notFound(msg string) error { return &ruleError{kind: ErrNotFound, msg: msg} }

// unavailable wraps a storage failure so callers can match ErrUnavailable
// and still reach the cause.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// UserMessage renders err for display. Storage details are never shown.
func UserMessage(err error) string {
	var se *StockError
	var re *ruleError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return capitalize(se.Error())
	case errors.As(err, &re):
		return capitalize(re.msg)
	default:
		return "Something went wrong, please try again"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
