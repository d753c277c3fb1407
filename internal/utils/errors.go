package utils

import (
	"errors"
	"strings"
)

// AppError is an infrastructure failure at a service boundary. Msg is safe
// to show callers; Err stays in logs.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	parts := []string{e.Op, e.Msg}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError constructs an AppError for op.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// PublicMessage returns the caller-facing message of the first AppError in
// err's chain.
func PublicMessage(err error) (string, bool) {
	var appErr *AppError
	if !errors.As(err, &appErr) || appErr.Msg == "" {
		return "", false
	}
	return appErr.Msg, true
}
