package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// As is errors.As, re-exported so callers need a single errors import
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// FromPanic converts a recovered panic value into a critical internal error
// carrying the panicking goroutine's stack.
func FromPanic(recovered interface{}) *AppError {
	var appErr *AppError
	if err, ok := recovered.(error); ok {
		appErr = Wrap(err, ErrCodeInternal, "Unexpected panic: "+err.Error())
	} else {
		appErr = New(ErrCodeInternal, fmt.Sprintf("Unexpected panic: %v", recovered))
	}
	appErr.Stack = string(debug.Stack())
	appErr.Recoverable = false
	return appErr.WithSeverity(SeverityCritical)
}

// Guard runs fn and turns a panic inside it into an error
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = FromPanic(r)
		}
	}()
	return fn()
}
