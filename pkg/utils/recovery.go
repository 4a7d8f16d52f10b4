package utils

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// PanicError carries a recovered panic value and the goroutine stack.
type PanicError struct {
	Value      interface{}
	StackTrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func recovered(r interface{}) *PanicError {
	stack := string(debug.Stack())
	slog.Error("Recovered from panic", "panic", r, "stack", stack)
	return &PanicError{Value: r, StackTrace: stack}
}

// RecoverAsError turns a panic into the named error result of the caller.
// It must be deferred directly.
//
//	func load() (err error) {
//	    defer RecoverAsError(&err)
//	    ...
//	}
func RecoverAsError(errPtr *error) {
	if r := recover(); r != nil {
		*errPtr = recovered(r)
	}
}

// RecoverWithCallback hands a recovered panic to callback. It must be
// deferred directly.
func RecoverWithCallback(callback func(error)) {
	if r := recover(); r != nil {
		err := recovered(r)
		if callback != nil {
			callback(err)
		}
	}
}
