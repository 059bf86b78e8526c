package lifecycle

import (
	"errors"

	apperrors "github.com/louisbranch/lifecycle/internal/platform/errors"
)

var (
	// ErrNoCurrentLifecycle indicates no aggregate could be resolved for the
	// call path.
	ErrNoCurrentLifecycle = apperrors.New(apperrors.CodeNoCurrentLifecycle, "no current lifecycle")
	// ErrLifecycleInitializing indicates an aggregate was created while the
	// current aggregate was still replaying its history.
	ErrLifecycleInitializing = apperrors.New(apperrors.CodeLifecycleInitializing,
		"cannot create aggregates while the current lifecycle is initializing")
	// ErrAggregateInvocation matches task failures wrapped by Execute.
	ErrAggregateInvocation = apperrors.New(apperrors.CodeAggregateInvocation, "aggregate invocation failed")
)

// fatalError marks a task failure that Execute must not wrap.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal reports whether the error is fatal.
func (e *fatalError) Fatal() bool { return true }

// Fatal marks err as fatal: Execute returns it as is instead of wrapping it
// in an invocation error.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err, or any error in its chain, was marked Fatal.
func IsFatal(err error) bool {
	var target interface{ Fatal() bool }
	if errors.As(err, &target) {
		return target.Fatal()
	}
	return false
}
