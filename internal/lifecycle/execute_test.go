package lifecycle

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/louisbranch/lifecycle/internal/platform/errors"
)

func TestExecuteWithResultRegistersAndReleases(t *testing.T) {
	l := &fakeLifecycle{id: "a"}
	ctx := context.Background()
	got, err := ExecuteWithResult(ctx, l, func(ctx context.Context) (string, error) {
		current, err := Current(ctx)
		if err != nil {
			return "", err
		}
		return current.AggregateID(), nil
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got != "a" {
		t.Fatalf("result = %q, want a", got)
	}
	if _, err := Current(ctx); !errors.Is(err, ErrNoCurrentLifecycle) {
		t.Fatalf("err after execute = %v, want ErrNoCurrentLifecycle", err)
	}
}

func TestExecuteReleasesOnNestedFailure(t *testing.T) {
	outer := &fakeLifecycle{id: "outer"}
	inner := &fakeLifecycle{id: "inner"}
	ctx, release := RegisterAsCurrent(context.Background(), outer)
	defer release()

	_ = Execute(ctx, inner, func(context.Context) error { return errors.New("boom") })
	got, err := Current(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if got != outer {
		t.Fatalf("current = %s, want outer", got.AggregateID())
	}
}

func TestExecuteReleasesOnPanic(t *testing.T) {
	outer := &fakeLifecycle{id: "outer"}
	ctx, release := RegisterAsCurrent(context.Background(), outer)
	defer release()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = Execute(ctx, &fakeLifecycle{id: "inner"}, func(context.Context) error { panic("bug") })
	}()

	got, err := Current(ctx)
	if err != nil || got != outer {
		t.Fatalf("current = %v, %v; want outer", got, err)
	}
}

func TestExecuteWrapsRecoverableErrors(t *testing.T) {
	cause := errors.New("invalid title")
	err := Execute(context.Background(), &fakeLifecycle{id: "a"}, func(context.Context) error { return cause })
	if !errors.Is(err, ErrAggregateInvocation) {
		t.Fatalf("err = %v, want invocation error", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want cause retained", err)
	}
	if got := apperrors.GetCode(err); got != apperrors.CodeAggregateInvocation {
		t.Fatalf("code = %s, want %s", got, apperrors.CodeAggregateInvocation)
	}
}

func TestExecutePassesFatalErrorsThrough(t *testing.T) {
	cause := errors.New("corrupt state")
	fatal := Fatal(cause)
	err := Execute(context.Background(), &fakeLifecycle{id: "a"}, func(context.Context) error { return fatal })
	if err != fatal {
		t.Fatalf("err = %v, want fatal error unchanged", err)
	}
	if errors.Is(err, ErrAggregateInvocation) {
		t.Fatal("fatal error was wrapped as invocation error")
	}
	if !IsFatal(err) || !errors.Is(err, cause) {
		t.Fatalf("IsFatal = %v, Is(cause) = %v; want true, true", IsFatal(err), errors.Is(err, cause))
	}
}

func TestFatalNil(t *testing.T) {
	if Fatal(nil) != nil {
		t.Fatal("Fatal(nil) != nil")
	}
	if IsFatal(errors.New("plain")) {
		t.Fatal("plain error reported as fatal")
	}
}

func TestExecuteSuccess(t *testing.T) {
	if err := Execute(context.Background(), &fakeLifecycle{id: "a"}, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("execute: %v", err)
	}
}
