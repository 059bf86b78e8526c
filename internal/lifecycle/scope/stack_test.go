package scope

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestStackNestedRegistrationIsLIFO(t *testing.T) {
	var s Stack[string]

	if _, ok := s.Current(); ok {
		t.Fatal("expected empty stack")
	}
	releaseA := s.Register("a")
	releaseB := s.Register("b")
	releaseC := s.Register("c")

	want := []string{"c", "b", "a"}
	releases := []func(){releaseC, releaseB, releaseA}
	for i, release := range releases {
		got, ok := s.Current()
		if !ok || got != want[i] {
			t.Fatalf("current = %q (%v), want %q", got, ok, want[i])
		}
		release()
	}
	if _, ok := s.Current(); ok {
		t.Fatal("expected empty stack after all releases")
	}
	if s.Depth() != 0 {
		t.Fatalf("depth = %d, want 0", s.Depth())
	}
}

func TestStackReleasesOnFailurePath(t *testing.T) {
	var s Stack[string]
	errBoom := errors.New("boom")

	run := func(name string, fn func() error) (err error) {
		release := s.Register(name)
		defer release()
		return fn()
	}
	err := run("outer", func() error {
		return run("inner", func() error {
			if got, _ := s.Current(); got != "inner" {
				t.Fatalf("current = %q, want inner", got)
			}
			return errBoom
		})
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want %v", err, errBoom)
	}
	if s.Depth() != 0 {
		t.Fatalf("depth = %d, want 0", s.Depth())
	}
}

func TestStackReleasesOnPanic(t *testing.T) {
	var s Stack[int]
	func() {
		defer func() { _ = recover() }()
		release := s.Register(1)
		defer release()
		panic("handler exploded")
	}()
	if s.Depth() != 0 {
		t.Fatalf("depth = %d, want 0", s.Depth())
	}
}

func TestStackOutOfOrderReleaseRestoresPriorState(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	s := Stack[string]{logger: &logger}

	releaseA := s.Register("a")
	releaseB := s.Register("b")
	releaseC := s.Register("c")

	releaseB()
	got, ok := s.Current()
	if !ok || got != "a" {
		t.Fatalf("current = %q (%v), want a", got, ok)
	}
	if !strings.Contains(buf.String(), "out of order") {
		t.Fatalf("expected warning, got %q", buf.String())
	}

	// c was discarded with b; releasing it again must not touch a.
	releaseC()
	releaseB()
	if got, _ := s.Current(); got != "a" {
		t.Fatalf("current = %q, want a", got)
	}
	releaseA()
	if s.Depth() != 0 {
		t.Fatalf("depth = %d, want 0", s.Depth())
	}
}

func TestStackDoubleReleaseKeepsOtherScopes(t *testing.T) {
	var s Stack[string]
	releaseA := s.Register("a")
	releaseB := s.Register("b")
	releaseB()
	releaseB()
	if got, ok := s.Current(); !ok || got != "a" {
		t.Fatalf("current = %q (%v), want a", got, ok)
	}
	releaseA()
}

func TestKeyEnsureCreatesStackLazily(t *testing.T) {
	key := NewKey[string]("test")
	ctx := context.Background()

	if _, ok := key.Current(ctx); ok {
		t.Fatal("expected no current value")
	}
	ctx2, stack := key.Ensure(ctx)
	if _, ok := key.Stack(ctx); ok {
		t.Fatal("expected parent context to stay without stack")
	}
	release := stack.Register("x")
	if got, ok := key.Current(ctx2); !ok || got != "x" {
		t.Fatalf("current = %q (%v), want x", got, ok)
	}

	ctx3, same := key.Ensure(ctx2)
	if same != stack || ctx3 != ctx2 {
		t.Fatal("expected Ensure to reuse existing stack")
	}
	release()
	if _, ok := key.Current(ctx2); ok {
		t.Fatal("expected empty stack after release")
	}
}

func TestKeyDetachIsolatesGoroutines(t *testing.T) {
	key := NewKey[string]("test")
	ctx, stack := key.Ensure(context.Background())
	release := stack.Register("parent")
	defer release()

	done := make(chan bool)
	go func(ctx context.Context) {
		ctx = key.Detach(ctx)
		_, ok := key.Current(ctx)
		_, childStack := key.Ensure(ctx)
		childStack.Register("child")
		done <- ok
	}(ctx)
	if <-done {
		t.Fatal("expected detached context to start empty")
	}
	if got, _ := key.Current(ctx); got != "parent" {
		t.Fatalf("current = %q, want parent", got)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	first := NewKey[string]("first")
	second := NewKey[string]("second")
	ctx, stack := first.Ensure(context.Background())
	stack.Register("a")

	if _, ok := second.Current(ctx); ok {
		t.Fatal("expected second key to see no stack")
	}
	if first.String() != "scope.first" {
		t.Fatalf("string = %q, want scope.first", first.String())
	}
}
