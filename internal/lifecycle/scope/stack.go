package scope

import (
	"context"

	"github.com/rs/zerolog"
)

// Handle identifies one registration on a Stack.
type Handle struct {
	seq uint64
}

type entry[T any] struct {
	handle Handle
	value  T
}

// Stack is a LIFO of registered values. The zero value is ready to use.
// A Stack is not safe for concurrent use.
type Stack[T any] struct {
	entries []entry[T]
	nextSeq uint64
	logger  *zerolog.Logger
}

// Register pushes value and returns the function that releases it.
//
// Releasing the top registration pops it. Releasing a registration that is
// buried under later ones restores the stack to the state it had before that
// registration, discarding everything above it, and logs a warning.
// Releasing a registration that is no longer on the stack does nothing.
func (s *Stack[T]) Register(value T) (release func()) {
	s.nextSeq++
	h := Handle{seq: s.nextSeq}
	s.entries = append(s.entries, entry[T]{handle: h, value: value})
	return func() { s.release(h) }
}

// Current returns the most recently registered, unreleased value.
func (s *Stack[T]) Current() (T, bool) {
	var zero T
	if s == nil || len(s.entries) == 0 {
		return zero, false
	}
	return s.entries[len(s.entries)-1].value, true
}

// Depth returns the number of live registrations.
func (s *Stack[T]) Depth() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

func (s *Stack[T]) release(h Handle) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].handle != h {
			continue
		}
		if dropped := len(s.entries) - 1 - i; dropped > 0 {
			s.log().Warn().
				Int("dropped", dropped).
				Int("depth", len(s.entries)).
				Msg("scope released out of order; restoring prior state")
		}
		clear(s.entries[i:])
		s.entries = s.entries[:i]
		return
	}
}

func (s *Stack[T]) log() *zerolog.Logger {
	if s.logger != nil {
		return s.logger
	}
	nop := zerolog.Nop()
	return &nop
}

// Key is a typed context key under which a Stack[T] travels.
// Distinct keys carry independent stacks.
type Key[T any] struct {
	name string
}

// NewKey returns a key; name only shows up in debugging output.
func NewKey[T any](name string) *Key[T] {
	return &Key[T]{name: name}
}

func (k *Key[T]) String() string { return "scope." + k.name }

// Stack returns the stack carried by ctx, if any.
func (k *Key[T]) Stack(ctx context.Context) (*Stack[T], bool) {
	if ctx == nil {
		return nil, false
	}
	stack, ok := ctx.Value(k).(*Stack[T])
	return stack, ok && stack != nil
}

// Ensure returns ctx's stack, creating one on a derived context when absent.
// The created stack logs through the zerolog logger on ctx.
func (k *Key[T]) Ensure(ctx context.Context) (context.Context, *Stack[T]) {
	if ctx == nil {
		ctx = context.Background()
	}
	if stack, ok := k.Stack(ctx); ok {
		return ctx, stack
	}
	stack := &Stack[T]{logger: zerolog.Ctx(ctx)}
	return context.WithValue(ctx, k, stack), stack
}

// Detach returns a context carrying a fresh, empty stack.
func (k *Key[T]) Detach(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, k, &Stack[T]{logger: zerolog.Ctx(ctx)})
}

// Current returns the top of ctx's stack.
func (k *Key[T]) Current(ctx context.Context) (T, bool) {
	stack, ok := k.Stack(ctx)
	if !ok {
		var zero T
		return zero, false
	}
	return stack.Current()
}
