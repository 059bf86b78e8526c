// Package scope implements the stack of "current" values that lets code deep
// in a call path discover which aggregate it is acting on without threading
// the aggregate through every signature.
//
// A Stack is confined to one logical task. It is carried on a
// context.Context under a typed Key so each call path sees its own stack;
// goroutines that outlive or run beside the caller must call Key.Detach to
// start from an empty stack instead of sharing the parent's.
package scope
