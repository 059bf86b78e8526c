// Package errors provides coded domain errors for the lifecycle packages.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Lifecycle resolution and ordering
	CodeNoCurrentLifecycle    Code = "LIFECYCLE_NONE_CURRENT"
	CodeLifecycleInitializing Code = "LIFECYCLE_INITIALIZING"
	CodeAggregateInvocation   Code = "AGGREGATE_INVOCATION_FAILED"

	// Repository errors
	CodeAggregateNotFound        Code = "AGGREGATE_NOT_FOUND"
	CodeAggregateTypeUnknown     Code = "AGGREGATE_TYPE_UNKNOWN"
	CodeAggregateVersionConflict Code = "AGGREGATE_VERSION_CONFLICT"

	// Deadline errors
	CodeDeadlineInvalid Code = "DEADLINE_INVALID"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// FailedPrecondition - the call happened outside a usable lifecycle
	case CodeNoCurrentLifecycle:
		return codes.FailedPrecondition

	// Unimplemented - the operation is not supported in the current phase
	case CodeLifecycleInitializing:
		return codes.Unimplemented

	// InvalidArgument - bad input
	case CodeAggregateTypeUnknown,
		CodeDeadlineInvalid:
		return codes.InvalidArgument

	case CodeAggregateNotFound:
		return codes.NotFound

	// Aborted - optimistic concurrency failure; caller may retry
	case CodeAggregateVersionConflict:
		return codes.Aborted

	default:
		return codes.Internal
	}
}
