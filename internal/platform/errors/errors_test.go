package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	sentinel := New(CodeNoCurrentLifecycle, "no lifecycle")
	wrapped := fmt.Errorf("apply: %w", New(CodeNoCurrentLifecycle, "different message"))

	if !stderrors.Is(wrapped, sentinel) {
		t.Fatal("expected errors.Is to match by code")
	}
	if stderrors.Is(wrapped, New(CodeLifecycleInitializing, "x")) {
		t.Fatal("expected different codes not to match")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(CodeAggregateInvocation, "invoke task", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause in chain")
	}
	if err.Error() != "invoke task: boom" {
		t.Fatalf("error = %q, want %q", err.Error(), "invoke task: boom")
	}
	if GetCode(fmt.Errorf("outer: %w", err)) != CodeAggregateInvocation {
		t.Fatalf("code = %s, want %s", GetCode(err), CodeAggregateInvocation)
	}
	if GetCode(cause) != CodeUnknown {
		t.Fatalf("code = %s, want %s", GetCode(cause), CodeUnknown)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeNoCurrentLifecycle, codes.FailedPrecondition},
		{CodeLifecycleInitializing, codes.Unimplemented},
		{CodeAggregateInvocation, codes.Internal},
		{CodeAggregateNotFound, codes.NotFound},
		{CodeAggregateTypeUnknown, codes.InvalidArgument},
		{CodeAggregateVersionConflict, codes.Aborted},
		{CodeDeadlineInvalid, codes.InvalidArgument},
		{CodeUnknown, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.GRPCCode(); got != tt.want {
				t.Fatalf("GRPCCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToGRPCStatusAttachesErrorInfo(t *testing.T) {
	err := WithMetadata(CodeAggregateNotFound, "aggregate not found", map[string]string{"aggregate_id": "t-1"})

	st := status.Convert(ToGRPCStatus(fmt.Errorf("load: %w", err)))
	if st.Code() != codes.NotFound {
		t.Fatalf("status code = %v, want %v", st.Code(), codes.NotFound)
	}
	var info *errdetails.ErrorInfo
	for _, detail := range st.Details() {
		if typed, ok := detail.(*errdetails.ErrorInfo); ok {
			info = typed
		}
	}
	if info == nil {
		t.Fatal("expected ErrorInfo detail")
	}
	if info.GetReason() != string(CodeAggregateNotFound) {
		t.Fatalf("reason = %q, want %q", info.GetReason(), CodeAggregateNotFound)
	}
	if info.GetMetadata()["aggregate_id"] != "t-1" {
		t.Fatalf("metadata = %v, want aggregate_id", info.GetMetadata())
	}
}

func TestToGRPCStatusPlainError(t *testing.T) {
	if ToGRPCStatus(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
	st := status.Convert(ToGRPCStatus(stderrors.New("plain")))
	if st.Code() != codes.Internal {
		t.Fatalf("status code = %v, want %v", st.Code(), codes.Internal)
	}
}

func TestStatusDetails(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   codes.Code
		wantReason string
		wantMeta   string
	}{
		{name: "nil", err: nil, wantCode: codes.OK},
		{name: "plain", err: stderrors.New("disk full"), wantCode: codes.Internal, wantReason: string(CodeUnknown)},
		{
			name:       "coded",
			err:        fmt.Errorf("save: %w", WithMetadata(CodeAggregateVersionConflict, "conflict", map[string]string{"aggregate_id": "t-1"})),
			wantCode:   codes.Aborted,
			wantReason: string(CodeAggregateVersionConflict),
			wantMeta:   "t-1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, reason, md := StatusDetails(tt.err)
			if code != tt.wantCode {
				t.Fatalf("code = %v, want %v", code, tt.wantCode)
			}
			if reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", reason, tt.wantReason)
			}
			if md["aggregate_id"] != tt.wantMeta {
				t.Fatalf("metadata = %v, want aggregate_id %q", md, tt.wantMeta)
			}
		})
	}
}
