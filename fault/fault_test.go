package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{NotFound, "not_found"},
		{AlreadyRunning, "already_running"},
		{NotRunning, "not_running"},
		{ConnectFailed, "connect_failed"},
		{RPCFailed, "rpc_failed"},
		{NoneFound, "none_found"},
		{UploadFailed, "upload_failed"},
		{AuthFailed, "auth_failed"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := New(RPCFailed, "obsws.call GetStats", errors.New("read timeout"))
	wrapped := fmt.Errorf("status: %w", base)

	if got := KindOf(wrapped); got != RPCFailed {
		t.Errorf("KindOf() = %v, want %v", got, RPCFailed)
	}
	if !Is(wrapped, RPCFailed) {
		t.Error("Is(wrapped, RPCFailed) = false, want true")
	}
	if Is(nil, RPCFailed) {
		t.Error("Is(nil, ...) should be false")
	}
	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("unclassified error should report KindUnknown")
	}
}

func TestErrorMessage(t *testing.T) {
	err := New(NotFound, "launcher.start", errors.New("no executable"))
	if got, want := err.Error(), "launcher.start: not_found: no executable"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if got := Cause(err); got != "no executable" {
		t.Errorf("Cause() = %q, want %q", got, "no executable")
	}
	if got := New(NotRunning, "", nil).Error(); got != "not_running" {
		t.Errorf("bare Error() = %q", got)
	}
	if !errors.Is(fmt.Errorf("x: %w", err), err.Err) {
		t.Error("errors.Is should reach the cause through Unwrap")
	}
}
