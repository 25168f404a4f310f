package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestConstructorCodesAndCategories(t *testing.T) {
	tests := []struct {
		name     string
		err      ProtocolError
		wantCode int
		wantCat  Category
	}{
		{"method not found", MethodNotFound("tools/x"), CodeMethodNotFound, CategoryProtocol},
		{"invalid params", InvalidParams("tools/call", "bad"), CodeInvalidParams, CategoryValidation},
		{"tool not found", ToolNotFound("calc"), CodeToolNotFound, CategoryNotFound},
		{"resource not found", ResourceNotFound("data://x"), CodeResourceNotFound, CategoryNotFound},
		{"prompt not found", PromptNotFound("greet"), CodePromptNotFound, CategoryNotFound},
		{"request timeout", RequestTimeout("1", time.Second), CodeRequestTimeout, CategoryTimeout},
		{"request cancelled", RequestCancelled("1", "shutdown"), CodeRequestCancelled, CategoryCancelled},
		{"not connected", NotConnected("DISCONNECTED"), CodeNotConnected, CategoryTransport},
		{"version mismatch", UnsupportedProtocolVersion("v0", []string{"v1"}), CodeVersionMismatch, CategoryProtocol},
		{"auth failed", AuthenticationFailed("bad token"), CodeAuthenticationFailed, CategoryAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Code(); got != tt.wantCode {
				t.Errorf("Code() = %d, want %d", got, tt.wantCode)
			}
			if got := tt.err.Category(); got != tt.wantCat {
				t.Errorf("Category() = %s, want %s", got, tt.wantCat)
			}
			if tt.err.Error() == "" {
				t.Error("Error() must not be empty")
			}
		})
	}
}

func TestTimeoutAndCancelledAreDistinct(t *testing.T) {
	timeout := RequestTimeout("req-1", 5*time.Second)
	cancelled := RequestCancelled("req-2", "disconnect")

	if !IsTimeout(timeout) || IsCancelled(timeout) {
		t.Error("timeout must classify as timeout only")
	}
	if !IsCancelled(cancelled) || IsTimeout(cancelled) {
		t.Error("cancellation must classify as cancelled only")
	}
}

func TestToWireFlattensLocalCodes(t *testing.T) {
	// Wire-visible codes pass through.
	code, msg, _ := ToWire(ToolNotFound("calc"))
	if code != CodeToolNotFound {
		t.Errorf("wire code = %d, want %d", code, CodeToolNotFound)
	}
	if msg == "" {
		t.Error("message must survive conversion")
	}

	// Local diagnostic codes must never leak onto the wire.
	code, _, _ = ToWire(NotConnected("ERROR"))
	if code != CodeInternalError {
		t.Errorf("local code leaked onto the wire: %d", code)
	}

	// Plain errors become internal errors.
	code, msg, _ = ToWire(fmt.Errorf("boom"))
	if code != CodeInternalError || msg != "boom" {
		t.Errorf("plain error conversion = (%d, %q)", code, msg)
	}
}

func TestFromWireRestoresCategory(t *testing.T) {
	err := FromWire(CodeToolNotFound, "tool missing", nil)
	if err.Category() != CategoryNotFound {
		t.Errorf("Category() = %s, want %s", err.Category(), CategoryNotFound)
	}
	if err.Code() != CodeToolNotFound {
		t.Errorf("Code() = %d", err.Code())
	}

	// Unknown codes still produce a usable error.
	err = FromWire(-99999, "mystery", nil)
	if err.Message() != "mystery" {
		t.Errorf("Message() = %q", err.Message())
	}
}

func TestIsWireCode(t *testing.T) {
	wire := []int{CodeParseError, CodeInvalidRequest, CodeMethodNotFound,
		CodeInvalidParams, CodeInternalError, CodeToolNotFound,
		CodeResourceNotFound, CodePromptNotFound, CodeRequestCancelled}
	for _, code := range wire {
		if !IsWireCode(code) {
			t.Errorf("code %d should be wire-visible", code)
		}
	}

	local := []int{CodeTransportError, CodeNotConnected, CodeRequestTimeout,
		CodeConnectionLost, CodeSpawnFailed, CodeVersionMismatch}
	for _, code := range local {
		if IsWireCode(code) {
			t.Errorf("code %d should be local-only", code)
		}
	}
}

func TestWithDetailAndData(t *testing.T) {
	base := ToolNotFound("calc")
	detailed := base.WithDetail("registry empty")

	if base.Error() == detailed.Error() {
		t.Error("WithDetail must not mutate the original")
	}
	if detailed.Code() != base.Code() {
		t.Error("WithDetail must preserve the code")
	}

	withData := base.WithData(map[string]string{"k": "v"})
	if withData.Data() == nil {
		t.Error("WithData must attach data")
	}
}
