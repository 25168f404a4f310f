package errors

import (
	"fmt"
	"time"
)

// Constructors for protocol-level errors: bad message shapes, failed
// negotiation, unroutable methods. These surface either as wire error
// responses or as local protocol exceptions to the caller.

// ParseError creates an error for malformed JSON input.
func ParseError(cause error) ProtocolError {
	return Wrap(cause, CodeParseError, "failed to parse JSON-RPC message", CategoryProtocol, SeverityError)
}

// InvalidRequest creates an error for a structurally invalid message.
func InvalidRequest(reason string) ProtocolError {
	return Newf(CodeInvalidRequest, CategoryProtocol, SeverityError, "invalid request: %s", reason)
}

// MethodNotFound creates an error for an unroutable method.
func MethodNotFound(method string) ProtocolError {
	return Newf(CodeMethodNotFound, CategoryProtocol, SeverityError, "method not found: %s", method).
		WithData(map[string]string{"method": method})
}

// InvalidParams creates an error for invalid method parameters.
func InvalidParams(method, reason string) ProtocolError {
	return Newf(CodeInvalidParams, CategoryValidation, SeverityError, "invalid params for %s: %s", method, reason).
		WithData(map[string]string{"method": method, "reason": reason})
}

// MissingParam creates an error for an absent required parameter.
func MissingParam(method, param string) ProtocolError {
	return InvalidParams(method, fmt.Sprintf("missing required parameter %q", param))
}

// Internal creates an internal error from a handler failure.
func Internal(cause error) ProtocolError {
	return Wrap(cause, CodeInternalError, "internal error", CategoryInternal, SeverityError)
}

// InitializationFailed creates an error for a failed initialize handshake.
func InitializationFailed(reason string) ProtocolError {
	return Newf(CodeInitializationFailed, CategoryProtocol, SeverityCritical, "initialization failed: %s", reason)
}

// UnsupportedProtocolVersion creates a fail-closed negotiation error.
func UnsupportedProtocolVersion(offered string, supported []string) ProtocolError {
	return Newf(CodeVersionMismatch, CategoryProtocol, SeverityError,
		"protocol version %q is not supported", offered).
		WithData(map[string]interface{}{
			"offered":   offered,
			"supported": supported,
		})
}

// CapabilityNotSupported creates an error for an unsupported capability.
func CapabilityNotSupported(capability string) ProtocolError {
	return Newf(CodeCapabilityNotSupported, CategoryValidation, SeverityError,
		"capability %q is not supported", capability).
		WithData(map[string]string{"capability": capability})
}

// ToolNotFound creates an error for an unregistered tool name.
func ToolNotFound(name string) ProtocolError {
	return Newf(CodeToolNotFound, CategoryNotFound, SeverityError, "tool %q not found", name).
		WithData(map[string]string{"tool": name})
}

// ResourceNotFound creates an error for a URI with no matching resource.
func ResourceNotFound(uri string) ProtocolError {
	return Newf(CodeResourceNotFound, CategoryNotFound, SeverityError, "no resource matches URI %q", uri).
		WithData(map[string]string{"uri": uri})
}

// PromptNotFound creates an error for an unregistered prompt name.
func PromptNotFound(name string) ProtocolError {
	return Newf(CodePromptNotFound, CategoryNotFound, SeverityError, "prompt %q not found", name).
		WithData(map[string]string{"prompt": name})
}

// AuthenticationFailed creates an error for rejected credentials.
func AuthenticationFailed(reason string) ProtocolError {
	return Newf(CodeAuthenticationFailed, CategoryAuth, SeverityError, "authentication failed: %s", reason)
}

// RequestTimeout creates the distinct timeout error raised when a pending
// request's deadline expires. Sibling requests are unaffected.
func RequestTimeout(requestID string, timeout time.Duration) ProtocolError {
	return Newf(CodeRequestTimeout, CategoryTimeout, SeverityError,
		"request %s timed out after %s", requestID, timeout).
		WithData(map[string]interface{}{
			"request_id": requestID,
			"timeout":    timeout.String(),
		})
}

// RequestCancelled creates the error delivered to pending requests when the
// connection is torn down before their responses arrive.
func RequestCancelled(requestID, reason string) ProtocolError {
	return Newf(CodeRequestCancelled, CategoryCancelled, SeverityInfo,
		"request %s cancelled: %s", requestID, reason).
		WithData(map[string]string{"request_id": requestID, "reason": reason})
}
