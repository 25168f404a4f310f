package errors

import (
	"fmt"
	"time"
)

// TransportErrorData carries structured data for transport-related errors.
type TransportErrorData struct {
	Transport string `json:"transport"`
	Operation string `json:"operation,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Retryable bool   `json:"retryable"`
	Reason    string `json:"reason,omitempty"`
}

// TransportError creates a generic transport error.
func TransportError(transport, operation string, cause error) ProtocolError {
	message := fmt.Sprintf("%s transport error", transport)
	if operation != "" {
		message = fmt.Sprintf("%s transport error during %s", transport, operation)
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	data := &TransportErrorData{Transport: transport, Operation: operation, Retryable: true}
	if cause != nil {
		data.Reason = cause.Error()
	}
	return Wrap(cause, CodeTransportError, message, CategoryTransport, SeverityError).WithData(data)
}

// ConnectionFailed creates an error for a connection that never came up.
func ConnectionFailed(transport, endpoint string, cause error) ProtocolError {
	message := fmt.Sprintf("failed to connect via %s", transport)
	if endpoint != "" {
		message = fmt.Sprintf("failed to connect to %s via %s", endpoint, transport)
	}
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return Wrap(cause, CodeConnectionFailed, message, CategoryTransport, SeverityCritical).
		WithData(&TransportErrorData{Transport: transport, Endpoint: endpoint, Retryable: true})
}

// ConnectionLost creates an error for a connection dropped mid-operation.
// The connection moves to the ERROR state; retry policy belongs to the caller.
func ConnectionLost(transport string, cause error) ProtocolError {
	message := fmt.Sprintf("lost connection via %s", transport)
	if cause != nil {
		message = fmt.Sprintf("%s: %s", message, cause.Error())
	}
	return Wrap(cause, CodeConnectionLost, message, CategoryTransport, SeverityError).
		WithData(&TransportErrorData{Transport: transport, Retryable: true})
}

// NotConnected creates the fail-fast error for traffic attempted while the
// connection is not OPERATING.
func NotConnected(state string) ProtocolError {
	return Newf(CodeNotConnected, CategoryTransport, SeverityError,
		"connection is not operating (state: %s)", state).
		WithData(map[string]string{"state": state})
}

// SpawnFailed creates an error for a subprocess that could not be started.
func SpawnFailed(command string, cause error) ProtocolError {
	return Wrap(cause, CodeSpawnFailed,
		fmt.Sprintf("failed to spawn subprocess %q", command),
		CategoryTransport, SeverityCritical).
		WithData(map[string]string{"command": command})
}

// MessageTooLarge creates an error for a frame exceeding the size guard.
func MessageTooLarge(size, limit int) ProtocolError {
	return Newf(CodeMessageTooLarge, CategoryValidation, SeverityWarning,
		"message of %d bytes exceeds maximum frame size of %d bytes", size, limit).
		WithData(map[string]int{"size": size, "limit": limit})
}

// ConnectTimeout creates an error for a connection attempt that timed out.
func ConnectTimeout(transport, endpoint string, timeout time.Duration) ProtocolError {
	message := fmt.Sprintf("connect timeout via %s after %s", transport, timeout)
	if endpoint != "" {
		message = fmt.Sprintf("connect timeout to %s via %s after %s", endpoint, transport, timeout)
	}
	return New(CodeConnectionFailed, message, CategoryTransport, SeverityError).
		WithData(&TransportErrorData{Transport: transport, Endpoint: endpoint, Retryable: true})
}
