package errors

// Standard JSON-RPC 2.0 error codes.
const (
	// CodeParseError indicates invalid JSON was received
	CodeParseError int = -32700

	// CodeInvalidRequest indicates the message is not a valid Request object
	CodeInvalidRequest int = -32600

	// CodeMethodNotFound indicates the method does not exist
	CodeMethodNotFound int = -32601

	// CodeInvalidParams indicates invalid method parameters
	CodeInvalidParams int = -32602

	// CodeInternalError indicates an internal JSON-RPC error
	CodeInternalError int = -32603
)

// Protocol-specific error codes carried on the wire (-32000..-32006).
const (
	// CodeInitializationFailed indicates the initialize handshake failed
	CodeInitializationFailed int = -32000

	// CodeCapabilityNotSupported indicates a requested capability is not supported
	CodeCapabilityNotSupported int = -32001

	// CodeToolNotFound indicates the named tool is not registered
	CodeToolNotFound int = -32002

	// CodeResourceNotFound indicates no resource matches the requested URI
	CodeResourceNotFound int = -32003

	// CodePromptNotFound indicates the named prompt is not registered
	CodePromptNotFound int = -32004

	// CodeAuthenticationFailed indicates the peer rejected the caller's credentials
	CodeAuthenticationFailed int = -32005

	// CodeRequestCancelled indicates the request was cancelled before completion
	CodeRequestCancelled int = -32006
)

// Local diagnostic codes. These never appear in a wire-level error object;
// they classify errors surfaced to in-process callers.
const (
	CodeTransportError     int = -32500 // Generic transport failure
	CodeConnectionFailed   int = -32501 // Failed to establish a connection
	CodeConnectionLost     int = -32502 // Connection dropped mid-operation
	CodeRequestTimeout     int = -32503 // A pending request timed out
	CodeNotConnected       int = -32504 // Traffic attempted outside OPERATING
	CodeMessageTooLarge    int = -32505 // Frame exceeded the size guard
	CodeVersionMismatch    int = -32506 // Protocol version negotiation failed
	CodeSpawnFailed        int = -32507 // Subprocess could not be started
	CodeInvalidStateChange int = -32508 // Illegal connection state transition
)

// ErrorCodeInfo describes an error code for diagnostics.
type ErrorCodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeParseError:     {CodeParseError, "ParseError", "Invalid JSON was received", CategoryProtocol, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", "Invalid Request object", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", "Method does not exist", CategoryProtocol, SeverityError},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", "Invalid method parameters", CategoryValidation, SeverityError},
	CodeInternalError:  {CodeInternalError, "InternalError", "Internal JSON-RPC error", CategoryInternal, SeverityError},

	CodeInitializationFailed:   {CodeInitializationFailed, "InitializationFailed", "Initialize handshake failed", CategoryProtocol, SeverityCritical},
	CodeCapabilityNotSupported: {CodeCapabilityNotSupported, "CapabilityNotSupported", "Capability not supported", CategoryValidation, SeverityError},
	CodeToolNotFound:           {CodeToolNotFound, "ToolNotFound", "Tool not registered", CategoryNotFound, SeverityError},
	CodeResourceNotFound:       {CodeResourceNotFound, "ResourceNotFound", "Resource not found", CategoryNotFound, SeverityError},
	CodePromptNotFound:         {CodePromptNotFound, "PromptNotFound", "Prompt not registered", CategoryNotFound, SeverityError},
	CodeAuthenticationFailed:   {CodeAuthenticationFailed, "AuthenticationFailed", "Authentication failed", CategoryAuth, SeverityError},
	CodeRequestCancelled:       {CodeRequestCancelled, "RequestCancelled", "Request cancelled", CategoryCancelled, SeverityInfo},

	CodeTransportError:     {CodeTransportError, "TransportError", "Transport failure", CategoryTransport, SeverityError},
	CodeConnectionFailed:   {CodeConnectionFailed, "ConnectionFailed", "Connection failed", CategoryTransport, SeverityCritical},
	CodeConnectionLost:     {CodeConnectionLost, "ConnectionLost", "Connection lost", CategoryTransport, SeverityError},
	CodeRequestTimeout:     {CodeRequestTimeout, "RequestTimeout", "Request timed out", CategoryTimeout, SeverityError},
	CodeNotConnected:       {CodeNotConnected, "NotConnected", "Connection not in operating state", CategoryTransport, SeverityError},
	CodeMessageTooLarge:    {CodeMessageTooLarge, "MessageTooLarge", "Frame exceeds maximum size", CategoryValidation, SeverityWarning},
	CodeVersionMismatch:    {CodeVersionMismatch, "VersionMismatch", "Protocol version mismatch", CategoryProtocol, SeverityError},
	CodeSpawnFailed:        {CodeSpawnFailed, "SpawnFailed", "Subprocess spawn failed", CategoryTransport, SeverityCritical},
	CodeInvalidStateChange: {CodeInvalidStateChange, "InvalidStateChange", "Illegal state transition", CategoryInternal, SeverityError},
}

// GetErrorCodeInfo returns information about an error code.
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// GetErrorCodeName returns the symbolic name of an error code.
func GetErrorCodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// IsWireCode reports whether a code may appear in a wire-level error object.
func IsWireCode(code int) bool {
	return (code >= -32700 && code <= -32600) || code == CodeInternalError ||
		(code >= -32006 && code <= -32000)
}
