package protocol

const (
	// CurrentProtocolVersion is the protocol revision this module speaks.
	CurrentProtocolVersion = "2025-03-26"

	// PreviousProtocolVersion is the one-prior revision accepted when legacy
	// mode is enabled on the negotiator.
	PreviousProtocolVersion = "2024-11-05"
)

// Lifecycle methods.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized"
	MethodPing        = "ping"
)

// Capability methods.
const (
	MethodListTools     = "tools/list"
	MethodCallTool      = "tools/call"
	MethodListResources = "resources/list"
	MethodReadResource  = "resources/read"
	MethodListPrompts   = "prompts/list"
	MethodGetPrompt     = "prompts/get"
)

// Notification methods.
const (
	MethodCancelled           = "notifications/cancelled"
	MethodToolListChanged     = "notifications/tools/list_changed"
	MethodResourceListChanged = "notifications/resources/list_changed"
	MethodPromptListChanged   = "notifications/prompts/list_changed"
)

// Implementation identifies a peer implementation. Both sides exchange it
// during the initialize handshake.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises optional feature support. Each capability is
// present-or-absent rather than boolean: a present capability may itself
// carry sub-options.
type Capabilities struct {
	Tools     *ToolsCapability     `json:"tools,omitempty"`
	Resources *ResourcesCapability `json:"resources,omitempty"`
	Prompts   *PromptsCapability   `json:"prompts,omitempty"`
	Roots     *RootsCapability     `json:"roots,omitempty"`
	Sampling  *SamplingCapability  `json:"sampling,omitempty"`
}

// ToolsCapability carries sub-options for the tools capability.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability carries sub-options for the resources capability.
type ResourcesCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
	Subscribe   bool `json:"subscribe,omitempty"`
}

// PromptsCapability carries sub-options for the prompts capability.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// RootsCapability carries sub-options for the roots capability.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// SamplingCapability marks sampling support. It has no sub-options today.
type SamplingCapability struct{}

// InitializeParams are the parameters of the initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ClientInfo      Implementation `json:"clientInfo"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    Capabilities   `json:"capabilities"`
	ServerInfo      Implementation `json:"serverInfo"`
}

// InitializedParams is the (empty) payload of the initialized notification.
type InitializedParams struct{}

// PingParams are the optional parameters of a ping request.
type PingParams struct {
	Timestamp int64 `json:"timestamp,omitempty"`
}

// PingResult echoes the caller's timestamp, or carries the responder's.
type PingResult struct {
	Timestamp int64 `json:"timestamp"`
}

// CancelledParams are the parameters of the notifications/cancelled
// notification, signalling that the sender no longer wants the answer.
type CancelledParams struct {
	RequestID interface{} `json:"requestId"`
	Reason    string      `json:"reason,omitempty"`
}

// PaginationParams are embedded by list-request parameter types.
type PaginationParams struct {
	Cursor string `json:"cursor,omitempty"`
}
