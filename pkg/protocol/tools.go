package protocol

import "encoding/json"

// Tool describes a callable operation exposed by a server. Name is the
// unique registry key.
type Tool struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	InputSchema json.RawMessage  `json:"inputSchema,omitempty"`
	Annotations *ToolAnnotations `json:"annotations,omitempty"`
}

// ToolAnnotations carries optional behavior hints about a tool. They are
// advisory metadata, never enforced by the protocol layer.
type ToolAnnotations struct {
	Title           string `json:"title,omitempty"`
	ReadOnlyHint    bool   `json:"readOnlyHint,omitempty"`
	DestructiveHint bool   `json:"destructiveHint,omitempty"`
	IdempotentHint  bool   `json:"idempotentHint,omitempty"`
}

// ListToolsParams are the parameters of tools/list.
type ListToolsParams struct {
	PaginationParams
}

// ListToolsResult is the paginated answer to tools/list.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams are the parameters of tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the answer to tools/call. Tool-level failure is reported
// as application data (IsError true) inside a successful response, never as a
// JSON-RPC error, so a failing tool never looks like a broken connection.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

// UnmarshalJSON decodes the tagged content items.
func (r *CallToolResult) UnmarshalJSON(data []byte) error {
	var wire struct {
		Content []json.RawMessage `json:"content"`
		IsError bool              `json:"isError"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	r.IsError = wire.IsError
	r.Content = make([]Content, 0, len(wire.Content))
	for _, element := range wire.Content {
		item, err := DecodeContent(element)
		if err != nil {
			return err
		}
		r.Content = append(r.Content, item)
	}
	return nil
}
