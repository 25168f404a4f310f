package server

import (
	"encoding/json"
	"fmt"

	"github.com/toolwire/mcp-go/pkg/protocol"
)

// normalizeToolResult converts whatever a tool handler returned into the
// canonical CallToolResult shape. A handler error becomes a tool-level
// failure inside a successful response; it never surfaces as a wire error.
func normalizeToolResult(value interface{}, err error) *protocol.CallToolResult {
	if err != nil {
		return &protocol.CallToolResult{
			Content: []protocol.Content{protocol.NewTextContent(err.Error())},
			IsError: true,
		}
	}

	switch v := value.(type) {
	case nil:
		return &protocol.CallToolResult{Content: []protocol.Content{}}
	case *protocol.CallToolResult:
		if v.Content == nil {
			v.Content = []protocol.Content{}
		}
		return v
	case protocol.CallToolResult:
		if v.Content == nil {
			v.Content = []protocol.Content{}
		}
		return &v
	case protocol.Content:
		return &protocol.CallToolResult{Content: []protocol.Content{v}}
	case []protocol.Content:
		return &protocol.CallToolResult{Content: v}
	case string:
		return &protocol.CallToolResult{
			Content: []protocol.Content{protocol.NewTextContent(v)},
		}
	default:
		return &protocol.CallToolResult{
			Content: []protocol.Content{protocol.NewTextContent(stringify(v))},
		}
	}
}

// normalizeResourceContents converts a resource handler's return value into
// the content list for a read result.
func normalizeResourceContents(value interface{}) []protocol.Content {
	switch v := value.(type) {
	case nil:
		return []protocol.Content{}
	case protocol.Content:
		return []protocol.Content{v}
	case []protocol.Content:
		return v
	case string:
		return []protocol.Content{protocol.NewTextContent(v)}
	case []byte:
		return []protocol.Content{protocol.NewTextContent(string(v))}
	default:
		return []protocol.Content{protocol.NewTextContent(stringify(v))}
	}
}

// stringify renders an arbitrary value as JSON text, falling back to Go
// formatting for unmarshalable values.
func stringify(value interface{}) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}
