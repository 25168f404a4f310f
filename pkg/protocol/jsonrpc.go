package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	// JSONRPCVersion is the only supported JSON-RPC version
	JSONRPCVersion = "2.0"
)

// Message is the closed set of JSON-RPC message variants: *Request,
// *Notification, and *Response. A Request carries an ID; a Notification has
// no ID field at all (not merely a null one); a Response carries an ID plus
// exactly one of result or error.
type Message interface {
	message()
}

// Request represents a JSON-RPC 2.0 request. The presence of the id field is
// what distinguishes a Request from a Notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (*Request) message() {}

// NewRequest creates a new JSON-RPC 2.0 request.
func NewRequest(id interface{}, method string, params interface{}) (*Request, error) {
	if method == "" {
		return nil, fmt.Errorf("method must not be empty")
	}

	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

// Notification represents a JSON-RPC 2.0 notification. No response is ever
// produced for it.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (*Notification) message() {}

// NewNotification creates a new JSON-RPC 2.0 notification.
func NewNotification(method string, params interface{}) (*Notification, error) {
	if method == "" {
		return nil, fmt.Errorf("method must not be empty")
	}

	paramsJSON, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	return &Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsJSON,
	}, nil
}

// Response represents a JSON-RPC 2.0 response carrying exactly one of Result
// or Error. Constructors and ParseMessage both enforce the invariant.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (*Response) message() {}

// NewResponse creates a success response. A nil result is encoded as JSON
// null so the result member is always present on success.
func NewResponse(id interface{}, result interface{}) (*Response, error) {
	resultJSON := json.RawMessage("null")
	if result != nil {
		var err error
		resultJSON, err = json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resultJSON,
	}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id interface{}, code int, message string, data interface{}) (*Response, error) {
	var dataJSON interface{}
	if data != nil {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal error data: %w", err)
		}
		dataJSON = json.RawMessage(dataBytes)
	}

	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    dataJSON,
		},
	}, nil
}

// Validate checks the result/error exclusivity invariant.
func (r *Response) Validate() error {
	hasResult := len(r.Result) > 0
	hasError := r.Error != nil
	if hasResult && hasError {
		return fmt.Errorf("response %v carries both result and error", r.ID)
	}
	if !hasResult && !hasError {
		return fmt.Errorf("response %v carries neither result nor error", r.ID)
	}
	return nil
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error: code = %d desc = %s", e.Code, e.Message)
}

func marshalParams(params interface{}) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	return data, nil
}

// ParseMessage classifies and validates a single raw JSON-RPC message.
// Classification works on field presence: a map of raw members is used so a
// null id (Request) is told apart from a missing id (Notification).
func ParseMessage(data []byte) (Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var version string
	if v, ok := raw["jsonrpc"]; ok {
		if err := json.Unmarshal(v, &version); err != nil {
			return nil, fmt.Errorf("invalid jsonrpc member: %w", err)
		}
	}
	if version != JSONRPCVersion {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", version)
	}

	var method string
	if m, ok := raw["method"]; ok {
		if err := json.Unmarshal(m, &method); err != nil {
			return nil, fmt.Errorf("invalid method member: %w", err)
		}
	}

	_, hasID := raw["id"]
	_, hasResult := raw["result"]
	_, hasError := raw["error"]

	if hasResult || hasError {
		if !hasID {
			return nil, fmt.Errorf("response is missing id")
		}
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("invalid response: %w", err)
		}
		if hasResult && hasError {
			return nil, fmt.Errorf("response %v carries both result and error", resp.ID)
		}
		// A literal null result still counts as present.
		if resp.Error == nil && resp.Result == nil {
			resp.Result = json.RawMessage("null")
		}
		return &resp, nil
	}

	if method == "" {
		return nil, fmt.Errorf("message has no method and no result/error")
	}

	if hasID {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("invalid request: %w", err)
		}
		return &req, nil
	}

	var notif Notification
	if err := json.Unmarshal(data, &notif); err != nil {
		return nil, fmt.Errorf("invalid notification: %w", err)
	}
	return &notif, nil
}

// IsBatch reports whether raw data is a JSON-RPC batch (a top-level array).
func IsBatch(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

// SplitBatch splits a batch payload into its raw elements. Elements are
// dispatched independently; a malformed element fails alone.
func SplitBatch(data []byte) ([]json.RawMessage, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("invalid batch: %w", err)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("batch must not be empty")
	}
	return elements, nil
}
