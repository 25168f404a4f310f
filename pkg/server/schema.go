package server

import (
	"encoding/json"
	"fmt"
)

// inputSchema is the subset of JSON Schema the server enforces on tool
// arguments: required membership and primitive type tags. Anything richer is
// the tool's own concern.
type inputSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required"`
}

type schemaProperty struct {
	Type string `json:"type"`
}

// validateArguments checks tool arguments against the tool's declared input
// schema. A nil or empty schema accepts anything.
func validateArguments(schema, args json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}

	var s inputSchema
	if err := json.Unmarshal(schema, &s); err != nil {
		// An undecodable schema must not block the tool.
		return nil
	}
	if s.Type != "" && s.Type != "object" {
		return nil
	}

	values := make(map[string]json.RawMessage)
	if len(args) > 0 {
		if err := json.Unmarshal(args, &values); err != nil {
			return fmt.Errorf("arguments must be a JSON object")
		}
	}

	for _, name := range s.Required {
		if _, ok := values[name]; !ok {
			return fmt.Errorf("missing required argument %q", name)
		}
	}

	for name, raw := range values {
		prop, ok := s.Properties[name]
		if !ok || prop.Type == "" {
			continue
		}
		if err := checkType(name, prop.Type, raw); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name, want string, raw json.RawMessage) error {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("argument %q is not valid JSON", name)
	}

	ok := false
	switch want {
	case "string":
		_, ok = value.(string)
	case "number":
		_, ok = value.(float64)
	case "integer":
		f, isNum := value.(float64)
		ok = isNum && f == float64(int64(f))
	case "boolean":
		_, ok = value.(bool)
	case "array":
		_, ok = value.([]interface{})
	case "object":
		_, ok = value.(map[string]interface{})
	case "null":
		ok = value == nil
	default:
		// Unknown type tag: accept rather than guess.
		ok = true
	}

	if !ok {
		return fmt.Errorf("argument %q must be of type %s", name, want)
	}
	return nil
}
