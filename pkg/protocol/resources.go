package protocol

import "encoding/json"

// Resource describes addressable content exposed by a server. Exactly one of
// URI (exact-match key) or URITemplate (pattern with {param} placeholders) is
// set.
type Resource struct {
	URI         string `json:"uri,omitempty"`
	URITemplate string `json:"uriTemplate,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ListResourcesParams are the parameters of resources/list.
type ListResourcesParams struct {
	PaginationParams
}

// ListResourcesResult is the paginated answer to resources/list.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ReadResourceParams are the parameters of resources/read.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ResourceContents is one content entry of a resources/read result, stamped
// with the resource's declared URI and mime type.
type ResourceContents struct {
	URI      string    `json:"uri"`
	MimeType string    `json:"mimeType,omitempty"`
	Contents []Content `json:"contents"`
}

// ReadResourceResult is the answer to resources/read.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// UnmarshalJSON decodes the nested tagged content items.
func (r *ResourceContents) UnmarshalJSON(data []byte) error {
	var wire struct {
		URI      string            `json:"uri"`
		MimeType string            `json:"mimeType"`
		Contents []json.RawMessage `json:"contents"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	r.URI = wire.URI
	r.MimeType = wire.MimeType
	r.Contents = make([]Content, 0, len(wire.Contents))
	for _, element := range wire.Contents {
		item, err := DecodeContent(element)
		if err != nil {
			return err
		}
		r.Contents = append(r.Contents, item)
	}
	return nil
}
