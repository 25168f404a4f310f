package protocol

import (
	"encoding/json"
	"fmt"
)

// Content is the closed set of content item variants carried in tool and
// resource results: TextContent, ImageContent, and BlobContent. The variant
// is selected by the "type" tag on the wire.
type Content interface {
	ContentType() string
}

// TextContent is a plain-text content item.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ContentType returns the wire tag for text content.
func (TextContent) ContentType() string { return "text" }

// NewTextContent creates a text content item.
func NewTextContent(text string) TextContent {
	return TextContent{Type: "text", Text: text}
}

// ImageContent is a base64-encoded image content item.
type ImageContent struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// ContentType returns the wire tag for image content.
func (ImageContent) ContentType() string { return "image" }

// NewImageContent creates an image content item.
func NewImageContent(data, mimeType string) ImageContent {
	return ImageContent{Type: "image", Data: data, MimeType: mimeType}
}

// BlobContent is an opaque binary content item.
type BlobContent struct {
	Type     string `json:"type"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// ContentType returns the wire tag for blob content.
func (BlobContent) ContentType() string { return "blob" }

// NewBlobContent creates a blob content item.
func NewBlobContent(data, mimeType string) BlobContent {
	return BlobContent{Type: "blob", Data: data, MimeType: mimeType}
}

// DecodeContent decodes a single content item by its type tag.
func DecodeContent(data json.RawMessage) (Content, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("invalid content item: %w", err)
	}

	switch tag.Type {
	case "text":
		var c TextContent
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("invalid text content: %w", err)
		}
		return c, nil
	case "image":
		var c ImageContent
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("invalid image content: %w", err)
		}
		return c, nil
	case "blob":
		var c BlobContent
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("invalid blob content: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown content type %q", tag.Type)
	}
}

// DecodeContentList decodes a JSON array of content items.
func DecodeContentList(data json.RawMessage) ([]Content, error) {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("invalid content list: %w", err)
	}

	items := make([]Content, 0, len(elements))
	for i, element := range elements {
		item, err := DecodeContent(element)
		if err != nil {
			return nil, fmt.Errorf("content item %d: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}
