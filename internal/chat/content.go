package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentKind discriminates the active representation of a Content value.
type ContentKind int

const (
	ContentNull ContentKind = iota
	ContentText
	ContentParts
)

func (k ContentKind) String() string {
	switch k {
	case ContentNull:
		return "null"
	case ContentText:
		return "text"
	case ContentParts:
		return "parts"
	default:
		return fmt.Sprintf("ContentKind(%d)", int(k))
	}
}

// Part types understood by chat-completion APIs.
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ContentPart is one element of a multi-part message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"` // "auto" | "low" | "high"
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart builds an image content part.
func ImagePart(url, detail string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url, Detail: detail}}
}

// Content is a message body: null, a plain string, or an ordered list of
// parts. Exactly one representation is active. The zero value is null.
type Content struct {
	kind  ContentKind
	text  string
	parts []ContentPart
}

// NullContent returns absent content.
func NullContent() Content { return Content{} }

// TextContent returns string content.
func TextContent(s string) Content { return Content{kind: ContentText, text: s} }

// PartsContent returns multi-part content.
func PartsContent(parts ...ContentPart) Content {
	return Content{kind: ContentParts, parts: append([]ContentPart(nil), parts...)}
}

// Kind reports the active representation.
func (c Content) Kind() ContentKind { return c.kind }

// IsNull reports whether the content is absent.
func (c Content) IsNull() bool { return c.kind == ContentNull }

// Text returns the string body when the content is text.
func (c Content) Text() (string, bool) {
	if c.kind != ContentText {
		return "", false
	}
	return c.text, true
}

// Parts returns a copy of the parts when the content is multi-part.
func (c Content) Parts() ([]ContentPart, bool) {
	if c.kind != ContentParts {
		return nil, false
	}
	return clonedParts(c.parts), true
}

// IsEmpty reports whether the content carries no text and no parts.
func (c Content) IsEmpty() bool {
	switch c.kind {
	case ContentText:
		return c.text == ""
	case ContentParts:
		return len(c.parts) == 0
	default:
		return true
	}
}

// AppendText appends a streamed text delta. Null content becomes text in
// place. For parts, the delta extends the trailing text part or starts a
// new one, so the representation never changes.
func (c Content) AppendText(delta string) Content {
	switch c.kind {
	case ContentNull:
		return TextContent(delta)
	case ContentText:
		return TextContent(c.text + delta)
	case ContentParts:
		parts := clonedParts(c.parts)
		if n := len(parts); n > 0 && parts[n-1].Type == PartText {
			parts[n-1].Text += delta
		} else {
			parts = append(parts, TextPart(delta))
		}
		return Content{kind: ContentParts, parts: parts}
	default:
		panic(fmt.Sprintf("chat: unknown content kind %d", c.kind))
	}
}

// WithImage attaches an image. This is the only operation that promotes a
// string body to parts: existing text becomes the first part.
func (c Content) WithImage(url, detail string) Content {
	img := ImagePart(url, detail)
	switch c.kind {
	case ContentNull:
		return PartsContent(img)
	case ContentText:
		if c.text == "" {
			return PartsContent(img)
		}
		return PartsContent(TextPart(c.text), img)
	case ContentParts:
		return Content{kind: ContentParts, parts: append(clonedParts(c.parts), img)}
	default:
		panic(fmt.Sprintf("chat: unknown content kind %d", c.kind))
	}
}

// String flattens the content for display. Images render as their URL.
func (c Content) String() string {
	switch c.kind {
	case ContentText:
		return c.text
	case ContentParts:
		var b strings.Builder
		for i, p := range c.parts {
			if i > 0 {
				b.WriteString("\n")
			}
			switch p.Type {
			case PartText:
				b.WriteString(p.Text)
			case PartImageURL:
				if p.ImageURL != nil {
					b.WriteString("[image: " + p.ImageURL.URL + "]")
				}
			}
		}
		return b.String()
	default:
		return ""
	}
}

// Equal reports whether two contents have the same representation and value.
func (c Content) Equal(o Content) bool {
	if c.kind != o.kind {
		return false
	}
	switch c.kind {
	case ContentText:
		return c.text == o.text
	case ContentParts:
		if len(c.parts) != len(o.parts) {
			return false
		}
		for i := range c.parts {
			a, b := c.parts[i], o.parts[i]
			if a.Type != b.Type || a.Text != b.Text {
				return false
			}
			if (a.ImageURL == nil) != (b.ImageURL == nil) {
				return false
			}
			if a.ImageURL != nil && *a.ImageURL != *b.ImageURL {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// MarshalJSON encodes null, a JSON string, or a JSON array of parts.
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case ContentNull:
		return []byte("null"), nil
	case ContentText:
		return json.Marshal(c.text)
	case ContentParts:
		parts := c.parts
		if parts == nil {
			parts = []ContentPart{}
		}
		return json.Marshal(parts)
	default:
		return nil, fmt.Errorf("chat: unknown content kind %d", c.kind)
	}
}

// UnmarshalJSON accepts null, a string, or an array of parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = Content{}
		return nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("chat: content string: %w", err)
		}
		*c = TextContent(s)
		return nil
	case '[':
		var parts []ContentPart
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return fmt.Errorf("chat: content parts: %w", err)
		}
		for i, p := range parts {
			switch p.Type {
			case PartText:
			case PartImageURL:
				if p.ImageURL == nil {
					return fmt.Errorf("chat: content part %d: image_url missing", i)
				}
			default:
				return fmt.Errorf("chat: content part %d: unknown type %q", i, p.Type)
			}
		}
		*c = Content{kind: ContentParts, parts: parts}
		return nil
	default:
		return fmt.Errorf("chat: content must be null, a string or an array, got %s", string(trimmed))
	}
}

func clonedParts(parts []ContentPart) []ContentPart {
	if parts == nil {
		return nil
	}
	out := make([]ContentPart, len(parts))
	for i, p := range parts {
		out[i] = p
		if p.ImageURL != nil {
			img := *p.ImageURL
			out[i].ImageURL = &img
		}
	}
	return out
}
