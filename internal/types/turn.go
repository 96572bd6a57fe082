// Package types holds the data model shared by every handler: conversation
// turns, normalized results and the decoded Responses output union.
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant || r == RoleSystem
}

// Content part types.
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ImageURL references an image by URL or data URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ContentPart is one typed element of a multi-part turn.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart builds an image_url part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url}}
}

// Turn is one conversation message. Content holds plain text; Parts, when
// non-empty, takes precedence and is serialized as a content array.
type Turn struct {
	Role    Role
	Content string
	Parts   []ContentPart
}

// TextTurn builds a plain text turn.
func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Content: text}
}

// IsMultipart reports whether the turn carries typed parts.
func (t Turn) IsMultipart() bool { return len(t.Parts) > 0 }

// Text returns the plain text of the turn, joining text parts with newlines.
func (t Turn) Text() string {
	if !t.IsMultipart() {
		return t.Content
	}
	var texts []string
	for _, p := range t.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

type turnJSON struct {
	Role    Role `json:"role"`
	Content any  `json:"content"`
}

// MarshalJSON renders content as a string or a part array.
func (t Turn) MarshalJSON() ([]byte, error) {
	out := turnJSON{Role: t.Role, Content: t.Content}
	if t.IsMultipart() {
		out.Content = t.Parts
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts content as a string, a part array or null.
func (t *Turn) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("turn: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return fmt.Errorf("turn: expected object, got %s", root.Type)
	}
	*t = Turn{Role: Role(root.Get("role").String())}
	content := root.Get("content")
	switch {
	case !content.Exists() || content.Type == gjson.Null:
	case content.Type == gjson.String:
		t.Content = content.String()
	case content.IsArray():
		var parts []ContentPart
		if err := json.Unmarshal([]byte(content.Raw), &parts); err != nil {
			return fmt.Errorf("turn content: %w", err)
		}
		t.Parts = parts
	default:
		return fmt.Errorf("turn content: unsupported JSON type %s", content.Type)
	}
	return nil
}
