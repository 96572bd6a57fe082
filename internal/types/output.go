package types

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// OutputKind is the "type" discriminator of a Responses output item.
type OutputKind string

const (
	KindReasoning           OutputKind = "reasoning"
	KindMessage             OutputKind = "message"
	KindWebSearchCall       OutputKind = "web_search_call"
	KindCodeInterpreterCall OutputKind = "code_interpreter_call"
	KindToolUse             OutputKind = "tool_use"
	KindFunctionCall        OutputKind = "function_call"
)

// OutputItem is one decoded element of a Responses output array. The
// concrete types are ReasoningItem, MessageItem, WebSearchCallItem,
// CodeInterpreterCallItem, ToolUseItem and UnknownItem.
type OutputItem interface {
	Kind() OutputKind
	outputItem()
}

// ReasoningItem carries reasoning summary segments.
type ReasoningItem struct {
	ID      string
	Summary []string
}

// MessageItem is an assistant (or other role) message.
type MessageItem struct {
	ID      string
	Role    string
	Status  string
	Content []MessageContent
}

// MessageContent is one content element of a message.
type MessageContent struct {
	Type        string
	Text        string
	Annotations []Annotation
}

// WebSearchCallItem records a hosted web search invocation.
type WebSearchCallItem struct {
	ID     string
	Status string
	Query  string
}

// CodeInterpreterCallItem records a hosted code interpreter invocation.
type CodeInterpreterCallItem struct {
	ID          string
	Code        string
	ContainerID string
	Status      string
	Outputs     []CodeOutput
}

// ToolUseItem covers function calls and generic tool_use items.
type ToolUseItem struct {
	Type      OutputKind
	ID        string
	CallID    string
	Name      string
	Arguments string
	Input     string
	Output    string
	Error     string
}

// UnknownItem preserves an item of an unrecognised type.
type UnknownItem struct {
	Type string
	Raw  string
}

func (ReasoningItem) Kind() OutputKind           { return KindReasoning }
func (MessageItem) Kind() OutputKind             { return KindMessage }
func (WebSearchCallItem) Kind() OutputKind       { return KindWebSearchCall }
func (CodeInterpreterCallItem) Kind() OutputKind { return KindCodeInterpreterCall }
func (t ToolUseItem) Kind() OutputKind           { return t.Type }
func (u UnknownItem) Kind() OutputKind           { return OutputKind(u.Type) }

func (ReasoningItem) outputItem()           {}
func (MessageItem) outputItem()             {}
func (WebSearchCallItem) outputItem()       {}
func (CodeInterpreterCallItem) outputItem() {}
func (ToolUseItem) outputItem()             {}
func (UnknownItem) outputItem()             {}

// Annotation is a message content annotation. Concrete types are
// URLCitationAnnotation, FileCitationAnnotation and UnknownAnnotation.
type Annotation interface {
	AnnotationType() string
	annotation()
}

// URLCitationAnnotation wraps a url_citation.
type URLCitationAnnotation struct{ Citation }

// FileCitationAnnotation wraps a container_file_citation.
type FileCitationAnnotation struct{ GeneratedFile }

// UnknownAnnotation preserves an unrecognised annotation.
type UnknownAnnotation struct {
	Type string
	Raw  string
}

func (URLCitationAnnotation) AnnotationType() string  { return "url_citation" }
func (FileCitationAnnotation) AnnotationType() string { return "container_file_citation" }
func (u UnknownAnnotation) AnnotationType() string    { return u.Type }

func (URLCitationAnnotation) annotation()  {}
func (FileCitationAnnotation) annotation() {}
func (UnknownAnnotation) annotation()      {}

// ResponseEnvelope is the decoded top level of a Responses API reply.
type ResponseEnvelope struct {
	ID     string
	Model  string
	Status string
	Output []OutputItem
	Usage  *Usage
}

// DecodeResponse decodes a Responses API body once into typed items.
func DecodeResponse(body []byte) (*ResponseEnvelope, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("responses: invalid JSON body")
	}
	root := gjson.ParseBytes(body)
	env := &ResponseEnvelope{
		ID:     root.Get("id").String(),
		Model:  root.Get("model").String(),
		Status: root.Get("status").String(),
		Output: DecodeOutput(root.Get("output")),
		Usage:  UsageFrom(root.Get("usage")),
	}
	return env, nil
}

// DecodeOutput converts an output array into OutputItems. Non-array input
// yields nil.
func DecodeOutput(output gjson.Result) []OutputItem {
	if !output.IsArray() {
		return nil
	}
	var items []OutputItem
	output.ForEach(func(_, item gjson.Result) bool {
		items = append(items, decodeItem(item))
		return true
	})
	return items
}

func decodeItem(item gjson.Result) OutputItem {
	typ := item.Get("type").String()
	switch OutputKind(typ) {
	case KindReasoning:
		return ReasoningItem{ID: item.Get("id").String(), Summary: decodeSummary(item.Get("summary"))}
	case KindMessage:
		return decodeMessage(item)
	case KindWebSearchCall:
		return WebSearchCallItem{
			ID:     item.Get("id").String(),
			Status: item.Get("status").String(),
			Query:  item.Get("action.query").String(),
		}
	case KindCodeInterpreterCall:
		ci := CodeInterpreterCallItem{
			ID:          item.Get("id").String(),
			Code:        item.Get("code").String(),
			ContainerID: item.Get("container_id").String(),
			Status:      item.Get("status").String(),
		}
		item.Get("outputs").ForEach(func(_, o gjson.Result) bool {
			ci.Outputs = append(ci.Outputs, CodeOutput{
				Type: o.Get("type").String(),
				Logs: o.Get("logs").String(),
				URL:  o.Get("url").String(),
			})
			return true
		})
		return ci
	case KindToolUse, KindFunctionCall:
		return ToolUseItem{
			Type:      OutputKind(typ),
			ID:        item.Get("id").String(),
			CallID:    item.Get("call_id").String(),
			Name:      item.Get("name").String(),
			Arguments: item.Get("arguments").String(),
			Input:     stringOrRaw(item.Get("input")),
			Output:    stringOrRaw(item.Get("output")),
			Error:     stringOrRaw(item.Get("error")),
		}
	default:
		return UnknownItem{Type: typ, Raw: item.Raw}
	}
}

// decodeSummary accepts an array of {text} objects or strings, a single
// object or a bare string.
func decodeSummary(v gjson.Result) []string {
	var out []string
	add := func(s gjson.Result) {
		switch {
		case s.Type == gjson.String:
			if s.String() != "" {
				out = append(out, s.String())
			}
		case s.IsObject():
			if t := s.Get("text"); t.Exists() {
				if t.String() != "" {
					out = append(out, t.String())
				}
			} else {
				out = append(out, s.Raw)
			}
		}
	}
	if v.IsArray() {
		v.ForEach(func(_, s gjson.Result) bool {
			add(s)
			return true
		})
		return out
	}
	add(v)
	return out
}

func decodeMessage(item gjson.Result) MessageItem {
	msg := MessageItem{
		ID:     item.Get("id").String(),
		Role:   item.Get("role").String(),
		Status: item.Get("status").String(),
	}
	content := item.Get("content")
	switch {
	case content.Type == gjson.String:
		msg.Content = append(msg.Content, MessageContent{Type: "output_text", Text: content.String()})
	case content.IsObject():
		msg.Content = append(msg.Content, decodeContent(content))
	case content.IsArray():
		content.ForEach(func(_, c gjson.Result) bool {
			if c.Type == gjson.String {
				msg.Content = append(msg.Content, MessageContent{Type: "output_text", Text: c.String()})
			} else {
				msg.Content = append(msg.Content, decodeContent(c))
			}
			return true
		})
	}
	return msg
}

func decodeContent(c gjson.Result) MessageContent {
	mc := MessageContent{Type: c.Get("type").String(), Text: c.Get("text").String()}
	c.Get("annotations").ForEach(func(_, a gjson.Result) bool {
		mc.Annotations = append(mc.Annotations, decodeAnnotation(a))
		return true
	})
	return mc
}

func decodeAnnotation(a gjson.Result) Annotation {
	typ := a.Get("type").String()
	switch typ {
	case "url_citation":
		// Chat completions nest the fields under url_citation; responses
		// put them at the top level.
		src := a
		if nested := a.Get("url_citation"); nested.IsObject() {
			src = nested
		}
		return URLCitationAnnotation{Citation{
			URL:        src.Get("url").String(),
			Title:      src.Get("title").String(),
			StartIndex: int(src.Get("start_index").Int()),
			EndIndex:   int(src.Get("end_index").Int()),
		}}
	case "container_file_citation":
		return FileCitationAnnotation{GeneratedFile{
			FileID:      a.Get("file_id").String(),
			Filename:    a.Get("filename").String(),
			ContainerID: a.Get("container_id").String(),
			StartIndex:  int(a.Get("start_index").Int()),
			EndIndex:    int(a.Get("end_index").Int()),
		}}
	default:
		return UnknownAnnotation{Type: typ, Raw: a.Raw}
	}
}

// DecodeAnnotations decodes a standalone annotations array, as found on a
// chat completion message.
func DecodeAnnotations(v gjson.Result) []Annotation {
	var out []Annotation
	v.ForEach(func(_, a gjson.Result) bool {
		out = append(out, decodeAnnotation(a))
		return true
	})
	return out
}

func stringOrRaw(v gjson.Result) string {
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return ""
	case v.Type == gjson.String:
		return v.String()
	default:
		return strings.TrimSpace(v.Raw)
	}
}
