// Package transform converts conversation turns to the upstream wire
// shapes and pulls text back out of decoded responses.
package transform

import (
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/responses"

	"github.com/n0madic/go-llmportal/internal/reasoning"
	"github.com/n0madic/go-llmportal/internal/types"
)

// FormatUserInput builds a user turn from the message and its optional
// attachments. Without attachments the turn is plain text. File contents
// become text parts and an image becomes an image_url part carrying the
// data URI (or URL) as given.
func FormatUserInput(message, fileContents, fileID, imageName, image string) types.Turn {
	if fileContents == "" && image == "" {
		return types.TextTurn(types.RoleUser, message)
	}
	parts := []types.ContentPart{types.TextPart(message)}
	if fileContents != "" && fileID != "" {
		parts = append(parts,
			types.TextPart("File ID: "+fileID),
			types.TextPart(fileContents),
		)
	}
	if image != "" {
		if imageName != "" {
			parts = append(parts, types.TextPart("Image: "+imageName))
		}
		parts = append(parts, types.ImagePart(image))
	}
	return types.Turn{Role: types.RoleUser, Parts: parts}
}

// ForResponses converts one turn into a Responses input item. Text parts
// map to input_text and image parts to input_image; assistant turns are
// sent as completed output messages. Empty turns report false.
func ForResponses(turn types.Turn) (responses.ResponseInputItemUnionParam, bool) {
	if turn.Role == types.RoleAssistant {
		text := turn.Text()
		if text == "" {
			return responses.ResponseInputItemUnionParam{}, false
		}
		content := []responses.ResponseOutputMessageContentUnionParam{{
			OfOutputText: &responses.ResponseOutputTextParam{Text: text},
		}}
		return responses.ResponseInputItemParamOfOutputMessage(content, "", responses.ResponseOutputMessageStatusCompleted), true
	}

	var content responses.ResponseInputMessageContentListParam
	if !turn.IsMultipart() {
		if turn.Content == "" {
			return responses.ResponseInputItemUnionParam{}, false
		}
		content = append(content, responses.ResponseInputContentParamOfInputText(turn.Content))
	}
	for _, p := range turn.Parts {
		switch p.Type {
		case types.PartText:
			if p.Text != "" {
				content = append(content, responses.ResponseInputContentParamOfInputText(p.Text))
			}
		case types.PartImageURL:
			if p.ImageURL != nil && p.ImageURL.URL != "" {
				content = append(content, responses.ResponseInputContentUnionParam{
					OfInputImage: &responses.ResponseInputImageParam{
						ImageURL: openai.String(p.ImageURL.URL),
						Detail:   responses.ResponseInputImageDetailAuto,
					},
				})
			}
		}
	}
	if len(content) == 0 {
		return responses.ResponseInputItemUnionParam{}, false
	}
	role := responses.EasyInputMessageRoleUser
	if turn.Role == types.RoleSystem {
		role = responses.EasyInputMessageRoleSystem
	}
	return responses.ResponseInputItemParamOfMessage(content, role), true
}

// ResponsesInput builds the input list: the system message (if any), then
// every history turn, then the new turn. Empty turns are skipped.
func ResponsesInput(system string, history []types.Turn, next types.Turn) responses.ResponseInputParam {
	turns := make([]types.Turn, 0, len(history)+2)
	if strings.TrimSpace(system) != "" {
		turns = append(turns, types.TextTurn(types.RoleSystem, system))
	}
	turns = append(turns, history...)
	turns = append(turns, next)

	out := make(responses.ResponseInputParam, 0, len(turns))
	for _, t := range turns {
		if item, ok := ForResponses(t); ok {
			out = append(out, item)
		}
	}
	return out
}

// ForChat converts turns into chat completion messages, prefixed with the
// system message when one is given.
func ForChat(system string, turns []types.Turn) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, t := range turns {
		switch t.Role {
		case types.RoleSystem:
			out = append(out, openai.SystemMessage(t.Text()))
		case types.RoleAssistant:
			out = append(out, openai.AssistantMessage(t.Text()))
		default:
			if !t.IsMultipart() {
				out = append(out, openai.UserMessage(t.Content))
				continue
			}
			out = append(out, openai.UserMessage(chatParts(t.Parts)))
		}
	}
	return out
}

func chatParts(parts []types.ContentPart) []openai.ChatCompletionContentPartUnionParam {
	out := make([]openai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case types.PartText:
			out = append(out, openai.TextContentPart(p.Text))
		case types.PartImageURL:
			if p.ImageURL == nil {
				continue
			}
			out = append(out, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: p.ImageURL.URL,
			}))
		}
	}
	return out
}

// ExtractResponseContent separates reasoning summaries from assistant text.
// Summary segments are joined with blank lines; message text is
// concatenated. Both results are trimmed.
func ExtractResponseContent(items []types.OutputItem) (reasoningText, response string) {
	var summaries []string
	var text strings.Builder
	for _, item := range items {
		switch it := item.(type) {
		case types.ReasoningItem:
			summaries = append(summaries, it.Summary...)
		case types.MessageItem:
			if it.Role != "" && it.Role != string(types.RoleAssistant) {
				continue
			}
			for _, c := range it.Content {
				if c.Type == "output_text" || c.Type == "text" || c.Type == "" {
					text.WriteString(c.Text)
				}
			}
		}
	}
	return strings.TrimSpace(strings.Join(summaries, "\n\n")), strings.TrimSpace(text.String())
}

// FormatReasoningResponse combines reasoning and answer in display mode
// (headers by default); with no reasoning it returns the answer alone.
func FormatReasoningResponse(mode, reasoningText, response string) string {
	return reasoning.Format(mode, reasoningText, response)
}
